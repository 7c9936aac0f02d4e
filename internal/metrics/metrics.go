// Package metrics derives secondary mining metrics from decoded samples.
// Everything here is pure: no I/O, no state.
package metrics

// EfficiencyJPerTH computes power efficiency in joules per terahash from
// watts and a GH/s hashrate. Zero hashrate means the device is not hashing;
// efficiency is reported as 0 rather than infinity.
func EfficiencyJPerTH(powerW, hashrateGHS float64) float64 {
	if hashrateGHS <= 0 {
		return 0
	}
	return powerW / (hashrateGHS / 1000.0)
}

// RejectRatePercent computes the share reject rate as a percentage of all
// submitted shares. No shares yet reads as a 0% reject rate.
func RejectRatePercent(accepted, rejected int64) float64 {
	total := accepted + rejected
	if total <= 0 {
		return 0
	}
	return float64(rejected) / float64(total) * 100.0
}
