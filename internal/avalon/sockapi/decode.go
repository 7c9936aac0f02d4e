package sockapi

import (
	"regexp"
	"strconv"
	"strings"
)

// The cgminer text API frames a reply as pipe-delimited sections of
// comma-delimited KEY=VALUE pairs. One key, "MM ID0", carries the whole
// hardware blob as bracketed sub-arrays (OTemp[65], PS[0 0 ... 133], ...)
// and must be cut out before any comma splitting.
const mmStatsKey = "MM ID0"

// Field delimiters that terminate the MM ID0 blob inside its section.
var mmEndMarkers = []string{",MM Count=", ",Nonce Mask="}

// parseFields flattens a raw reply into a key/value map. It never fails:
// truncated or mixed-delimiter frames simply yield fewer keys, which the
// typed decoders below treat as "metric unavailable".
func parseFields(raw string) map[string]string {
	out := map[string]string{}
	raw = strings.ReplaceAll(raw, "\x00", "")

	for _, section := range strings.Split(raw, "|") {
		if !strings.Contains(section, "=") {
			continue
		}

		if i := strings.Index(section, mmStatsKey+"="); i >= 0 {
			blob := section[i+len(mmStatsKey)+1:]
			for _, marker := range mmEndMarkers {
				if j := strings.Index(blob, marker); j >= 0 {
					blob = blob[:j]
					break
				}
			}
			out[mmStatsKey] = blob
			// Splice the blob out so its bracket groups survive the
			// comma split below.
			section = section[:i] + section[i+len(mmStatsKey)+1+len(blob):]
		}

		for _, pair := range strings.Split(section, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			if k == "" || k == mmStatsKey {
				continue
			}
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

var (
	oTempRe   = regexp.MustCompile(`OTemp\[(-?\d+)\]`)
	tAvgRe    = regexp.MustCompile(`TAvg\[(-?\d+)\]`)
	fanRe     = regexp.MustCompile(`Fan1\[(\d+)\]`)
	freqRe    = regexp.MustCompile(`Freq\[([\d.]+)\]`)
	psRe      = regexp.MustCompile(`PS\[([^\]]+)\]`)
	mpoRe     = regexp.MustCompile(`MPO\[(\d+)\]`)
	ata2Re    = regexp.MustCompile(`ATA2\[([^\]]+)\]`)
	pvtV0Re   = regexp.MustCompile(`PVT_V0\[([^\]]+)\]`)
	memFreeRe = regexp.MustCompile(`MEMFREE\[(\d+)\]`)
)

// sensorAbsent is what the firmware reports for a temperature probe that is
// not populated.
const sensorAbsent = -273

// assumedMemTotalKB: the device does not report total memory; the family
// ships with 128MB.
const assumedMemTotalKB = 128 * 1024

// Stats is the hardware side of an estats reply, in normalized units.
type Stats struct {
	TemperatureC       float64
	PowerW             float64
	FanRPM             int
	FrequencyMHz       float64
	Voltage            float64
	MemoryUsagePercent float64
}

// DecodeStats extracts hardware metrics from a raw estats reply. Malformed
// input yields zeroed fields, never an error.
func DecodeStats(raw string) Stats {
	blob := parseFields(raw)[mmStatsKey]
	return Stats{
		TemperatureC:       decodeTemperature(blob),
		PowerW:             decodePower(blob),
		FanRPM:             int(matchInt(fanRe, blob)),
		FrequencyMHz:       matchFloat(freqRe, blob),
		Voltage:            decodeVoltage(blob),
		MemoryUsagePercent: decodeMemoryUsage(blob),
	}
}

func decodeTemperature(blob string) float64 {
	if v, ok := matchIntOK(oTempRe, blob); ok && v != sensorAbsent {
		return float64(v)
	}
	if v, ok := matchIntOK(tAvgRe, blob); ok && v != sensorAbsent {
		return float64(v)
	}
	return 0
}

// decodePower reads the PS array; the array encodes per-stage readings and
// the final element is the consumed power in watts. MPO and ATA2 are older
// firmware fallbacks.
func decodePower(blob string) float64 {
	if m := psRe.FindStringSubmatch(blob); m != nil {
		vals := strings.Fields(m[1])
		if len(vals) > 0 {
			if w, err := strconv.ParseFloat(vals[len(vals)-1], 64); err == nil {
				return w
			}
		}
	}
	if v, ok := matchIntOK(mpoRe, blob); ok {
		return float64(v)
	}
	if m := ata2Re.FindStringSubmatch(blob); m != nil {
		vals := strings.Split(m[1], "-")
		if len(vals) > 0 {
			if w, err := strconv.ParseFloat(vals[0], 64); err == nil {
				return w
			}
		}
	}
	return 0
}

// decodeVoltage takes the first element of the PVT_V0 array; the wire unit
// is centivolts.
func decodeVoltage(blob string) float64 {
	m := pvtV0Re.FindStringSubmatch(blob)
	if m == nil {
		return 0
	}
	vals := strings.Fields(m[1])
	if len(vals) == 0 {
		return 0
	}
	cv, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return 0
	}
	return cv / 100.0
}

func decodeMemoryUsage(blob string) float64 {
	freeKB, ok := matchIntOK(memFreeRe, blob)
	if !ok {
		return 0
	}
	used := float64(assumedMemTotalKB - freeKB)
	if used < 0 {
		used = 0
	}
	return used / float64(assumedMemTotalKB) * 100.0
}

// Summary is the mining side of a summary reply, hashrate normalized to GH/s.
type Summary struct {
	HashrateGHS float64
	UptimeS     int64
	Accepted    int64
	Rejected    int64
	BlocksFound int64
	BestShare   float64
}

// DecodeSummary parses a raw summary reply. The primary hashrate field is
// "MHS av"; best share is a plain float for this family, no unit suffix.
func DecodeSummary(raw string) Summary {
	f := parseFields(raw)
	return Summary{
		HashrateGHS: fieldFloat(f, "MHS av") / 1000.0,
		UptimeS:     fieldInt(f, "Elapsed"),
		Accepted:    fieldInt(f, "Accepted"),
		Rejected:    fieldInt(f, "Rejected"),
		BlocksFound: fieldInt(f, "Found Blocks"),
		BestShare:   fieldFloat(f, "Best Share"),
	}
}

// Version is the identity block from a version reply.
type Version struct {
	Product  string
	Model    string
	Firmware string
	Hardware string
	Serial   string
	MAC      string
}

func DecodeVersion(raw string) Version {
	f := parseFields(raw)
	return Version{
		Product:  f["PROD"],
		Model:    f["MODEL"],
		Firmware: f["CGMiner"],
		Hardware: f["HWTYPE"],
		Serial:   f["DNA"],
		MAC:      f["MAC"],
	}
}

// Pool is the first configured pool from a pools reply.
type Pool struct {
	URL    string
	User   string
	Status string
}

// DecodePool returns the primary pool. A reply lists every configured pool
// as its own POOL=N section; feeding them all through parseFields would let
// each later pool overwrite the previous one's URL/User/Status, so the
// merge stops before the second POOL section.
func DecodePool(raw string) Pool {
	var kept []string
	seenPool := false
	for _, section := range strings.Split(raw, "|") {
		if sectionHasKey(section, "POOL") {
			if seenPool {
				break
			}
			seenPool = true
		}
		kept = append(kept, section)
	}
	f := parseFields(strings.Join(kept, "|"))
	return Pool{
		URL:    f["URL"],
		User:   f["User"],
		Status: f["Status"],
	}
}

func sectionHasKey(section, key string) bool {
	for _, pair := range strings.Split(section, ",") {
		if k, _, ok := strings.Cut(pair, "="); ok && strings.TrimSpace(k) == key {
			return true
		}
	}
	return false
}

func matchInt(re *regexp.Regexp, s string) int64 {
	v, _ := matchIntOK(re, s)
	return v
}

func matchIntOK(re *regexp.Regexp, s string) (int64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func matchFloat(re *regexp.Regexp, s string) float64 {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return v
}

func fieldFloat(f map[string]string, key string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(f[key]), 64)
	if err != nil {
		return 0
	}
	return v
}

func fieldInt(f map[string]string, key string) int64 {
	s := strings.TrimSpace(f[key])
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// some firmwares report integers as "123.0"
		if fv, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int64(fv)
		}
		return 0
	}
	return v
}
