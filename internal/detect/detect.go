// Package detect holds the stateful anomaly rules evaluated after every
// poll: hashrate stagnation (with corrective restart), best-difficulty
// records, and offline/online edge transitions.
package detect

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/alerts"
	"miner-sentinel/internal/storage/repo"
)

// stagnationWindow is the number of trailing samples (including the one
// just written) that must agree before a device counts as stalled.
const stagnationWindow = 3

// bestImprovementMin is the relative improvement below which a new best
// difficulty is not worth an alert.
const bestImprovementMin = 0.05

// stagnationTolerance is per family: the HTTP family reports hashrate with
// one decimal of jitter, the socket family with two.
var stagnationTolerance = map[repo.Family]float64{
	repo.FamilyBitaxe: 0.1,
	repo.FamilyAvalon: 0.01,
}

// Restarter sends the family-specific restart directive to one device.
type Restarter interface {
	Restart(ctx context.Context, addr string) error
}

// StatePublisher mirrors online/offline transitions onto the event stream.
// Optional; delivery failures are logged, never escalated.
type StatePublisher interface {
	PublishDeviceState(ctx context.Context, family repo.Family, deviceID string, online bool, errMsg string, lastSeen time.Time) error
}

type Detector struct {
	family    repo.Family
	hist      repo.History
	sink      alerts.Sink
	restarter Restarter
	states    StatePublisher
	log       *zap.Logger

	now func() time.Time
}

func New(family repo.Family, hist repo.History, sink alerts.Sink, restarter Restarter, states StatePublisher, log *zap.Logger) *Detector {
	return &Detector{
		family:    family,
		hist:      hist,
		sink:      sink,
		restarter: restarter,
		states:    states,
		log:       log.Named("detect").With(zap.String("family", string(family))),
		now:       time.Now,
	}
}

// EvaluateSample runs the post-insert rules for one device. It must be
// called after the new MiningSample is persisted: both rules read the
// trailing window back from history.
func (d *Detector) EvaluateSample(ctx context.Context, dev repo.Device, sample repo.MiningSample) error {
	recent, err := d.hist.RecentMiningSamples(ctx, d.family, dev.ID, stagnationWindow)
	if err != nil {
		return err
	}
	d.checkStagnation(ctx, dev, recent)
	d.checkBestDifficulty(ctx, dev, sample, recent)
	return nil
}

func (d *Detector) checkStagnation(ctx context.Context, dev repo.Device, recent []repo.MiningSample) {
	if len(recent) < stagnationWindow {
		return
	}
	tol := stagnationTolerance[d.family]
	lo, hi := recent[0].HashrateGHS, recent[0].HashrateGHS
	for _, s := range recent[1:] {
		lo = math.Min(lo, s.HashrateGHS)
		hi = math.Max(hi, s.HashrateGHS)
	}
	if hi-lo > tol {
		return
	}

	ev := alerts.NewEvent(alerts.KindHashrateStagnation, d.family, dev.DeviceID, dev.Name)
	ev.HashrateGHS = recent[0].HashrateGHS
	ev.SampleCount = len(recent)
	d.deliver(ctx, ev)

	// corrective action: restart fails softly, never aborts the cycle
	if d.restarter == nil {
		return
	}
	if err := d.restarter.Restart(ctx, dev.Address); err != nil {
		d.log.Warn("restart after stagnation failed",
			zap.String("device_id", dev.DeviceID),
			zap.String("address", dev.Address),
			zap.Error(err))
		return
	}
	d.log.Info("device restarted after stagnation", zap.String("device_id", dev.DeviceID))
	d.deliver(ctx, alerts.NewEvent(alerts.KindDeviceRestarted, d.family, dev.DeviceID, dev.Name))
}

func (d *Detector) checkBestDifficulty(ctx context.Context, dev repo.Device, sample repo.MiningSample, recent []repo.MiningSample) {
	current := sample.BestDifficulty
	if current <= 0 {
		return
	}
	// previous best lives in the second-most-recent sample; the newest row
	// is the one just inserted
	var previous float64
	if len(recent) >= 2 {
		previous = recent[1].BestDifficulty
	}

	switch {
	case previous > 0 && (current-previous)/previous >= bestImprovementMin:
		ev := alerts.NewEvent(alerts.KindBestDifficulty, d.family, dev.DeviceID, dev.Name)
		ev.NewBest = current
		ev.PreviousBest = previous
		d.deliver(ctx, ev)
	case previous == 0:
		ev := alerts.NewEvent(alerts.KindFirstBestDifficulty, d.family, dev.DeviceID, dev.Name)
		ev.NewBest = current
		d.deliver(ctx, ev)
	}
}

// ObserveOutcome records one poll outcome and alerts only on the
// online/offline edge, never on steady state. The status row is read,
// compared and rewritten here so retried polls cannot double-alert.
func (d *Detector) ObserveOutcome(ctx context.Context, dev repo.Device, online bool, pollErr error) error {
	errMsg := ""
	if pollErr != nil {
		errMsg = pollErr.Error()
	}

	prev, err := d.hist.GetDeviceStatus(ctx, d.family, dev.DeviceID)
	firstObservation := errors.Is(err, repo.ErrNotFound)
	if err != nil && !firstObservation {
		return err
	}

	if err := d.hist.SetDeviceStatus(ctx, d.family, dev.DeviceID, online, errMsg); err != nil {
		return err
	}

	if firstObservation || prev.Online == online {
		return nil
	}

	if online {
		ev := alerts.NewEvent(alerts.KindDeviceOnline, d.family, dev.DeviceID, dev.Name)
		ev.OfflineFor = d.now().Sub(prev.LastSeenAt)
		d.deliver(ctx, ev)
	} else {
		ev := alerts.NewEvent(alerts.KindDeviceOffline, d.family, dev.DeviceID, dev.Name)
		ev.LastSeen = prev.LastSeenAt
		ev.ErrorMessage = errMsg
		d.deliver(ctx, ev)
	}

	if d.states != nil {
		if perr := d.states.PublishDeviceState(ctx, d.family, dev.DeviceID, online, errMsg, prev.LastSeenAt); perr != nil {
			d.log.Warn("state publish failed", zap.String("device_id", dev.DeviceID), zap.Error(perr))
		}
	}
	return nil
}

func (d *Detector) deliver(ctx context.Context, ev alerts.Event) {
	if err := d.sink.Deliver(ctx, ev); err != nil {
		d.log.Warn("alert delivery failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("device_id", ev.DeviceID),
			zap.Error(err))
	}
}
