// Package alerts defines the anomaly events the detector raises and the
// sinks that deliver them. Delivery is best-effort: a failed sink is logged
// by the caller and never blocks data persistence.
package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"miner-sentinel/internal/storage/repo"
)

type Kind string

const (
	KindHashrateStagnation  Kind = "hashrate_stagnation"
	KindDeviceOffline       Kind = "device_offline"
	KindDeviceOnline        Kind = "device_online"
	KindBestDifficulty      Kind = "best_difficulty"
	KindFirstBestDifficulty Kind = "first_best_difficulty"
	KindDeviceRestarted     Kind = "device_restarted"
)

// Event is one raised anomaly. Only the fields relevant to its Kind are
// populated.
type Event struct {
	ID         string
	Kind       Kind
	At         time.Time
	Family     repo.Family
	DeviceID   string
	DeviceName string

	// hashrate_stagnation
	HashrateGHS float64
	SampleCount int

	// best_difficulty / first_best_difficulty
	NewBest      float64
	PreviousBest float64

	// device_offline / device_online
	LastSeen     time.Time
	OfflineFor   time.Duration
	ErrorMessage string
}

// NewEvent stamps identity and time onto an event skeleton.
func NewEvent(kind Kind, family repo.Family, deviceID, deviceName string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		At:         time.Now().UTC(),
		Family:     family,
		DeviceID:   deviceID,
		DeviceName: deviceName,
	}
}

type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// Fanout delivers to every sink and joins their errors; one failing channel
// never starves the others.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes every event to the structured log. It is always part of the
// fanout so alerts are observable even with all channels disabled.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("alert_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("family", string(ev.Family)),
		zap.String("device_id", ev.DeviceID),
		zap.String("device_name", ev.DeviceName),
	}
	switch ev.Kind {
	case KindHashrateStagnation:
		fields = append(fields,
			zap.Float64("hashrate_ghs", ev.HashrateGHS),
			zap.Int("sample_count", ev.SampleCount))
	case KindBestDifficulty, KindFirstBestDifficulty:
		fields = append(fields,
			zap.Float64("new_best", ev.NewBest),
			zap.Float64("previous_best", ev.PreviousBest))
	case KindDeviceOffline:
		fields = append(fields,
			zap.Time("last_seen", ev.LastSeen),
			zap.String("error", ev.ErrorMessage))
	case KindDeviceOnline:
		fields = append(fields, zap.Duration("offline_for", ev.OfflineFor))
	}
	s.Log.Warn("alert raised", fields...)
	return nil
}
