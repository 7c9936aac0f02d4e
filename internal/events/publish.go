package events

import (
	"context"
	"fmt"
	"time"

	"github.com/jhump/protoreflect/dynamic"
	"go.uber.org/zap"

	"miner-sentinel/internal/alerts"
	"miner-sentinel/internal/storage/repo"
)

// Publisher is the write side of the event stream: it wraps the schema and a
// bus publisher and turns domain facts into enveloped protobuf messages.
type Publisher struct {
	schema *Schema
	pub    busPublisher
	log    *zap.Logger
}

type busPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

func NewPublisher(pub busPublisher, log *zap.Logger) (*Publisher, error) {
	schema, err := LoadSchema()
	if err != nil {
		return nil, fmt.Errorf("load event schema: %w", err)
	}
	return &Publisher{schema: schema, pub: pub, log: log.Named("events")}, nil
}

// PublishAlert mirrors an alert event onto the stream.
func (p *Publisher) PublishAlert(ctx context.Context, ev alerts.Event) error {
	m := dynamic.NewMessage(p.schema.AlertRaised)
	m.SetFieldByName("alert_id", ev.ID)
	m.SetFieldByName("kind", string(ev.Kind))
	m.SetFieldByName("family", string(ev.Family))
	m.SetFieldByName("device_id", ev.DeviceID)
	m.SetFieldByName("device_name", ev.DeviceName)
	m.SetFieldByName("hashrate_ghs", ev.HashrateGHS)
	m.SetFieldByName("sample_count", int32(ev.SampleCount))
	m.SetFieldByName("new_best", ev.NewBest)
	m.SetFieldByName("previous_best", ev.PreviousBest)
	if !ev.LastSeen.IsZero() {
		m.SetFieldByName("last_seen_unix_ms", ev.LastSeen.UnixMilli())
	}
	m.SetFieldByName("offline_seconds", int64(ev.OfflineFor.Seconds()))
	m.SetFieldByName("error_message", ev.ErrorMessage)
	return p.publish(ctx, AlertRaised, m)
}

// PublishDeviceState records an online/offline transition on the stream.
func (p *Publisher) PublishDeviceState(ctx context.Context, family repo.Family, deviceID string, online bool, errMsg string, lastSeen time.Time) error {
	m := dynamic.NewMessage(p.schema.DeviceStateUpdated)
	m.SetFieldByName("family", string(family))
	m.SetFieldByName("device_id", deviceID)
	m.SetFieldByName("online", online)
	m.SetFieldByName("error_message", errMsg)
	if !lastSeen.IsZero() {
		m.SetFieldByName("last_seen_unix_ms", lastSeen.UnixMilli())
	}
	return p.publish(ctx, DeviceStateUpdated, m)
}

// PublishCycleCompleted records one finished poll cycle.
func (p *Publisher) PublishCycleCompleted(ctx context.Context, polled, total int, elapsed time.Duration, manual bool) error {
	m := dynamic.NewMessage(p.schema.PollCycleCompleted)
	m.SetFieldByName("devices_polled", int32(polled))
	m.SetFieldByName("devices_total", int32(total))
	m.SetFieldByName("duration_ms", elapsed.Milliseconds())
	m.SetFieldByName("manual", manual)
	return p.publish(ctx, PollCycleCompleted, m)
}

func (p *Publisher) publish(ctx context.Context, topic string, payload *dynamic.Message) error {
	raw, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	env := p.schema.NewEnvelope(topic)
	env.SetFieldByName("payload", raw)
	data, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.pub.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// AlertSink adapts the publisher to the alerts fanout.
type AlertSink struct {
	Pub *Publisher
}

func (s AlertSink) Deliver(ctx context.Context, ev alerts.Event) error {
	return s.Pub.PublishAlert(ctx, ev)
}
