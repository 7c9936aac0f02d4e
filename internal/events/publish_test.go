package events

import (
	"context"
	"testing"
	"time"

	"github.com/jhump/protoreflect/dynamic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miner-sentinel/internal/alerts"
	"miner-sentinel/internal/storage/repo"
)

type capturingBus struct {
	subject string
	data    []byte
}

func (b *capturingBus) Publish(_ context.Context, subject string, data []byte) error {
	b.subject = subject
	b.data = data
	return nil
}

func TestLoadSchema(t *testing.T) {
	s, err := LoadSchema()
	require.NoError(t, err)
	require.NotNil(t, s.Envelope)
	require.NotNil(t, s.AlertRaised)
	require.NotNil(t, s.DeviceStateUpdated)
	require.NotNil(t, s.PollCycleCompleted)
}

func TestPublishAlertRoundTrip(t *testing.T) {
	out := &capturingBus{}
	p, err := NewPublisher(out, zap.NewNop())
	require.NoError(t, err)

	ev := alerts.NewEvent(alerts.KindBestDifficulty, repo.FamilyBitaxe, "bitaxe-1", "Garage Bitaxe")
	ev.NewBest = 4.5e6
	ev.PreviousBest = 4.0e6
	require.NoError(t, p.PublishAlert(context.Background(), ev))

	assert.Equal(t, AlertRaised, out.subject)

	schema, _ := LoadSchema()
	env, err := UnmarshalEnvelope(schema, out.data)
	require.NoError(t, err)
	assert.Equal(t, AlertRaised, env.GetFieldByName("subject"))
	assert.NotEmpty(t, env.GetFieldByName("id"))

	payload := dynamic.NewMessage(schema.AlertRaised)
	require.NoError(t, payload.Unmarshal(env.GetFieldByName("payload").([]byte)))
	assert.Equal(t, ev.ID, payload.GetFieldByName("alert_id"))
	assert.Equal(t, string(alerts.KindBestDifficulty), payload.GetFieldByName("kind"))
	assert.Equal(t, 4.5e6, payload.GetFieldByName("new_best"))
	assert.Equal(t, 4.0e6, payload.GetFieldByName("previous_best"))
}

func TestPublishDeviceState(t *testing.T) {
	out := &capturingBus{}
	p, err := NewPublisher(out, zap.NewNop())
	require.NoError(t, err)

	seen := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.PublishDeviceState(context.Background(), repo.FamilyAvalon, "avalon-1", false, "dial tcp: i/o timeout", seen))
	assert.Equal(t, DeviceStateUpdated, out.subject)

	schema, _ := LoadSchema()
	env, err := UnmarshalEnvelope(schema, out.data)
	require.NoError(t, err)

	payload := dynamic.NewMessage(schema.DeviceStateUpdated)
	require.NoError(t, payload.Unmarshal(env.GetFieldByName("payload").([]byte)))
	assert.Equal(t, "avalon", payload.GetFieldByName("family"))
	assert.Equal(t, false, payload.GetFieldByName("online"))
	assert.Equal(t, seen.UnixMilli(), payload.GetFieldByName("last_seen_unix_ms"))
}

func TestSubjectPrefixing(t *testing.T) {
	assert.Equal(t, "sentinel.alert.raised", Subject("sentinel", AlertRaised))
	assert.Equal(t, "alert.raised", Subject("", AlertRaised))
}
