package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miner-sentinel/internal/bus"
)

type fakeMsg struct {
	data   []byte
	acked  bool
	termed bool
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Ack() error   { m.acked = true; return nil }
func (m *fakeMsg) Nak() error   { return nil }
func (m *fakeMsg) Term() error  { m.termed = true; return nil }

type fakeConsumer struct {
	msgs []bus.Message
	err  error
}

func (c *fakeConsumer) Fetch(_ context.Context, batch int, _ time.Duration) ([]bus.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	if batch > len(c.msgs) {
		batch = len(c.msgs)
	}
	out := c.msgs[:batch]
	c.msgs = c.msgs[batch:]
	return out, nil
}

func TestReaderDecodesAcksAndTerminatesJunk(t *testing.T) {
	out := &capturingBus{}
	p, err := NewPublisher(out, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.PublishCycleCompleted(context.Background(), 3, 4, 2*time.Second, false))

	good := &fakeMsg{data: out.data}
	junk := &fakeMsg{data: []byte("not an envelope")}
	rd, err := NewReader(&fakeConsumer{msgs: []bus.Message{good, junk}}, zap.NewNop())
	require.NoError(t, err)

	entries, err := rd.Next(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, PollCycleCompleted, entries[0].Subject)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].At.IsZero())
	assert.Positive(t, entries[0].PayloadBytes)
	assert.True(t, good.acked)
	assert.True(t, junk.termed)
}

func TestReaderEmptyStream(t *testing.T) {
	rd, err := NewReader(&fakeConsumer{}, zap.NewNop())
	require.NoError(t, err)

	entries, err := rd.Next(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
