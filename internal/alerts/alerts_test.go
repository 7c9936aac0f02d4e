package alerts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miner-sentinel/internal/storage/repo"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestNewEventStampsIdentity(t *testing.T) {
	ev := NewEvent(KindDeviceOffline, repo.FamilyAvalon, "avalon-1", "Nano 3")

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.At.IsZero())
	assert.Equal(t, KindDeviceOffline, ev.Kind)
	assert.Equal(t, repo.FamilyAvalon, ev.Family)
	assert.Equal(t, "avalon-1", ev.DeviceID)

	// ids are unique per event
	assert.NotEqual(t, ev.ID, NewEvent(KindDeviceOffline, repo.FamilyAvalon, "avalon-1", "Nano 3").ID)
}

func TestFanoutDeliversToAllDespiteFailure(t *testing.T) {
	bad := &recordingSink{err: errors.New("channel down")}
	good := &recordingSink{}
	f := Fanout{bad, good}

	ev := NewEvent(KindHashrateStagnation, repo.FamilyBitaxe, "bitaxe-1", "Bitaxe")
	err := f.Deliver(context.Background(), ev)

	require.Error(t, err)
	assert.Len(t, bad.events, 1)
	assert.Len(t, good.events, 1)
}

func TestLogSinkNeverFails(t *testing.T) {
	s := LogSink{Log: zap.NewNop()}
	for _, kind := range []Kind{
		KindHashrateStagnation, KindDeviceOffline, KindDeviceOnline,
		KindBestDifficulty, KindFirstBestDifficulty, KindDeviceRestarted,
	} {
		ev := NewEvent(kind, repo.FamilyBitaxe, "bitaxe-1", "Bitaxe")
		assert.NoError(t, s.Deliver(context.Background(), ev))
	}
}
