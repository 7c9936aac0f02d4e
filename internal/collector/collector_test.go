package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"miner-sentinel/internal/alerts"
	"miner-sentinel/internal/avalon/sockapi"
	"miner-sentinel/internal/bitaxe/httpapi"
	"miner-sentinel/internal/detect"
	"miner-sentinel/internal/storage/repo"
)

// memHistory is a minimal in-memory repo.History for pipeline tests.
type memHistory struct {
	mu        sync.Mutex
	mining    []repo.MiningSample
	hardware  []repo.HardwareSample
	system    []repo.SystemInfo
	statuses  map[string]repo.DeviceStatus
	insertErr error
}

func newMemHistory() *memHistory {
	return &memHistory{statuses: map[string]repo.DeviceStatus{}}
}

func (h *memHistory) InsertMiningSample(_ context.Context, _ repo.Family, _ int64, s repo.MiningSample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.insertErr != nil {
		return h.insertErr
	}
	h.mining = append([]repo.MiningSample{s}, h.mining...)
	return nil
}

func (h *memHistory) InsertHardwareSample(_ context.Context, _ repo.Family, _ int64, s repo.HardwareSample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hardware = append(h.hardware, s)
	return nil
}

func (h *memHistory) InsertSystemInfo(_ context.Context, _ repo.Family, _ int64, s repo.SystemInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.system = append(h.system, s)
	return nil
}

func (h *memHistory) RecentMiningSamples(_ context.Context, _ repo.Family, _ int64, limit int) ([]repo.MiningSample, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.mining) < limit {
		limit = len(h.mining)
	}
	return append([]repo.MiningSample(nil), h.mining[:limit]...), nil
}

func (h *memHistory) GetDeviceStatus(_ context.Context, _ repo.Family, deviceID string) (repo.DeviceStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.statuses[deviceID]
	if !ok {
		return repo.DeviceStatus{}, repo.ErrNotFound
	}
	return st, nil
}

func (h *memHistory) SetDeviceStatus(_ context.Context, _ repo.Family, deviceID string, online bool, errMsg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.statuses[deviceID]
	st.Online = online
	st.ErrorMessage = errMsg
	if online {
		st.LastSeenAt = time.Now()
	}
	h.statuses[deviceID] = st
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []alerts.Event
}

func (s *memSink) Deliver(_ context.Context, ev alerts.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type fakeBitaxeClient struct {
	info     httpapi.SystemInfo
	fetchErr error
	restarts []string
}

func (f *fakeBitaxeClient) FetchSystemInfo(context.Context, string) (httpapi.SystemInfo, error) {
	return f.info, f.fetchErr
}

func (f *fakeBitaxeClient) Restart(_ context.Context, addr string) error {
	f.restarts = append(f.restarts, addr)
	return nil
}

type fakeAvalonClient struct {
	telemetry sockapi.Telemetry
	fetchErr  error
}

func (f *fakeAvalonClient) FetchTelemetry(context.Context, string) (sockapi.Telemetry, error) {
	return f.telemetry, f.fetchErr
}

func (f *fakeAvalonClient) Restart(context.Context, string) error { return nil }

var bitaxeDev = repo.Device{ID: 1, DeviceID: "bitaxe-1", Name: "Garage Bitaxe", Address: "10.0.0.20"}

func TestBitaxeCollectDevice(t *testing.T) {
	hist := newMemHistory()
	sink := &memSink{}
	client := &fakeBitaxeClient{info: httpapi.SystemInfo{
		HashrateGHS:    498.37,
		SharesAccepted: 12345,
		SharesRejected: 14,
		UptimeS:        86452,
		BestDifficulty: 4.29e6,
		PowerW:         13.26,
		TemperatureC:   59.5,
		FanRPM:         3807,
		Voltage:        5.094,
		FrequencyMHz:   485,
		Model:          "BM1368",
		PoolURL:        "eusolo.ckpool.org:3333",
		PoolUser:       "bc1qexample.bitaxe",
	}}
	det := detect.New(repo.FamilyBitaxe, hist, sink, client, nil, zap.NewNop())
	c := NewBitaxe(client, hist, det, zap.NewNop())

	require.NoError(t, c.CollectDevice(context.Background(), bitaxeDev))

	require.Len(t, hist.mining, 1)
	assert.Equal(t, 498.37, hist.mining[0].HashrateGHS)
	assert.Equal(t, 4.29e6, hist.mining[0].BestDifficulty)

	require.Len(t, hist.hardware, 1)
	assert.InDelta(t, 13.26/(498.37/1000), hist.hardware[0].EfficiencyJPerTH, 1e-9)

	require.Len(t, hist.system, 1)
	assert.Equal(t, "BM1368", hist.system[0].Model)

	// online status recorded, first best alert raised
	assert.True(t, hist.statuses["bitaxe-1"].Online)
	require.Len(t, sink.events, 1)
	assert.Equal(t, alerts.KindFirstBestDifficulty, sink.events[0].Kind)
}

func TestBitaxeCollectDeviceUnreachable(t *testing.T) {
	hist := newMemHistory()
	hist.statuses["bitaxe-1"] = repo.DeviceStatus{Online: true, LastSeenAt: time.Now()}
	sink := &memSink{}
	client := &fakeBitaxeClient{fetchErr: errors.New("dial tcp: i/o timeout")}
	det := detect.New(repo.FamilyBitaxe, hist, sink, client, nil, zap.NewNop())
	c := NewBitaxe(client, hist, det, zap.NewNop())

	err := c.CollectDevice(context.Background(), bitaxeDev)
	require.Error(t, err)

	assert.Empty(t, hist.mining)
	assert.False(t, hist.statuses["bitaxe-1"].Online)
	require.Len(t, sink.events, 1)
	assert.Equal(t, alerts.KindDeviceOffline, sink.events[0].Kind)
}

func TestBitaxePersistenceFailureSkipsDetection(t *testing.T) {
	hist := newMemHistory()
	hist.insertErr = errors.New("connection reset")
	sink := &memSink{}
	client := &fakeBitaxeClient{info: httpapi.SystemInfo{HashrateGHS: 500, BestDifficulty: 100}}
	det := detect.New(repo.FamilyBitaxe, hist, sink, client, nil, zap.NewNop())
	c := NewBitaxe(client, hist, det, zap.NewNop())

	err := c.CollectDevice(context.Background(), bitaxeDev)
	require.Error(t, err)
	assert.Empty(t, sink.events)
}

func TestAvalonCollectDevice(t *testing.T) {
	hist := newMemHistory()
	sink := &memSink{}
	client := &fakeAvalonClient{telemetry: sockapi.Telemetry{
		Version: sockapi.Version{Model: "Nano3", Firmware: "4.11.1", Serial: "02010000c4a1d544"},
		Summary: sockapi.Summary{HashrateGHS: 3610.70, Accepted: 8543, Rejected: 12, BlocksFound: 1, UptimeS: 35107, BestShare: 1234567},
		Stats:   sockapi.Stats{TemperatureC: 65, PowerW: 133, FanRPM: 1520, FrequencyMHz: 464.89, Voltage: 3.25, MemoryUsagePercent: 67.8},
		Pool:    sockapi.Pool{URL: "stratum+tcp://eusolo.ckpool.org:3333", User: "bc1qexample.worker1"},
	}}
	det := detect.New(repo.FamilyAvalon, hist, sink, client, nil, zap.NewNop())
	c := NewAvalon(client, hist, det, zap.NewNop())

	require.NoError(t, c.CollectDevice(context.Background(), repo.Device{ID: 3, DeviceID: "avalon-1", Name: "Nano 3", Address: "10.0.0.30"}))

	require.Len(t, hist.mining, 1)
	assert.Equal(t, 3610.70, hist.mining[0].HashrateGHS)
	assert.Equal(t, int64(1), hist.mining[0].BlocksFound)
	require.Len(t, hist.hardware, 1)
	assert.Equal(t, 133.0, hist.hardware[0].PowerW)
	require.Len(t, hist.system, 1)
	assert.Equal(t, 67.8, hist.system[0].MemoryUsagePercent)
}

// slowCollector counts concurrent CollectDevice calls.
type slowCollector struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	fail    map[string]bool
}

func (s *slowCollector) Family() repo.Family { return repo.FamilyBitaxe }

func (s *slowCollector) CollectDevice(_ context.Context, dev repo.Device) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	s.active--
	fail := s.fail[dev.DeviceID]
	s.mu.Unlock()
	if fail {
		return errors.New("boom")
	}
	return nil
}

func TestRunnerBoundsConcurrencyAndIsolatesFailures(t *testing.T) {
	sc := &slowCollector{fail: map[string]bool{"dev-2": true, "dev-5": true}}
	r := NewRunner(sc, 3, zap.NewNop())

	devices := make([]repo.Device, 8)
	for i := range devices {
		devices[i] = repo.Device{ID: int64(i), DeviceID: "dev-" + string(rune('0'+i))}
	}

	succeeded := r.CollectAll(context.Background(), devices)
	assert.Equal(t, 6, succeeded)
	assert.LessOrEqual(t, sc.maxSeen, 3)
	assert.GreaterOrEqual(t, sc.maxSeen, 2)
}

func TestRunnerEmptyDeviceList(t *testing.T) {
	r := NewRunner(&slowCollector{}, 3, zap.NewNop())
	assert.Zero(t, r.CollectAll(context.Background(), nil))
}
