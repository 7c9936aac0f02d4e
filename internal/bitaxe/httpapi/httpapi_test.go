package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const systemInfoFixture = `{
	"power": 13.26, "voltage": 5094.0, "current": 2600.0,
	"temp": 59.5, "vrTemp": 45,
	"hashRate": 498.37,
	"bestDiff": "4.29M", "bestSessionDiff": "185K",
	"freeHeap": 181672,
	"coreVoltage": 1166, "coreVoltageActual": 1162,
	"frequency": 485,
	"ssid": "workshop", "macAddr": "A0:B7:65:11:22:33", "hostname": "bitaxe",
	"wifiStatus": "Connected!", "wifiRSSI": -52,
	"sharesAccepted": 12345, "sharesRejected": 14,
	"uptimeSeconds": 86452,
	"ASICModel": "BM1368", "stratumURL": "eusolo.ckpool.org", "stratumPort": 3333,
	"stratumUser": "bc1qexample.bitaxe",
	"version": "v2.4.1", "boardVersion": "401",
	"overheat_mode": 0, "autofanspeed": 1, "fanspeed": 75, "fanrpm": 3807,
	"flipscreen": 1, "invertscreen": 0, "displayTimeout": 30
}`

func TestExtractSystemInfo(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(systemInfoFixture), &m))

	info := ExtractSystemInfo(m)

	assert.Equal(t, 498.37, info.HashrateGHS)
	assert.Equal(t, int64(12345), info.SharesAccepted)
	assert.Equal(t, int64(14), info.SharesRejected)
	assert.Equal(t, int64(86452), info.UptimeS)
	assert.InDelta(t, 4.29e6, info.BestDifficulty, 1e-6)
	assert.InDelta(t, 185e3, info.BestSessionDifficulty, 1e-6)
	assert.Equal(t, "eusolo.ckpool.org:3333", info.PoolURL)
	assert.Equal(t, "bc1qexample.bitaxe", info.PoolUser)

	assert.Equal(t, 13.26, info.PowerW)
	assert.InDelta(t, 5.094, info.Voltage, 1e-9) // millivolts on the wire
	assert.Equal(t, 59.5, info.TemperatureC)
	assert.Equal(t, 45.0, info.VRTemperatureC)
	assert.Equal(t, 3807, info.FanRPM)
	assert.Equal(t, 75, info.FanSpeedPercent)
	assert.True(t, info.AutoFanSpeed)
	assert.Equal(t, 485.0, info.FrequencyMHz)

	assert.Equal(t, "BM1368", info.Model)
	assert.Equal(t, "v2.4.1", info.Firmware)
	assert.Equal(t, -52, info.WifiRSSI)
	assert.Equal(t, 0, info.OverheatMode)
	assert.Equal(t, 1, info.DisplayRotation)
	assert.Equal(t, 30, info.DisplayTimeout)
}

func TestExtractSystemInfoDefaults(t *testing.T) {
	// older firmware without the display/overheat keys
	info := ExtractSystemInfo(map[string]any{"hashRate": 410.2})

	assert.Equal(t, 410.2, info.HashrateGHS)
	assert.Equal(t, 0, info.OverheatMode)
	assert.Equal(t, 0, info.DisplayRotation)
	assert.Equal(t, -1, info.DisplayTimeout)
	assert.Zero(t, info.BestDifficulty)
	assert.Empty(t, info.PoolURL)
}

func TestFetchSystemInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, systemInfoPath, r.URL.Path)
		_, _ = w.Write([]byte(systemInfoFixture))
	}))
	defer srv.Close()

	c := New(zap.NewNop(), 2*time.Second)
	info, err := c.FetchSystemInfo(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, 498.37, info.HashrateGHS)
}

func TestFetchSystemInfoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(systemInfoFixture))
	}))
	defer srv.Close()

	c := New(zap.NewNop(), 2*time.Second)
	c.retry.Base = time.Millisecond

	info, err := c.FetchSystemInfo(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "BM1368", info.Model)
}

func TestFetchSystemInfoUnreachable(t *testing.T) {
	c := New(zap.NewNop(), 200*time.Millisecond)
	c.retry.MaxAttempts = 1

	_, err := c.FetchSystemInfo(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRestart(t *testing.T) {
	var restarted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, restartPath, r.URL.Path)
		restarted.Store(true)
	}))
	defer srv.Close()

	c := New(zap.NewNop(), 2*time.Second)
	require.NoError(t, c.Restart(context.Background(), strings.TrimPrefix(srv.URL, "http://")))
	assert.True(t, restarted.Load())
}
