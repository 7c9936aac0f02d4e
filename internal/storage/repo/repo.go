// Package repo defines the persistence interfaces the collector consumes.
// Implementations live in storage/postgres; tests inject fakes.
package repo

import (
	"context"
	"errors"
	"time"
)

// Family identifies a device family; each family has its own wire protocol
// and its own sample tables.
type Family string

const (
	FamilyBitaxe Family = "bitaxe"
	FamilyAvalon Family = "avalon"
)

// ErrNotFound is returned when a device or settings row does not exist.
var ErrNotFound = errors.New("repo: not found")

// Device is a registry entry. Devices are soft-deactivated, never deleted,
// while history references them.
type Device struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Active   bool   `json:"active"`
}

// DeviceStatus is the persisted poll-outcome state used for offline/online
// edge detection.
type DeviceStatus struct {
	Online       bool
	LastSeenAt   time.Time
	ErrorMessage string
}

// MiningSample is one observation of mining performance, immutable once
// written. Hashrate is normalized to GH/s for both families.
type MiningSample struct {
	RecordedAt            time.Time
	HashrateGHS           float64
	SharesAccepted        int64
	SharesRejected        int64
	BlocksFound           int64
	UptimeS               int64
	BestDifficulty        float64
	BestSessionDifficulty float64
	PoolURL               string
	PoolUser              string
}

// HardwareSample is one observation of physical metrics, stored as a series
// separate from MiningSample the way the wire protocols separate them.
type HardwareSample struct {
	RecordedAt       time.Time
	PowerW           float64
	EfficiencyJPerTH float64
	TemperatureC     float64
	FanRPM           int
	Voltage          float64
	FrequencyMHz     float64
}

// SystemInfo carries the slower-moving device facts reported alongside
// telemetry. Optional wire fields land here with their documented defaults
// already substituted; nothing downstream sees an absent field.
type SystemInfo struct {
	RecordedAt time.Time

	Model    string
	Firmware string
	Hardware string
	Serial   string
	MAC      string
	Hostname string

	PoolURL  string
	PoolUser string

	UptimeS            int64
	MemoryUsagePercent float64

	FrequencyMHz float64
	Voltage      float64

	// Bitaxe-only optional fields, defaults 0 / 0 / -1 / false.
	OverheatMode    int
	DisplayRotation int
	DisplayTimeout  int
	InvertScreen    bool
	AutoFanSpeed    bool
	FanSpeedPercent int
	WifiRSSI        int
	FreeHeap        int64
}

// PoolSample is one observation of pool-side aggregate stats, keyed by pool
// address rather than device.
type PoolSample struct {
	Address    string
	RecordedAt time.Time

	Hashrate1m  string
	Hashrate5m  string
	Hashrate1hr string
	Hashrate1d  string
	Hashrate7d  string

	LastShare  int64
	Workers    int
	Shares     int64
	BestShare  float64
	BestEver   float64
	Authorised int64

	Hashrate1mGHS float64
	Hashrate1dGHS float64
}

// Registry lists the devices to poll.
type Registry interface {
	ListActiveDevices(ctx context.Context, family Family) ([]Device, error)
}

// History is the append-only time-series store plus the per-device status row.
// RecentMiningSamples returns newest-first.
type History interface {
	InsertMiningSample(ctx context.Context, family Family, deviceID int64, s MiningSample) error
	InsertHardwareSample(ctx context.Context, family Family, deviceID int64, s HardwareSample) error
	InsertSystemInfo(ctx context.Context, family Family, deviceID int64, s SystemInfo) error
	RecentMiningSamples(ctx context.Context, family Family, deviceID int64, limit int) ([]MiningSample, error)

	GetDeviceStatus(ctx context.Context, family Family, deviceID string) (DeviceStatus, error)
	SetDeviceStatus(ctx context.Context, family Family, deviceID string, online bool, errorMessage string) error
}

// PoolStats persists pool samples.
type PoolStats interface {
	InsertPoolSample(ctx context.Context, s PoolSample) error
}
