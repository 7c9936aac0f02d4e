package httpapi

import (
	"fmt"
	"strings"

	"miner-sentinel/internal/units"
)

// SystemInfo is the normalized view of one /api/system/info reply.
// Hashrate arrives already in GH/s; difficulties arrive as suffixed
// strings ("4.29M") and are parsed to absolute values; voltage arrives
// in millivolts and is normalized to volts.
type SystemInfo struct {
	// mining
	HashrateGHS           float64
	SharesAccepted        int64
	SharesRejected        int64
	UptimeS               int64
	BestDifficulty        float64
	BestSessionDifficulty float64
	PoolURL               string
	PoolUser              string

	// hardware
	PowerW            float64
	Voltage           float64
	CoreVoltage       float64
	CoreVoltageActual float64
	TemperatureC      float64
	VRTemperatureC    float64
	FanRPM            int
	FanSpeedPercent   int
	AutoFanSpeed      bool
	FrequencyMHz      float64

	// system
	Model           string
	Firmware        string
	BoardVersion    string
	Hostname        string
	MAC             string
	SSID            string
	WifiStatus      string
	WifiRSSI        int
	FreeHeap        int64
	OverheatMode    int
	DisplayRotation int
	InvertScreen    bool
	DisplayTimeout  int
}

// Firmware defaults for fields older AxeOS builds do not report.
const (
	defaultOverheatMode   = 0
	defaultRotation       = 0
	defaultDisplayTimeout = -1
)

// ExtractSystemInfo maps a decoded JSON body onto SystemInfo. It is
// intentionally tolerant: AxeOS builds differ in which keys they carry and
// a few report numbers as strings.
func ExtractSystemInfo(m map[string]any) SystemInfo {
	info := SystemInfo{
		HashrateGHS:           pickF64(m, "hashRate", "hashrate"),
		SharesAccepted:        pickI64(m, "sharesAccepted"),
		SharesRejected:        pickI64(m, "sharesRejected"),
		UptimeS:               pickI64(m, "uptimeSeconds"),
		BestDifficulty:        units.ParseDifficulty(pickString(m, "bestDiff")),
		BestSessionDifficulty: units.ParseDifficulty(pickString(m, "bestSessionDiff")),
		PoolUser:              pickString(m, "stratumUser"),

		PowerW:            pickF64(m, "power"),
		Voltage:           pickF64(m, "voltage") / 1000.0,
		CoreVoltage:       pickF64(m, "coreVoltage"),
		CoreVoltageActual: pickF64(m, "coreVoltageActual"),
		TemperatureC:      pickF64(m, "temp"),
		VRTemperatureC:    pickF64(m, "vrTemp"),
		FanRPM:            int(pickI64(m, "fanrpm", "fanRPM")),
		FanSpeedPercent:   int(pickI64(m, "fanspeed", "fanSpeed")),
		AutoFanSpeed:      pickBool(m, "autofanspeed"),
		FrequencyMHz:      pickF64(m, "frequency"),

		Model:        pickString(m, "ASICModel", "asicModel"),
		Firmware:     pickString(m, "version"),
		BoardVersion: pickString(m, "boardVersion"),
		Hostname:     pickString(m, "hostname"),
		MAC:          pickString(m, "macAddr"),
		SSID:         pickString(m, "ssid"),
		WifiStatus:   pickString(m, "wifiStatus"),
		WifiRSSI:     int(pickI64(m, "wifiRSSI")),
		FreeHeap:     pickI64(m, "freeHeap"),
		InvertScreen: pickBool(m, "invertscreen"),
	}

	info.OverheatMode = pickIntDefault(m, defaultOverheatMode, "overheat_mode", "overheatMode")
	info.DisplayRotation = pickIntDefault(m, defaultRotation, "rotation", "flipscreen")
	info.DisplayTimeout = pickIntDefault(m, defaultDisplayTimeout, "displayTimeout")

	if url := pickString(m, "stratumURL"); url != "" {
		if port := pickI64(m, "stratumPort"); port > 0 {
			info.PoolURL = fmt.Sprintf("%s:%d", url, port)
		} else {
			info.PoolURL = url
		}
	}
	return info
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func pickF64(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f := toF64(v); f != 0 {
				return f
			}
		}
	}
	return 0
}

func pickI64(m map[string]any, keys ...string) int64 {
	return int64(pickF64(m, keys...))
}

// pickIntDefault returns def when none of the keys is present at all;
// a present zero value is kept.
func pickIntDefault(m map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return int(toF64(v))
		}
	}
	return def
}

func pickBool(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch x := m[k].(type) {
		case bool:
			return x
		case float64:
			return x != 0
		case string:
			return strings.EqualFold(strings.TrimSpace(x), "true") || x == "1"
		}
	}
	return false
}

func toF64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		var out float64
		_, _ = fmt.Sscanf(strings.TrimSpace(x), "%f", &out)
		return out
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}
