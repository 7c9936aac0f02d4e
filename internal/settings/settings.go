// Package settings is the hot-reloadable collector configuration. It is a
// single fixed-key row owned by the dashboard API; the collector re-reads it
// at the start of every cycle and never assumes a restart picks up changes.
package settings

// Pool backend selection is exclusive: exactly one of the two integrations is
// polled per cycle.
const (
	PoolCKPool     = "ckpool"
	PoolPublicPool = "publicpool"
)

type Settings struct {
	PollingIntervalMinutes     int `json:"polling_interval_minutes"`
	DeviceCheckIntervalMinutes int `json:"device_check_interval_minutes"`

	PoolType string `json:"pool_type"`

	CKPoolAddress string `json:"ckpool_address"`
	CKPoolURL     string `json:"ckpool_url"`

	PublicPoolAddress string `json:"publicpool_address"`
	PublicPoolURL     string `json:"publicpool_url"`

	TelegramEnabled  bool   `json:"telegram_enabled"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`
}

func Defaults() Settings {
	return Settings{
		PollingIntervalMinutes:     15,
		DeviceCheckIntervalMinutes: 5,
		PoolType:                   PoolCKPool,
		CKPoolURL:                  "https://eusolo.ckpool.org",
		PublicPoolURL:              "http://localhost:3334",
	}
}

// Normalize backfills zero values so a partially written row never stalls the
// scheduler or points pool polling at an empty URL.
func (s Settings) Normalize() Settings {
	d := Defaults()
	if s.PollingIntervalMinutes <= 0 {
		s.PollingIntervalMinutes = d.PollingIntervalMinutes
	}
	if s.DeviceCheckIntervalMinutes <= 0 {
		s.DeviceCheckIntervalMinutes = d.DeviceCheckIntervalMinutes
	}
	if s.PoolType != PoolCKPool && s.PoolType != PoolPublicPool {
		s.PoolType = d.PoolType
	}
	if s.CKPoolURL == "" {
		s.CKPoolURL = d.CKPoolURL
	}
	if s.PublicPoolURL == "" {
		s.PublicPoolURL = d.PublicPoolURL
	}
	return s
}

// PoolAddress returns the address for the active backend; empty means pool
// polling is skipped this cycle.
func (s Settings) PoolAddress() string {
	if s.PoolType == PoolPublicPool {
		return s.PublicPoolAddress
	}
	return s.CKPoolAddress
}

// PoolURL returns the API base URL for the active backend.
func (s Settings) PoolURL() string {
	if s.PoolType == PoolPublicPool {
		return s.PublicPoolURL
	}
	return s.CKPoolURL
}
