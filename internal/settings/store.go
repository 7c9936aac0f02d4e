package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps the collector_settings singleton row. The "exactly one row"
// invariant is enforced by always reading and writing id=1, not by anything
// in the schema beyond the primary key.
type Store struct {
	mu   sync.RWMutex
	pool *pgxpool.Pool
	cur  Settings
}

const settingsRowID = 1

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, cur: Defaults()}
}

// Load reads the row, creating it with defaults if missing.
func (s *Store) Load(ctx context.Context) error {
	got, err := s.read(ctx)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.write(ctx, Defaults()); err != nil {
			return err
		}
		got = Defaults()
	} else if err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = got.Normalize()
	s.mu.Unlock()
	return nil
}

// Get returns the last loaded snapshot. Callers that need freshness call
// Reload first; a snapshot never changes mid-cycle.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Reload re-reads the row and returns the new snapshot. On read failure the
// previous snapshot is kept so a transient DB hiccup does not reset intervals.
func (s *Store) Reload(ctx context.Context) (Settings, error) {
	got, err := s.read(ctx)
	if err != nil {
		return s.Get(), err
	}
	got = got.Normalize()
	s.mu.Lock()
	s.cur = got
	s.mu.Unlock()
	return got, nil
}

// Update persists new settings and refreshes the snapshot.
func (s *Store) Update(ctx context.Context, newS Settings) error {
	newS = newS.Normalize()
	if err := s.write(ctx, newS); err != nil {
		return err
	}
	s.mu.Lock()
	s.cur = newS
	s.mu.Unlock()
	return nil
}

func (s *Store) read(ctx context.Context) (Settings, error) {
	var out Settings
	row := s.pool.QueryRow(ctx, `
		SELECT polling_interval_minutes, device_check_interval_minutes,
		       pool_type, ckpool_address, ckpool_url,
		       publicpool_address, publicpool_url,
		       telegram_enabled, telegram_bot_token, telegram_chat_id
		FROM collector_settings
		WHERE id = $1`, settingsRowID)
	err := row.Scan(
		&out.PollingIntervalMinutes, &out.DeviceCheckIntervalMinutes,
		&out.PoolType, &out.CKPoolAddress, &out.CKPoolURL,
		&out.PublicPoolAddress, &out.PublicPoolURL,
		&out.TelegramEnabled, &out.TelegramBotToken, &out.TelegramChatID,
	)
	return out, err
}

func (s *Store) write(ctx context.Context, v Settings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collector_settings (
			id, polling_interval_minutes, device_check_interval_minutes,
			pool_type, ckpool_address, ckpool_url,
			publicpool_address, publicpool_url,
			telegram_enabled, telegram_bot_token, telegram_chat_id, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (id) DO UPDATE SET
			polling_interval_minutes = EXCLUDED.polling_interval_minutes,
			device_check_interval_minutes = EXCLUDED.device_check_interval_minutes,
			pool_type = EXCLUDED.pool_type,
			ckpool_address = EXCLUDED.ckpool_address,
			ckpool_url = EXCLUDED.ckpool_url,
			publicpool_address = EXCLUDED.publicpool_address,
			publicpool_url = EXCLUDED.publicpool_url,
			telegram_enabled = EXCLUDED.telegram_enabled,
			telegram_bot_token = EXCLUDED.telegram_bot_token,
			telegram_chat_id = EXCLUDED.telegram_chat_id,
			updated_at = NOW()`,
		settingsRowID,
		v.PollingIntervalMinutes, v.DeviceCheckIntervalMinutes,
		v.PoolType, v.CKPoolAddress, v.CKPoolURL,
		v.PublicPoolAddress, v.PublicPoolURL,
		v.TelegramEnabled, v.TelegramBotToken, v.TelegramChatID,
	)
	return err
}
