// Package postgres implements the repo interfaces on a pgx connection pool.
// The collector owns its schema and applies it at startup; everything in
// schema.sql is idempotent.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"miner-sentinel/internal/config"
	"miner-sentinel/internal/storage/repo"
)

//go:embed schema.sql
var schemaSQL string

// Connect builds the pool and waits for the database to accept pings. In the
// common docker-compose deployment the database container is still starting
// when the collector comes up, so the first pings are expected to fail.
func Connect(ctx context.Context, log *zap.Logger, cfg config.Postgres) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	tries := cfg.StartupTries
	if tries <= 0 {
		tries = 1
	}
	wait := cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= tries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		lastErr = pool.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			if attempt > 1 {
				log.Info("postgres reachable", zap.Int("attempt", attempt))
			}
			return pool, nil
		}
		log.Warn("postgres not ready",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", tries),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", tries, lastErr)
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Store implements repo.Registry, repo.History and repo.PoolStats.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewStore(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{pool: pool, log: log.Named("postgres")}
}

// tableFor maps a family to its table prefix. Family is a closed enum; an
// unknown value is a programming error and must never reach SQL text.
func tableFor(family repo.Family, suffix string) (string, error) {
	switch family {
	case repo.FamilyBitaxe, repo.FamilyAvalon:
		return string(family) + "_" + suffix, nil
	default:
		return "", fmt.Errorf("unknown device family %q", family)
	}
}

func (s *Store) ListActiveDevices(ctx context.Context, family repo.Family) ([]repo.Device, error) {
	table, err := tableFor(family, "devices")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, device_id, device_name, ip_address, is_active
		FROM %s
		WHERE is_active
		ORDER BY device_name`, table))
	if err != nil {
		return nil, fmt.Errorf("list %s devices: %w", family, err)
	}
	defer rows.Close()

	var out []repo.Device
	for rows.Next() {
		var d repo.Device
		if err := rows.Scan(&d.ID, &d.DeviceID, &d.Name, &d.Address, &d.Active); err != nil {
			return nil, fmt.Errorf("scan %s device: %w", family, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s devices: %w", family, err)
	}
	return out, nil
}

func (s *Store) InsertMiningSample(ctx context.Context, family repo.Family, deviceID int64, m repo.MiningSample) error {
	table, err := tableFor(family, "mining_stats")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			device_id, recorded_at, hashrate_ghs,
			shares_accepted, shares_rejected, blocks_found, uptime_seconds,
			best_difficulty, best_session_difficulty, pool_url, pool_user
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, table),
		deviceID, m.RecordedAt, m.HashrateGHS,
		m.SharesAccepted, m.SharesRejected, m.BlocksFound, m.UptimeS,
		m.BestDifficulty, m.BestSessionDifficulty, m.PoolURL, m.PoolUser,
	)
	if err != nil {
		return fmt.Errorf("insert %s mining sample: %w", family, err)
	}
	return nil
}

func (s *Store) InsertHardwareSample(ctx context.Context, family repo.Family, deviceID int64, h repo.HardwareSample) error {
	table, err := tableFor(family, "hardware_logs")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			device_id, recorded_at, power_watts, efficiency_j_per_th,
			temperature_c, fan_speed_rpm, voltage, frequency_mhz
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, table),
		deviceID, h.RecordedAt, h.PowerW, h.EfficiencyJPerTH,
		h.TemperatureC, h.FanRPM, h.Voltage, h.FrequencyMHz,
	)
	if err != nil {
		return fmt.Errorf("insert %s hardware sample: %w", family, err)
	}
	return nil
}

func (s *Store) InsertSystemInfo(ctx context.Context, family repo.Family, deviceID int64, si repo.SystemInfo) error {
	table, err := tableFor(family, "system_info")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			device_id, recorded_at,
			model, firmware, hardware_version, serial, mac_address, hostname,
			pool_url, pool_user, uptime_seconds, memory_usage_percent,
			frequency_mhz, voltage,
			overheat_mode, display_rotation, display_timeout,
			invert_screen, auto_fan_speed, fan_speed_percent,
			wifi_rssi, free_heap
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`, table),
		deviceID, si.RecordedAt,
		si.Model, si.Firmware, si.Hardware, si.Serial, si.MAC, si.Hostname,
		si.PoolURL, si.PoolUser, si.UptimeS, si.MemoryUsagePercent,
		si.FrequencyMHz, si.Voltage,
		si.OverheatMode, si.DisplayRotation, si.DisplayTimeout,
		si.InvertScreen, si.AutoFanSpeed, si.FanSpeedPercent,
		si.WifiRSSI, si.FreeHeap,
	)
	if err != nil {
		return fmt.Errorf("insert %s system info: %w", family, err)
	}
	return nil
}

func (s *Store) RecentMiningSamples(ctx context.Context, family repo.Family, deviceID int64, limit int) ([]repo.MiningSample, error) {
	table, err := tableFor(family, "mining_stats")
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT recorded_at, hashrate_ghs,
		       shares_accepted, shares_rejected, blocks_found, uptime_seconds,
		       best_difficulty, best_session_difficulty,
		       COALESCE(pool_url, ''), COALESCE(pool_user, '')
		FROM %s
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, table), deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent %s mining samples: %w", family, err)
	}
	defer rows.Close()

	var out []repo.MiningSample
	for rows.Next() {
		var m repo.MiningSample
		if err := rows.Scan(
			&m.RecordedAt, &m.HashrateGHS,
			&m.SharesAccepted, &m.SharesRejected, &m.BlocksFound, &m.UptimeS,
			&m.BestDifficulty, &m.BestSessionDifficulty,
			&m.PoolURL, &m.PoolUser,
		); err != nil {
			return nil, fmt.Errorf("scan %s mining sample: %w", family, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent %s mining samples: %w", family, err)
	}
	return out, nil
}

func (s *Store) GetDeviceStatus(ctx context.Context, family repo.Family, deviceID string) (repo.DeviceStatus, error) {
	table, err := tableFor(family, "devices")
	if err != nil {
		return repo.DeviceStatus{}, err
	}
	var (
		st       repo.DeviceStatus
		lastSeen *time.Time
		errMsg   *string
	)
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT is_online, last_seen_at, error_message
		FROM %s
		WHERE device_id = $1`, table), deviceID)
	if err := row.Scan(&st.Online, &lastSeen, &errMsg); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repo.DeviceStatus{}, repo.ErrNotFound
		}
		return repo.DeviceStatus{}, fmt.Errorf("get %s device status: %w", family, err)
	}
	if lastSeen != nil {
		st.LastSeenAt = *lastSeen
	}
	if errMsg != nil {
		st.ErrorMessage = *errMsg
	}
	return st, nil
}

// SetDeviceStatus updates the outcome row. last_seen_at only moves forward on
// a successful poll; an offline device keeps the timestamp of its last good
// contact so offline duration can be reported.
func (s *Store) SetDeviceStatus(ctx context.Context, family repo.Family, deviceID string, online bool, errorMessage string) error {
	table, err := tableFor(family, "devices")
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			is_online = $2,
			error_message = $3,
			last_seen_at = CASE WHEN $2 THEN now() ELSE last_seen_at END
		WHERE device_id = $1`, table),
		deviceID, online, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("set %s device status: %w", family, err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) InsertPoolSample(ctx context.Context, p repo.PoolSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pool_stats (
			pool_address, recorded_at,
			hashrate_1m, hashrate_5m, hashrate_1hr, hashrate_1d, hashrate_7d,
			lastshare, workers, shares, bestshare, bestever, authorised,
			hashrate_1m_ghs, hashrate_1d_ghs
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.Address, p.RecordedAt,
		p.Hashrate1m, p.Hashrate5m, p.Hashrate1hr, p.Hashrate1d, p.Hashrate7d,
		p.LastShare, p.Workers, p.Shares, p.BestShare, p.BestEver, p.Authorised,
		p.Hashrate1mGHS, p.Hashrate1dGHS,
	)
	if err != nil {
		return fmt.Errorf("insert pool sample: %w", err)
	}
	return nil
}
