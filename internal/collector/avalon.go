package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/avalon/sockapi"
	"miner-sentinel/internal/detect"
	"miner-sentinel/internal/metrics"
	"miner-sentinel/internal/storage/repo"
)

// avalonClient is what the Avalon pipeline needs from the socket API.
type avalonClient interface {
	detect.Restarter
	FetchTelemetry(ctx context.Context, addr string) (sockapi.Telemetry, error)
}

type Avalon struct {
	client avalonClient
	hist   repo.History
	det    *detect.Detector
	log    *zap.Logger
	now    func() time.Time
}

func NewAvalon(client avalonClient, hist repo.History, det *detect.Detector, log *zap.Logger) *Avalon {
	return &Avalon{
		client: client,
		hist:   hist,
		det:    det,
		log:    log.Named("avalon"),
		now:    time.Now,
	}
}

func (c *Avalon) Family() repo.Family { return repo.FamilyAvalon }

func (c *Avalon) CollectDevice(ctx context.Context, dev repo.Device) error {
	t, err := c.client.FetchTelemetry(ctx, dev.Address)
	if err != nil {
		if serr := c.det.ObserveOutcome(ctx, dev, false, err); serr != nil {
			c.log.Warn("status update failed", zap.String("device_id", dev.DeviceID), zap.Error(serr))
		}
		return err
	}

	now := c.now().UTC()
	mining := repo.MiningSample{
		RecordedAt:     now,
		HashrateGHS:    t.Summary.HashrateGHS,
		SharesAccepted: t.Summary.Accepted,
		SharesRejected: t.Summary.Rejected,
		BlocksFound:    t.Summary.BlocksFound,
		UptimeS:        t.Summary.UptimeS,
		BestDifficulty: t.Summary.BestShare,
		PoolURL:        t.Pool.URL,
		PoolUser:       t.Pool.User,
	}
	hardware := repo.HardwareSample{
		RecordedAt:       now,
		PowerW:           t.Stats.PowerW,
		EfficiencyJPerTH: metrics.EfficiencyJPerTH(t.Stats.PowerW, t.Summary.HashrateGHS),
		TemperatureC:     t.Stats.TemperatureC,
		FanRPM:           t.Stats.FanRPM,
		Voltage:          t.Stats.Voltage,
		FrequencyMHz:     t.Stats.FrequencyMHz,
	}
	system := repo.SystemInfo{
		RecordedAt:         now,
		Model:              t.Version.Model,
		Firmware:           t.Version.Firmware,
		Hardware:           t.Version.Hardware,
		Serial:             t.Version.Serial,
		MAC:                t.Version.MAC,
		PoolURL:            t.Pool.URL,
		PoolUser:           t.Pool.User,
		UptimeS:            t.Summary.UptimeS,
		MemoryUsagePercent: t.Stats.MemoryUsagePercent,
		FrequencyMHz:       t.Stats.FrequencyMHz,
		Voltage:            t.Stats.Voltage,
	}

	if err := c.hist.InsertMiningSample(ctx, repo.FamilyAvalon, dev.ID, mining); err != nil {
		return fmt.Errorf("persist mining sample: %w", err)
	}
	if err := c.hist.InsertHardwareSample(ctx, repo.FamilyAvalon, dev.ID, hardware); err != nil {
		return fmt.Errorf("persist hardware sample: %w", err)
	}
	if err := c.hist.InsertSystemInfo(ctx, repo.FamilyAvalon, dev.ID, system); err != nil {
		return fmt.Errorf("persist system info: %w", err)
	}

	if err := c.det.ObserveOutcome(ctx, dev, true, nil); err != nil {
		c.log.Warn("status update failed", zap.String("device_id", dev.DeviceID), zap.Error(err))
	}
	if err := c.det.EvaluateSample(ctx, dev, mining); err != nil {
		c.log.Warn("detection skipped", zap.String("device_id", dev.DeviceID), zap.Error(err))
	}

	c.log.Debug("device collected",
		zap.String("device_id", dev.DeviceID),
		zap.Float64("hashrate_ghs", t.Summary.HashrateGHS),
		zap.Float64("power_w", t.Stats.PowerW))
	return nil
}
