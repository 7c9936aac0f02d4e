package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/bitaxe/httpapi"
	"miner-sentinel/internal/detect"
	"miner-sentinel/internal/metrics"
	"miner-sentinel/internal/storage/repo"
)

// bitaxeClient is what the Bitaxe pipeline needs from the HTTP API.
type bitaxeClient interface {
	detect.Restarter
	FetchSystemInfo(ctx context.Context, addr string) (httpapi.SystemInfo, error)
}

type Bitaxe struct {
	client bitaxeClient
	hist   repo.History
	det    *detect.Detector
	log    *zap.Logger
	now    func() time.Time
}

func NewBitaxe(client bitaxeClient, hist repo.History, det *detect.Detector, log *zap.Logger) *Bitaxe {
	return &Bitaxe{
		client: client,
		hist:   hist,
		det:    det,
		log:    log.Named("bitaxe"),
		now:    time.Now,
	}
}

func (c *Bitaxe) Family() repo.Family { return repo.FamilyBitaxe }

func (c *Bitaxe) CollectDevice(ctx context.Context, dev repo.Device) error {
	info, err := c.client.FetchSystemInfo(ctx, dev.Address)
	if err != nil {
		if serr := c.det.ObserveOutcome(ctx, dev, false, err); serr != nil {
			c.log.Warn("status update failed", zap.String("device_id", dev.DeviceID), zap.Error(serr))
		}
		return err
	}

	now := c.now().UTC()
	mining := repo.MiningSample{
		RecordedAt:            now,
		HashrateGHS:           info.HashrateGHS,
		SharesAccepted:        info.SharesAccepted,
		SharesRejected:        info.SharesRejected,
		UptimeS:               info.UptimeS,
		BestDifficulty:        info.BestDifficulty,
		BestSessionDifficulty: info.BestSessionDifficulty,
		PoolURL:               info.PoolURL,
		PoolUser:              info.PoolUser,
	}
	hardware := repo.HardwareSample{
		RecordedAt:       now,
		PowerW:           info.PowerW,
		EfficiencyJPerTH: metrics.EfficiencyJPerTH(info.PowerW, info.HashrateGHS),
		TemperatureC:     info.TemperatureC,
		FanRPM:           info.FanRPM,
		Voltage:          info.Voltage,
		FrequencyMHz:     info.FrequencyMHz,
	}
	system := repo.SystemInfo{
		RecordedAt:      now,
		Model:           info.Model,
		Firmware:        info.Firmware,
		Hardware:        info.BoardVersion,
		MAC:             info.MAC,
		Hostname:        info.Hostname,
		PoolURL:         info.PoolURL,
		PoolUser:        info.PoolUser,
		UptimeS:         info.UptimeS,
		FrequencyMHz:    info.FrequencyMHz,
		Voltage:         info.Voltage,
		OverheatMode:    info.OverheatMode,
		DisplayRotation: info.DisplayRotation,
		DisplayTimeout:  info.DisplayTimeout,
		InvertScreen:    info.InvertScreen,
		AutoFanSpeed:    info.AutoFanSpeed,
		FanSpeedPercent: info.FanSpeedPercent,
		WifiRSSI:        info.WifiRSSI,
		FreeHeap:        info.FreeHeap,
	}

	if err := c.hist.InsertMiningSample(ctx, repo.FamilyBitaxe, dev.ID, mining); err != nil {
		return fmt.Errorf("persist mining sample: %w", err)
	}
	if err := c.hist.InsertHardwareSample(ctx, repo.FamilyBitaxe, dev.ID, hardware); err != nil {
		return fmt.Errorf("persist hardware sample: %w", err)
	}
	if err := c.hist.InsertSystemInfo(ctx, repo.FamilyBitaxe, dev.ID, system); err != nil {
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
		zap.Float64("hashrate_ghs", info.HashrateGHS),
		zap.Float64("power_w", info.PowerW))
	return nil
}
