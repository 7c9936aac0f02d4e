// Package collector runs the per-device pipeline: fetch telemetry, compute
// derived metrics, persist the samples, then hand the result to detection.
// One collector exists per device family.
package collector

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"miner-sentinel/internal/storage/repo"
)

type Collector interface {
	Family() repo.Family
	// CollectDevice polls one device end to end. An error means the device
	// yielded no sample this cycle; it never aborts other devices.
	CollectDevice(ctx context.Context, dev repo.Device) error
}

// Runner fans a device list over a bounded worker pool. Polling distinct
// devices is independent; per-device write-then-detect ordering is inside
// CollectDevice.
type Runner struct {
	c           Collector
	concurrency int
	log         *zap.Logger
}

func NewRunner(c Collector, concurrency int, log *zap.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Runner{c: c, concurrency: concurrency, log: log.Named("collector")}
}

func (r *Runner) Family() repo.Family { return r.c.Family() }

// CollectAll polls every device and returns how many succeeded. Failures
// are logged per device; the pool always drains.
func (r *Runner) CollectAll(ctx context.Context, devices []repo.Device) int {
	if len(devices) == 0 {
		return 0
	}

	var succeeded atomic.Int64
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup

	for _, dev := range devices {
		wg.Add(1)
		sem <- struct{}{}
		go func(dev repo.Device) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := r.c.CollectDevice(ctx, dev); err != nil {
				r.log.Warn("device poll failed",
					zap.String("family", string(r.c.Family())),
					zap.String("device_id", dev.DeviceID),
					zap.String("address", dev.Address),
					zap.Error(err))
				return
			}
			succeeded.Add(1)
		}(dev)
	}
	wg.Wait()
	return int(succeeded.Load())
}
