// Package scheduler drives the periodic collection loop: one cycle reloads
// settings, refreshes the device registry, polls every family through its
// collector, then polls the configured pool backend. Cycles never overlap;
// a manual trigger runs one cycle out-of-band against the same lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/pool"
	"miner-sentinel/internal/registry"
	"miner-sentinel/internal/settings"
	"miner-sentinel/internal/storage/repo"
)

// ErrCycleRunning is returned to a manual trigger that collides with an
// in-flight cycle.
var ErrCycleRunning = errors.New("scheduler: a cycle is already running")

// SettingsSource is the hot-reloadable settings view the loop consumes.
type SettingsSource interface {
	Reload(ctx context.Context) (settings.Settings, error)
	Get() settings.Settings
}

// FamilyRunner polls one family's devices.
type FamilyRunner interface {
	Family() repo.Family
	CollectAll(ctx context.Context, devices []repo.Device) int
}

// PoolFactory builds the active pool backend for the current settings, or
// nil when none applies.
type PoolFactory func(s settings.Settings) pool.Backend

// CyclePublisher mirrors cycle completions onto the event stream. Optional.
type CyclePublisher interface {
	PublishCycleCompleted(ctx context.Context, polled, total int, elapsed time.Duration, manual bool) error
}

// Summary is the best-effort outcome of one cycle, even under partial
// failure.
type Summary struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Polled     int           `json:"devices_polled"`
	Total      int           `json:"devices_total"`
	PoolPolled bool          `json:"pool_polled"`
	Manual     bool          `json:"manual"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d of %d devices succeeded", s.Polled, s.Total)
}

// Status is the snapshot served by the status endpoint.
type Status struct {
	Running     bool                          `json:"running"`
	LastCycle   *Summary                      `json:"last_cycle,omitempty"`
	NextRun     time.Time                     `json:"next_run"`
	Devices     map[repo.Family][]repo.Device `json:"devices"`
	DeviceCount map[repo.Family]int           `json:"device_count"`
	RefreshedAt time.Time                     `json:"registry_refreshed_at"`
	Interval    time.Duration                 `json:"polling_interval"`
}

type Scheduler struct {
	settingsSrc SettingsSource
	reg         *registry.Store
	runners     []FamilyRunner
	newPool     PoolFactory
	poolStats   repo.PoolStats
	cycles      CyclePublisher
	onSettings  []func(settings.Settings)
	log         *zap.Logger

	cycleMu sync.Mutex // held for the whole of one cycle

	stateMu sync.Mutex
	running bool
	last    *Summary
	nextRun time.Time
}

type Option func(*Scheduler)

// WithSettingsHook registers a callback applied with the fresh settings at
// the start of every cycle (e.g. re-arming the Telegram sink).
func WithSettingsHook(fn func(settings.Settings)) Option {
	return func(s *Scheduler) { s.onSettings = append(s.onSettings, fn) }
}

// WithCyclePublisher mirrors completed cycles onto the event stream.
func WithCyclePublisher(p CyclePublisher) Option {
	return func(s *Scheduler) { s.cycles = p }
}

func New(src SettingsSource, reg *registry.Store, runners []FamilyRunner, newPool PoolFactory, poolStats repo.PoolStats, log *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		settingsSrc: src,
		reg:         reg,
		runners:     runners,
		newPool:     newPool,
		poolStats:   poolStats,
		log:         log.Named("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one cycle immediately, then follows the periodic schedule
// until ctx is cancelled. The interval is re-read from settings after every
// cycle, so changes take effect on the next schedule, not mid-cycle. A
// second, faster loop refreshes the device registry between cycles so new
// devices are picked up without waiting a full polling interval.
func (s *Scheduler) Run(ctx context.Context) error {
	go s.deviceCheckLoop(ctx)

	s.runCycle(ctx, false)

	for {
		d := s.interval()
		s.setNextRun(time.Now().Add(d).UTC())
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.runCycle(ctx, false)
		}
	}
}

func (s *Scheduler) deviceCheckLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(s.deviceCheckInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.reg.Refresh(ctx); err != nil {
				s.log.Warn("device check refresh failed", zap.Error(err))
			}
		}
	}
}

// TriggerNow runs exactly one cycle out-of-band and returns its summary.
// The periodic schedule is untouched. A concurrent cycle makes this fail
// fast rather than queue.
func (s *Scheduler) TriggerNow(ctx context.Context) (Summary, error) {
	if !s.cycleMu.TryLock() {
		return Summary{}, ErrCycleRunning
	}
	defer s.cycleMu.Unlock()
	return s.cycle(ctx, true), nil
}

// Status reports the loop's current snapshot.
func (s *Scheduler) Status() Status {
	counts, refreshedAt := s.reg.Counts()
	devices := make(map[repo.Family][]repo.Device, len(s.runners))
	for _, runner := range s.runners {
		devices[runner.Family()] = s.reg.Snapshot(runner.Family())
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return Status{
		Running:     s.running,
		LastCycle:   s.last,
		NextRun:     s.nextRun,
		Devices:     devices,
		DeviceCount: counts,
		RefreshedAt: refreshedAt,
		Interval:    s.interval(),
	}
}

func (s *Scheduler) interval() time.Duration {
	m := s.settingsSrc.Get().PollingIntervalMinutes
	if m <= 0 {
		m = 15
	}
	return time.Duration(m) * time.Minute
}

func (s *Scheduler) deviceCheckInterval() time.Duration {
	m := s.settingsSrc.Get().DeviceCheckIntervalMinutes
	if m <= 0 {
		m = 5
	}
	return time.Duration(m) * time.Minute
}

func (s *Scheduler) runCycle(ctx context.Context, manual bool) {
	if !s.cycleMu.TryLock() {
		// the previous cycle is still draining; skip this fire rather
		// than queue behind it
		s.log.Warn("cycle overlap prevented, skipping fire")
		return
	}
	defer s.cycleMu.Unlock()
	s.cycle(ctx, manual)
}

// cycle does the actual work; callers hold cycleMu.
func (s *Scheduler) cycle(ctx context.Context, manual bool) Summary {
	start := time.Now()
	s.setRunning(true)
	defer s.setRunning(false)

	st, err := s.settingsSrc.Reload(ctx)
	if err != nil {
		s.log.Warn("settings reload failed, using previous snapshot", zap.Error(err))
		st = s.settingsSrc.Get()
	}
	for _, apply := range s.onSettings {
		apply(st)
	}

	if err := s.reg.Refresh(ctx); err != nil {
		s.log.Warn("registry refresh failed, using previous snapshot", zap.Error(err))
	}

	sum := Summary{StartedAt: start.UTC(), Manual: manual}
	for _, runner := range s.runners {
		devices := s.reg.Snapshot(runner.Family())
		sum.Total += len(devices)
		sum.Polled += runner.CollectAll(ctx, devices)
	}

	sum.PoolPolled = s.pollPool(ctx, st)

	sum.Duration = time.Since(start)
	s.log.Info("cycle completed",
		zap.Int("polled", sum.Polled),
		zap.Int("total", sum.Total),
		zap.Bool("pool_polled", sum.PoolPolled),
		zap.Bool("manual", manual),
		zap.Duration("duration", sum.Duration))

	if s.cycles != nil {
		if err := s.cycles.PublishCycleCompleted(ctx, sum.Polled, sum.Total, sum.Duration, manual); err != nil {
			s.log.Warn("cycle event publish failed", zap.Error(err))
		}
	}

	s.stateMu.Lock()
	s.last = &sum
	s.stateMu.Unlock()
	return sum
}

func (s *Scheduler) pollPool(ctx context.Context, st settings.Settings) bool {
	address := st.PoolAddress()
	if address == "" {
		s.log.Info("pool polling skipped: no address configured")
		return false
	}
	backend := s.newPool(st)
	if backend == nil {
		s.log.Info("pool polling skipped: no backend for settings", zap.String("pool_type", st.PoolType))
		return false
	}

	sample, err := backend.FetchStats(ctx, address)
	if err != nil {
		s.log.Warn("pool stats fetch failed",
			zap.String("backend", backend.Name()),
			zap.String("address", address),
			zap.Error(err))
		return false
	}
	if err := s.poolStats.InsertPoolSample(ctx, sample); err != nil {
		s.log.Warn("pool sample persist failed", zap.Error(err))
		return false
	}
	s.log.Debug("pool stats stored",
		zap.String("backend", backend.Name()),
		zap.String("hashrate_1m", sample.Hashrate1m))
	return true
}

func (s *Scheduler) setRunning(v bool) {
	s.stateMu.Lock()
	s.running = v
	s.stateMu.Unlock()
}

func (s *Scheduler) setNextRun(at time.Time) {
	s.stateMu.Lock()
	s.nextRun = at
	s.stateMu.Unlock()
}
