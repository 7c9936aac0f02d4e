package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"miner-sentinel/internal/alerts"
	"miner-sentinel/internal/alerts/telegram"
	"miner-sentinel/internal/avalon/sockapi"
	"miner-sentinel/internal/bitaxe/httpapi"
	"miner-sentinel/internal/bus/embeddednats"
	"miner-sentinel/internal/bus/natsjs"
	"miner-sentinel/internal/collector"
	"miner-sentinel/internal/config"
	"miner-sentinel/internal/detect"
	"miner-sentinel/internal/events"
	"miner-sentinel/internal/logging"
	"miner-sentinel/internal/pool"
	"miner-sentinel/internal/pool/ckpool"
	"miner-sentinel/internal/pool/publicpool"
	"miner-sentinel/internal/registry"
	"miner-sentinel/internal/scheduler"
	"miner-sentinel/internal/settings"
	"miner-sentinel/internal/storage/postgres"
	"miner-sentinel/internal/storage/repo"
	"miner-sentinel/internal/version"
)

const poolFetchTimeout = 30 * time.Second

func main() {
	cfg := config.FromEnv()

	log, err := logging.New(logging.Config{Level: cfg.LogLevel})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	startedAt := time.Now()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("collector starting", zap.String("version", version.String()))

	// Embedded NATS (optional) — start before any client connections.
	var emb *embeddednats.Server
	if cfg.NATS.Embedded {
		emb, err = embeddednats.Start(embeddednats.Config{
			Host:     cfg.NATS.EmbeddedHost,
			Port:     cfg.NATS.EmbeddedPort,
			HTTPPort: cfg.NATS.EmbeddedHTTPPort,
			StoreDir: cfg.NATS.EmbeddedStoreDir,
		})
		if err != nil {
			log.Warn("embedded nats start failed", zap.Error(err))
		} else {
			log.Info("embedded nats started",
				zap.String("host", cfg.NATS.EmbeddedHost),
				zap.Int("port", cfg.NATS.EmbeddedPort))
			defer emb.Shutdown()
		}
	}

	dbPool, err := postgres.Connect(rootCtx, log, cfg.Postgres)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer dbPool.Close()
	if err := postgres.Migrate(rootCtx, dbPool); err != nil {
		log.Fatal("postgres migrate", zap.Error(err))
	}
	store := postgres.NewStore(dbPool, log)

	settingsStore := settings.NewStore(dbPool)
	if err := settingsStore.Load(rootCtx); err != nil {
		log.Fatal("settings load", zap.Error(err))
	}

	// Event stream is optional: the collector runs fine with NATS down and
	// only loses the mirrored events.
	var eventsPub *events.Publisher
	var eventsRd *events.Reader
	if cfg.NATS.URL != "" {
		nc, err := natsjs.Connect(natsjs.Config{
			URL:     cfg.NATS.URL,
			Prefix:  cfg.NATS.Prefix,
			Timeout: cfg.NATS.Timeout,
		})
		if err != nil {
			log.Warn("nats connect failed; events disabled", zap.Error(err))
		} else if err := nc.EnsureStreams(); err != nil {
			log.Warn("nats streams failed; events disabled", zap.Error(err))
			_ = nc.Close()
		} else {
			defer func() { _ = nc.Close() }()
			eventsPub, err = events.NewPublisher(nc, log)
			if err != nil {
				log.Fatal("load proto schema", zap.Error(err))
			}
			// durable tail consumer backing /api/events/recent
			pc, err := nc.NewPullConsumer("api_events", ">", 512)
			if err != nil {
				log.Warn("event tail consumer unavailable", zap.Error(err))
			} else {
				eventsRd, err = events.NewReader(pc, log)
				if err != nil {
					log.Fatal("events reader init", zap.Error(err))
				}
			}
			log.Info("event stream connected", zap.String("url", cfg.NATS.URL))
		}
	}

	tg := telegram.New(log)
	st := settingsStore.Get()
	tg.Configure(st.TelegramEnabled, st.TelegramBotToken, st.TelegramChatID)

	sinks := alerts.Fanout{alerts.LogSink{Log: log}, tg}
	var states detect.StatePublisher
	var cycles scheduler.CyclePublisher
	if eventsPub != nil {
		sinks = append(sinks, events.AlertSink{Pub: eventsPub})
		states = eventsPub
		cycles = eventsPub
	}

	bitaxeAPI := httpapi.New(log, cfg.Collector.FetchTimeout)
	avalonAPI := sockapi.New(log, cfg.Collector.FetchTimeout)

	bitaxeDet := detect.New(repo.FamilyBitaxe, store, sinks, bitaxeAPI, states, log)
	avalonDet := detect.New(repo.FamilyAvalon, store, sinks, avalonAPI, states, log)

	runners := []scheduler.FamilyRunner{
		collector.NewRunner(collector.NewBitaxe(bitaxeAPI, store, bitaxeDet, log), cfg.Collector.Concurrency, log),
		collector.NewRunner(collector.NewAvalon(avalonAPI, store, avalonDet, log), cfg.Collector.Concurrency, log),
	}

	newPool := func(s settings.Settings) pool.Backend {
		switch s.PoolType {
		case settings.PoolPublicPool:
			return publicpool.New(log, s.PoolURL(), poolFetchTimeout)
		case settings.PoolCKPool:
			return ckpool.New(log, s.PoolURL(), poolFetchTimeout)
		default:
			return nil
		}
	}

	reg := registry.NewStore(store)

	opts := []scheduler.Option{
		scheduler.WithSettingsHook(func(s settings.Settings) {
			tg.Configure(s.TelegramEnabled, s.TelegramBotToken, s.TelegramChatID)
		}),
	}
	if cycles != nil {
		opts = append(opts, scheduler.WithCyclePublisher(cycles))
	}
	sched := scheduler.New(settingsStore, reg, runners, newPool, store, log, opts...)

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(rootCtx) }()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain")
		_, _ = w.Write([]byte(version.String()))
	})
	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		s := settingsStore.Get()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"scheduler":                     sched.Status(),
			"polling_interval_minutes":      s.PollingIntervalMinutes,
			"device_check_interval_minutes": s.DeviceCheckIntervalMinutes,
			"pool_type":                     s.PoolType,
			"events_connected":              eventsPub != nil,
			"started_at":                    startedAt.Format(time.RFC3339),
			"uptime_s":                      int64(time.Since(startedAt).Seconds()),
		})
	})
	// Tails the durable event consumer: each call returns the envelopes
	// published since the previous call.
	r.Get("/api/events/recent", func(w http.ResponseWriter, r *http.Request) {
		if eventsRd == nil {
			http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
			return
		}
		entries, err := eventsRd.Next(r.Context(), 100, 2*time.Second)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count":  len(entries),
			"events": entries,
		})
	})
	r.Post("/api/poll", func(w http.ResponseWriter, r *http.Request) {
		sum, err := sched.TriggerNow(r.Context())
		if errors.Is(err, scheduler.ErrCycleRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"summary": sum,
			"message": sum.String(),
		})
	})
	r.Post("/api/settings/reload", func(w http.ResponseWriter, r *http.Request) {
		s, err := settingsStore.Reload(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		tg.Configure(s.TelegramEnabled, s.TelegramBotToken, s.TelegramChatID)
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(s)
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}
	go func() {
		log.Info("collector http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http serve", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Shutdown(shutdownCtx)
	cancel()

	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler stopped", zap.Error(err))
	}
}
