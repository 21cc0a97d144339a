package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hamed0406/outagewatch/internal/checker"
	"github.com/hamed0406/outagewatch/internal/config"
	"github.com/hamed0406/outagewatch/internal/consensus"
	"github.com/hamed0406/outagewatch/internal/httpapi"
	"github.com/hamed0406/outagewatch/internal/logging"
	"github.com/hamed0406/outagewatch/internal/metrics"
	"github.com/hamed0406/outagewatch/internal/notify"
	"github.com/hamed0406/outagewatch/internal/outage"
	"github.com/hamed0406/outagewatch/internal/probe"
	"github.com/hamed0406/outagewatch/internal/repo"
	"github.com/hamed0406/outagewatch/internal/repo/memory"
	"github.com/hamed0406/outagewatch/internal/repo/postgres"
	"github.com/hamed0406/outagewatch/internal/scheduler"
	"github.com/hamed0406/outagewatch/internal/writer"
)

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err) // invalid config: never start cycling
	}

	logger, err := logging.NewLogger(cfg.LogDir, zapcore.InfoLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("metrics_register_failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gw repo.Gateway
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("postgres_connect_failed", zap.Error(err))
		}
		defer pg.Close()
		gw = pg
		logger.Info("gateway_postgres")
	} else {
		gw = memory.New()
		logger.Warn("gateway_memory", zap.String("hint", "set DATABASE_URL for durable storage"))
	}

	lastCycle, err := gw.LastCycleID(ctx)
	if err != nil {
		logger.Fatal("cycle_seed_failed", zap.Error(err))
	}

	sink := writer.New(logger, gw, cfg.Writer.QueueCapacity, cfg.Writer.RetryAttempts, cfg.RetryBackoff())

	targets := cfg.DomainTargets()
	probes := cfg.DomainProbes()

	pool := checker.New(
		logger,
		probe.DefaultSet(),
		cfg.Monitor.PingCount,
		cfg.PingTimeout(),
		cfg.Monitor.MaxConcurrentChecks,
		cfg.Monitor.ChecksPerSecond,
	)
	machine := outage.New(logger, targets, cfg.Monitor.FailThreshold, cfg.Monitor.CoalesceOverlap)

	notifier := notify.Multi{&notify.Log{Logger: logger}}
	if s := notify.NewSlack(cfg.Notify.SlackWebhook); s != nil {
		notifier = append(notifier, s)
	}

	sched := scheduler.New(
		logger,
		scheduler.Config{
			CycleInterval: cfg.CycleInterval(),
			Warmup:        cfg.WarmupDuration(),
			LastCycle:     lastCycle,
		},
		pool,
		consensus.New(cfg.Monitor.ConsensusLevel),
		machine,
		sink,
		notifier,
		targets,
		probes,
	)

	api := httpapi.NewServer(logger, machine)
	srv := &http.Server{Addr: cfg.Addr, Handler: api.Router()}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sink.Run(ctx)
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler_error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown_started")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// shutdown order matters: the in-flight cycle must finish and enqueue
	// its output before the writer is closed, and Stop's final drain runs
	// after that, so nothing a completed cycle produced is lost
	<-schedDone
	sink.Stop()
	<-writerDone
	logger.Info("shutdown_complete")
}
