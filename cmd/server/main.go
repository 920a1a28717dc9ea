package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"mactrack/internal/config"
	"mactrack/internal/db"
	"mactrack/internal/metrics"
	"mactrack/internal/poller"
	"mactrack/internal/retention"
	"mactrack/internal/scheduler"
	"mactrack/internal/tasks"
	"mactrack/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "mactrack: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	store, err := db.Open(cfg.DB.Driver, cfg.DB.URL, db.WithLocation(loc))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing database", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	collector := poller.New(store, logger, poller.Options{
		Network:     cfg.SNMP.Network,
		Community:   cfg.SNMP.Community,
		Params:      cfg.SNMP.Params(),
		Concurrency: cfg.SNMP.Concurrency,
		Legacy:      cfg.SNMP.LegacyMode,
		Metrics:     m,
	})
	purger := retention.New(store, logger, m)
	tracker := tasks.NewTracker(tasks.Options{
		TTL:        cfg.Tasks.TTL,
		MaxEntries: cfg.Tasks.MaxEntries,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(scheduler.Config{
		Interval:       cfg.Schedule.Interval(),
		CollectEnabled: cfg.SNMP.Network != "",
		CleanupHour:    cfg.Schedule.CleanupHour,
		CleanupMinute:  cfg.Schedule.CleanupMinute,
		RetentionDays:  cfg.Schedule.RetentionDays,
		Location:       loc,
	}, collector, purger, logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	app := fiber.New(fiber.Config{
		Views:                 web.NewEngine(cfg.Web.Templates, loc),
		DisableStartupMessage: true,
	})
	web.NewServer(ctx, store, collector, purger, tracker, web.Options{
		RetentionDays: cfg.Schedule.RetentionDays,
		Gatherer:      reg,
		Logger:        logger,
	}).SetupRoutes(app)

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Web.Addr()))
		listenErr <- app.Listen(cfg.Web.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-listenErr:
		stop()
		<-schedDone
		tracker.Wait()
		return fmt.Errorf("listen: %w", err)
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	<-schedDone
	tracker.Wait()
	return nil
}
