package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"skinflow/config"
	"skinflow/internal/metrics"
	"skinflow/internal/pipeline"
	"skinflow/internal/scheduler"
	"skinflow/internal/server"
	"skinflow/logger"
	"skinflow/reader"
	"skinflow/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	once := flag.Bool("once", false, "Run the pipeline once, print the result and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Skinflow.Name,
		"version":     cfg.Skinflow.Version,
		"environment": config.AppEnvironment(),
		"sources":     len(cfg.EnabledSources()),
	}).Info("starting skinflow")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := writer.OpenMySQL(cfg.Storage.MySQL)
	if err != nil {
		log.WithError(err).Error("failed to open MySQL")
		return 1
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store := writer.NewMySQLStore(db, cfg.Storage.MySQL.Table)
	if cfg.Storage.MySQL.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			log.WithError(err).Error("failed to migrate price table")
			return 1
		}
	}

	opts := []pipeline.Option{}
	if cfg.Storage.S3.Enabled {
		archiver, err := writer.NewS3Archiver(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 archiver")
			return 1
		}
		opts = append(opts, pipeline.WithArchiver(archiver))
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archive")
	}

	prom := metrics.NewPrometheus()
	publishers := metrics.Fanout{prom}
	if cfg.Metrics.CloudWatch.Enabled {
		cw, err := metrics.NewCloudWatch(ctx, cfg.Metrics.CloudWatch)
		if err != nil {
			log.WithError(err).Warn("CloudWatch metrics disabled")
		} else {
			publishers = append(publishers, cw)
		}
	}
	opts = append(opts, pipeline.WithPublisher(publishers))

	runner := pipeline.NewRunner(cfg, reader.NewFetcher(cfg), store, opts...)

	if *once {
		return runOnce(ctx, runner)
	}
	return serve(ctx, cfg, runner, prom)
}

func runOnce(ctx context.Context, runner *pipeline.Runner) int {
	result := runner.Run(ctx)
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.GetLogger().WithError(err).Error("failed to encode run result")
		return 1
	}
	fmt.Println(string(out))
	if !result.Success {
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, runner *pipeline.Runner, prom *metrics.Prometheus) int {
	log := logger.GetLogger()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	trigger := pipeline.NewTrigger(runner, cfg.Server.RunHistory)

	srv, err := server.NewServer(cfg.Server, trigger, log)
	if err != nil {
		log.WithError(err).Error("failed to create trigger server")
		return 1
	}
	srv.WithMetrics(prom.Handler())

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(cfg.Schedule.Cron, trigger, log)
		if err != nil {
			log.WithError(err).Error("failed to create scheduler")
			return 1
		}
		sched.Start(ctx)
	}

	if srv == nil && sched == nil {
		log.Warn("server and schedule are both disabled; nothing to do, use -once for a single run")
		return 1
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	if srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.Skinflow.Name); err != nil {
				serverErr <- err
			}
		}()
	}

	log.Info("all components started successfully")

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("trigger server failed")
		code = 1
	}

	log.Info("starting graceful shutdown")
	if sched != nil {
		sched.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("skinflow stopped")
	return code
}
