package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maintwatch/pdm-engine/internal/alerting"
	"github.com/maintwatch/pdm-engine/internal/classifier"
	"github.com/maintwatch/pdm-engine/internal/config"
	"github.com/maintwatch/pdm-engine/internal/diagnosis"
	"github.com/maintwatch/pdm-engine/internal/engine"
	"github.com/maintwatch/pdm-engine/internal/metrics"
	"github.com/maintwatch/pdm-engine/internal/storage"
	"github.com/maintwatch/pdm-engine/internal/utils"
)

func main() {
	var (
		configPath string
		trainOnly  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&trainOnly, "train", false, "Run one training pass and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting pdm-engine", slog.String("metrics_address", cfg.Server.MetricsAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		telemetry storage.TelemetrySource
		events    storage.EventSource
		devices   storage.DeviceSource
		alerts    storage.AlertStore
	)
	if cfg.Storage.PostgresDSN != "" {
		pg, err := storage.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			logger.Error("postgres unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		defer pg.Close()
		telemetry, events, devices, alerts = pg, pg, pg, pg
	} else {
		alerts = storage.NewMemoryAlertStore()
	}
	if cfg.Training.TelemetryCSV != "" {
		telemetry = storage.NewCSVTelemetrySource(cfg.Training.TelemetryCSV)
	}
	if cfg.Training.EventsCSV != "" {
		events = storage.NewCSVEventSource(cfg.Training.EventsCSV)
	}
	if telemetry == nil {
		logger.Error("no telemetry source configured, set storage.postgresDSN or training.telemetryCSV")
		os.Exit(1)
	}

	ref := classifier.NewRef()
	trainer := engine.NewTrainer(logger, telemetry, events, ref)

	if trainOnly {
		report, err := trainer.Run(ctx, trainOptions(cfg, time.Now().UTC()))
		if err != nil {
			logger.Error("training failed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("training complete",
			slog.Int("windows", report.Windows),
			slog.String("report", report.Evaluation.Report))
		return
	}

	if model, pre, err := classifier.LoadArtifact(cfg.Training.ArtifactPath); err != nil {
		logger.Warn("no model artifact loaded, scoring skipped until training",
			slog.String("path", cfg.Training.ArtifactPath), slog.Any("error", err))
	} else {
		ref.Publish(&classifier.Model{Classifier: model, Preprocessor: pre})
		logger.Info("model artifact loaded", slog.String("path", cfg.Training.ArtifactPath))
	}

	var cooldowns alerting.CooldownStore
	if cfg.Cooldown.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cooldown.Addr,
			Username: cfg.Cooldown.Username,
			Password: cfg.Cooldown.Password,
			DB:       cfg.Cooldown.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, keeping cooldown state in memory", slog.Any("error", err))
		} else {
			cooldowns = alerting.NewRedisCooldownStore(client, cfg.Pipeline.CooldownWindow)
		}
	}

	alerter := alerting.NewEngine(logger, alerting.Options{
		Threshold:      cfg.Pipeline.Threshold,
		CooldownWindow: cfg.Pipeline.CooldownWindow,
		CriticalFloor:  cfg.Pipeline.CriticalFloor,
		WarningFloor:   cfg.Pipeline.WarningFloor,
	}, cooldowns, nil)

	rules, err := diagnosis.LoadRules(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		os.Exit(1)
	}
	var enricher diagnosis.Enricher
	if cfg.Enrichment.BaseURL != "" {
		enricher = diagnosis.NewEnrichmentClient(cfg.Enrichment.BaseURL, cfg.Enrichment.Timeout)
	}
	diagnoser := diagnosis.NewEngine(logger, rules, enricher)

	pipeline := engine.NewPipeline(logger, telemetry, events, devices, ref, alerter, diagnoser, alerts,
		engine.Options{
			Lookback: cfg.Pipeline.Lookback,
		})

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(cfg.Pipeline.ScoringInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, _, err := pipeline.RunCycle(ctx, now.UTC()); err != nil {
					logger.Error("scoring cycle failed", slog.Any("error", err))
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("pdm-engine stopped")
}

func trainOptions(cfg *config.Config, now time.Time) engine.TrainOptions {
	return engine.TrainOptions{
		SequenceLength:  cfg.Pipeline.SequenceLength,
		HiddenSize:      cfg.Training.HiddenSize,
		LearningRate:    cfg.Training.LearningRate,
		Seed:            cfg.Training.Seed,
		Epochs:          cfg.Training.Epochs,
		BatchSize:       cfg.Training.BatchSize,
		ValidationSplit: cfg.Training.ValidationSplit,
		Patience:        cfg.Training.Patience,
		ArtifactPath:    cfg.Training.ArtifactPath,
		From:            now.Add(-30 * 24 * time.Hour),
		To:              now,
	}
}
