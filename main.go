package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"agrivet/m/internal/adjustments"
	"agrivet/m/internal/alerts"
	"agrivet/m/internal/api"
	"agrivet/m/internal/config"
	"agrivet/m/internal/database"
	"agrivet/m/internal/logging"
	"agrivet/m/internal/metrics"
	"agrivet/m/internal/migrations"
	"agrivet/m/internal/purchasing"
	"agrivet/m/internal/sales"
	"agrivet/m/internal/seed"
	"agrivet/m/internal/stock"
)

const (
	breakerFailures = 5
	breakerOpenFor  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	db, err := database.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal("failed to connect database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	if _, err := seed.LoadMedicinesFile(db, cfg.CatalogCSV, log); err != nil {
		log.Fatal("failed to seed medicine catalog", zap.Error(err))
	}

	m := metrics.New()
	hub := alerts.NewHub(log)
	opts := []alerts.Option{
		alerts.WithRules(alerts.Rules{
			LowStock:     cfg.Alerts.LowStock,
			ExpiryWindow: time.Duration(cfg.Alerts.ExpiryWindowDays) * 24 * time.Hour,
		}),
		alerts.WithRecorder(m),
		alerts.WithLogger(log),
	}
	for _, sink := range alertSinks(cfg, log) {
		opts = append(opts, alerts.WithSink(alerts.WithBreaker(sink, breakerFailures, breakerOpenFor, m.BreakerStateChanged)))
	}
	notifier := alerts.NewNotifier(db, hub, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	notifier.Start(ctx)
	defer notifier.Close()

	mutator := stock.New(db,
		stock.WithObserver(notifier),
		stock.WithRecorder(m),
		stock.WithLogger(log),
	)
	receiver := purchasing.NewReceiver(db, mutator, log)
	if cfg.PricePolicy == "weighted" {
		receiver = receiver.WithPricePolicy(purchasing.WeightedMeanPrice)
	}

	handler := api.New(db, cfg.Secret, api.Services{
		Sales:       sales.NewManager(db, mutator, log),
		Purchasing:  receiver,
		Adjustments: adjustments.NewRecorder(db, mutator, log),
		Notifier:    notifier,
		Hub:         hub,
		Metrics:     m,
	}, log)

	if cfg.Alerts.SweepInterval > 0 {
		go sweepLoop(ctx, notifier, cfg.Alerts.SweepInterval, log)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // SSE connections are long-lived
	}

	go func() {
		log.Info("agrivet stock server starting", zap.String("port", cfg.HTTPPort), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}

func alertSinks(cfg config.Config, log *zap.Logger) []alerts.Sink {
	var sinks []alerts.Sink
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sinks = append(sinks, alerts.NewRedisSink(client, cfg.Redis.Channel))
		log.Info("redis alert sink enabled", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, alerts.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		log.Info("kafka alert sink enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	return sinks
}

func sweepLoop(ctx context.Context, n *alerts.Notifier, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.Sweep(ctx); err != nil {
				log.Warn("alert sweep failed", zap.Error(err))
			}
		}
	}
}
