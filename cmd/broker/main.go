// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/novatechflow/kafsim/internal/config"
	"github.com/novatechflow/kafsim/internal/console"
	"github.com/novatechflow/kafsim/pkg/broker"
	"github.com/novatechflow/kafsim/pkg/ledger"
	"github.com/novatechflow/kafsim/pkg/metrics"
	"github.com/novatechflow/kafsim/pkg/mirror"
	"github.com/novatechflow/kafsim/pkg/traffic"
)

type services struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	broker  *broker.Broker
	coord   *broker.GroupCoordinator
	ledger  *ledger.Ledger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log.Level)
	svc, err := buildServices(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := console.StartServer(ctx, cfg.Server.HTTPAddr, console.ServerOptions{
		Broker:      svc.broker,
		Coordinator: svc.coord,
		Ledger:      svc.ledger,
		Metrics:     svc.metrics,
		Logger:      logger,
	}); err != nil {
		logger.Error("http api failed", "error", err)
		os.Exit(1)
	}
	if cfg.Mirror.Enabled() {
		startMirror(ctx, svc)
	}
	if cfg.Traffic.Enabled {
		go runTraffic(ctx, svc)
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

// buildServices wires the in-memory broker, offset tracker and ledger and
// applies the configured topics and catalog.
func buildServices(cfg config.Config, logger *slog.Logger) (*services, error) {
	col := metrics.NewCollector()
	b := broker.New(broker.Config{
		Logger:     logger,
		Metrics:    col,
		RateWindow: time.Duration(cfg.Broker.RateWindowSeconds) * time.Second,
	})
	coord := broker.NewGroupCoordinator(b, &broker.CoordinatorConfig{
		PollInterval: time.Duration(cfg.Broker.PollIntervalMs) * time.Millisecond,
		Logger:       logger,
		Metrics:      col,
	})

	for _, topic := range cfg.Broker.Topics {
		if err := b.CreateTopic(topic.Name, topic.Partitions); err != nil {
			return nil, fmt.Errorf("create topic %s: %w", topic.Name, err)
		}
	}
	if err := b.CreateTopic(cfg.Ledger.Topic, cfg.Ledger.TopicPartitions); err != nil && !errors.Is(err, broker.ErrTopicExists) {
		return nil, fmt.Errorf("create ledger topic: %w", err)
	}

	l := ledger.New(ledger.Config{
		Logger:    logger,
		Publisher: ledger.NewBrokerPublisher(b, cfg.Ledger.Topic),
		Metrics:   col,
	})
	for _, p := range cfg.Ledger.Products {
		if err := l.AddProduct(p.ID, p.Name, p.Stock); err != nil {
			return nil, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return &services{cfg: cfg, logger: logger, metrics: col, broker: b, coord: coord, ledger: l}, nil
}

func trafficConfig(cfg config.Config) traffic.Config {
	t := cfg.Traffic
	return traffic.Config{
		Workers:         t.Workers,
		Operations:      t.Operations,
		Duration:        t.Duration,
		Mix:             traffic.Mix{Reserve: t.ReserveWeight, Confirm: t.ConfirmWeight, Release: t.ReleaseWeight},
		Users:           t.Users,
		MaxQuantity:     t.MaxQuantity,
		StaleRate:       t.StaleRate,
		Seed:            t.Seed,
		Topic:           cfg.Ledger.Topic,
		TopicPartitions: cfg.Ledger.TopicPartitions,
		ConsumerGroup:   t.ConsumerGroup,
		PollBatch:       t.PollBatch,
		PollTimeout:     t.PollTimeout,
	}
}

func runTraffic(ctx context.Context, svc *services) {
	gen, err := traffic.New(trafficConfig(svc.cfg), traffic.Deps{
		Ledger:  svc.ledger,
		Poller:  svc.coord,
		Topics:  svc.broker,
		Metrics: svc.metrics,
		Logger:  svc.logger,
	})
	if err != nil {
		svc.logger.Error("traffic generator config", "error", err)
		return
	}
	report, err := gen.Run(ctx)
	if err != nil {
		svc.logger.Error("traffic run failed", "error", err)
	}
	if report != nil {
		svc.logger.Warn("traffic run finished",
			"operations", report.Total(),
			"produced", report.Produced,
			"consumed", report.Consumed,
			"elapsed", report.Elapsed.String(),
		)
	}
	if err := svc.ledger.Verify(); err != nil {
		svc.logger.Error("ledger invariant violated", "error", err)
	}
}

func startMirror(ctx context.Context, svc *services) {
	mc := svc.cfg.Mirror
	client, err := mirror.NewKafkaClient(mc.Brokers, mc.ClientID)
	if err != nil {
		svc.logger.Error("mirror disabled", "error", err)
		return
	}
	m, err := mirror.New(mirror.Config{
		SourceTopic: mc.SourceTopic,
		TargetTopic: mc.TargetTopic,
		Logger:      svc.logger,
		Metrics:     svc.metrics,
	}, svc.coord, client)
	if err != nil {
		client.Close()
		svc.logger.Error("mirror disabled", "error", err)
		return
	}
	go func() {
		defer client.Close()
		if err := m.Run(ctx); err != nil {
			svc.logger.Error("mirror stopped", "error", err)
		}
	}()
}

func newLogger(levelName string) *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler).With("service", "kafsim")
}
