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
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/novatechflow/kafsim/internal/config"
	"github.com/novatechflow/kafsim/pkg/broker"
	"github.com/novatechflow/kafsim/pkg/ledger"
	"github.com/novatechflow/kafsim/pkg/metrics"
	"github.com/novatechflow/kafsim/pkg/traffic"
)

// demo-workload runs one traffic burst against an in-process broker and
// ledger, then prints the run report and the metrics export.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("demo workload: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, out io.Writer) error {
	col := metrics.NewCollector()
	b := broker.New(broker.Config{Metrics: col})
	coord := broker.NewGroupCoordinator(b, &broker.CoordinatorConfig{
		PollInterval: time.Duration(cfg.Broker.PollIntervalMs) * time.Millisecond,
		Metrics:      col,
	})
	if err := b.CreateTopic(cfg.Ledger.Topic, cfg.Ledger.TopicPartitions); err != nil && !errors.Is(err, broker.ErrTopicExists) {
		return fmt.Errorf("create ledger topic: %w", err)
	}
	l := ledger.New(ledger.Config{
		Publisher: ledger.NewBrokerPublisher(b, cfg.Ledger.Topic),
		Metrics:   col,
	})
	for _, p := range cfg.Ledger.Products {
		if err := l.AddProduct(p.ID, p.Name, p.Stock); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}

	t := cfg.Traffic
	operations := t.Operations
	if operations == 0 && t.Duration == 0 {
		operations = 1000
	}
	gen, err := traffic.New(traffic.Config{
		Workers:         t.Workers,
		Operations:      operations,
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
	}, traffic.Deps{Ledger: l, Poller: coord, Topics: b, Metrics: col})
	if err != nil {
		return err
	}
	report, err := gen.Run(ctx)
	if err != nil {
		return err
	}
	if err := l.Verify(); err != nil {
		return err
	}

	printReport(out, report, l.Products())
	fmt.Fprintln(out)
	return col.ExportTo(out)
}

func printReport(out io.Writer, report *traffic.Report, products []ledger.Product) {
	fmt.Fprintf(out, "operations=%d produced=%d consumed=%d elapsed=%s\n",
		report.Total(), report.Produced, report.Consumed, report.Elapsed.Round(time.Millisecond))
	for _, op := range report.OperationNames() {
		results := report.Operations[op]
		fmt.Fprintf(out, "  %-8s success=%d", op, results[ledger.ResultSuccess])
		others := make([]string, 0, len(results))
		for result := range results {
			if result != ledger.ResultSuccess {
				others = append(others, result)
			}
		}
		sort.Strings(others)
		for _, result := range others {
			fmt.Fprintf(out, " %s=%d", result, results[result])
		}
		fmt.Fprintln(out)
	}
	for _, p := range products {
		fmt.Fprintf(out, "  %-6s stock=%d reserved=%d available=%d\n", p.ID, p.Stock, p.Reserved, p.Available())
	}
}
