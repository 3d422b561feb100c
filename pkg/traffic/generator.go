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

// Package traffic drives concurrent synthetic load against a stock ledger
// and drains the resulting stock events through a consumer group.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/novatechflow/kafsim/pkg/broker"
	"github.com/novatechflow/kafsim/pkg/ledger"
)

// ResultSkipped marks a confirm or release that found no reservation to act on.
const ResultSkipped = "skipped"

const staleHistory = 256

// Ledger is the part of *ledger.Ledger the generator drives.
type Ledger interface {
	Reserve(ctx context.Context, productID string, quantity int64, userID string) (ledger.Reservation, error)
	Confirm(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	Products() []ledger.Product
}

// Poller reads stock events as a consumer group.
type Poller interface {
	Poll(ctx context.Context, topic, group string, maxMessages int, timeout time.Duration) ([]broker.Envelope, error)
}

// TopicCreator creates the event topic when it does not exist yet.
type TopicCreator interface {
	CreateTopic(name string, partitions int) error
}

// Recorder receives per-operation counters.
type Recorder interface {
	IncrementCounter(name string, labels map[string]string)
}

// Deps are the generator's collaborators. Topics and Metrics may be nil.
type Deps struct {
	Ledger  Ledger
	Poller  Poller
	Topics  TopicCreator
	Metrics Recorder
	Logger  *slog.Logger
}

// Generator schedules a weighted mix of reserve, confirm and release calls
// across workers. Workers only observe cancellation between operations, so
// an operation that has started always completes.
type Generator struct {
	cfg     Config
	ledger  Ledger
	poller  Poller
	topics  TopicCreator
	metrics Recorder
	logger  *slog.Logger

	stopping atomic.Bool
	issued   atomic.Int64

	poolMu sync.Mutex
	active []string
	closed []string
}

// New validates cfg and returns a generator ready to Run.
func New(cfg Config, deps Deps) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Ledger == nil || deps.Poller == nil {
		return nil, errors.New("traffic generator requires a ledger and a poller")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cfg:     cfg.withDefaults(),
		ledger:  deps.Ledger,
		poller:  deps.Poller,
		topics:  deps.Topics,
		metrics: deps.Metrics,
		logger:  logger.With("component", "traffic"),
	}, nil
}

// Stop asks workers to finish their current operation and exit. The
// consumer still drains everything produced before Run returns.
func (g *Generator) Stop() {
	g.stopping.Store(true)
}

// Run drives load until the operation cap, the duration, Stop or ctx ends
// it, then drains the event topic and returns the tallies. Cancelling ctx
// also ends the drain early; that is not reported as an error.
func (g *Generator) Run(ctx context.Context) (*Report, error) {
	products := g.catalog()
	if len(products) == 0 {
		return nil, errors.New("traffic generator has no products to drive")
	}
	if g.topics != nil {
		if err := g.topics.CreateTopic(g.cfg.Topic, g.cfg.TopicPartitions); err != nil && !errors.Is(err, broker.ErrTopicExists) {
			return nil, fmt.Errorf("create event topic: %w", err)
		}
	}

	start := time.Now()
	tally := newTally()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	workCtx := runCtx
	if g.cfg.Duration > 0 {
		var cancelWork context.CancelFunc
		workCtx, cancelWork = context.WithTimeout(runCtx, g.cfg.Duration)
		defer cancelWork()
	}

	done := make(chan struct{})
	var consumer errgroup.Group
	consumer.Go(func() error {
		return g.consume(runCtx, done, tally)
	})

	workers, wctx := errgroup.WithContext(workCtx)
	for id := 0; id < g.cfg.Workers; id++ {
		rng := rand.New(rand.NewSource(g.cfg.Seed + int64(id)))
		workers.Go(func() error {
			g.work(wctx, rng, products, tally)
			return nil
		})
	}
	_ = workers.Wait()
	close(done)
	g.logger.Info("workers finished", "operations", g.issuedCount())

	err := consumer.Wait()
	return tally.report(time.Since(start)), err
}

func (g *Generator) issuedCount() int64 {
	n := g.issued.Load()
	if limit := int64(g.cfg.Operations); limit > 0 && n > limit {
		return limit
	}
	return n
}

func (g *Generator) catalog() []string {
	if len(g.cfg.Products) > 0 {
		return append([]string(nil), g.cfg.Products...)
	}
	products := g.ledger.Products()
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return ids
}

func (g *Generator) work(ctx context.Context, rng *rand.Rand, products []string, tally *tally) {
	for {
		if g.stopping.Load() || ctx.Err() != nil {
			return
		}
		n := g.issued.Add(1)
		if limit := int64(g.cfg.Operations); limit > 0 && n > limit {
			return
		}

		op := g.cfg.Mix.pick(rng.Intn(g.cfg.Mix.total()))
		result := g.execute(ctx, rng, op, products)
		tally.op(op, result)
		if g.metrics != nil {
			g.metrics.IncrementCounter("traffic_operations_total", map[string]string{"operation": string(op), "result": result})
		}
	}
}

// execute runs one operation to completion. The context only carries
// values here; cancellation is checked by the caller between operations.
func (g *Generator) execute(ctx context.Context, rng *rand.Rand, op ledger.Operation, products []string) string {
	opCtx := context.WithoutCancel(ctx)
	switch op {
	case ledger.OpReserve:
		product := products[rng.Intn(len(products))]
		user := g.cfg.Users[rng.Intn(len(g.cfg.Users))]
		quantity := 1 + rng.Int63n(g.cfg.MaxQuantity)
		res, err := g.ledger.Reserve(opCtx, product, quantity, user)
		if err == nil {
			g.pushActive(res.ID)
		}
		return ledger.Result(err)
	default:
		id, fresh := g.target(rng)
		if id == "" {
			return ResultSkipped
		}
		var err error
		if op == ledger.OpConfirm {
			err = g.ledger.Confirm(opCtx, id)
		} else {
			err = g.ledger.Release(opCtx, id)
		}
		if fresh {
			if err == nil {
				g.pushClosed(id)
			} else if !errors.Is(err, ledger.ErrInvalidReservationState) {
				g.pushActive(id)
			}
		}
		return ledger.Result(err)
	}
}

// target picks the reservation a confirm or release acts on. fresh reports
// whether it was taken from the active pool.
func (g *Generator) target(rng *rand.Rand) (string, bool) {
	g.poolMu.Lock()
	defer g.poolMu.Unlock()
	if len(g.closed) > 0 && rng.Float64() < g.cfg.StaleRate {
		return g.closed[rng.Intn(len(g.closed))], false
	}
	if len(g.active) == 0 {
		return "", false
	}
	i := rng.Intn(len(g.active))
	id := g.active[i]
	last := len(g.active) - 1
	g.active[i] = g.active[last]
	g.active = g.active[:last]
	return id, true
}

func (g *Generator) pushActive(id string) {
	g.poolMu.Lock()
	g.active = append(g.active, id)
	g.poolMu.Unlock()
}

func (g *Generator) pushClosed(id string) {
	g.poolMu.Lock()
	if len(g.closed) >= staleHistory {
		copy(g.closed, g.closed[1:])
		g.closed = g.closed[:len(g.closed)-1]
	}
	g.closed = append(g.closed, id)
	g.poolMu.Unlock()
}

// consume polls the event topic until the workers are done and a poll that
// started after that comes back empty.
func (g *Generator) consume(ctx context.Context, done <-chan struct{}, tally *tally) error {
	for {
		finished := false
		select {
		case <-done:
			finished = true
		default:
		}

		timeout := g.cfg.PollTimeout
		if finished {
			timeout = 0
		}
		envs, err := g.poller.Poll(ctx, g.cfg.Topic, g.cfg.ConsumerGroup, g.cfg.PollBatch, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("poll %s: %w", g.cfg.Topic, err)
		}
		for _, env := range envs {
			evt, err := ledger.DecodeEvent(env.Value)
			kind := string(evt.EventType)
			if err != nil {
				kind = "invalid"
				g.logger.Warn("undecodable stock event", "partition", env.Partition, "offset", env.Offset, "error", err)
			}
			tally.event(kind)
			if g.metrics != nil {
				g.metrics.IncrementCounter("traffic_events_consumed_total", map[string]string{"event_type": kind})
			}
		}
		if len(envs) == 0 && finished {
			return nil
		}
	}
}
