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

// Package mirror copies a simulated topic onto a real Kafka cluster so the
// simulated event stream can be inspected with ordinary Kafka tooling.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/novatechflow/kafsim/pkg/broker"
)

const (
	headerPartition = "kafsim-partition"
	headerOffset    = "kafsim-offset"
)

// Poller reads the source topic as a consumer group.
type Poller interface {
	Poll(ctx context.Context, topic, group string, maxMessages int, timeout time.Duration) ([]broker.Envelope, error)
}

// Producer is the subset of *kgo.Client used to write to the target cluster.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Recorder receives forwarding counters.
type Recorder interface {
	AddCounter(name string, delta float64, labels map[string]string)
}

// Config selects the topics to mirror and how to poll them.
type Config struct {
	SourceTopic string
	// TargetTopic defaults to SourceTopic.
	TargetTopic string
	Group       string
	Batch       int
	PollTimeout time.Duration
	Logger      *slog.Logger
	Metrics     Recorder
}

// Mirror forwards envelopes from the simulator to an external cluster.
// Cursors advance before forwarding, so a failed batch is counted and
// dropped rather than retried.
type Mirror struct {
	cfg      Config
	poller   Poller
	producer Producer
	logger   *slog.Logger

	forwarded atomic.Int64
	failed    atomic.Int64
}

// NewKafkaClient dials the target cluster with franz-go.
func NewKafkaClient(brokers []string, clientID string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("mirror requires at least one seed broker")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
	}
	if clientID != "" {
		opts = append(opts, kgo.ClientID(clientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("init kafka client: %w", err)
	}
	return client, nil
}

// New validates cfg, fills its defaults and returns a mirror that reads
// through poller and writes through producer.
func New(cfg Config, poller Poller, producer Producer) (*Mirror, error) {
	if cfg.SourceTopic == "" {
		return nil, errors.New("mirror source topic is required")
	}
	if poller == nil || producer == nil {
		return nil, errors.New("mirror requires a poller and a producer")
	}
	if cfg.TargetTopic == "" {
		cfg.TargetTopic = cfg.SourceTopic
	}
	if cfg.Group == "" {
		cfg.Group = "kafsim-mirror"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		cfg:      cfg,
		poller:   poller,
		producer: producer,
		logger:   logger.With("component", "mirror", "source", cfg.SourceTopic, "target", cfg.TargetTopic),
	}, nil
}

// Run forwards until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		if _, err := m.Step(ctx, m.cfg.PollTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step forwards one polled batch and returns how many envelopes it read.
func (m *Mirror) Step(ctx context.Context, timeout time.Duration) (int, error) {
	envs, err := m.poller.Poll(ctx, m.cfg.SourceTopic, m.cfg.Group, m.cfg.Batch, timeout)
	if err != nil {
		return 0, err
	}
	if len(envs) == 0 {
		return 0, nil
	}
	records := make([]*kgo.Record, 0, len(envs))
	for _, env := range envs {
		records = append(records, m.record(env))
	}
	results := m.producer.ProduceSync(ctx, records...)
	var ok, bad int64
	for _, res := range results {
		if res.Err != nil {
			bad++
			continue
		}
		ok++
	}
	m.forwarded.Add(ok)
	m.failed.Add(bad)
	m.count("mirror_records_forwarded_total", ok)
	m.count("mirror_records_failed_total", bad)
	if bad > 0 {
		m.logger.Warn("mirror produce failed", "failed", bad, "error", results.FirstErr())
	}
	return len(envs), nil
}

// Forwarded returns the number of records the target acknowledged.
func (m *Mirror) Forwarded() int64 { return m.forwarded.Load() }

// Failed returns the number of records the target rejected.
func (m *Mirror) Failed() int64 { return m.failed.Load() }

func (m *Mirror) record(env broker.Envelope) *kgo.Record {
	return &kgo.Record{
		Topic:     m.cfg.TargetTopic,
		Key:       env.Key,
		Value:     env.Value,
		Timestamp: env.ProducedAt,
		Headers: []kgo.RecordHeader{
			{Key: headerPartition, Value: []byte(strconv.Itoa(int(env.Partition)))},
			{Key: headerOffset, Value: []byte(strconv.FormatInt(env.Offset, 10))},
		},
	}
}

func (m *Mirror) count(name string, n int64) {
	if m.cfg.Metrics == nil || n == 0 {
		return
	}
	m.cfg.Metrics.AddCounter(name, float64(n), map[string]string{"topic": m.cfg.TargetTopic})
}
