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

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/novatechflow/kafsim/pkg/storage"
)

// Envelope is a message as stored in, and read back from, a partition log.
type Envelope = storage.Envelope

// Recorder receives broker-level counters. *metrics.Collector satisfies it.
type Recorder interface {
	AddCounter(name string, delta float64, labels map[string]string)
}

// Config tunes a Broker. The zero value is usable.
type Config struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional.
	Metrics Recorder
	// Clock overrides time.Now for produce timestamps and rate tracking.
	Clock func() time.Time
	// PartitionCapacity preallocates each partition log.
	PartitionCapacity int
	// RateWindow is the trailing window for ClusterStats.ProduceRate.
	RateWindow time.Duration
}

// Broker owns all topics and their partition logs. The topic map is guarded
// by a read/write lock that is only held to look a topic up; appends and
// reads are serialized per partition by the partition log itself.
type Broker struct {
	logger  *slog.Logger
	metrics Recorder
	clock   func() time.Time
	logCfg  storage.PartitionLogConfig

	mu     sync.RWMutex
	topics map[string]*topic

	produced    atomic.Int64
	consumed    atomic.Int64
	produceRate *rateWindow
}

type topic struct {
	name       string
	createdAt  time.Time
	partitions []*storage.PartitionLog
	// keyless counts produces without a key for round-robin placement.
	keyless atomic.Uint64
}

// ProduceResult reports where a produced message was stored.
type ProduceResult struct {
	Partition int32 `json:"partition"`
	Offset    int64 `json:"offset"`
}

// TopicInfo is a point-in-time description of a topic.
type TopicInfo struct {
	Name                 string    `json:"name"`
	Partitions           int       `json:"partitions"`
	TotalMessages        int64     `json:"totalMessages"`
	MessagesPerPartition []int64   `json:"messagesPerPartition"`
	CreatedAt            time.Time `json:"createdAt"`
}

// ClusterStats are broker-wide counters.
type ClusterStats struct {
	Topics           int     `json:"topics"`
	Partitions       int     `json:"partitions"`
	MessagesProduced int64   `json:"messagesProduced"`
	MessagesConsumed int64   `json:"messagesConsumed"`
	ProduceRate      float64 `json:"produceRate"`
}

// New constructs an empty broker.
func New(cfg Config) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Broker{
		logger:  logger.With("component", "broker"),
		metrics: cfg.Metrics,
		clock:   clock,
		logCfg: storage.PartitionLogConfig{
			InitialCapacity: cfg.PartitionCapacity,
			Clock:           clock,
		},
		topics:      make(map[string]*topic),
		produceRate: newRateWindow(cfg.RateWindow, clock),
	}
}

// CreateTopic registers a new topic with a fixed number of partitions.
// Creating a topic that already exists is an error.
func (b *Broker) CreateTopic(name string, partitions int) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidTopicName
	}
	if partitions < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPartitionCount, partitions)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; ok {
		return fmt.Errorf("%w: %s", ErrTopicExists, name)
	}
	t := &topic{
		name:       name,
		createdAt:  b.clock(),
		partitions: make([]*storage.PartitionLog, partitions),
	}
	for i := range t.partitions {
		t.partitions[i] = storage.NewPartitionLog(name, int32(i), b.logCfg)
	}
	b.topics[name] = t
	b.logger.Info("topic created", "topic", name, "partitions", partitions)
	return nil
}

// Produce appends value to one of the topic's partitions. A non-empty key
// pins the message to hash(key) mod partitions; keyless messages rotate
// round robin across partitions.
func (b *Broker) Produce(ctx context.Context, topicName string, key, value []byte) (ProduceResult, error) {
	if err := ctx.Err(); err != nil {
		return ProduceResult{}, err
	}
	t, err := b.topic(topicName)
	if err != nil {
		return ProduceResult{}, err
	}

	var partition int32
	if len(key) > 0 {
		partition = partitionForKey(key, len(t.partitions))
	} else {
		partition = roundRobin(t.keyless.Add(1)-1, len(t.partitions))
	}
	env := t.partitions[partition].Append(key, value)

	b.produced.Add(1)
	b.produceRate.add(1)
	if b.metrics != nil {
		b.metrics.AddCounter("broker_messages_produced_total", 1, map[string]string{"topic": topicName})
	}
	b.logger.Debug("produced", "topic", topicName, "partition", env.Partition, "offset", env.Offset)
	return ProduceResult{Partition: env.Partition, Offset: env.Offset}, nil
}

// ConsumeFrom returns up to maxMessages envelopes from a single partition
// starting at startOffset. maxMessages <= 0 returns everything available.
// Reading at or beyond the end of the log returns an empty slice. Raw reads
// are not counted as consumption; only group polls are.
func (b *Broker) ConsumeFrom(topicName string, partition int32, startOffset int64, maxMessages int) ([]Envelope, error) {
	t, err := b.topic(topicName)
	if err != nil {
		return nil, err
	}
	if partition < 0 || int(partition) >= len(t.partitions) {
		return nil, fmt.Errorf("%w: %s[%d]", ErrInvalidPartition, topicName, partition)
	}
	if startOffset < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOffset, startOffset)
	}
	return t.partitions[partition].Read(startOffset, maxMessages)
}

// PartitionCount returns the fixed partition count of a topic.
func (b *Broker) PartitionCount(topicName string) (int, error) {
	t, err := b.topic(topicName)
	if err != nil {
		return 0, err
	}
	return len(t.partitions), nil
}

// EndOffsets returns the next offset of every partition of a topic.
func (b *Broker) EndOffsets(topicName string) ([]int64, error) {
	t, err := b.topic(topicName)
	if err != nil {
		return nil, err
	}
	ends := make([]int64, len(t.partitions))
	for i, log := range t.partitions {
		ends[i] = log.NextOffset()
	}
	return ends, nil
}

// Topics lists topic names in lexical order.
func (b *Broker) Topics() []string {
	b.mu.RLock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Describe reports partition and message counts for a topic.
func (b *Broker) Describe(topicName string) (TopicInfo, error) {
	t, err := b.topic(topicName)
	if err != nil {
		return TopicInfo{}, err
	}
	info := TopicInfo{
		Name:                 t.name,
		Partitions:           len(t.partitions),
		MessagesPerPartition: make([]int64, len(t.partitions)),
		CreatedAt:            t.createdAt,
	}
	for i, log := range t.partitions {
		n := log.NextOffset()
		info.MessagesPerPartition[i] = n
		info.TotalMessages += n
	}
	return info, nil
}

// Stats returns broker-wide counters.
func (b *Broker) Stats() ClusterStats {
	b.mu.RLock()
	stats := ClusterStats{Topics: len(b.topics)}
	for _, t := range b.topics {
		stats.Partitions += len(t.partitions)
	}
	b.mu.RUnlock()
	stats.MessagesProduced = b.produced.Load()
	stats.MessagesConsumed = b.consumed.Load()
	stats.ProduceRate = b.produceRate.rate()
	return stats
}

// recordConsumed counts envelopes delivered to a consumer group.
func (b *Broker) recordConsumed(n int) {
	b.consumed.Add(int64(n))
}

func (b *Broker) topic(name string) (*topic, error) {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	}
	return t, nil
}
