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
	"log/slog"
	"sort"
	"sync"
	"time"
)

const defaultPollInterval = 10 * time.Millisecond

// GroupCoordinator tracks, per consumer group, the next offset to read on
// every partition of every topic the group has polled. Groups read
// independently of each other and never see the same envelope twice.
type GroupCoordinator struct {
	broker  *Broker
	config  CoordinatorConfig
	logger  *slog.Logger
	metrics Recorder

	mu      sync.Mutex
	cursors map[cursorKey]*cursor
	groups  map[string]map[string]struct{}
}

// CoordinatorConfig tunes a GroupCoordinator.
type CoordinatorConfig struct {
	// PollInterval is the sleep between empty reads while Poll waits.
	PollInterval time.Duration
	Logger       *slog.Logger
	Metrics      Recorder
}

var defaultCoordinatorConfig = CoordinatorConfig{
	PollInterval: defaultPollInterval,
}

type cursorKey struct {
	topic     string
	group     string
	partition int32
}

// cursor is held for the whole read-and-advance of one partition so that
// concurrent polls of the same group neither skip nor duplicate envelopes.
type cursor struct {
	mu   sync.Mutex
	next int64
}

// NewGroupCoordinator tracks group cursors over b's topics. A nil cfg uses
// the default poll interval and slog.Default().
func NewGroupCoordinator(b *Broker, cfg *CoordinatorConfig) *GroupCoordinator {
	config := defaultCoordinatorConfig
	if cfg != nil {
		if cfg.PollInterval > 0 {
			config.PollInterval = cfg.PollInterval
		}
		config.Logger = cfg.Logger
		config.Metrics = cfg.Metrics
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupCoordinator{
		broker:  b,
		config:  config,
		logger:  logger.With("component", "group_coordinator"),
		metrics: config.Metrics,
		cursors: make(map[cursorKey]*cursor),
		groups:  make(map[string]map[string]struct{}),
	}
}

// Poll reads from every partition of topic starting at the group's cursors
// and advances each cursor past what was returned. Results are ordered by
// partition, then offset. maxMessages bounds the total across partitions;
// <= 0 means unbounded. When nothing is available Poll re-checks every
// PollInterval until timeout elapses and then returns an empty slice.
func (c *GroupCoordinator) Poll(ctx context.Context, topic, group string, maxMessages int, timeout time.Duration) ([]Envelope, error) {
	partitions, err := c.broker.PartitionCount(topic)
	if err != nil {
		return nil, err
	}
	c.registerGroup(topic, group)

	deadline := time.Now().Add(timeout)
	for {
		out, err := c.pollOnce(topic, group, partitions, maxMessages)
		if err != nil || len(out) > 0 {
			return out, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, nil
		}
		sleep := c.config.PollInterval
		if remaining < sleep {
			sleep = remaining
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return []Envelope{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *GroupCoordinator) pollOnce(topic, group string, partitions, maxMessages int) ([]Envelope, error) {
	out := []Envelope{}
	for p := 0; p < partitions; p++ {
		budget := 0
		if maxMessages > 0 {
			budget = maxMessages - len(out)
			if budget <= 0 {
				break
			}
		}
		cur := c.cursor(topic, group, int32(p))
		cur.mu.Lock()
		msgs, err := c.broker.ConsumeFrom(topic, int32(p), cur.next, budget)
		if err != nil {
			cur.mu.Unlock()
			return out, err
		}
		cur.next += int64(len(msgs))
		cur.mu.Unlock()
		out = append(out, msgs...)
	}
	if len(out) > 0 {
		c.broker.recordConsumed(len(out))
		if c.metrics != nil {
			c.metrics.AddCounter("broker_messages_consumed_total", float64(len(out)), map[string]string{"topic": topic, "group": group})
		}
		c.logger.Debug("polled", "topic", topic, "group", group, "count", len(out))
	}
	return out, nil
}

// Groups lists the consumer groups that have polled topic.
func (c *GroupCoordinator) Groups(topic string) []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.groups[topic]))
	for name := range c.groups[topic] {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)
	return names
}

// Offsets returns the group's next offset for every partition of topic.
func (c *GroupCoordinator) Offsets(topic, group string) ([]int64, error) {
	partitions, err := c.broker.PartitionCount(topic)
	if err != nil {
		return nil, err
	}
	offsets := make([]int64, partitions)
	for p := range offsets {
		cur := c.cursor(topic, group, int32(p))
		cur.mu.Lock()
		offsets[p] = cur.next
		cur.mu.Unlock()
	}
	return offsets, nil
}

// Lag returns, per partition, how many envelopes the group has yet to read.
func (c *GroupCoordinator) Lag(topic, group string) ([]int64, error) {
	offsets, err := c.Offsets(topic, group)
	if err != nil {
		return nil, err
	}
	ends, err := c.broker.EndOffsets(topic)
	if err != nil {
		return nil, err
	}
	lag := make([]int64, len(offsets))
	for p := range offsets {
		lag[p] = ends[p] - offsets[p]
	}
	return lag, nil
}

func (c *GroupCoordinator) registerGroup(topic, group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.groups[topic]
	if !ok {
		set = make(map[string]struct{})
		c.groups[topic] = set
	}
	set[group] = struct{}{}
}

func (c *GroupCoordinator) cursor(topic, group string, partition int32) *cursor {
	key := cursorKey{topic: topic, group: group, partition: partition}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cursors[key]
	if !ok {
		cur = &cursor{}
		c.cursors[key] = cur
	}
	return cur
}
