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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordedCounter struct {
	name   string
	delta  float64
	labels map[string]string
}

type fakeRecorder struct {
	mu       sync.Mutex
	counters []recordedCounter
}

func (r *fakeRecorder) AddCounter(name string, delta float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, recordedCounter{name: name, delta: delta, labels: labels})
}

func (r *fakeRecorder) total(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum float64
	for _, c := range r.counters {
		if c.name == name {
			sum += c.delta
		}
	}
	return sum
}

func TestCreateTopicValidation(t *testing.T) {
	b := New(Config{})
	if err := b.CreateTopic("orders", 3); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if err := b.CreateTopic("orders", 3); !errors.Is(err, ErrTopicExists) {
		t.Fatalf("expected ErrTopicExists got %v", err)
	}
	for _, n := range []int{0, -2} {
		if err := b.CreateTopic("bad", n); !errors.Is(err, ErrInvalidPartitionCount) {
			t.Fatalf("expected ErrInvalidPartitionCount for %d got %v", n, err)
		}
	}
	if err := b.CreateTopic("  ", 1); !errors.Is(err, ErrInvalidTopicName) {
		t.Fatalf("expected ErrInvalidTopicName got %v", err)
	}
	if got := b.Topics(); len(got) != 1 || got[0] != "orders" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestProduceUnknownTopic(t *testing.T) {
	b := New(Config{})
	if _, err := b.Produce(context.Background(), "missing", nil, []byte("v")); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound got %v", err)
	}
	if _, err := b.ConsumeFrom("missing", 0, 0, 1); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound got %v", err)
	}
}

func TestProduceHonorsCancelledContext(t *testing.T) {
	b := New(Config{})
	if err := b.CreateTopic("t1", 1); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Produce(ctx, "t1", nil, []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if ends, _ := b.EndOffsets("t1"); ends[0] != 0 {
		t.Fatalf("expected nothing appended got end offset %d", ends[0])
	}
}

func TestProduceSameKeySamePartitionInOrder(t *testing.T) {
	b := New(Config{})
	if err := b.CreateTopic("t1", 4); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	ctx := context.Background()
	first, err := b.Produce(ctx, "t1", []byte("k"), []byte("v1"))
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	second, err := b.Produce(ctx, "t1", []byte("k"), []byte("v2"))
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if first.Partition != second.Partition {
		t.Fatalf("expected same partition got %d and %d", first.Partition, second.Partition)
	}
	if first.Offset != 0 || second.Offset != 1 {
		t.Fatalf("expected offsets 0 and 1 got %d and %d", first.Offset, second.Offset)
	}

	got, err := b.ConsumeFrom("t1", first.Partition, 0, 10)
	if err != nil {
		t.Fatalf("ConsumeFrom: %v", err)
	}
	if len(got) != 2 || string(got[0].Value) != "v1" || string(got[1].Value) != "v2" {
		t.Fatalf("unexpected envelopes %+v", got)
	}
	if got[0].Offset != 0 || got[1].Offset != 1 {
		t.Fatalf("unexpected offsets %d %d", got[0].Offset, got[1].Offset)
	}
}

func TestProduceKeylessRoundRobin(t *testing.T) {
	b := New(Config{})
	if err := b.CreateTopic("t1", 3); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	for i := 0; i < 9; i++ {
		res, err := b.Produce(context.Background(), "t1", nil, []byte("v"))
		if err != nil {
			t.Fatalf("Produce: %v", err)
		}
		if res.Partition != int32(i%3) {
			t.Fatalf("message %d: expected partition %d got %d", i, i%3, res.Partition)
		}
	}
	info, err := b.Describe("t1")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info.TotalMessages != 9 {
		t.Fatalf("expected 9 messages got %d", info.TotalMessages)
	}
	for p, n := range info.MessagesPerPartition {
		if n != 3 {
			t.Fatalf("partition %d: expected 3 messages got %d", p, n)
		}
	}
}

func TestProduceOffsetsIncreaseByOnePerPartition(t *testing.T) {
	b := New(Config{})
	if err := b.CreateTopic("t1", 2); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	last := map[int32]int64{0: -1, 1: -1}
	for i := 0; i < 50; i++ {
		res, err := b.Produce(context.Background(), "t1", []byte(fmt.Sprintf("key-%d", i%7)), []byte("v"))
		if err != nil {
			t.Fatalf("Produce: %v", err)
		}
		if res.Offset != last[res.Partition]+1 {
			t.Fatalf("partition %d: expected offset %d got %d", res.Partition, last[res.Partition]+1, res.Offset)
		}
		last[res.Partition] = res.Offset
	}
}

func TestConsumeFromBounds(t *testing.T) {
	b := New(Config{})
	if err := b.CreateTopic("t1", 2); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if _, err := b.ConsumeFrom("t1", 2, 0, 1); !errors.Is(err, ErrInvalidPartition) {
		t.Fatalf("expected ErrInvalidPartition got %v", err)
	}
	if _, err := b.ConsumeFrom("t1", -1, 0, 1); !errors.Is(err, ErrInvalidPartition) {
		t.Fatalf("expected ErrInvalidPartition got %v", err)
	}
	if _, err := b.ConsumeFrom("t1", 0, -1, 1); !errors.Is(err, ErrInvalidOffset) {
		t.Fatalf("expected ErrInvalidOffset got %v", err)
	}
	got, err := b.ConsumeFrom("t1", 0, 5, 1)
	if err != nil {
		t.Fatalf("expected caught-up read to succeed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty read got %d", len(got))
	}
}

func TestConcurrentProducesKeepOffsetsDense(t *testing.T) {
	rec := &fakeRecorder{}
	b := New(Config{Metrics: rec})
	if err := b.CreateTopic("t1", 4); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	const writers, perWriter = 8, 100
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := b.Produce(context.Background(), "t1", nil, []byte("x")); err != nil {
					t.Errorf("Produce: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for p := int32(0); p < 4; p++ {
		envs, err := b.ConsumeFrom("t1", p, 0, 0)
		if err != nil {
			t.Fatalf("ConsumeFrom: %v", err)
		}
		for i, env := range envs {
			if env.Offset != int64(i) {
				t.Fatalf("partition %d: gap at %d (offset %d)", p, i, env.Offset)
			}
		}
	}
	stats := b.Stats()
	if stats.MessagesProduced != writers*perWriter {
		t.Fatalf("expected %d produced got %d", writers*perWriter, stats.MessagesProduced)
	}
	if stats.MessagesConsumed != 0 {
		t.Fatalf("expected raw reads to leave consumed at 0 got %d", stats.MessagesConsumed)
	}
	if got := rec.total("broker_messages_produced_total"); got != writers*perWriter {
		t.Fatalf("expected produced counter %d got %v", writers*perWriter, got)
	}
}

func TestStats(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := New(Config{Clock: func() time.Time { return now }})
	_ = b.CreateTopic("a", 2)
	_ = b.CreateTopic("b", 3)
	for i := 0; i < 4; i++ {
		if _, err := b.Produce(context.Background(), "a", nil, []byte("v")); err != nil {
			t.Fatalf("Produce: %v", err)
		}
	}
	stats := b.Stats()
	if stats.Topics != 2 || stats.Partitions != 5 {
		t.Fatalf("unexpected topology %+v", stats)
	}
	if stats.MessagesProduced != 4 {
		t.Fatalf("expected 4 produced got %d", stats.MessagesProduced)
	}
	if stats.ProduceRate != 4 {
		t.Fatalf("expected rate 4/s got %v", stats.ProduceRate)
	}
}

func TestPartitionForKeyPanicsOnZeroPartitions(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	partitionForKey([]byte("k"), 0)
}
