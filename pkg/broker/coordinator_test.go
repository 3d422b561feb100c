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

func newTestTopic(t *testing.T, partitions int) *Broker {
	t.Helper()
	b := New(Config{})
	if err := b.CreateTopic("orders", partitions); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return b
}

func TestPollReadsPartitionsInOrderAndAdvances(t *testing.T) {
	b := newTestTopic(t, 3)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := b.Produce(ctx, "orders", nil, []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Produce: %v", err)
		}
	}
	coord := NewGroupCoordinator(b, nil)

	got, err := coord.Poll(ctx, "orders", "g1", 0, 0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 envelopes got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.Partition < prev.Partition || (cur.Partition == prev.Partition && cur.Offset != prev.Offset+1) {
			t.Fatalf("out of order at %d: %d@%d after %d@%d", i, cur.Partition, cur.Offset, prev.Partition, prev.Offset)
		}
	}

	again, err := coord.Poll(ctx, "orders", "g1", 0, 0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected caught-up poll to be empty got %d", len(again))
	}

	offsets, err := coord.Offsets("orders", "g1")
	if err != nil {
		t.Fatalf("Offsets: %v", err)
	}
	for p, off := range offsets {
		if off != 2 {
			t.Fatalf("partition %d: expected cursor 2 got %d", p, off)
		}
	}
}

func TestPollCountsConsumedButRawReadsDoNot(t *testing.T) {
	b := newTestTopic(t, 2)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := b.Produce(ctx, "orders", nil, []byte("x")); err != nil {
			t.Fatalf("Produce: %v", err)
		}
	}
	if _, err := b.ConsumeFrom("orders", 0, 0, 0); err != nil {
		t.Fatalf("ConsumeFrom: %v", err)
	}
	if got := b.Stats().MessagesConsumed; got != 0 {
		t.Fatalf("expected raw read to leave consumed at 0 got %d", got)
	}

	coord := NewGroupCoordinator(b, nil)
	if _, err := coord.Poll(ctx, "orders", "g1", 3, 0); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := b.Stats().MessagesConsumed; got != 3 {
		t.Fatalf("expected 3 consumed got %d", got)
	}
}

func TestPollGroupsAreIndependent(t *testing.T) {
	b := newTestTopic(t, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = b.Produce(ctx, "orders", nil, []byte("v"))
	}
	coord := NewGroupCoordinator(b, nil)
	first, _ := coord.Poll(ctx, "orders", "a", 0, 0)
	second, _ := coord.Poll(ctx, "orders", "b", 0, 0)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected both groups to read 3 got %d and %d", len(first), len(second))
	}
	if groups := coord.Groups("orders"); len(groups) != 2 || groups[0] != "a" || groups[1] != "b" {
		t.Fatalf("unexpected groups %v", groups)
	}
}

func TestPollMaxMessagesIsTotalBudget(t *testing.T) {
	b := newTestTopic(t, 2)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = b.Produce(ctx, "orders", nil, []byte("v"))
	}
	coord := NewGroupCoordinator(b, nil)

	seen := 0
	for seen < 10 {
		got, err := coord.Poll(ctx, "orders", "g", 3, 0)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if len(got) == 0 || len(got) > 3 {
			t.Fatalf("expected 1..3 envelopes got %d", len(got))
		}
		seen += len(got)
	}
	lag, err := coord.Lag("orders", "g")
	if err != nil {
		t.Fatalf("Lag: %v", err)
	}
	for p, l := range lag {
		if l != 0 {
			t.Fatalf("partition %d: expected no lag got %d", p, l)
		}
	}
}

func TestPollWaitsForTimeoutWhenEmpty(t *testing.T) {
	b := newTestTopic(t, 1)
	coord := NewGroupCoordinator(b, &CoordinatorConfig{PollInterval: 5 * time.Millisecond})

	start := time.Now()
	got, err := coord.Poll(context.Background(), "orders", "g", 10, 40*time.Millisecond)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty poll got %d", len(got))
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected poll to wait for timeout, returned after %s", elapsed)
	}
}

func TestPollWakesOnProduce(t *testing.T) {
	b := newTestTopic(t, 1)
	coord := NewGroupCoordinator(b, &CoordinatorConfig{PollInterval: 2 * time.Millisecond})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = b.Produce(context.Background(), "orders", nil, []byte("late"))
	}()
	got, err := coord.Poll(context.Background(), "orders", "g", 10, 2*time.Second)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(got) != 1 || string(got[0].Value) != "late" {
		t.Fatalf("unexpected poll result %+v", got)
	}
}

func TestPollCancelled(t *testing.T) {
	b := newTestTopic(t, 1)
	coord := NewGroupCoordinator(b, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := coord.Poll(ctx, "orders", "g", 10, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
}

func TestPollUnknownTopic(t *testing.T) {
	coord := NewGroupCoordinator(New(Config{}), nil)
	if _, err := coord.Poll(context.Background(), "missing", "g", 1, 0); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound got %v", err)
	}
}

func TestConcurrentPollsNeverDuplicateOrSkip(t *testing.T) {
	rec := &fakeRecorder{}
	b := newTestTopic(t, 3)
	ctx := context.Background()
	const total = 600
	for i := 0; i < total; i++ {
		if _, err := b.Produce(ctx, "orders", []byte(fmt.Sprintf("k%d", i%11)), []byte("v")); err != nil {
			t.Fatalf("Produce: %v", err)
		}
	}
	coord := NewGroupCoordinator(b, &CoordinatorConfig{Metrics: rec})

	var (
		mu   sync.Mutex
		seen = make(map[[2]int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := coord.Poll(ctx, "orders", "shared", 7, 0)
				if err != nil {
					t.Errorf("Poll: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, env := range got {
					seen[[2]int64{int64(env.Partition), env.Offset}]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct envelopes got %d", total, len(seen))
	}
	for key, n := range seen {
		if n != 1 {
			t.Fatalf("envelope %v delivered %d times", key, n)
		}
	}
	if got := rec.total("broker_messages_consumed_total"); got != total {
		t.Fatalf("expected consumed counter %d got %v", total, got)
	}
}
