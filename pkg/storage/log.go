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

package storage

import (
	"errors"
	"sync"
	"time"
)

// ErrOffsetOutOfRange is returned when the requested offset is negative.
var ErrOffsetOutOfRange = errors.New("offset out of range")

// PartitionLog is the append-only message sequence for one topic partition.
// Appends are serialized by the log's own mutex, so partitions of the same
// topic never contend with each other.
type PartitionLog struct {
	topic     string
	partition int32
	clock     func() time.Time

	mu      sync.Mutex
	entries []Envelope
}

// NewPartitionLog constructs an empty log for a topic partition.
func NewPartitionLog(topic string, partition int32, cfg PartitionLogConfig) *PartitionLog {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	capacity := cfg.InitialCapacity
	if capacity < 0 {
		capacity = 0
	}
	return &PartitionLog{
		topic:     topic,
		partition: partition,
		clock:     clock,
		entries:   make([]Envelope, 0, capacity),
	}
}

// Append stores the message with the next offset and returns the stored envelope.
func (l *PartitionLog) Append(key, value []byte) Envelope {
	env := Envelope{
		Topic:     l.topic,
		Partition: l.partition,
		Key:       cloneBytes(key),
		Value:     cloneBytes(value),
	}

	l.mu.Lock()
	env.Offset = int64(len(l.entries))
	env.ProducedAt = l.clock()
	l.entries = append(l.entries, env)
	l.mu.Unlock()

	return env
}

// Read returns up to maxMessages envelopes starting at offset. A maxMessages
// value <= 0 returns everything available. Reading at or past the end of the
// log yields an empty slice.
func (l *PartitionLog) Read(offset int64, maxMessages int) ([]Envelope, error) {
	if offset < 0 {
		return nil, ErrOffsetOutOfRange
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	end := int64(len(l.entries))
	if offset >= end {
		return []Envelope{}, nil
	}
	last := end
	if maxMessages > 0 && int64(maxMessages) < end-offset {
		last = offset + int64(maxMessages)
	}
	out := make([]Envelope, last-offset)
	copy(out, l.entries[offset:last])
	return out, nil
}

// NextOffset returns the offset the next append will receive.
func (l *PartitionLog) NextOffset() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.entries))
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
