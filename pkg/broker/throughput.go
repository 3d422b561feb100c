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
	"sync"
	"time"
)

// rateWindow counts events in one-second buckets and reports the average
// events per second over the trailing window.
type rateWindow struct {
	mu      sync.Mutex
	clock   func() time.Time
	window  time.Duration
	buckets map[int64]int64
}

func newRateWindow(window time.Duration, clock func() time.Time) *rateWindow {
	if window < time.Second {
		window = 60 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &rateWindow{
		clock:   clock,
		window:  window,
		buckets: make(map[int64]int64),
	}
}

func (w *rateWindow) add(count int64) {
	if w == nil || count <= 0 {
		return
	}
	now := w.clock().Unix()
	w.mu.Lock()
	w.buckets[now] += count
	w.pruneLocked(now)
	w.mu.Unlock()
}

func (w *rateWindow) rate() float64 {
	if w == nil {
		return 0
	}
	now := w.clock().Unix()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	if len(w.buckets) == 0 {
		return 0
	}
	var total int64
	oldest := now
	for second, count := range w.buckets {
		total += count
		if second < oldest {
			oldest = second
		}
	}
	span := now - oldest + 1
	if limit := int64(w.window / time.Second); span > limit {
		span = limit
	}
	return float64(total) / float64(span)
}

func (w *rateWindow) pruneLocked(now int64) {
	cutoff := now - int64(w.window/time.Second)
	for second := range w.buckets {
		if second <= cutoff {
			delete(w.buckets, second)
		}
	}
}
