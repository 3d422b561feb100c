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

package traffic

import (
	"sort"
	"sync"
	"time"

	"github.com/novatechflow/kafsim/pkg/ledger"
)

// Report summarizes a traffic run.
type Report struct {
	// Operations counts results per operation, e.g. Operations["reserve"]["success"].
	Operations map[string]map[string]int64 `json:"operations"`
	// Produced is the number of successful transitions, each of which
	// published one event.
	Produced int64            `json:"produced"`
	Consumed int64            `json:"consumed"`
	Events   map[string]int64 `json:"events"`
	Elapsed  time.Duration    `json:"elapsed"`
}

// Total returns the number of operations issued.
func (r *Report) Total() int64 {
	var n int64
	for _, results := range r.Operations {
		for _, c := range results {
			n += c
		}
	}
	return n
}

// Count returns the tally for one operation and result.
func (r *Report) Count(op ledger.Operation, result string) int64 {
	return r.Operations[string(op)][result]
}

// OperationNames lists operations present in the report in sorted order.
func (r *Report) OperationNames() []string {
	names := make([]string, 0, len(r.Operations))
	for name := range r.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type tally struct {
	mu       sync.Mutex
	ops      map[string]map[string]int64
	produced int64
	consumed int64
	events   map[string]int64
}

func newTally() *tally {
	return &tally{
		ops:    make(map[string]map[string]int64),
		events: make(map[string]int64),
	}
}

func (t *tally) op(op ledger.Operation, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	results, ok := t.ops[string(op)]
	if !ok {
		results = make(map[string]int64)
		t.ops[string(op)] = results
	}
	results[result]++
	if result == ledger.ResultSuccess {
		t.produced++
	}
}

func (t *tally) event(kind string) {
	t.mu.Lock()
	t.consumed++
	t.events[kind]++
	t.mu.Unlock()
}

func (t *tally) report(elapsed time.Duration) *Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make(map[string]map[string]int64, len(t.ops))
	for op, results := range t.ops {
		copied := make(map[string]int64, len(results))
		for k, v := range results {
			copied[k] = v
		}
		ops[op] = copied
	}
	events := make(map[string]int64, len(t.events))
	for k, v := range t.events {
		events[k] = v
	}
	return &Report{
		Operations: ops,
		Produced:   t.produced,
		Consumed:   t.consumed,
		Events:     events,
		Elapsed:    elapsed,
	}
}
