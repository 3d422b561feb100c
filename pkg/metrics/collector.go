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

// Package metrics records counters, gauges and histograms keyed by metric
// name and label set, and renders them in the Prometheus text format.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Labels is an unordered label set attached to a single observation.
type Labels = map[string]string

// DefaultBuckets are the histogram upper bounds, in seconds.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// Observation is one raw histogram sample.
type Observation struct {
	Value  float64
	Labels Labels
	At     time.Time
}

// Collector owns every metric series. Each (name, label names) pair is
// backed by its own prometheus vector so that a name may be used with
// differing label sets without conflicting.
type Collector struct {
	clock   func() time.Time
	buckets []float64

	mu         sync.RWMutex
	counters   map[familyKey]*prometheus.CounterVec
	gauges     map[familyKey]*prometheus.GaugeVec
	histograms map[familyKey]*prometheus.HistogramVec

	obsMu        sync.Mutex
	observations map[string][]Observation
}

type familyKey struct {
	name   string
	labels string
}

// Option customizes a Collector.
type Option func(*Collector)

// WithClock overrides time.Now for observation and export timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Collector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCollector returns an empty collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		clock:        time.Now,
		buckets:      DefaultBuckets,
		counters:     make(map[familyKey]*prometheus.CounterVec),
		gauges:       make(map[familyKey]*prometheus.GaugeVec),
		histograms:   make(map[familyKey]*prometheus.HistogramVec),
		observations: make(map[string][]Observation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IncrementCounter adds 1 to the counter for (name, labels).
func (c *Collector) IncrementCounter(name string, labels Labels) {
	c.AddCounter(name, 1, labels)
}

// AddCounter adds delta to the counter for (name, labels). Negative deltas
// are ignored since counters only go up.
func (c *Collector) AddCounter(name string, delta float64, labels Labels) {
	if delta < 0 {
		return
	}
	names, values := splitLabels(labels, false)
	c.counterVec(SanitizeName(name), names).WithLabelValues(values...).Add(delta)
}

// SetGauge overwrites the gauge for (name, labels).
func (c *Collector) SetGauge(name string, value float64, labels Labels) {
	names, values := splitLabels(labels, false)
	c.gaugeVec(SanitizeName(name), names).WithLabelValues(values...).Set(value)
}

// ObserveHistogram records value for (name, labels). Raw observations are
// retained without eviction.
func (c *Collector) ObserveHistogram(name string, value float64, labels Labels) {
	name = SanitizeName(name)
	names, values := splitLabels(labels, true)
	c.histogramVec(name, names).WithLabelValues(values...).Observe(value)

	obs := Observation{Value: value, Labels: copyLabels(labels), At: c.clock()}
	c.obsMu.Lock()
	c.observations[name] = append(c.observations[name], obs)
	c.obsMu.Unlock()
}

// Counter returns the current total for (name, labels), 0 if unseen.
func (c *Collector) Counter(name string, labels Labels) float64 {
	names, values := splitLabels(labels, false)
	c.mu.RLock()
	vec, ok := c.counters[familyKey{name: SanitizeName(name), labels: strings.Join(names, ",")}]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	for _, m := range collect(vec) {
		if sameLabels(m.GetLabel(), names, values) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// Gauge returns the last value set for (name, labels).
func (c *Collector) Gauge(name string, labels Labels) (float64, bool) {
	names, values := splitLabels(labels, false)
	c.mu.RLock()
	vec, ok := c.gauges[familyKey{name: SanitizeName(name), labels: strings.Join(names, ",")}]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	// Only report series that were actually set.
	for _, m := range collect(vec) {
		if sameLabels(m.GetLabel(), names, values) {
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

// Observations returns a copy of every raw sample recorded under name.
func (c *Collector) Observations(name string) []Observation {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	src := c.observations[SanitizeName(name)]
	out := make([]Observation, len(src))
	copy(out, src)
	return out
}

func (c *Collector) counterVec(name string, labelNames []string) *prometheus.CounterVec {
	key := familyKey{name: name, labels: strings.Join(labelNames, ",")}
	c.mu.RLock()
	vec, ok := c.counters[key]
	c.mu.RUnlock()
	if ok {
		return vec
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok = c.counters[key]; !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames)
		c.counters[key] = vec
	}
	return vec
}

func (c *Collector) gaugeVec(name string, labelNames []string) *prometheus.GaugeVec {
	key := familyKey{name: name, labels: strings.Join(labelNames, ",")}
	c.mu.RLock()
	vec, ok := c.gauges[key]
	c.mu.RUnlock()
	if ok {
		return vec
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok = c.gauges[key]; !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames)
		c.gauges[key] = vec
	}
	return vec
}

func (c *Collector) histogramVec(name string, labelNames []string) *prometheus.HistogramVec {
	key := familyKey{name: name, labels: strings.Join(labelNames, ",")}
	c.mu.RLock()
	vec, ok := c.histograms[key]
	c.mu.RUnlock()
	if ok {
		return vec
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if vec, ok = c.histograms[key]; !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: c.buckets,
		}, labelNames)
		c.histograms[key] = vec
	}
	return vec
}

// splitLabels returns sanitized label names in sorted order and the
// matching values. Histograms reserve "le" for bucket bounds, so a caller
// label of that name is renamed. Invalid UTF-8 in values is replaced with
// U+FFFD, which prometheus requires.
func splitLabels(labels Labels, histogram bool) ([]string, []string) {
	if len(labels) == 0 {
		return nil, nil
	}
	byName := make(map[string]string, len(labels))
	for k, v := range labels {
		name := sanitizeLabelName(k)
		if histogram && name == "le" {
			name = "le_"
		}
		byName[name] = strings.ToValidUTF8(v, "\uFFFD")
	}
	names := make([]string, 0, len(byName))
	for k := range byName {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, k := range names {
		values[i] = byName[k]
	}
	return names, values
}

func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	out := make(Labels, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func sameLabels(pairs []*dto.LabelPair, names, values []string) bool {
	if len(pairs) != len(names) {
		return false
	}
	want := make(map[string]string, len(names))
	for i, n := range names {
		want[n] = values[i]
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

// SanitizeName replaces characters that are not valid in a Prometheus
// metric or label name with '_'.
func SanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r == '_' || r == ':' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// sanitizeLabelName is SanitizeName without ':' and without the reserved
// "__" prefix.
func sanitizeLabelName(name string) string {
	out := strings.ReplaceAll(SanitizeName(name), ":", "_")
	for strings.HasPrefix(out, "__") {
		out = out[1:]
	}
	return out
}
