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

package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type series struct {
	name   string
	kind   string
	labels string
	lines  []string
}

// Export renders every series as Prometheus text exposition lines stamped
// with the export time in unix milliseconds. Counters and gauges emit one
// sample each; histograms emit _count, _sum and cumulative _bucket samples
// including +Inf.
func (c *Collector) Export() string {
	var b strings.Builder
	_ = c.ExportTo(&b)
	return b.String()
}

// ExportTo writes the Export text to w.
func (c *Collector) ExportTo(w io.Writer) error {
	ts := strconv.FormatInt(c.clock().UnixMilli(), 10)
	all := c.snapshot(ts)
	sort.Slice(all, func(i, j int) bool {
		if all[i].name != all[j].name {
			return all[i].name < all[j].name
		}
		if all[i].kind != all[j].kind {
			return all[i].kind < all[j].kind
		}
		return all[i].labels < all[j].labels
	})

	lastType := ""
	for _, s := range all {
		if typeLine := s.name + " " + s.kind; typeLine != lastType {
			if _, err := fmt.Fprintf(w, "# TYPE %s\n", typeLine); err != nil {
				return err
			}
			lastType = typeLine
		}
		for _, line := range s.lines {
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Collector) snapshot(ts string) []series {
	c.mu.RLock()
	counters := make(map[familyKey]*prometheus.CounterVec, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	gauges := make(map[familyKey]*prometheus.GaugeVec, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}
	histograms := make(map[familyKey]*prometheus.HistogramVec, len(c.histograms))
	for k, v := range c.histograms {
		histograms[k] = v
	}
	c.mu.RUnlock()

	var out []series
	for key, vec := range counters {
		for _, m := range collect(vec) {
			labels := formatLabels(m.GetLabel(), "")
			out = append(out, series{
				name:   key.name,
				kind:   "counter",
				labels: labels,
				lines:  []string{key.name + labels + " " + formatValue(m.GetCounter().GetValue()) + " " + ts},
			})
		}
	}
	for key, vec := range gauges {
		for _, m := range collect(vec) {
			labels := formatLabels(m.GetLabel(), "")
			out = append(out, series{
				name:   key.name,
				kind:   "gauge",
				labels: labels,
				lines:  []string{key.name + labels + " " + formatValue(m.GetGauge().GetValue()) + " " + ts},
			})
		}
	}
	for key, vec := range histograms {
		for _, m := range collect(vec) {
			h := m.GetHistogram()
			labels := formatLabels(m.GetLabel(), "")
			lines := []string{
				key.name + "_count" + labels + " " + strconv.FormatUint(h.GetSampleCount(), 10) + " " + ts,
				key.name + "_sum" + labels + " " + formatValue(h.GetSampleSum()) + " " + ts,
			}
			for _, bucket := range h.GetBucket() {
				if math.IsInf(bucket.GetUpperBound(), +1) {
					continue
				}
				le := formatLabels(m.GetLabel(), formatValue(bucket.GetUpperBound()))
				lines = append(lines, key.name+"_bucket"+le+" "+strconv.FormatUint(bucket.GetCumulativeCount(), 10)+" "+ts)
			}
			inf := formatLabels(m.GetLabel(), "+Inf")
			lines = append(lines, key.name+"_bucket"+inf+" "+strconv.FormatUint(h.GetSampleCount(), 10)+" "+ts)
			out = append(out, series{name: key.name, kind: "histogram", labels: labels, lines: lines})
		}
	}
	return out
}

// collect drains a vector's children into their protobuf form.
func collect(c prometheus.Collector) []*dto.Metric {
	ch := make(chan prometheus.Metric)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var out []*dto.Metric
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out
}

// formatLabels renders {k="v",...} in name order, appending le when set.
func formatLabels(pairs []*dto.LabelPair, le string) string {
	if len(pairs) == 0 && le == "" {
		return ""
	}
	sorted := make([]*dto.LabelPair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GetName() < sorted[j].GetName() })

	parts := make([]string, 0, len(sorted)+1)
	for _, p := range sorted {
		parts = append(parts, p.GetName()+`="`+escapeLabelValue(p.GetValue())+`"`)
	}
	if le != "" {
		parts = append(parts, `le="`+le+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabelValue(v string) string {
	return labelValueEscaper.Replace(v)
}

func formatValue(v float64) string {
	switch {
	case math.IsInf(v, +1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
