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
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	now := time.UnixMilli(1700000000123)
	return func() time.Time { return now }
}

func TestCounterIdentityIncludesLabels(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("ops_total", Labels{"op": "reserve"})
	c.IncrementCounter("ops_total", Labels{"op": "reserve"})
	c.IncrementCounter("ops_total", Labels{"op": "confirm"})
	c.IncrementCounter("ops_total", nil)

	if got := c.Counter("ops_total", Labels{"op": "reserve"}); got != 2 {
		t.Fatalf("expected reserve=2 got %v", got)
	}
	if got := c.Counter("ops_total", Labels{"op": "confirm"}); got != 1 {
		t.Fatalf("expected confirm=1 got %v", got)
	}
	if got := c.Counter("ops_total", nil); got != 1 {
		t.Fatalf("expected unlabeled=1 got %v", got)
	}
	if got := c.Counter("ops_total", Labels{"op": "release"}); got != 0 {
		t.Fatalf("expected unseen=0 got %v", got)
	}
	if strings.Contains(c.Export(), `op="release"`) {
		t.Fatalf("reading an unseen counter must not create it")
	}
}

func TestAddCounterIgnoresNegativeDelta(t *testing.T) {
	c := NewCollector()
	c.AddCounter("bytes_total", 5, nil)
	c.AddCounter("bytes_total", -3, nil)
	if got := c.Counter("bytes_total", nil); got != 5 {
		t.Fatalf("expected 5 got %v", got)
	}
}

func TestGaugeOverwrites(t *testing.T) {
	c := NewCollector()
	if _, ok := c.Gauge("stock", Labels{"product": "p1"}); ok {
		t.Fatalf("expected unseen gauge")
	}
	c.SetGauge("stock", 10, Labels{"product": "p1"})
	c.SetGauge("stock", 7, Labels{"product": "p1"})
	got, ok := c.Gauge("stock", Labels{"product": "p1"})
	if !ok || got != 7 {
		t.Fatalf("expected 7 got %v (ok=%v)", got, ok)
	}
}

func TestObserveHistogramKeepsRawSamples(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	for _, v := range []float64{0.002, 0.02, 3} {
		c.ObserveHistogram("latency_seconds", v, Labels{"op": "reserve"})
	}
	obs := c.Observations("latency_seconds")
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations got %d", len(obs))
	}
	if obs[2].Value != 3 || obs[2].Labels["op"] != "reserve" || obs[2].At.UnixMilli() != 1700000000123 {
		t.Fatalf("unexpected observation %+v", obs[2])
	}
}

func TestExportFormat(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.IncrementCounter("ops_total", Labels{"result": "success", "op": "reserve"})
	c.SetGauge("stock", 4, nil)
	c.ObserveHistogram("latency_seconds", 0.003, nil)
	c.ObserveHistogram("latency_seconds", 0.2, nil)

	out := c.Export()
	for _, want := range []string{
		"# TYPE ops_total counter\n",
		`ops_total{op="reserve",result="success"} 1 1700000000123` + "\n",
		"stock 4 1700000000123\n",
		"# TYPE latency_seconds histogram\n",
		"latency_seconds_count 2 1700000000123\n",
		"latency_seconds_sum 0.203 1700000000123\n",
		`latency_seconds_bucket{le="0.001"} 0 1700000000123` + "\n",
		`latency_seconds_bucket{le="0.005"} 1 1700000000123` + "\n",
		`latency_seconds_bucket{le="0.1"} 1 1700000000123` + "\n",
		`latency_seconds_bucket{le="0.5"} 2 1700000000123` + "\n",
		`latency_seconds_bucket{le="10"} 2 1700000000123` + "\n",
		`latency_seconds_bucket{le="+Inf"} 2 1700000000123` + "\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "latency_seconds_count") > strings.Index(out, "ops_total") {
		t.Fatalf("expected series sorted by name:\n%s", out)
	}
}

func TestExportEscapesAndSanitizes(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.IncrementCounter("http.requests-total", Labels{"path": `/a"b\c`, "le": "x"})
	out := c.Export()
	want := `http_requests_total{le="x",path="/a\"b\\c"} 1 1700000000123`
	if !strings.Contains(out, want) {
		t.Fatalf("expected %q in:\n%s", want, out)
	}
}

func TestHistogramRenamesLeLabel(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	c.ObserveHistogram("wait_seconds", 0.5, Labels{"le": "custom"})
	if out := c.Export(); !strings.Contains(out, `wait_seconds_count{le_="custom"} 1`) {
		t.Fatalf("expected renamed label in:\n%s", out)
	}
}

func TestInvalidUTF8LabelValuesAreReplaced(t *testing.T) {
	c := NewCollector(WithClock(fixedClock()))
	bad := Labels{"k": "a\xffb"}
	c.IncrementCounter("bytes_total", bad)
	c.SetGauge("level", 2, bad)
	c.ObserveHistogram("wait_seconds", 0.5, bad)

	if got := c.Counter("bytes_total", bad); got != 1 {
		t.Fatalf("expected counter 1 got %v", got)
	}
	if got, ok := c.Gauge("level", bad); !ok || got != 2 {
		t.Fatalf("expected gauge 2 got %v (%v)", got, ok)
	}
	if out := c.Export(); !strings.Contains(out, "bytes_total{k=\"a\uFFFDb\"} 1") {
		t.Fatalf("expected replacement character in:\n%s", out)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"ok_name":   "ok_name",
		"a.b-c":     "a_b_c",
		"9lives":    "_9lives",
		"":          "_",
		"ns:metric": "ns:metric",
	}
	for in, want := range cases {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q): expected %q got %q", in, want, got)
		}
	}
}

func TestConcurrentUpdates(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.IncrementCounter("hits_total", Labels{"shard": "a"})
				c.ObserveHistogram("dur_seconds", 0.01, nil)
			}
		}()
	}
	wg.Wait()
	if got := c.Counter("hits_total", Labels{"shard": "a"}); got != 4000 {
		t.Fatalf("expected 4000 got %v", got)
	}
	if got := len(c.Observations("dur_seconds")); got != 4000 {
		t.Fatalf("expected 4000 observations got %d", got)
	}
}
