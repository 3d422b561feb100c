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

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/novatechflow/kafsim/internal/config"
	"github.com/novatechflow/kafsim/pkg/ledger"
	"github.com/novatechflow/kafsim/pkg/traffic"
)

func TestRunPrintsReportAndMetrics(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Traffic.Operations = 200
	cfg.Traffic.Seed = 3

	var out bytes.Buffer
	if err := run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	for _, want := range []string{
		"operations=200",
		"reserve",
		"P1",
		"# TYPE ledger_operations_total counter",
		"broker_messages_produced_total",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestPrintReportOrdersResults(t *testing.T) {
	report := &traffic.Report{
		Operations: map[string]map[string]int64{
			"confirm": {
				ledger.ResultSuccess:                 4,
				traffic.ResultSkipped:                3,
				ledger.ResultInvalidReservationState: 2,
				ledger.ResultReservationNotFound:     1,
			},
		},
		Elapsed: 1500 * time.Millisecond,
	}
	want := "  confirm  success=4 invalid_reservation_state=2 reservation_not_found=1 skipped=3\n"
	for i := 0; i < 20; i++ {
		var out bytes.Buffer
		printReport(&out, report, nil)
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in:\n%s", want, out.String())
		}
	}
}
