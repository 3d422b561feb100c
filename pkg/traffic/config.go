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
	"errors"
	"fmt"
	"time"

	"github.com/novatechflow/kafsim/pkg/ledger"
)

// Mix weights the operations a worker picks. Weights are relative.
type Mix struct {
	Reserve int `yaml:"reserve"`
	Confirm int `yaml:"confirm"`
	Release int `yaml:"release"`
}

// DefaultMix is 70% reserve, 20% confirm, 10% release.
var DefaultMix = Mix{Reserve: 70, Confirm: 20, Release: 10}

func (m Mix) total() int {
	return m.Reserve + m.Confirm + m.Release
}

// pick maps n in [0, total) onto an operation.
func (m Mix) pick(n int) ledger.Operation {
	switch {
	case n < m.Reserve:
		return ledger.OpReserve
	case n < m.Reserve+m.Confirm:
		return ledger.OpConfirm
	default:
		return ledger.OpRelease
	}
}

// Config controls a traffic run.
type Config struct {
	// Workers is the number of concurrent goroutines issuing operations.
	Workers int
	// Operations caps the total operations across workers; 0 means no cap.
	Operations int
	// Duration caps the wall time of the run; 0 means no cap. With neither
	// cap the run lasts until the context is cancelled or Stop is called.
	Duration time.Duration
	Mix      Mix
	// Products restricts the catalog; empty uses every ledger product.
	Products    []string
	Users       []string
	MaxQuantity int64
	// StaleRate is the probability that a confirm or release targets an
	// already closed reservation.
	StaleRate float64
	Seed      int64

	Topic           string
	TopicPartitions int
	ConsumerGroup   string
	PollBatch       int
	PollTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Mix.total() <= 0 {
		c.Mix = DefaultMix
	}
	if len(c.Users) == 0 {
		c.Users = []string{"user-1", "user-2", "user-3", "user-4"}
	}
	if c.MaxQuantity <= 0 {
		c.MaxQuantity = 3
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if c.Topic == "" {
		c.Topic = ledger.DefaultTopic
	}
	if c.TopicPartitions <= 0 {
		c.TopicPartitions = 3
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "stock-auditor"
	}
	if c.PollBatch <= 0 {
		c.PollBatch = 100
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 50 * time.Millisecond
	}
	return c
}

func (c Config) validate() error {
	if c.Mix.Reserve < 0 || c.Mix.Confirm < 0 || c.Mix.Release < 0 {
		return fmt.Errorf("traffic mix weights must be non-negative: %+v", c.Mix)
	}
	if c.Operations < 0 {
		return errors.New("traffic operations must be >= 0")
	}
	if c.StaleRate < 0 || c.StaleRate > 1 {
		return fmt.Errorf("traffic stale rate %v outside [0,1]", c.StaleRate)
	}
	return nil
}
