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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the YAML file path.
const EnvConfigPath = "KAFSIM_CONFIG"

// Config defines the simulator configuration schema.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Broker  BrokerConfig  `yaml:"broker"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Traffic TrafficConfig `yaml:"traffic"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type BrokerConfig struct {
	Topics            []TopicConfig `yaml:"topics"`
	PollIntervalMs    int           `yaml:"poll_interval_ms"`
	RateWindowSeconds int           `yaml:"rate_window_seconds"`
}

type TopicConfig struct {
	Name       string `yaml:"name"`
	Partitions int    `yaml:"partitions"`
}

type LedgerConfig struct {
	Topic           string          `yaml:"topic"`
	TopicPartitions int             `yaml:"topic_partitions"`
	Products        []ProductConfig `yaml:"products"`
}

type ProductConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Stock int64  `yaml:"stock"`
}

type TrafficConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Workers       int           `yaml:"workers"`
	Operations    int           `yaml:"operations"`
	Duration      time.Duration `yaml:"duration"`
	ReserveWeight int           `yaml:"reserve_weight"`
	ConfirmWeight int           `yaml:"confirm_weight"`
	ReleaseWeight int           `yaml:"release_weight"`
	MaxQuantity   int64         `yaml:"max_quantity"`
	StaleRate     float64       `yaml:"stale_rate"`
	Seed          int64         `yaml:"seed"`
	ConsumerGroup string        `yaml:"consumer_group"`
	PollBatch     int           `yaml:"poll_batch"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	Users         []string      `yaml:"users"`
}

type MirrorConfig struct {
	Brokers     []string `yaml:"brokers"`
	SourceTopic string   `yaml:"source_topic"`
	TargetTopic string   `yaml:"target_topic"`
	ClientID    string   `yaml:"client_id"`
}

// Enabled reports whether mirroring to an external cluster is configured.
func (m MirrorConfig) Enabled() bool {
	return len(m.Brokers) > 0
}

// Load reads path (when non-empty), fills defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	applyDerivedDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv is Load with the path taken from KAFSIM_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(strings.TrimSpace(os.Getenv(EnvConfigPath)))
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Broker.PollIntervalMs == 0 {
		cfg.Broker.PollIntervalMs = 10
	}
	if cfg.Broker.RateWindowSeconds == 0 {
		cfg.Broker.RateWindowSeconds = 60
	}
	if cfg.Ledger.Topic == "" {
		cfg.Ledger.Topic = "stock-events"
	}
	if cfg.Ledger.TopicPartitions == 0 {
		cfg.Ledger.TopicPartitions = 3
	}
	if len(cfg.Ledger.Products) == 0 {
		cfg.Ledger.Products = []ProductConfig{
			{ID: "P1", Name: "Laptop", Stock: 100},
			{ID: "P2", Name: "Phone", Stock: 250},
			{ID: "P3", Name: "Headphones", Stock: 500},
		}
	}
	if cfg.Traffic.Workers == 0 {
		cfg.Traffic.Workers = 4
	}
	if cfg.Traffic.ReserveWeight == 0 && cfg.Traffic.ConfirmWeight == 0 && cfg.Traffic.ReleaseWeight == 0 {
		cfg.Traffic.ReserveWeight = 70
		cfg.Traffic.ConfirmWeight = 20
		cfg.Traffic.ReleaseWeight = 10
	}
	if cfg.Traffic.MaxQuantity == 0 {
		cfg.Traffic.MaxQuantity = 3
	}
	if cfg.Traffic.ConsumerGroup == "" {
		cfg.Traffic.ConsumerGroup = "stock-auditor"
	}
	if cfg.Traffic.PollBatch == 0 {
		cfg.Traffic.PollBatch = 100
	}
	if cfg.Traffic.PollTimeout == 0 {
		cfg.Traffic.PollTimeout = 50 * time.Millisecond
	}
	if cfg.Mirror.ClientID == "" {
		cfg.Mirror.ClientID = "kafsim-mirror"
	}
}

// applyDerivedDefaults fills values that follow other settings, so it runs
// after the environment has had its say.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Mirror.SourceTopic == "" {
		cfg.Mirror.SourceTopic = cfg.Ledger.Topic
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.HTTPAddr, "KAFSIM_HTTP_ADDR")
	setString(&cfg.Log.Level, "KAFSIM_LOG_LEVEL")

	setInt(&cfg.Broker.PollIntervalMs, "KAFSIM_BROKER_POLL_INTERVAL_MS")
	setInt(&cfg.Broker.RateWindowSeconds, "KAFSIM_BROKER_RATE_WINDOW_SECONDS")

	setString(&cfg.Ledger.Topic, "KAFSIM_LEDGER_TOPIC")
	setInt(&cfg.Ledger.TopicPartitions, "KAFSIM_LEDGER_TOPIC_PARTITIONS")

	setBool(&cfg.Traffic.Enabled, "KAFSIM_TRAFFIC_ENABLED")
	setInt(&cfg.Traffic.Workers, "KAFSIM_TRAFFIC_WORKERS")
	setInt(&cfg.Traffic.Operations, "KAFSIM_TRAFFIC_OPERATIONS")
	setDuration(&cfg.Traffic.Duration, "KAFSIM_TRAFFIC_DURATION")
	setInt64(&cfg.Traffic.MaxQuantity, "KAFSIM_TRAFFIC_MAX_QUANTITY")
	setFloat(&cfg.Traffic.StaleRate, "KAFSIM_TRAFFIC_STALE_RATE")
	setInt64(&cfg.Traffic.Seed, "KAFSIM_TRAFFIC_SEED")
	setString(&cfg.Traffic.ConsumerGroup, "KAFSIM_TRAFFIC_CONSUMER_GROUP")

	setCSV(&cfg.Mirror.Brokers, "KAFSIM_MIRROR_BROKERS")
	setString(&cfg.Mirror.SourceTopic, "KAFSIM_MIRROR_SOURCE_TOPIC")
	setString(&cfg.Mirror.TargetTopic, "KAFSIM_MIRROR_TARGET_TOPIC")
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", cfg.Log.Level)
	}
	for _, topic := range cfg.Broker.Topics {
		if topic.Name == "" {
			return errors.New("broker.topics: name is required")
		}
		if topic.Partitions < 1 {
			return fmt.Errorf("broker.topics: topic %s needs at least one partition", topic.Name)
		}
	}
	if cfg.Ledger.TopicPartitions < 1 {
		return errors.New("ledger.topic_partitions must be >= 1")
	}
	seen := make(map[string]struct{}, len(cfg.Ledger.Products))
	for _, p := range cfg.Ledger.Products {
		if p.ID == "" {
			return errors.New("ledger.products: id is required")
		}
		if p.Stock < 0 {
			return fmt.Errorf("ledger.products: product %s has negative stock", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("ledger.products: duplicate product %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if cfg.Traffic.Workers < 1 {
		return errors.New("traffic.workers must be >= 1")
	}
	if cfg.Traffic.Operations < 0 {
		return errors.New("traffic.operations must be >= 0")
	}
	if cfg.Traffic.ReserveWeight < 0 || cfg.Traffic.ConfirmWeight < 0 || cfg.Traffic.ReleaseWeight < 0 {
		return errors.New("traffic weights must be non-negative")
	}
	if cfg.Traffic.StaleRate < 0 || cfg.Traffic.StaleRate > 1 {
		return fmt.Errorf("traffic.stale_rate %v outside [0,1]", cfg.Traffic.StaleRate)
	}
	return nil
}

func setString(target *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*target = val
	}
}

func setInt(target *int, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setInt64(target *int64, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err == nil {
			*target = parsed
		}
	}
}

func setFloat(target *float64, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err == nil {
			*target = parsed
		}
	}
}

func setBool(target *bool, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setDuration(target *time.Duration, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setCSV(target *[]string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}
