// Package config defines the immutable configuration the sweep service is
// started with. Nothing here is ambient: the loaded struct is passed into
// the engines at construction and never mutated afterwards.
package config

import "time"

// Config represents the top-level configuration.
type Config struct {
	Directory DirectoryConfig `yaml:"directory"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Items     ItemsConfig     `yaml:"items"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

// DirectoryConfig holds the connection parameters for the directory API.
type DirectoryConfig struct {
	BaseURL           string  `yaml:"base_url"`
	Token             string  `yaml:"token"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// SweepConfig holds the engine tunables shared by both run kinds.
type SweepConfig struct {
	// Concurrency bounds the remote fan-out and doubles as the shard size.
	Concurrency int `yaml:"concurrency,omitempty"`

	// CacheTTL is the scan-cache window; zero disables the cache.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`

	// SafetyBudget is the per-invocation wall-clock budget. It must sit
	// below the host's hard execution ceiling.
	SafetyBudget time.Duration `yaml:"safety_budget,omitempty"`

	// ContinuationDelay is the pause-to-resume gap.
	ContinuationDelay time.Duration `yaml:"continuation_delay,omitempty"`

	// CheckpointEveryShards is the checkpoint cadence.
	CheckpointEveryShards int `yaml:"checkpoint_every_shards,omitempty"`

	// MaxAttempts and BaseRetryDelay parameterize remote-call retries.
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`
	BaseRetryDelay time.Duration `yaml:"base_retry_delay,omitempty"`
}

// ItemsConfig selects where the enumerated account list comes from.
// Addresses wins when both are set; File points at a newline-separated
// list of account addresses.
type ItemsConfig struct {
	Addresses []string `yaml:"addresses,omitempty"`
	File      string   `yaml:"file,omitempty"`
}

// PostgresConfig holds the run-record store connection. An empty DSN
// selects the in-memory store.
type PostgresConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// RedisConfig holds the scan-cache store connection. An empty address
// selects the in-memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// KafkaConfig holds the result-sink broker connection. No brokers means
// outcomes go to the log-backed sink instead.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}
