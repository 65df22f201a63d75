package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir  string `json:"dataDir" yaml:"dataDir"`
	Fsync    string `json:"fsync" yaml:"fsync"` // always | interval | never
	DeviceID string `json:"deviceId" yaml:"deviceId"`

	Queue   QueueConfig   `json:"queue" yaml:"queue"`
	Workers WorkerConfig  `json:"workers" yaml:"workers"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`

	// TombstoneTTL is how long deleted-entity markers suppress resurrection.
	TombstoneTTL time.Duration `json:"tombstoneTTL" yaml:"tombstoneTTL"`
	// MaintenanceInterval drives the background sweep of expired tombstones
	// and idempotency records. Zero disables the sweeper.
	MaintenanceInterval time.Duration `json:"maintenanceInterval" yaml:"maintenanceInterval"`
}

// QueueConfig bounds the live queue and its retry behavior.
type QueueConfig struct {
	// MaxSize is the hard capacity of the live queue.
	MaxSize int `json:"maxSize" yaml:"maxSize"`
	// RetryCeiling is the attempt count after which an item dead-letters.
	RetryCeiling int `json:"retryCeiling" yaml:"retryCeiling"`
	// BackoffBase and BackoffCap bound the exponential retry delay.
	BackoffBase time.Duration `json:"backoffBase" yaml:"backoffBase"`
	BackoffCap  time.Duration `json:"backoffCap" yaml:"backoffCap"`
	// EvictFraction is the share of capacity moved to the dead-letter store
	// when enqueue would overflow.
	EvictFraction float64 `json:"evictFraction" yaml:"evictFraction"`
}

// WorkerConfig bounds drain concurrency.
type WorkerConfig struct {
	Count    int `json:"count" yaml:"count"`
	MaxCount int `json:"maxCount" yaml:"maxCount"`
}

// BreakerConfig tunes the remote-store circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failureThreshold" yaml:"failureThreshold"`
	FailureWindow    time.Duration `json:"failureWindow" yaml:"failureWindow"`
	Cooldown         time.Duration `json:"cooldown" yaml:"cooldown"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:             DefaultDataDir(),
		Fsync:               "always",
		TombstoneTTL:        7 * 24 * time.Hour,
		MaintenanceInterval: 10 * time.Minute,
		Queue: QueueConfig{
			MaxSize:       500,
			RetryCeiling:  8,
			BackoffBase:   2 * time.Second,
			BackoffCap:    5 * time.Minute,
			EvictFraction: 0.10,
		},
		Workers: WorkerConfig{
			Count:    2,
			MaxCount: 8,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    30 * time.Second,
			Cooldown:         60 * time.Second,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	switch c.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("config: fsync must be always, interval, or never; got %q", c.Fsync)
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("config: queue.maxSize must be positive")
	}
	if c.Queue.RetryCeiling <= 0 {
		return fmt.Errorf("config: queue.retryCeiling must be positive")
	}
	if c.Queue.EvictFraction <= 0 || c.Queue.EvictFraction >= 1 {
		return fmt.Errorf("config: queue.evictFraction must be in (0,1)")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("config: workers.count must be positive")
	}
	if c.Workers.MaxCount < c.Workers.Count {
		return fmt.Errorf("config: workers.maxCount must be >= workers.count")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config: breaker.failureThreshold must be positive")
	}
	return nil
}
