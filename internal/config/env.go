package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays SYNCD_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SYNCD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SYNCD_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("SYNCD_DEVICE_ID"); v != "" {
		cfg.DeviceID = v
	}
	if n, ok := envInt("SYNCD_QUEUE_MAX_SIZE"); ok {
		cfg.Queue.MaxSize = n
	}
	if n, ok := envInt("SYNCD_QUEUE_RETRY_CEILING"); ok {
		cfg.Queue.RetryCeiling = n
	}
	if d, ok := envDuration("SYNCD_QUEUE_BACKOFF_BASE"); ok {
		cfg.Queue.BackoffBase = d
	}
	if d, ok := envDuration("SYNCD_QUEUE_BACKOFF_CAP"); ok {
		cfg.Queue.BackoffCap = d
	}
	if n, ok := envInt("SYNCD_WORKERS"); ok {
		cfg.Workers.Count = n
		if cfg.Workers.MaxCount < n {
			cfg.Workers.MaxCount = n
		}
	}
	if n, ok := envInt("SYNCD_BREAKER_FAILURE_THRESHOLD"); ok {
		cfg.Breaker.FailureThreshold = n
	}
	if d, ok := envDuration("SYNCD_BREAKER_COOLDOWN"); ok {
		cfg.Breaker.Cooldown = d
	}
	if d, ok := envDuration("SYNCD_TOMBSTONE_TTL"); ok {
		cfg.TombstoneTTL = d
	}
	if d, ok := envDuration("SYNCD_MAINTENANCE_INTERVAL"); ok {
		cfg.MaintenanceInterval = d
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
