// Package config provides loading and environment overlay for the sync
// engine configuration. It exposes a Default() baseline, JSON/YAML file
// loading, and a SYNCD_* environment overlay.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/syncd.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { /* handle */ }
package config
