// Package log provides the structured logging facade used across the sync
// engine.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Output goes through a pluggable
// Formatter (JSON or text) and one or more Outputs. Loggers are constructed
// once and passed explicitly; there is no global logger.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	)
//	l = l.WithComponent("workerpool")
//	l.Info("drain started", log.Int("pending", 12))
package log
