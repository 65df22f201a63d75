package main

import (
	"os"

	"github.com/pacekit/syncd/internal/cmd/cli"
	logpkg "github.com/pacekit/syncd/pkg/log"
)

func main() {
	// Respect SYNCD_LOG_LEVEL for CLI output.
	level := os.Getenv("SYNCD_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	rootCmd := cli.NewRootCommand(logger)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
