package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pacekit/syncd/internal/config"
	"github.com/pacekit/syncd/internal/engine"
	"github.com/pacekit/syncd/pkg/log"
)

// openEngine builds an engine over the local data directory. The CLI never
// starts workers; it reads and administers persisted state.
type openEngine func() (*engine.Engine, error)

// NewRootCommand assembles the syncd command tree.
func NewRootCommand(logger log.Logger) *cobra.Command {
	var (
		configPath string
		dataDir    string
	)

	open := func() (*engine.Engine, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		config.FromEnv(&cfg)
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		secret := os.Getenv("SYNCD_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("SYNCD_SECRET is required to open the encrypted store")
		}
		return engine.New(cfg, []byte(secret), nil, nil, logger)
	}

	rootCmd := &cobra.Command{
		Use:   "syncd",
		Short: "syncd offline sync engine CLI",
		Long:  "syncd manages the durable offline sync queue: inspect pending items, administer the dead-letter store, and report engine status.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SYNCD_CONFIG"), "Config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")

	rootCmd.AddCommand(newQueueCommand(open))
	rootCmd.AddCommand(newDLQCommand(open))
	rootCmd.AddCommand(newStatusCommand(open))
	return rootCmd
}
