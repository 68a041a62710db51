package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/config"
)

var cfg *config.Config

var rootFlags struct {
	configFile string
	logLevel   string
}

var rootCmd = &cobra.Command{
	Use:   "fabroute",
	Short: "Quote and provider-routing engine for fabrication jobs",
	Long: `Prices fabrication jobs, matches them to capable providers, tracks
service orders through their lifecycle and keeps routed jobs in sync with
the partner network.

Settings come from ./config.yaml (or --config) and FABROUTE_* environment
variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.LoadFile(rootFlags.configFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if rootFlags.logLevel != "" {
			c.Log.Level = rootFlags.logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("store", cfg.Store.Driver),
			zap.String("directory", cfg.Directory.Source),
		)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
