package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/exowatch/transit-cli/internal/config"
)

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "transit-cli",
	Short: "Bayesian transit light-curve fitting",
	Long: `Fits planetary transit models to photometric light curves with nested sampling.

A fit reads a time/flux/error CSV and a prior file, samples the posterior over
the free parameters and reports credible intervals, derived quantities such as
depth and T14, and the Bayesian evidence with its uncertainty.

Configuration comes from --config (or ./config.yaml) and TRANSIT_* environment
variables. Sampler flags on fit override the configured values for one run.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("config", configPath),
			zap.String("store", cfg.Store.Driver),
			zap.String("law", cfg.Model.Law),
			zap.String("noise", cfg.Noise.Model),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
