package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/marketlens/insightgate/bootstrap"
	"github.com/marketlens/insightgate/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile  string
	envFiles []string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "insightgate",
	Short: "Anonymized B2B market insights API",
	Long: `InsightGate serves k-anonymous price insights to paying B2B clients.

Every answer is aggregated over at least k distinct consumers; thinner
groups are pooled or withheld. Calls are metered against a daily quota.

Quick start:
  insightgate clients create --name "Acme Foods"   # Provision a credential
  insightgate serve                                 # Start the API server

Operations:
  insightgate usage show --client=<id>
  insightgate validate`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFiles...)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "insightgate.yaml", "config file path")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
}

// openStores loads configuration and opens the configured stores for
// operator commands. Adapter logs go to stderr at warn level.
func openStores(ctx context.Context) (*config.Config, *bootstrap.Stores, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	stores, err := bootstrap.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stores: %w", err)
	}
	return cfg, stores, nil
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
