package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/marketlens/insightgate/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the InsightGate configuration file.

Checks:
  - YAML syntax is valid
  - Drivers and modes are known and fully configured
  - k_threshold is at least 100
  - Tiers are well formed
  - Stores are reachable (optional)

Examples:
  insightgate validate
  insightgate validate --config /etc/insightgate/insightgate.yaml --check-stores`,
	RunE: runValidate,
}

var validateCheckStores bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckStores, "check-stores", false, "connect to every configured store")
}

func runValidate(cmd *cobra.Command, args []string) error {
	w := out(cmd)
	fmt.Fprintf(w, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(w, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(w, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(w, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(w, "  %s Config valid\n", checkMark)

	fmt.Fprintf(w, "  %s Database: %s\n", checkMark, cfg.Database.DSN)
	fmt.Fprintf(w, "  %s Ledger: %s\n", checkMark, cfg.Ledger.Driver)
	fmt.Fprintf(w, "  %s Observations: %s\n", checkMark, cfg.Observations.Driver)
	fmt.Fprintf(w, "  %s Directory: %s\n", checkMark, cfg.Directory.Mode)
	fmt.Fprintf(w, "  %s k threshold: %d\n", checkMark, cfg.Insights.KThreshold)
	fmt.Fprintf(w, "  %s Tiers configured: %d\n", checkMark, len(cfg.Tiers))

	if validateCheckStores {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		_, stores, err := openStores(ctx)
		if err != nil {
			fmt.Fprintf(w, "  %s Stores reachable\n", crossMark)
			fmt.Fprintf(w, "      Error: %v\n", err)
		} else {
			for name, p := range stores.Checks {
				if err := p.Ping(ctx); err != nil {
					fmt.Fprintf(w, "  %s %s reachable\n", crossMark, name)
					fmt.Fprintf(w, "      Error: %v\n", err)
				} else {
					fmt.Fprintf(w, "  %s %s reachable\n", checkMark, name)
				}
			}
			stores.Close()
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is valid.")
	return nil
}
