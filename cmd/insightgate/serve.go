package main

import (
	"fmt"

	"github.com/marketlens/insightgate/bootstrap"
	"github.com/spf13/cobra"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the insights API server",
	Long: `Start the InsightGate API server.

The server will:
  - Load configuration from insightgate.yaml (or --config)
  - Or load configuration from INSIGHTGATE_* environment variables
  - Open the local database and the configured ledger and observation source
  - Serve GET /insights/categories and GET /insights/trends

Environment variables (for Docker deployments):
  INSIGHTGATE_DATABASE_DSN         - SQLite path (default: insightgate.db)
  INSIGHTGATE_SERVER_PORT          - Server port (default: 8080)
  INSIGHTGATE_LEDGER_DRIVER        - sqlite or redis
  INSIGHTGATE_OBSERVATIONS_DRIVER  - sqlite or postgres
  INSIGHTGATE_K_THRESHOLD          - Anonymity threshold (minimum 100)
  INSIGHTGATE_LOG_LEVEL            - Log level: debug, info, warn, error

Examples:
  insightgate serve
  insightgate serve --config /etc/insightgate/insightgate.yaml
  insightgate serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload tiers and log level on config change or SIGHUP")
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Version:    version,
		Watch:      hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
