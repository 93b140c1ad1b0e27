package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/clincite/clincite/internal/config"
	"github.com/clincite/clincite/internal/home"
	"github.com/clincite/clincite/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clincite server",
	Long: `Start the clincite HTTP server.

The server accepts document uploads, runs the analysis pipeline in the
background, and answers status polls. Configure the optional Redis and
Postgres state store tiers in the config file.

The server provides:
  - POST /api/jobs                  - Upload a document for analysis
  - GET  /api/jobs/{id}/status      - Poll progress; returns the analysis when done
  - GET  /api/jobs/{id}             - Full job record
  - GET  /health, /ready            - Health checks
  - GET  /swagger                   - API documentation

Examples:
  clincite serve                    # Start on default port 8420
  clincite serve --config cfg.yaml  # Start with a custom config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Set up logger
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))

		// Get home directory
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Load config with hot reload
		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		cm.WatchConfig()

		srv, err := server.New(server.Config{
			Home:          h,
			ConfigManager: cm,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
