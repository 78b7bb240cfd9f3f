package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openreader/audiobookd/internal/config"
	"github.com/openreader/audiobookd/internal/home"
	"github.com/openreader/audiobookd/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audiobookd server",
	Long: `Start the audiobookd HTTP server.

The server loads config.yaml from the home directory (or --config), builds
the configured storage backends, and serves the generation API. When the
server shuts down (via Ctrl+C or SIGTERM), in-flight requests are drained.

The server provides:
  - /health  - Basic server health check
  - /ready   - Readiness check (includes ffmpeg availability)
  - /status  - Detailed status with storage backend info
  - /swagger - Interactive API documentation

Examples:
  audiobookd serve                    # Start on default port 8080
  audiobookd serve --port 3000        # Start on custom port
  audiobookd serve --host 0.0.0.0     # Bind to all interfaces`,
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

		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		mgr.WatchConfig()

		// Flags win over config for the bind address
		host, port := serveHost, servePort
		if !cmd.Flags().Changed("host") && mgr.Get().Server.Host != "" {
			host = mgr.Get().Server.Host
		}
		if !cmd.Flags().Changed("port") && mgr.Get().Server.Port != "" {
			port = mgr.Get().Server.Port
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          h,
			ConfigManager: mgr,
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
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
