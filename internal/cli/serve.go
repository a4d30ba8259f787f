package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ppiankov/factmark/internal/background"
	"github.com/ppiankov/factmark/internal/relay"
	"github.com/ppiankov/factmark/internal/server"
	"github.com/ppiankov/factmark/internal/storage"
	"github.com/ppiankov/factmark/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auth relay bridge and session service",
	Long: `Serve starts the relay bridge that carries login results from a web
page to the extension's background session, plus the HTTP and websocket
endpoints the page side talks to.

When the page URL carries the pairing parameter the bridge also polls
local storage for credentials written by the sign-in flow.

Example:
  factmark serve
  factmark serve --addr 127.0.0.1:8787 --page-url "https://app.example.com/login?source=extension"`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"addr":         "server.addr",
			"page-url":     "server.page_url",
			"origin-match": "relay.origin_match",
			"storage":      "storage.local_path",
		})
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8787", "listen address")
	serveCmd.Flags().String("page-url", "", "URL of the page the bridge is attached to")
	serveCmd.Flags().String("origin-match", "exact", "origin check mode (exact, contains)")
	serveCmd.Flags().String("storage", "", "local credential store (default: $XDG_DATA_HOME/factmark/storage.db)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	local, err := storage.OpenLocalTier(cfg.Storage.LocalPath, logger)
	if err != nil {
		return err
	}
	defer func() { _ = local.Close() }()
	session := storage.NewSessionTier(cfg.Storage.SessionTTL)
	defer func() { _ = session.Close() }()

	limiter := worker.NewLimiterFromConfig(cfg.RateLimiting)
	analyzer, err := buildAnalyzer(cfg, limiter, logger)
	if err != nil {
		// Relay still works without analysis
		logger.Warn("analysis disabled", zap.Error(err))
		analyzer = nil
	}

	service := background.NewService(analyzer, cfg.Storage.SessionTTL, logger)
	defer service.Close()

	origins, err := relay.NewOriginPolicy(cfg.Relay.AllowedOrigins, cfg.Relay.OriginMatch)
	if err != nil {
		return err
	}
	hub := server.NewHub(origins, cfg.Relay, logger)

	bridge, err := relay.NewBridge(relay.Options{
		Config:     cfg.Relay,
		PageURL:    cfg.Server.PageURL,
		Privileged: service,
		Page:       hub,
		Tiers:      []storage.Tier{local, session},
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer bridge.Close()

	if bridge.StartPolling(ctx) {
		logger.Info("waiting for extension pairing",
			zap.String("storage", cfg.Storage.LocalPath),
			zap.Duration("interval", cfg.Relay.PollInterval),
			zap.Duration("ceiling", cfg.Relay.PollCeiling))
	}

	return server.New(cfg.Server, bridge, service, hub, origins, logger).Run(ctx)
}
