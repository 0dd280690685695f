// Nova - adaptive member verification for communities
package main

import (
	"context"
	"os"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/config"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/logging"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger; the server builds its own from config
	logger := logging.New("info", "text")

	logger.Info("starting nova",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"oracle_enabled", cfg.OracleEnabled(),
		"max_attempts", cfg.MaxAttempts,
		"raid_threshold", cfg.RaidThreshold,
	)

	// Create and run server
	srv, err := server.New(cfg)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
