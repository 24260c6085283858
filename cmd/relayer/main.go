package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/app"
	"github.com/minted-network/bridge-relay/pkg/config"
)

var configPath = flag.String("config", "config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting mUSD bridge relayer",
		zap.String("config", *configPath),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	if err := app.NewRelay(cfg, logger).Run(); err != nil {
		logger.Fatal("Relayer exited with error", zap.Error(err))
	}
	logger.Info("Relayer stopped")
}
