package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/app"
	"github.com/minted-network/bridge-relay/pkg/config"
)

var configPath = flag.String("config", "validator.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.LoadValidator(*configPath)
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

	logger.Info("Starting mUSD attestation validator",
		zap.String("config", *configPath),
		zap.String("party", cfg.Canton.ValidatorParty),
		zap.String("verify_mode", cfg.Verify.Mode))

	if err := app.NewValidatorNode(cfg, logger).Run(); err != nil {
		logger.Fatal("Validator exited with error", zap.Error(err))
	}
	logger.Info("Validator stopped")
}
