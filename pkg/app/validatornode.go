package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/minted-network/bridge-relay/pkg/alert"
	"github.com/minted-network/bridge-relay/pkg/app/httpserver"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/keys"
	"github.com/minted-network/bridge-relay/pkg/registry"
	"github.com/minted-network/bridge-relay/pkg/validator"
	"go.uber.org/zap"
)

// ValidatorNode is the validator executable: the attestation signing loop
// plus its operational HTTP surface.
type ValidatorNode struct {
	cfg    *config.ValidatorConfig
	logger *zap.Logger
}

// NewValidatorNode builds the validator application.
func NewValidatorNode(cfg *config.ValidatorConfig, logger *zap.Logger) *ValidatorNode {
	return &ValidatorNode{cfg: cfg, logger: logger}
}

// Run wires the services, starts the node, and serves HTTP until a
// shutdown signal arrives.
func (a *ValidatorNode) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger := canton.NewClient(&a.cfg.Canton, a.logger)

	var reg validator.RegistryClient
	if a.cfg.Verify.Mode == validator.ModeRegistry {
		reg = registry.NewClient(&a.cfg.Registry, a.logger)
	}
	verifier, err := validator.NewVerifier(a.cfg, ledger, reg, a.logger)
	if err != nil {
		return fmt.Errorf("build verifier: %w", err)
	}

	signer, err := keys.NewSigner(&a.cfg.Signer, a.logger)
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}

	notifier := alert.NewNotifier(&a.cfg.Alerting, a.logger)
	node := validator.NewNode(a.cfg, ledger, verifier, signer, notifier, a.logger)
	node.Start(ctx)
	defer node.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler: a.router(ledger, node),
	}
	return httpserver.ServeAndWait(ctx, a.logger, srv, 30*time.Second)
}

func (a *ValidatorNode) router(ledger *canton.Client, node *validator.Node) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		if _, err := ledger.GetLedgerEnd(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready", "error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if a.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, node.Status())
	})
	return r
}
