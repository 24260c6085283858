package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/alert"
	"github.com/minted-network/bridge-relay/pkg/app/httpserver"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/ethereum"
	"github.com/minted-network/bridge-relay/pkg/guard"
	"github.com/minted-network/bridge-relay/pkg/relayer"
	"github.com/minted-network/bridge-relay/pkg/state"
)

// Relay is the bridge relay executable: the five-pipeline engine plus its
// operational HTTP surface.
type Relay struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRelay builds the relay application.
func NewRelay(cfg *config.Config, logger *zap.Logger) *Relay {
	return &Relay{cfg: cfg, logger: logger}
}

// Run wires the services, starts the engine, and serves HTTP until a
// shutdown signal arrives.
func (a *Relay) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger := canton.NewClient(&a.cfg.Canton, a.logger)
	a.logLedgerDiagnostics(ctx, ledger)

	providers, err := ethereum.NewProviderManager(&a.cfg.Ethereum, ethereum.DialEthclient, a.logger)
	if err != nil {
		return fmt.Errorf("connect ethereum providers: %w", err)
	}
	chain, err := ethereum.NewClient(&a.cfg.Ethereum, providers, a.logger)
	if err != nil {
		return fmt.Errorf("build ethereum client: %w", err)
	}
	defer chain.Close()

	store, err := state.Load(a.cfg.State.Path, a.logger)
	if err != nil {
		return fmt.Errorf("load relay state: %w", err)
	}

	notifier := alert.NewNotifier(&a.cfg.Alerting, a.logger)
	g := guard.New(&a.cfg.Guard, chain, a.logger)

	engine := relayer.NewEngine(a.cfg, ledger, chain, store, g, notifier, a.logger)
	engine.Start(ctx)
	defer engine.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler: a.router(ledger, chain, engine),
	}
	return httpserver.ServeAndWait(ctx, a.logger, srv, 30*time.Second)
}

// logLedgerDiagnostics logs the ledger's users and packages on startup.
// Failures are informational; the engine's own calls surface real outages.
func (a *Relay) logLedgerDiagnostics(ctx context.Context, ledger *canton.Client) {
	diagCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if users, err := ledger.ListUsers(diagCtx); err != nil {
		a.logger.Warn("ledger user listing failed", zap.Error(err))
	} else {
		a.logger.Info("ledger users", zap.Int("count", len(users)))
	}
	if packages, err := ledger.ListPackages(diagCtx); err != nil {
		a.logger.Warn("ledger package listing failed", zap.Error(err))
	} else {
		a.logger.Info("ledger packages", zap.Int("count", len(packages)))
	}
}

func (a *Relay) router(ledger *canton.Client, chain *ethereum.Client, engine *relayer.Engine) http.Handler {
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
		if _, err := chain.LatestBlock(req.Context()); err != nil {
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
	r.Get("/api/v1/pipelines", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, engine.Health())
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
