// Package relayer implements the bridge relay engine: five directional
// pipelines that move attestations, transfers, yield, and redemptions
// between the Canton ledger and the Ethereum bridge contract.
package relayer

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/internal/metrics"
	"github.com/minted-network/bridge-relay/pkg/alert"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/ethereum/contracts"
	"github.com/minted-network/bridge-relay/pkg/guard"
	"github.com/minted-network/bridge-relay/pkg/state"
)

// Pipeline names, used as health labels and scan-position keys.
const (
	PipelineAttestations = "attestations"
	PipelineBridgeIn     = "bridge_in"
	PipelineYieldStaking = "yield_staking"
	PipelineYieldBoost   = "yield_boost"
	PipelineRedemptions  = "redemptions"
)

// LedgerGateway is the slice of the Canton client the engine uses.
type LedgerGateway interface {
	Template(module, entity string) canton.TemplateID
	QueryContracts(ctx context.Context, party string, template canton.TemplateID) ([]canton.ActiveContract, error)
	CreateContract(ctx context.Context, actAs []string, template canton.TemplateID, payload any) (*canton.SubmitResult, error)
	ExerciseChoice(ctx context.Context, actAs []string, template canton.TemplateID, contractID, choice string, args any) (*canton.SubmitResult, error)
}

// ChainClient is the slice of the Ethereum client the engine uses.
type ChainClient interface {
	LatestBlock(ctx context.Context) (uint64, error)
	CurrentNonce(ctx context.Context) (uint64, error)
	SupplyCap(ctx context.Context) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
	IsRedemptionSettled(ctx context.Context, redemptionID string) (bool, error)
	SubmitAttestation(ctx context.Context, nonce uint64, collateral, newSupplyCap *big.Int, expiresAt time.Time, signatures [][]byte) (common.Hash, error)
	SettleRedemption(ctx context.Context, redemptionID string, recipient common.Address, amount *big.Int) (common.Hash, error)
	FilterBridgeOut(ctx context.Context, fromBlock, toBlock uint64) ([]*contracts.BridgeOutEvent, error)
	FilterYieldBridged(ctx context.Context, fromBlock, toBlock uint64) ([]*contracts.YieldBridgedEvent, error)
	HasPauserRole(ctx context.Context) (bool, error)
	EmergencyPause(ctx context.Context) (string, error)
	RecordRPCFailure(err error) bool
	RecordRPCSuccess()
}

// Engine orchestrates the directional pipelines.
type Engine struct {
	cfg    *config.Config
	ledger LedgerGateway
	chain  ChainClient
	store  *state.Store
	guard  *guard.Guard
	alerts alert.Notifier
	logger *zap.Logger

	inflight    *inflightSet
	nonceLedger *nonceLedger
	health      map[string]*DirectionHealth

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine wires the engine's pipelines over the shared services.
func NewEngine(cfg *config.Config, ledger LedgerGateway, chain ChainClient, store *state.Store, g *guard.Guard, alerts alert.Notifier, logger *zap.Logger) *Engine {
	health := make(map[string]*DirectionHealth)
	for _, p := range []string{
		PipelineAttestations, PipelineBridgeIn,
		PipelineYieldStaking, PipelineYieldBoost, PipelineRedemptions,
	} {
		health[p] = NewDirectionHealth(p, &cfg.Relay)
	}

	return &Engine{
		cfg:         cfg,
		ledger:      ledger,
		chain:       chain,
		store:       store,
		guard:       g,
		alerts:      alerts,
		logger:      logger,
		inflight:    newInflightSet(),
		nonceLedger: newNonceLedger(),
		health:      health,
		stopCh:      make(chan struct{}),
	}
}

// Start launches one polling goroutine per pipeline.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("relay engine starting",
		zap.Duration("poll_interval", e.cfg.Relay.PollInterval),
		zap.Int("orphan_scan_every", e.cfg.Relay.OrphanScanEvery))

	e.runPipeline(ctx, PipelineAttestations, e.runAttestations)
	e.runPipeline(ctx, PipelineBridgeIn, e.runBridgeIn)
	e.runPipeline(ctx, PipelineYieldStaking, func(ctx context.Context, cycle int) error {
		return e.runYield(ctx, cycle, state.PoolStaking, contracts.YieldPoolStaking, PipelineYieldStaking)
	})
	e.runPipeline(ctx, PipelineYieldBoost, func(ctx context.Context, cycle int) error {
		return e.runYield(ctx, cycle, state.PoolBoost, contracts.YieldPoolBoost, PipelineYieldBoost)
	})
	e.runPipeline(ctx, PipelineRedemptions, func(ctx context.Context, _ int) error {
		return e.runRedemptions(ctx)
	})
}

// Stop signals every pipeline and waits for them to drain.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	if err := e.store.Save(); err != nil {
		e.logger.Error("failed to save relay state on shutdown", zap.Error(err))
	}
	e.logger.Info("relay engine stopped")
}

// Health returns the status of every pipeline.
func (e *Engine) Health() []HealthSnapshot {
	snaps := make([]HealthSnapshot, 0, len(e.health))
	for _, p := range []string{
		PipelineAttestations, PipelineBridgeIn,
		PipelineYieldStaking, PipelineYieldBoost, PipelineRedemptions,
	} {
		snaps = append(snaps, e.health[p].Snapshot())
	}
	return snaps
}

func (e *Engine) runPipeline(ctx context.Context, name string, run func(ctx context.Context, cycle int) error) {
	health := e.health[name]

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		cycle := 0
		for {
			cycle++
			err := run(ctx, cycle)
			health.Record(err)

			result := "ok"
			if err != nil {
				result = "error"
				e.logger.Warn("pipeline cycle failed",
					zap.String("pipeline", name),
					zap.Int("cycle", cycle),
					zap.String("health", health.State().String()),
					zap.Error(err))
			}
			metrics.PipelineCycles.WithLabelValues(name, result).Inc()

			select {
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(health.PollInterval()):
			}
		}
	}()
}

// protoTemplate builds a template id in the configured protocol module.
func (e *Engine) protoTemplate(entity string) canton.TemplateID {
	return e.ledger.Template(e.cfg.Canton.ProtocolModule, entity)
}

// inflightSet is the engine-wide set of work keys with an async completion
// call outstanding. A key is claimed before the call is issued and released
// when the call resolves, so a racing retry can never start a second
// completion for the same work.
type inflightSet struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newInflightSet() *inflightSet {
	return &inflightSet{keys: make(map[string]bool)}
}

// claim returns false if the key is already in flight.
func (s *inflightSet) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false
	}
	s.keys[key] = true
	return true
}

func (s *inflightSet) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

// nonceLedger records the destination-chain attestation nonces submitted in
// this run, so a slow confirmation is not retried into a duplicate
// submission.
type nonceLedger struct {
	mu     sync.Mutex
	nonces map[uint64]bool
}

func newNonceLedger() *nonceLedger {
	return &nonceLedger{nonces: make(map[uint64]bool)}
}

func (n *nonceLedger) seen(nonce uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonces[nonce]
}

func (n *nonceLedger) record(nonce uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonces[nonce] = true
}
