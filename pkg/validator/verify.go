package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/internal/metrics"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/registry"
)

// Verification modes.
const (
	ModeLedger   = "ledger"
	ModeRegistry = "registry"
)

// RejectionError carries the machine-readable reason an attestation request
// failed verification. A rejection is a verdict, not a transport failure.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("attestation rejected (%s): %s", e.Reason, e.Detail)
}

// Rejection reasons.
const (
	ReasonItemizedMismatch       = "itemized_mismatch"
	ReasonInsufficientCollateral = "insufficient_collateral"
	ReasonAssetMissing           = "asset_missing"
	ReasonAssetDeviation         = "asset_deviation"
	ReasonAggregateDeviation     = "aggregate_deviation"
	ReasonStateHashUnconfirmed   = "state_hash_unconfirmed"
)

func reject(reason, format string, args ...any) error {
	metrics.VerificationRejects.WithLabelValues(reason).Inc()
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a verification verdict rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// RegistryClient is the slice of the asset-registry API the verifier uses.
type RegistryClient interface {
	GetSnapshot(ctx context.Context) (*registry.Snapshot, error)
	GetAsset(ctx context.Context, assetID string) (*registry.AssetPosition, error)
}

// Verifier checks an attestation request's claimed collateral against an
// independent source of truth before the node signs it.
type Verifier struct {
	mode     string
	ledger   LedgerGateway
	registry RegistryClient
	party    string
	module   string
	logger   *zap.Logger

	tolerancePct decimal.Decimal
	toleranceCap decimal.Decimal
}

// NewVerifier builds a verifier for the configured mode.
func NewVerifier(cfg *config.ValidatorConfig, ledger LedgerGateway, reg RegistryClient, logger *zap.Logger) (*Verifier, error) {
	pct, err := canton.ParseDecimal(cfg.Verify.TolerancePct)
	if err != nil {
		return nil, fmt.Errorf("parse tolerance_pct: %w", err)
	}
	capAbs, err := canton.ParseDecimal(cfg.Verify.ToleranceCapAbs)
	if err != nil {
		return nil, fmt.Errorf("parse tolerance_cap_abs: %w", err)
	}
	if cfg.Verify.Mode == ModeRegistry && reg == nil {
		return nil, fmt.Errorf("registry verification mode requires a registry client")
	}

	return &Verifier{
		mode:         cfg.Verify.Mode,
		ledger:       ledger,
		registry:     reg,
		party:        cfg.Canton.ValidatorParty,
		module:       cfg.Canton.ProtocolModule,
		logger:       logger,
		tolerancePct: pct,
		toleranceCap: capAbs,
	}, nil
}

// tolerance returns the acceptable absolute deviation for a claimed amount:
// a percentage of the claim, capped at a fixed absolute bound.
func (v *Verifier) tolerance(claimed decimal.Decimal) decimal.Decimal {
	pct := claimed.Abs().Mul(v.tolerancePct).Div(decimal.NewFromInt(100))
	if pct.GreaterThan(v.toleranceCap) {
		return v.toleranceCap
	}
	return pct
}

// Verify checks the request. A nil return means the node may sign. A
// RejectionError means the claim failed verification; any other error is a
// transport failure and the request should be retried next cycle.
func (v *Verifier) Verify(ctx context.Context, req *canton.AttestationRequest) error {
	itemized := canton.SumAssets(req.Assets)
	if !itemized.Equal(req.ClaimedCollateral) {
		return reject(ReasonItemizedMismatch, "itemized assets sum to %s, claimed %s",
			itemized, req.ClaimedCollateral)
	}
	if req.ClaimedCollateral.LessThan(req.NewSupplyCap) {
		return reject(ReasonInsufficientCollateral, "collateral %s below requested cap %s",
			req.ClaimedCollateral, req.NewSupplyCap)
	}

	if v.mode == ModeRegistry {
		return v.verifyAgainstRegistry(ctx, req)
	}
	return v.verifyAgainstLedger(ctx, req)
}

// verifyAgainstLedger sums the participant's own active mUSD holdings,
// de-duplicated by ref, as the independent aggregate.
func (v *Verifier) verifyAgainstLedger(ctx context.Context, req *canton.AttestationRequest) error {
	contracts, err := v.ledger.QueryContracts(ctx, v.party,
		v.ledger.Template(canton.ModuleDirectMint, "CantonMUSD"))
	if err != nil {
		return fmt.Errorf("query holdings: %w", err)
	}

	holdings := make([]canton.MUSDHolding, 0, len(contracts))
	for _, ac := range contracts {
		var h canton.MUSDHolding
		if err := json.Unmarshal(ac.CreatedEvent.CreateArgument, &h); err != nil {
			v.logger.Warn("undecodable holding contract, ignoring",
				zap.String("contract_id", ac.CreatedEvent.ContractID),
				zap.Error(err))
			continue
		}
		holdings = append(holdings, h)
	}

	observed := canton.SumHoldings(holdings)
	deviation := req.ClaimedCollateral.Sub(observed).Abs()
	if deviation.GreaterThan(v.tolerance(req.ClaimedCollateral)) {
		return reject(ReasonAggregateDeviation, "claimed %s deviates from ledger holdings %s by %s",
			req.ClaimedCollateral, observed, deviation)
	}
	return nil
}

// verifyAgainstRegistry checks every claimed asset against the registry
// snapshot and confirms its state hash.
func (v *Verifier) verifyAgainstRegistry(ctx context.Context, req *canton.AttestationRequest) error {
	snap, err := v.registry.GetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("fetch registry snapshot: %w", err)
	}
	if snap.StateHash == "" {
		return reject(ReasonStateHashUnconfirmed, "registry snapshot carries no state hash")
	}

	positions := make(map[string]registry.AssetPosition, len(snap.Assets))
	for _, pos := range snap.Assets {
		positions[pos.AssetID] = pos
	}

	for _, asset := range req.Assets {
		pos, ok := positions[asset.AssetID]
		if !ok {
			return reject(ReasonAssetMissing, "asset %s not present in registry snapshot", asset.AssetID)
		}
		if pos.StateHash != "" && pos.StateHash != snap.StateHash {
			return reject(ReasonStateHashUnconfirmed, "asset %s state hash %s does not match snapshot %s",
				asset.AssetID, pos.StateHash, snap.StateHash)
		}
		deviation := asset.Amount.Sub(pos.Amount).Abs()
		if deviation.GreaterThan(v.tolerance(asset.Amount)) {
			return reject(ReasonAssetDeviation, "asset %s claimed %s, registry reports %s",
				asset.AssetID, asset.Amount, pos.Amount)
		}
	}

	deviation := req.ClaimedCollateral.Sub(snap.Total).Abs()
	if deviation.GreaterThan(v.tolerance(req.ClaimedCollateral)) {
		return reject(ReasonAggregateDeviation, "claimed %s deviates from registry total %s by %s",
			req.ClaimedCollateral, snap.Total, deviation)
	}
	return nil
}
