package validator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/registry"
)

type fakeLedger struct {
	mu        sync.Mutex
	queryFn   func(party string, template canton.TemplateID) ([]canton.ActiveContract, error)
	exercises []struct {
		contractID string
		choice     string
		args       any
	}
	exerciseErr error
}

func (f *fakeLedger) Template(module, entity string) canton.TemplateID {
	return canton.TemplateID{ModuleName: module, EntityName: entity}
}

func (f *fakeLedger) QueryContracts(_ context.Context, party string, template canton.TemplateID) ([]canton.ActiveContract, error) {
	if f.queryFn != nil {
		return f.queryFn(party, template)
	}
	return nil, nil
}

func (f *fakeLedger) ExerciseChoice(_ context.Context, _ []string, _ canton.TemplateID, contractID, choice string, args any) (*canton.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exerciseErr != nil {
		return nil, f.exerciseErr
	}
	f.exercises = append(f.exercises, struct {
		contractID string
		choice     string
		args       any
	}{contractID, choice, args})
	return &canton.SubmitResult{UpdateID: "update-1"}, nil
}

type fakeRegistry struct {
	snapshotFn func() (*registry.Snapshot, error)
	assetFn    func(id string) (*registry.AssetPosition, error)
}

func (f *fakeRegistry) GetSnapshot(context.Context) (*registry.Snapshot, error) {
	return f.snapshotFn()
}

func (f *fakeRegistry) GetAsset(_ context.Context, id string) (*registry.AssetPosition, error) {
	return f.assetFn(id)
}

func validatorConfig(mode string) *config.ValidatorConfig {
	return &config.ValidatorConfig{
		Canton: config.CantonConfig{
			ValidatorParty:  "minted-validator-1",
			OperatorParty:   "minted-operator",
			ProtocolModule:  "Minted.Protocol.V3",
			PollingInterval: 10 * time.Millisecond,
		},
		Verify: config.VerifyConfig{
			Mode:            mode,
			TolerancePct:    "0.1",
			ToleranceCapAbs: "100000",
		},
	}
}

func treasuryAsset(id string, amount int64) canton.AttestedAsset {
	return canton.AttestedAsset{
		AssetID: id,
		Kind:    canton.AssetKindTreasury,
		Amount:  decimal.NewFromInt(amount),
		ExtraFields: map[string]string{
			"custodian": "BNY Mellon",
			"cusip":     "912828YK0",
		},
	}
}

func verifiableRequest() canton.AttestationRequest {
	return canton.AttestationRequest{
		RequestID:         "req-1",
		Nonce:             5,
		ClaimedCollateral: decimal.NewFromInt(1_000_000),
		NewSupplyCap:      decimal.NewFromInt(950_000),
		Assets: []canton.AttestedAsset{
			treasuryAsset("ust-1", 600_000),
			treasuryAsset("ust-2", 400_000),
		},
		ExpiresAt:  time.Now().Add(time.Hour),
		Validators: []string{"minted-validator-1"},
	}
}

func holdingsLedger(t *testing.T, holdings ...canton.MUSDHolding) *fakeLedger {
	t.Helper()
	ledger := &fakeLedger{}
	ledger.queryFn = func(_ string, template canton.TemplateID) ([]canton.ActiveContract, error) {
		if template.EntityName != "CantonMUSD" {
			return nil, nil
		}
		out := make([]canton.ActiveContract, 0, len(holdings))
		for i, h := range holdings {
			raw, err := json.Marshal(h)
			require.NoError(t, err)
			out = append(out, canton.ActiveContract{CreatedEvent: canton.CreatedEvent{
				ContractID:     "cid-holding-" + h.Ref + string(rune('a'+i)),
				CreateArgument: raw,
			}})
		}
		return out, nil
	}
	return ledger
}

func TestVerifyLedgerModeAcceptsWithinTolerance(t *testing.T) {
	// 0.1% of 1,000,000 = 1,000; a 500 deviation passes.
	ledger := holdingsLedger(t,
		canton.MUSDHolding{Owner: "alice", Amount: decimal.NewFromInt(999_500), Ref: "h-1"},
	)
	v, err := NewVerifier(validatorConfig(ModeLedger), ledger, nil, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	assert.NoError(t, v.Verify(context.Background(), &req))
}

func TestVerifyLedgerModeDeduplicatesByRef(t *testing.T) {
	// The same holding visible twice must count once.
	ledger := holdingsLedger(t,
		canton.MUSDHolding{Owner: "alice", Amount: decimal.NewFromInt(1_000_000), Ref: "h-1"},
		canton.MUSDHolding{Owner: "alice", Amount: decimal.NewFromInt(1_000_000), Ref: "h-1"},
	)
	v, err := NewVerifier(validatorConfig(ModeLedger), ledger, nil, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	assert.NoError(t, v.Verify(context.Background(), &req))
}

func TestVerifyLedgerModeRejectsAggregateDeviation(t *testing.T) {
	ledger := holdingsLedger(t,
		canton.MUSDHolding{Owner: "alice", Amount: decimal.NewFromInt(900_000), Ref: "h-1"},
	)
	v, err := NewVerifier(validatorConfig(ModeLedger), ledger, nil, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	err = v.Verify(context.Background(), &req)
	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.Contains(t, err.Error(), ReasonAggregateDeviation)
}

func TestVerifyRejectsItemizedMismatch(t *testing.T) {
	ledger := holdingsLedger(t)
	v, err := NewVerifier(validatorConfig(ModeLedger), ledger, nil, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	req.Assets = req.Assets[:1] // items now sum to 600,000, claim says 1,000,000

	err = v.Verify(context.Background(), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonItemizedMismatch)
}

func TestVerifyRejectsInsufficientCollateral(t *testing.T) {
	ledger := holdingsLedger(t)
	v, err := NewVerifier(validatorConfig(ModeLedger), ledger, nil, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	req.NewSupplyCap = decimal.NewFromInt(1_000_001)

	err = v.Verify(context.Background(), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonInsufficientCollateral)
}

func TestToleranceIsCappedAbsolutely(t *testing.T) {
	// 0.1% of 200,000,000 is 200,000, but the absolute cap is 100,000: a
	// 150,000 deviation must be rejected despite passing the percentage.
	ledger := holdingsLedger(t,
		canton.MUSDHolding{Owner: "alice", Amount: decimal.NewFromInt(199_850_000), Ref: "h-1"},
	)
	v, err := NewVerifier(validatorConfig(ModeLedger), ledger, nil, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	req.ClaimedCollateral = decimal.NewFromInt(200_000_000)
	req.NewSupplyCap = decimal.NewFromInt(190_000_000)
	req.Assets = []canton.AttestedAsset{treasuryAsset("ust-1", 200_000_000)}

	err = v.Verify(context.Background(), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonAggregateDeviation)
}

func registrySnapshot() *registry.Snapshot {
	return &registry.Snapshot{
		Assets: []registry.AssetPosition{
			{AssetID: "ust-1", Amount: decimal.NewFromInt(600_000), StateHash: "hash-1"},
			{AssetID: "ust-2", Amount: decimal.NewFromInt(400_000), StateHash: "hash-1"},
		},
		Total:     decimal.NewFromInt(1_000_000),
		StateHash: "hash-1",
		AsOf:      time.Now(),
	}
}

func TestVerifyRegistryModeAccepts(t *testing.T) {
	reg := &fakeRegistry{snapshotFn: func() (*registry.Snapshot, error) { return registrySnapshot(), nil }}
	v, err := NewVerifier(validatorConfig(ModeRegistry), &fakeLedger{}, reg, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	assert.NoError(t, v.Verify(context.Background(), &req))
}

func TestVerifyRegistryModeRejectsMissingAsset(t *testing.T) {
	snap := registrySnapshot()
	snap.Assets = snap.Assets[:1]
	reg := &fakeRegistry{snapshotFn: func() (*registry.Snapshot, error) { return snap, nil }}
	v, err := NewVerifier(validatorConfig(ModeRegistry), &fakeLedger{}, reg, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	err = v.Verify(context.Background(), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonAssetMissing)
}

func TestVerifyRegistryModeRejectsAssetDeviation(t *testing.T) {
	snap := registrySnapshot()
	snap.Assets[0].Amount = decimal.NewFromInt(500_000)
	reg := &fakeRegistry{snapshotFn: func() (*registry.Snapshot, error) { return snap, nil }}
	v, err := NewVerifier(validatorConfig(ModeRegistry), &fakeLedger{}, reg, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	err = v.Verify(context.Background(), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonAssetDeviation)
}

func TestVerifyRegistryModeRejectsUnconfirmedStateHash(t *testing.T) {
	snap := registrySnapshot()
	snap.StateHash = ""
	reg := &fakeRegistry{snapshotFn: func() (*registry.Snapshot, error) { return snap, nil }}
	v, err := NewVerifier(validatorConfig(ModeRegistry), &fakeLedger{}, reg, zap.NewNop())
	require.NoError(t, err)

	req := verifiableRequest()
	err = v.Verify(context.Background(), &req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ReasonStateHashUnconfirmed)
}

func TestVerifyRegistryModeRequiresClient(t *testing.T) {
	_, err := NewVerifier(validatorConfig(ModeRegistry), &fakeLedger{}, nil, zap.NewNop())
	assert.Error(t, err)
}
