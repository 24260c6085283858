package relayer

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/alert"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/ethereum/contracts"
	"github.com/minted-network/bridge-relay/pkg/guard"
	"github.com/minted-network/bridge-relay/pkg/state"
)

type exerciseCall struct {
	template   canton.TemplateID
	contractID string
	choice     string
	args       any
}

type createCall struct {
	template canton.TemplateID
	payload  any
}

type fakeLedger struct {
	mu        sync.Mutex
	queryFn   func(party string, template canton.TemplateID) ([]canton.ActiveContract, error)
	exercises []exerciseCall
	creates   []createCall

	createErr   error
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

func (f *fakeLedger) CreateContract(_ context.Context, _ []string, template canton.TemplateID, payload any) (*canton.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates = append(f.creates, createCall{template: template, payload: payload})
	return &canton.SubmitResult{UpdateID: "update-1"}, nil
}

func (f *fakeLedger) ExerciseChoice(_ context.Context, _ []string, template canton.TemplateID, contractID, choice string, args any) (*canton.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exerciseErr != nil {
		return nil, f.exerciseErr
	}
	f.exercises = append(f.exercises, exerciseCall{
		template: template, contractID: contractID, choice: choice, args: args,
	})
	return &canton.SubmitResult{UpdateID: "update-2"}, nil
}

func (f *fakeLedger) exercised(choice string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.exercises {
		if c.choice == choice {
			n++
		}
	}
	return n
}

type fakeChain struct {
	mu sync.Mutex

	latestBlock  uint64
	currentNonce uint64
	supplyCap    *big.Int
	paused       bool
	hasRole      bool
	settled      map[string]bool

	submitFn func(nonce uint64) (common.Hash, error)
	settleFn func(redemptionID string) (common.Hash, error)

	bridgeOutEvents []*contracts.BridgeOutEvent
	yieldEvents     []*contracts.YieldBridgedEvent

	submitCalls  int
	settleCalls  int
	pauseCalls   int
	filterCalls  int
	lastFrom uint64
}

func (f *fakeChain) LatestBlock(context.Context) (uint64, error)  { return f.latestBlock, nil }
func (f *fakeChain) CurrentNonce(context.Context) (uint64, error) { return f.currentNonce, nil }

func (f *fakeChain) SupplyCap(context.Context) (*big.Int, error) {
	if f.supplyCap == nil {
		return big.NewInt(0), nil
	}
	return f.supplyCap, nil
}

func (f *fakeChain) Paused(context.Context) (bool, error) { return f.paused, nil }

func (f *fakeChain) IsRedemptionSettled(_ context.Context, id string) (bool, error) {
	return f.settled[id], nil
}

func (f *fakeChain) SubmitAttestation(_ context.Context, nonce uint64, _, _ *big.Int, _ time.Time, _ [][]byte) (common.Hash, error) {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(nonce)
	}
	return common.HexToHash("0xaa"), nil
}

func (f *fakeChain) SettleRedemption(_ context.Context, id string, _ common.Address, _ *big.Int) (common.Hash, error) {
	f.mu.Lock()
	f.settleCalls++
	f.mu.Unlock()
	if f.settleFn != nil {
		return f.settleFn(id)
	}
	return common.HexToHash("0xbb"), nil
}

func (f *fakeChain) FilterBridgeOut(_ context.Context, fromBlock, _ uint64) ([]*contracts.BridgeOutEvent, error) {
	f.mu.Lock()
	f.filterCalls++
	f.lastFrom = fromBlock
	f.mu.Unlock()
	return f.bridgeOutEvents, nil
}

func (f *fakeChain) FilterYieldBridged(_ context.Context, fromBlock, _ uint64) ([]*contracts.YieldBridgedEvent, error) {
	f.mu.Lock()
	f.filterCalls++
	f.lastFrom = fromBlock
	f.mu.Unlock()
	return f.yieldEvents, nil
}

func (f *fakeChain) HasPauserRole(context.Context) (bool, error) { return f.hasRole, nil }

func (f *fakeChain) EmergencyPause(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return "0xdead", nil
}

func (f *fakeChain) RecordRPCFailure(error) bool { return false }
func (f *fakeChain) RecordRPCSuccess()           {}

type recordingNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (n *recordingNotifier) Notify(_ context.Context, event alert.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func testConfig() *config.Config {
	return &config.Config{
		Canton: config.CantonConfig{
			APIURL:         "http://localhost:7575",
			UserID:         "relay",
			OperatorParty:  "minted-operator",
			ValidatorParty: "minted-validator-1",
			ProtocolModule: "Minted.Protocol.V3",
		},
		Ethereum: config.EthereumConfig{
			ConfirmationBlocks: 12,
		},
		Relay: config.RelayConfig{
			PollInterval:         10 * time.Millisecond,
			DegradedPollInterval: 20 * time.Millisecond,
			FailedPollInterval:   30 * time.Millisecond,
			DegradedThreshold:    3,
			MaxSubmitRetries:     2,
			OrphanScanEvery:      20,
			OrphanScanBlocks:     500,
		},
		Guard: config.GuardConfig{
			SubmissionWindow: time.Hour,
			MaxPerWindow:     100,
			MaxCapJumpPct:    10.0,
			MaxConsecReverts: 5,
		},
	}
}

func newTestEngine(t *testing.T, ledger *fakeLedger, chain *fakeChain) (*Engine, *recordingNotifier) {
	t.Helper()
	return newTestEngineCfg(t, testConfig(), ledger, chain)
}

func newTestEngineCfg(t *testing.T, cfg *config.Config, ledger *fakeLedger, chain *fakeChain) (*Engine, *recordingNotifier) {
	t.Helper()

	store, err := state.Load(t.TempDir()+"/relay-state.json", zap.NewNop())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	notifier := &recordingNotifier{}
	g := guard.New(&cfg.Guard, chain, zap.NewNop())
	return NewEngine(cfg, ledger, chain, store, g, notifier, zap.NewNop()), notifier
}

func contractOf(t *testing.T, entity string, payload any) canton.ActiveContract {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return canton.ActiveContract{CreatedEvent: canton.CreatedEvent{
		ContractID:     "cid-" + entity,
		TemplateID:     "pkg:Minted.Protocol.V3:" + entity,
		CreateArgument: raw,
	}}
}
