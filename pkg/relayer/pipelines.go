package relayer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/internal/metrics"
	"github.com/minted-network/bridge-relay/pkg/alert"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/ethereum"
	"github.com/minted-network/bridge-relay/pkg/ethereum/contracts"
)

// reconcileEvery is the attestation-cycle stride for the supply
// reconciliation check.
const reconcileEvery = 10

// runAttestations bridges quorum-complete attestation requests from the
// ledger to the bridge contract.
func (e *Engine) runAttestations(ctx context.Context, cycle int) error {
	e.guard.ResetCycle()

	if cycle%reconcileEvery == 0 {
		e.reconcileSupply(ctx)
	}

	service, err := e.bridgeService(ctx)
	if err != nil {
		return err
	}
	if service.Paused {
		e.logger.Warn("ledger bridge service is paused, skipping attestation cycle")
		return nil
	}

	chainPaused, err := chainRead(e, func() (bool, error) { return e.chain.Paused(ctx) })
	if err != nil {
		return fmt.Errorf("check bridge contract pause state: %w", err)
	}
	if chainPaused {
		e.logger.Warn("bridge contract is paused, skipping attestation cycle")
		return nil
	}

	chainNonce, err := chainRead(e, func() (uint64, error) { return e.chain.CurrentNonce(ctx) })
	if err != nil {
		return fmt.Errorf("read chain nonce: %w", err)
	}
	supplyCap, err := chainRead(e, func() (*big.Int, error) { return e.chain.SupplyCap(ctx) })
	if err != nil {
		return fmt.Errorf("read supply cap: %w", err)
	}

	contractsList, err := e.ledger.QueryContracts(ctx, e.cfg.Canton.OperatorParty, e.protoTemplate("AttestationRequest"))
	if err != nil {
		return fmt.Errorf("query attestation requests: %w", err)
	}

	now := time.Now()
	for _, ac := range contractsList {
		var req canton.AttestationRequest
		if err := json.Unmarshal(ac.CreatedEvent.CreateArgument, &req); err != nil {
			e.logger.Error("undecodable attestation request, skipping",
				zap.String("contract_id", ac.CreatedEvent.ContractID),
				zap.Error(err))
			continue
		}

		if e.store.HasAttestation(req.RequestID) {
			continue
		}
		if req.Expired(now) {
			e.logger.Info("attestation request expired, ignoring",
				zap.String("request_id", req.RequestID),
				zap.Time("expires_at", req.ExpiresAt))
			continue
		}
		if !req.QuorumSatisfied(service.RequiredSignatures) {
			continue
		}
		if uint64(req.Nonce) <= chainNonce {
			// Already on chain; a previous run submitted it and the state
			// file missed it. Record so we stop re-checking.
			e.store.MarkAttestation(req.RequestID)
			continue
		}
		if e.nonceLedger.seen(uint64(req.Nonce)) {
			e.logger.Debug("nonce already submitted this run, awaiting confirmation",
				zap.Int64("nonce", req.Nonce))
			continue
		}

		newCapUnits := ethereum.DecimalToUnits(req.NewSupplyCap)
		if e.guard.CapJumpExceeded(ethereum.UnitsToDecimal(supplyCap), req.NewSupplyCap) {
			e.escalate(ctx, "supply_cap_jump", fmt.Sprintf(
				"attestation %s proposes supply cap %s against current %s",
				req.RequestID, req.NewSupplyCap, ethereum.UnitsToDecimal(supplyCap)))
			continue
		}
		if !e.guard.Allow() {
			e.logger.Warn("attestation submission blocked by rate limit",
				zap.String("request_id", req.RequestID))
			continue
		}

		signatures, err := decodeSignatures(req.Signatures)
		if err != nil {
			e.logger.Error("attestation carries undecodable signature, skipping",
				zap.String("request_id", req.RequestID),
				zap.Error(err))
			continue
		}

		key := "attestation:" + req.RequestID
		if !e.inflight.claim(key) {
			continue
		}

		txHash, submitErr := e.submitTx(ctx, func() (common.Hash, error) {
			return e.chain.SubmitAttestation(ctx, uint64(req.Nonce),
				ethereum.DecimalToUnits(req.ClaimedCollateral), newCapUnits,
				req.ExpiresAt, signatures)
		})
		if submitErr != nil {
			e.inflight.release(key)
			e.logger.Error("attestation submission failed",
				zap.String("request_id", req.RequestID),
				zap.Error(submitErr))
			continue
		}

		e.nonceLedger.record(uint64(req.Nonce))
		e.store.MarkAttestation(req.RequestID)
		if err := e.store.Save(); err != nil {
			e.logger.Error("failed to persist relay state", zap.Error(err))
		}
		e.inflight.release(key)
		metrics.AttestationsSubmitted.Inc()

		if _, err := e.ledger.ExerciseChoice(ctx, []string{e.cfg.Canton.OperatorParty},
			e.protoTemplate("AttestationRequest"), ac.CreatedEvent.ContractID,
			"MarkBridged", canton.MarkBridgedArgs{RelayTxHash: txHash.Hex()}); err != nil {
			// The on-chain submission is durable and the state file has the
			// id; the open ledger contract is cosmetic and expires on TTL.
			e.logger.Warn("failed to mark attestation bridged on ledger",
				zap.String("request_id", req.RequestID),
				zap.Error(err))
		}

		e.logger.Info("attestation bridged",
			zap.String("request_id", req.RequestID),
			zap.Int64("nonce", req.Nonce),
			zap.String("tx_hash", txHash.Hex()))
	}
	return nil
}

// runBridgeIn watches BridgeOut events on the chain and completes them on
// the ledger. Each cycle first completes pending ledger requests whose
// mint is authorized by an attestation, then scans for new events and
// creates requests for them; an attested transfer therefore mints one
// cycle after its event is first seen.
func (e *Engine) runBridgeIn(ctx context.Context, cycle int) error {
	service, err := e.bridgeService(ctx)
	if err != nil {
		return err
	}

	pending, err := e.pendingBridgeIns(ctx)
	if err != nil {
		return err
	}

	if service.Paused {
		e.logger.Warn("ledger bridge service is paused, holding bridge-in mints")
	} else if err := e.completeBridgeIns(ctx, pending); err != nil {
		return err
	}

	fromBlock, toBlock, ok, err := e.scanWindow(ctx, PipelineBridgeIn, cycle)
	if err != nil || !ok {
		return err
	}

	events, err := chainRead(e, func() ([]*contracts.BridgeOutEvent, error) {
		return e.chain.FilterBridgeOut(ctx, fromBlock, toBlock)
	})
	if err != nil {
		return fmt.Errorf("scan BridgeOut events: %w", err)
	}

	// A create failure must hold the cursor at the failed event's block so
	// the next incremental scan sees the event again; otherwise only the
	// bounded orphan lookback could recover it.
	advanceTo := toBlock
	for _, ev := range events {
		key := fmt.Sprintf("%s:%d", ev.Raw.TxHash.Hex(), ev.Raw.Index)
		if e.store.HasBridgeOut(key) {
			continue
		}
		if _, exists := pending[key]; exists {
			continue
		}
		if ev.Raw.BlockNumber <= e.store.LastScanned(PipelineBridgeIn) {
			metrics.OrphanEventsRecovered.Inc()
			e.logger.Warn("orphan BridgeOut event recovered by lookback scan",
				zap.String("key", key),
				zap.Uint64("block", ev.Raw.BlockNumber))
		}

		created, err := e.ledger.CreateContract(ctx, []string{e.cfg.Canton.OperatorParty},
			e.protoTemplate("BridgeInRequest"), canton.BridgeInRequest{
				EthTxHash:          ev.Raw.TxHash.Hex(),
				LogIndex:           int64(ev.Raw.Index),
				Nonce:              ev.Nonce.Int64(),
				Amount:             ethereum.UnitsToDecimal(ev.Amount),
				EthSender:          ev.Sender.Hex(),
				Recipient:          ev.CantonRecipient,
				Validators:         service.Validators,
				RequiredSignatures: service.RequiredSignatures,
				Status:             canton.StatusPending,
			})
		if err != nil {
			if held := unprocessedBound(ev.Raw.BlockNumber); held < advanceTo {
				advanceTo = held
			}
			e.logger.Error("failed to create bridge-in request",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		e.logger.Info("bridge-in request created",
			zap.String("key", key),
			zap.String("recipient", ev.CantonRecipient),
			zap.String("update_id", created.UpdateID))
	}

	e.store.SetLastScanned(PipelineBridgeIn, advanceTo)
	if err := e.store.Save(); err != nil {
		e.logger.Error("failed to persist relay state", zap.Error(err))
	}
	return nil
}

// completeBridgeIns mints pending bridge-in requests that carry a
// quorum-complete attestation from their validator set.
func (e *Engine) completeBridgeIns(ctx context.Context, pending map[string]pendingBridgeIn) error {
	if len(pending) == 0 {
		return nil
	}

	attestations, err := e.activeAttestations(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for key, p := range pending {
		if e.store.HasBridgeOut(key) {
			continue
		}
		if !p.req.MintAuthorized(attestations, now) {
			e.logger.Debug("bridge-in awaiting attestation quorum",
				zap.String("key", key),
				zap.Int("required_signatures", p.req.RequiredSignatures))
			continue
		}
		if !e.guard.Allow() {
			e.logger.Warn("bridge-in mint blocked by rate limit",
				zap.String("key", key))
			continue
		}
		if !e.inflight.claim(key) {
			continue
		}
		if _, err := e.ledger.ExerciseChoice(ctx, []string{e.cfg.Canton.OperatorParty},
			e.protoTemplate("BridgeInRequest"), p.contractID,
			"CompleteBridgeIn", nil); err != nil {
			e.inflight.release(key)
			e.logger.Error("failed to complete bridge-in",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		e.store.MarkBridgeOut(key)
		if err := e.store.Save(); err != nil {
			e.logger.Error("failed to persist relay state", zap.Error(err))
		}
		e.inflight.release(key)
		metrics.BridgeInsCompleted.Inc()
		e.logger.Info("bridge-in completed and minted", zap.String("key", key))
	}
	return nil
}

// unprocessedBound is the highest scan position that keeps an unprocessed
// event at the given block inside the next incremental scan.
func unprocessedBound(block uint64) uint64 {
	if block == 0 {
		return 0
	}
	return block - 1
}

// runYield credits YieldBridged events for one pool to the matching ledger
// pool service. Deduplicated by epoch.
func (e *Engine) runYield(ctx context.Context, cycle int, pool string, poolID uint8, direction string) error {
	fromBlock, toBlock, ok, err := e.scanWindow(ctx, direction, cycle)
	if err != nil || !ok {
		return err
	}

	events, err := chainRead(e, func() ([]*contracts.YieldBridgedEvent, error) {
		return e.chain.FilterYieldBridged(ctx, fromBlock, toBlock)
	})
	if err != nil {
		return fmt.Errorf("scan YieldBridged events: %w", err)
	}

	advanceTo := toBlock
	for _, ev := range events {
		if ev.Pool != poolID {
			continue
		}
		epoch := ev.Epoch.Int64()
		if e.store.HasYieldEpoch(pool, epoch) {
			continue
		}

		if !e.guard.Allow() {
			e.logger.Warn("yield credit blocked by rate limit",
				zap.String("pool", pool),
				zap.Int64("epoch", epoch))
			if held := unprocessedBound(ev.Raw.BlockNumber); held < advanceTo {
				advanceTo = held
			}
			continue
		}

		key := fmt.Sprintf("yield:%s:%d", pool, epoch)
		if !e.inflight.claim(key) {
			continue
		}

		amount := ethereum.UnitsToDecimal(ev.Amount)
		if err := e.creditYield(ctx, pool, epoch, amount); err != nil {
			e.inflight.release(key)
			if held := unprocessedBound(ev.Raw.BlockNumber); held < advanceTo {
				advanceTo = held
			}
			e.logger.Error("failed to credit yield epoch",
				zap.String("pool", pool),
				zap.Int64("epoch", epoch),
				zap.Error(err))
			continue
		}

		e.store.MarkYieldEpoch(pool, epoch)
		if err := e.store.Save(); err != nil {
			e.logger.Error("failed to persist relay state", zap.Error(err))
		}
		e.inflight.release(key)
		metrics.YieldEpochsCredited.WithLabelValues(pool).Inc()
		e.logger.Info("yield epoch credited",
			zap.String("pool", pool),
			zap.Int64("epoch", epoch),
			zap.String("amount", amount.String()))
	}

	e.store.SetLastScanned(direction, advanceTo)
	if err := e.store.Save(); err != nil {
		e.logger.Error("failed to persist relay state", zap.Error(err))
	}
	return nil
}

// creditYield mints the bridged amount to the operator, then exercises the
// pool's ReceiveYield choice so its share price reflects the new backing.
func (e *Engine) creditYield(ctx context.Context, pool string, epoch int64, amount decimal.Decimal) error {
	operator := e.cfg.Canton.OperatorParty

	supplyServices, err := e.ledger.QueryContracts(ctx, operator,
		e.ledger.Template(canton.ModuleDirectMint, "SupplyService"))
	if err != nil {
		return fmt.Errorf("query supply service: %w", err)
	}
	if len(supplyServices) == 0 {
		return fmt.Errorf("%w: no SupplyService contract visible to %s", ErrPermanent, operator)
	}

	ref := fmt.Sprintf("yield-%s-%d", pool, epoch)
	if _, err := e.ledger.ExerciseChoice(ctx, []string{operator},
		e.ledger.Template(canton.ModuleDirectMint, "SupplyService"),
		supplyServices[0].CreatedEvent.ContractID,
		"Mint", canton.MintArgs{Recipient: operator, Amount: amount, Ref: ref}); err != nil {
		return fmt.Errorf("mint yield to operator: %w", err)
	}

	module, entity := canton.YieldPoolTemplate(pool)
	pools, err := e.ledger.QueryContracts(ctx, operator, e.ledger.Template(module, entity))
	if err != nil {
		return fmt.Errorf("query %s: %w", entity, err)
	}
	if len(pools) == 0 {
		return fmt.Errorf("%w: no %s contract visible to %s", ErrPermanent, entity, operator)
	}

	if _, err := e.ledger.ExerciseChoice(ctx, []string{operator},
		e.ledger.Template(module, entity), pools[0].CreatedEvent.ContractID,
		"ReceiveYield", canton.ReceiveYieldArgs{Epoch: epoch, Amount: amount}); err != nil {
		return fmt.Errorf("exercise ReceiveYield: %w", err)
	}
	return nil
}

// runRedemptions settles pending ledger redemptions on the chain.
func (e *Engine) runRedemptions(ctx context.Context) error {
	contractsList, err := e.ledger.QueryContracts(ctx, e.cfg.Canton.OperatorParty, e.protoTemplate("RedemptionRequest"))
	if err != nil {
		return fmt.Errorf("query redemption requests: %w", err)
	}

	for _, ac := range contractsList {
		var req canton.RedemptionRequest
		if err := json.Unmarshal(ac.CreatedEvent.CreateArgument, &req); err != nil {
			e.logger.Error("undecodable redemption request, skipping",
				zap.String("contract_id", ac.CreatedEvent.ContractID),
				zap.Error(err))
			continue
		}
		if req.Status != canton.StatusPending {
			continue
		}
		if e.store.HasRedemption(req.RedemptionID) {
			continue
		}

		// The on-chain marker is the durable truth: if a previous run paid
		// out and crashed before persisting, do not pay again.
		settled, err := chainRead(e, func() (bool, error) {
			return e.chain.IsRedemptionSettled(ctx, req.RedemptionID)
		})
		if err != nil {
			return fmt.Errorf("check settlement marker for %s: %w", req.RedemptionID, err)
		}
		if settled {
			e.logger.Warn("redemption already settled on-chain, repairing local state",
				zap.String("redemption_id", req.RedemptionID))
			e.markRedemptionSettled(ctx, ac.CreatedEvent.ContractID, req.RedemptionID, "")
			continue
		}

		if !common.IsHexAddress(req.EthRecipient) {
			e.logger.Error("redemption has invalid recipient address, skipping",
				zap.String("redemption_id", req.RedemptionID),
				zap.String("recipient", req.EthRecipient))
			continue
		}
		if !e.guard.Allow() {
			e.logger.Warn("redemption settlement blocked by rate limit",
				zap.String("redemption_id", req.RedemptionID))
			continue
		}

		key := "redemption:" + req.RedemptionID
		if !e.inflight.claim(key) {
			continue
		}

		txHash, submitErr := e.submitTx(ctx, func() (common.Hash, error) {
			return e.chain.SettleRedemption(ctx, req.RedemptionID,
				common.HexToAddress(req.EthRecipient),
				ethereum.DecimalToUnits(req.Amount))
		})
		if submitErr != nil {
			e.inflight.release(key)
			e.logger.Error("redemption settlement failed",
				zap.String("redemption_id", req.RedemptionID),
				zap.Error(submitErr))
			continue
		}

		// Durable markers before clearing the in-flight claim.
		e.markRedemptionSettled(ctx, ac.CreatedEvent.ContractID, req.RedemptionID, txHash.Hex())
		e.inflight.release(key)
		metrics.RedemptionsSettled.Inc()
		e.logger.Info("redemption settled",
			zap.String("redemption_id", req.RedemptionID),
			zap.String("recipient", req.EthRecipient),
			zap.String("tx_hash", txHash.Hex()))
	}
	return nil
}

func (e *Engine) markRedemptionSettled(ctx context.Context, contractID, redemptionID, txHash string) {
	if _, err := e.ledger.ExerciseChoice(ctx, []string{e.cfg.Canton.OperatorParty},
		e.protoTemplate("RedemptionRequest"), contractID,
		"MarkSettled", canton.MarkSettledArgs{EthTxHash: txHash}); err != nil {
		e.logger.Error("failed to mark redemption settled on ledger",
			zap.String("redemption_id", redemptionID),
			zap.Error(err))
	}
	e.store.MarkRedemption(redemptionID)
	if err := e.store.Save(); err != nil {
		e.logger.Error("failed to persist relay state", zap.Error(err))
	}
}

// reconcileSupply compares the SupplyService's recorded supply against the
// summed active holdings and raises a desync alert on divergence. Best
// effort; a failed check never fails the attestation cycle.
func (e *Engine) reconcileSupply(ctx context.Context) {
	operator := e.cfg.Canton.OperatorParty

	services, err := e.ledger.QueryContracts(ctx, operator,
		e.ledger.Template(canton.ModuleDirectMint, "SupplyService"))
	if err != nil || len(services) == 0 {
		e.logger.Debug("supply reconciliation skipped", zap.Error(err))
		return
	}
	var service canton.SupplyService
	if err := json.Unmarshal(services[0].CreatedEvent.CreateArgument, &service); err != nil {
		e.logger.Warn("undecodable supply service contract", zap.Error(err))
		return
	}

	holdingContracts, err := e.ledger.QueryContracts(ctx, operator,
		e.ledger.Template(canton.ModuleDirectMint, "CantonMUSD"))
	if err != nil {
		e.logger.Debug("supply reconciliation skipped", zap.Error(err))
		return
	}
	holdings := make([]canton.MUSDHolding, 0, len(holdingContracts))
	for _, ac := range holdingContracts {
		var h canton.MUSDHolding
		if json.Unmarshal(ac.CreatedEvent.CreateArgument, &h) == nil {
			holdings = append(holdings, h)
		}
	}

	summed := canton.SumHoldings(holdings)
	diff := service.CurrentSupply.Sub(summed).Abs()
	if diff.GreaterThan(decimal.NewFromFloat(0.01)) {
		e.logger.Warn("supply desync detected",
			zap.String("recorded_supply", service.CurrentSupply.String()),
			zap.String("summed_holdings", summed.String()))
		e.alerts.Notify(ctx, alert.Event{
			Severity: alert.SeverityWarning,
			Kind:     "supply_desync",
			Message: fmt.Sprintf("recorded supply %s diverges from summed holdings %s",
				service.CurrentSupply, summed),
		})
	}
}

// bridgeService fetches the singleton BridgeService contract.
func (e *Engine) bridgeService(ctx context.Context) (*canton.BridgeService, error) {
	services, err := e.ledger.QueryContracts(ctx, e.cfg.Canton.OperatorParty, e.protoTemplate("BridgeService"))
	if err != nil {
		return nil, fmt.Errorf("query bridge service: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: no BridgeService contract visible to %s",
			ErrPermanent, e.cfg.Canton.OperatorParty)
	}

	var service canton.BridgeService
	if err := json.Unmarshal(services[0].CreatedEvent.CreateArgument, &service); err != nil {
		return nil, fmt.Errorf("decode bridge service: %w", err)
	}
	return &service, nil
}

// pendingBridgeIn is a pending ledger request with its contract id.
type pendingBridgeIn struct {
	contractID string
	req        canton.BridgeInRequest
}

// pendingBridgeIns maps dedup keys to pending ledger requests.
func (e *Engine) pendingBridgeIns(ctx context.Context) (map[string]pendingBridgeIn, error) {
	contractsList, err := e.ledger.QueryContracts(ctx, e.cfg.Canton.OperatorParty, e.protoTemplate("BridgeInRequest"))
	if err != nil {
		return nil, fmt.Errorf("query bridge-in requests: %w", err)
	}

	pending := make(map[string]pendingBridgeIn)
	for _, ac := range contractsList {
		var req canton.BridgeInRequest
		if err := json.Unmarshal(ac.CreatedEvent.CreateArgument, &req); err != nil {
			continue
		}
		if req.Status == canton.StatusPending {
			pending[req.DedupKey()] = pendingBridgeIn{
				contractID: ac.CreatedEvent.ContractID,
				req:        req,
			}
		}
	}
	return pending, nil
}

// activeAttestations decodes the operator-visible attestation requests.
func (e *Engine) activeAttestations(ctx context.Context) ([]canton.AttestationRequest, error) {
	contractsList, err := e.ledger.QueryContracts(ctx, e.cfg.Canton.OperatorParty, e.protoTemplate("AttestationRequest"))
	if err != nil {
		return nil, fmt.Errorf("query attestation requests: %w", err)
	}

	requests := make([]canton.AttestationRequest, 0, len(contractsList))
	for _, ac := range contractsList {
		var req canton.AttestationRequest
		if json.Unmarshal(ac.CreatedEvent.CreateArgument, &req) == nil {
			requests = append(requests, req)
		}
	}
	return requests, nil
}

// scanWindow computes the block range for an event-scanning cycle. Every
// OrphanScanEvery cycles the lower bound drops back OrphanScanBlocks to
// recover events missed by provider inconsistency or reorgs; the dedup keys
// make re-seeing an event harmless.
func (e *Engine) scanWindow(ctx context.Context, direction string, cycle int) (fromBlock, toBlock uint64, ok bool, err error) {
	latest, err := chainRead(e, func() (uint64, error) { return e.chain.LatestBlock(ctx) })
	if err != nil {
		return 0, 0, false, fmt.Errorf("get latest block: %w", err)
	}
	if latest < e.cfg.Ethereum.ConfirmationBlocks {
		return 0, 0, false, nil
	}
	toBlock = latest - e.cfg.Ethereum.ConfirmationBlocks

	fromBlock = e.store.LastScanned(direction) + 1
	if fromBlock == 1 && e.cfg.Ethereum.StartBlock > 0 {
		fromBlock = uint64(e.cfg.Ethereum.StartBlock)
	}

	if e.cfg.Relay.OrphanScanEvery > 0 && cycle%e.cfg.Relay.OrphanScanEvery == 0 {
		lookback := uint64(0)
		if toBlock > e.cfg.Relay.OrphanScanBlocks {
			lookback = toBlock - e.cfg.Relay.OrphanScanBlocks
		}
		if lookback < fromBlock {
			e.logger.Info("orphan recovery scan",
				zap.String("pipeline", direction),
				zap.Uint64("from_block", lookback),
				zap.Uint64("to_block", toBlock))
			fromBlock = lookback
		}
	}

	if fromBlock > toBlock {
		return 0, 0, false, nil
	}
	return fromBlock, toBlock, true, nil
}

// submitTx runs a value-moving chain submission. RPC-layer failures rotate
// providers and retry within the cycle; a revert feeds the anomaly detector
// and is never blindly retried.
func (e *Engine) submitTx(ctx context.Context, submit func() (common.Hash, error)) (common.Hash, error) {
	var lastErr error
	attempts := e.cfg.Relay.MaxSubmitRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		txHash, err := submit()
		if err == nil {
			e.chain.RecordRPCSuccess()
			e.guard.RecordSuccess()
			return txHash, nil
		}
		lastErr = err

		if ethereum.IsRevert(err) {
			if e.guard.RecordRevert() {
				e.escalate(ctx, "revert_streak", fmt.Sprintf(
					"%d consecutive on-chain reverts", e.guard.RevertStreak()))
			}
			return common.Hash{}, err
		}

		if switched := e.chain.RecordRPCFailure(err); switched {
			e.logger.Warn("provider switched during submission, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if attempt < attempts-1 {
			e.logger.Warn("submission failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return common.Hash{}, lastErr
}

// chainRead wraps a read-only chain call with provider failure accounting.
func chainRead[T any](e *Engine, call func() (T, error)) (T, error) {
	out, err := call()
	if err != nil {
		e.chain.RecordRPCFailure(err)
		return out, err
	}
	e.chain.RecordRPCSuccess()
	return out, nil
}

// escalate triggers the emergency pause and raises a critical alert.
func (e *Engine) escalate(ctx context.Context, kind, message string) {
	e.alerts.Notify(ctx, alert.Event{
		Severity: alert.SeverityCritical,
		Kind:     kind,
		Message:  message,
	})
	if err := e.guard.TriggerPause(ctx, kind); err != nil {
		e.logger.Error("emergency pause escalation failed",
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// decodeSignatures converts the collected hex signatures to raw bytes.
func decodeSignatures(sigs []canton.ValidatorSignature) ([][]byte, error) {
	out := make([][]byte, 0, len(sigs))
	for _, s := range sigs {
		raw, err := hex.DecodeString(strings.TrimPrefix(s.SignatureHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("signature from %s: %w", s.Validator, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
