// Package validator implements the attestation validator node: it watches
// active attestation requests, independently verifies the claimed
// collateral, and submits recoverable signatures for requests that pass.
package validator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/internal/metrics"
	"github.com/minted-network/bridge-relay/pkg/alert"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/ethereum"
	"github.com/minted-network/bridge-relay/pkg/keys"
	"github.com/minted-network/bridge-relay/pkg/sigcodec"
)

// LedgerGateway is the slice of the Canton client the node uses.
type LedgerGateway interface {
	Template(module, entity string) canton.TemplateID
	QueryContracts(ctx context.Context, party string, template canton.TemplateID) ([]canton.ActiveContract, error)
	ExerciseChoice(ctx context.Context, actAs []string, template canton.TemplateID, contractID, choice string, args any) (*canton.SubmitResult, error)
}

// signedCacheLimit bounds the signed-request cache. Old entries evict
// oldest-first; the on-ledger signature list remains the backstop for
// anything evicted.
const signedCacheLimit = 10_000

// Node polls attestation requests and signs the ones that verify.
type Node struct {
	cfg      *config.ValidatorConfig
	ledger   LedgerGateway
	verifier *Verifier
	signer   keys.Signer
	alerts   alert.Notifier
	logger   *zap.Logger

	signed *signedCache

	mu       sync.Mutex
	lastErr  error
	lastRun  time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewNode wires a validator node over the shared services.
func NewNode(cfg *config.ValidatorConfig, ledger LedgerGateway, verifier *Verifier, signer keys.Signer, alerts alert.Notifier, logger *zap.Logger) *Node {
	return &Node{
		cfg:      cfg,
		ledger:   ledger,
		verifier: verifier,
		signer:   signer,
		alerts:   alerts,
		logger:   logger,
		signed:   newSignedCache(signedCacheLimit),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (n *Node) Start(ctx context.Context) {
	n.logger.Info("validator node starting",
		zap.String("party", n.cfg.Canton.ValidatorParty),
		zap.String("verify_mode", n.cfg.Verify.Mode),
		zap.String("signer", n.signer.Address().Hex()))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			err := n.runCycle(ctx)
			n.mu.Lock()
			n.lastErr = err
			n.lastRun = time.Now()
			n.mu.Unlock()
			if err != nil {
				n.logger.Warn("validator cycle failed", zap.Error(err))
			}

			select {
			case <-n.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(n.cfg.Canton.PollingInterval):
			}
		}
	}()
}

// Stop signals the loop and waits for it to drain.
func (n *Node) Stop() {
	close(n.stopCh)
	n.wg.Wait()
	n.logger.Info("validator node stopped")
}

// Status reports the node's last cycle outcome for the status API.
type Status struct {
	Party      string    `json:"party"`
	Signer     string    `json:"signer"`
	VerifyMode string    `json:"verify_mode"`
	LastRun    time.Time `json:"last_run"`
	LastError  string    `json:"last_error,omitempty"`
	CacheSize  int       `json:"signed_cache_size"`
}

// Status returns the current node status.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := Status{
		Party:      n.cfg.Canton.ValidatorParty,
		Signer:     n.signer.Address().Hex(),
		VerifyMode: n.cfg.Verify.Mode,
		LastRun:    n.lastRun,
		CacheSize:  n.signed.size(),
	}
	if n.lastErr != nil {
		s.LastError = n.lastErr.Error()
	}
	return s
}

// runCycle handles one polling pass over active attestation requests.
func (n *Node) runCycle(ctx context.Context) error {
	party := n.cfg.Canton.ValidatorParty
	template := n.ledger.Template(n.cfg.Canton.ProtocolModule, "AttestationRequest")

	contracts, err := n.ledger.QueryContracts(ctx, party, template)
	if err != nil {
		return fmt.Errorf("query attestation requests: %w", err)
	}

	now := time.Now()
	for _, ac := range contracts {
		var req canton.AttestationRequest
		if err := json.Unmarshal(ac.CreatedEvent.CreateArgument, &req); err != nil {
			n.logger.Error("undecodable attestation request, skipping",
				zap.String("contract_id", ac.CreatedEvent.ContractID),
				zap.Error(err))
			continue
		}

		if !req.Eligible(party) || req.Expired(now) {
			continue
		}
		if req.HasSigned(party) {
			// Keep the cache warm so a later archive-and-recreate of the
			// same request id is still recognized.
			n.signed.mark(req.RequestID)
			continue
		}
		if n.signed.has(req.RequestID) {
			continue
		}

		if err := n.processRequest(ctx, ac.CreatedEvent.ContractID, &req); err != nil {
			if IsRejection(err) {
				n.logger.Warn("attestation request rejected",
					zap.String("request_id", req.RequestID),
					zap.Error(err))
				n.alerts.Notify(ctx, alert.Event{
					Severity: alert.SeverityWarning,
					Kind:     "attestation_rejected",
					Message:  err.Error(),
					Fields:   map[string]string{"request_id": req.RequestID},
				})
				continue
			}
			n.logger.Error("failed to process attestation request",
				zap.String("request_id", req.RequestID),
				zap.Error(err))
		}
	}

	metrics.SignedCacheSize.Set(float64(n.signed.size()))
	return nil
}

// processRequest verifies and signs one attestation request. The request id
// is marked signed before the signing call goes out; the mark rolls back on
// failure unless the ledger meanwhile recorded this validator's signature.
func (n *Node) processRequest(ctx context.Context, contractID string, req *canton.AttestationRequest) error {
	if err := n.verifier.Verify(ctx, req); err != nil {
		return err
	}

	digest := ethereum.AttestationDigest(uint64(req.Nonce),
		ethereum.DecimalToUnits(req.ClaimedCollateral),
		ethereum.DecimalToUnits(req.NewSupplyCap),
		req.ExpiresAt)

	n.signed.mark(req.RequestID)

	der, err := n.signer.Sign(ctx, digest[:])
	if err != nil {
		n.rollbackMark(ctx, req.RequestID)
		return fmt.Errorf("sign attestation digest: %w", err)
	}

	sig, err := sigcodec.EthereumSignature(der, digest[:], n.signer.Address())
	if err != nil {
		n.rollbackMark(ctx, req.RequestID)
		n.alerts.Notify(ctx, alert.Event{
			Severity: alert.SeverityCritical,
			Kind:     "signature_invalid",
			Message:  fmt.Sprintf("own signature for %s failed validation: %v", req.RequestID, err),
		})
		return fmt.Errorf("validate own signature: %w", err)
	}

	party := n.cfg.Canton.ValidatorParty
	_, err = n.ledger.ExerciseChoice(ctx, []string{party},
		n.ledger.Template(n.cfg.Canton.ProtocolModule, "AttestationRequest"), contractID,
		"SubmitSignature", canton.SubmitSignatureArgs{
			Validator:       party,
			SignatureHex:    "0x" + hex.EncodeToString(sig),
			RecoveredSigner: n.signer.Address().Hex(),
		})
	if err != nil {
		n.rollbackMark(ctx, req.RequestID)
		return fmt.Errorf("submit signature: %w", err)
	}

	metrics.SignaturesSubmitted.Inc()
	n.logger.Info("attestation request signed",
		zap.String("request_id", req.RequestID),
		zap.Int64("nonce", req.Nonce))
	return nil
}

// rollbackMark clears the signed mark unless the ledger already shows this
// validator's signature on the request, in which case the mark is truth.
func (n *Node) rollbackMark(ctx context.Context, requestID string) {
	party := n.cfg.Canton.ValidatorParty
	template := n.ledger.Template(n.cfg.Canton.ProtocolModule, "AttestationRequest")

	contracts, err := n.ledger.QueryContracts(ctx, party, template)
	if err == nil {
		for _, ac := range contracts {
			var req canton.AttestationRequest
			if json.Unmarshal(ac.CreatedEvent.CreateArgument, &req) != nil {
				continue
			}
			if req.RequestID == requestID && req.HasSigned(party) {
				return
			}
		}
	}
	n.signed.unmark(requestID)
}

// signedCache is a bounded set of request ids with oldest-first eviction.
type signedCache struct {
	mu    sync.Mutex
	limit int
	ids   map[string]bool
	order []string
}

func newSignedCache(limit int) *signedCache {
	return &signedCache{limit: limit, ids: make(map[string]bool)}
}

func (c *signedCache) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[id]
}

func (c *signedCache) mark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids[id] {
		return
	}
	c.ids[id] = true
	c.order = append(c.order, id)
	for len(c.order) > c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, oldest)
	}
}

func (c *signedCache) unmark(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ids[id] {
		return
	}
	delete(c.ids, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *signedCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
