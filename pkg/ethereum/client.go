// Package ethereum wraps the destination-chain connection: a failover-aware
// RPC provider pool, the bridge contract binding, and receipt tracking.
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/ethereum/contracts"
)

// ErrTxReverted indicates a mined transaction with a failed status.
var ErrTxReverted = errors.New("transaction reverted on-chain")

const (
	defaultReceiptTimeout = 3 * time.Minute
	defaultReceiptPoll    = 5 * time.Second
)

// Client talks to the bridge contract through whichever RPC endpoint the
// provider manager currently holds.
type Client struct {
	cfg        *config.EthereumConfig
	providers  *ProviderManager
	privateKey *ecdsa.PrivateKey
	address    common.Address
	bridgeAddr common.Address
	logger     *zap.Logger
}

// NewClient loads the relayer key and connects through the provider manager.
func NewClient(cfg *config.EthereumConfig, providers *ProviderManager, logger *zap.Logger) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RelayerPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("load relayer key: %w", err)
	}
	if !common.IsHexAddress(cfg.BridgeContract) {
		return nil, fmt.Errorf("invalid bridge contract address %q", cfg.BridgeContract)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	bridgeAddr := common.HexToAddress(cfg.BridgeContract)

	logger.Info("Ethereum client ready",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("bridge_contract", bridgeAddr.Hex()),
		zap.String("relayer_address", address.Hex()))

	return &Client{
		cfg:        cfg,
		providers:  providers,
		privateKey: privateKey,
		address:    address,
		bridgeAddr: bridgeAddr,
		logger:     logger,
	}, nil
}

// Address returns the relayer's own address.
func (c *Client) Address() common.Address {
	return c.address
}

// Providers exposes the provider manager for failure accounting.
func (c *Client) Providers() *ProviderManager {
	return c.providers
}

// bridge rebinds the contract against the active backend, so a provider
// failover takes effect on the next call.
func (c *Client) bridge() *contracts.MintedBridge {
	return contracts.NewMintedBridge(c.bridgeAddr, c.providers.Backend())
}

func (c *Client) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, big.NewInt(c.cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	auth.Context = ctx
	auth.GasLimit = c.cfg.GasLimit

	nonce, err := c.providers.Backend().PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("get pending nonce: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)

	if c.cfg.MaxGasPrice != "" {
		maxGasPrice, ok := new(big.Int).SetString(c.cfg.MaxGasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid max gas price %q", c.cfg.MaxGasPrice)
		}
		gasPrice, err := c.providers.Backend().SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		if gasPrice.Cmp(maxGasPrice) > 0 {
			c.logger.Warn("suggested gas price exceeds maximum",
				zap.String("suggested", gasPrice.String()),
				zap.String("max", maxGasPrice.String()))
			gasPrice = maxGasPrice
		}
		auth.GasPrice = gasPrice
	}
	return auth, nil
}

// LatestBlock returns the chain head number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.providers.Backend().BlockNumber(ctx)
}

// CurrentNonce returns the contract's last accepted attestation nonce.
func (c *Client) CurrentNonce(ctx context.Context) (uint64, error) {
	nonce, err := c.bridge().CurrentNonce(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("read current nonce: %w", err)
	}
	return nonce.Uint64(), nil
}

// SupplyCap returns the on-chain supply cap in token units.
func (c *Client) SupplyCap(ctx context.Context) (*big.Int, error) {
	supplyCap, err := c.bridge().SupplyCap(&bind.CallOpts{Context: ctx})
	if err != nil {
		return nil, fmt.Errorf("read supply cap: %w", err)
	}
	return supplyCap, nil
}

// Paused reports whether the bridge contract is paused.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	paused, err := c.bridge().Paused(&bind.CallOpts{Context: ctx})
	if err != nil {
		return false, fmt.Errorf("read paused flag: %w", err)
	}
	return paused, nil
}

// IsRedemptionSettled checks the durable on-chain settlement marker.
func (c *Client) IsRedemptionSettled(ctx context.Context, redemptionID string) (bool, error) {
	settled, err := c.bridge().IsRedemptionSettled(&bind.CallOpts{Context: ctx}, RedemptionKey(redemptionID))
	if err != nil {
		return false, fmt.Errorf("read redemption marker: %w", err)
	}
	return settled, nil
}

// HasPauserRole reports whether the relayer identity may pause the bridge.
func (c *Client) HasPauserRole(ctx context.Context) (bool, error) {
	opts := &bind.CallOpts{Context: ctx}
	role, err := c.bridge().PauserRole(opts)
	if err != nil {
		return false, fmt.Errorf("read pauser role id: %w", err)
	}
	ok, err := c.bridge().HasRole(opts, role, c.address)
	if err != nil {
		return false, fmt.Errorf("check pauser role: %w", err)
	}
	return ok, nil
}

// SubmitAttestation submits a quorum of signatures and waits for the receipt.
func (c *Client) SubmitAttestation(ctx context.Context, nonce uint64, collateral, newSupplyCap *big.Int, expiresAt time.Time, signatures [][]byte) (common.Hash, error) {
	auth, err := c.transactor(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := c.bridge().SubmitAttestation(auth,
		new(big.Int).SetUint64(nonce), collateral, newSupplyCap,
		big.NewInt(expiresAt.Unix()), signatures)
	if err != nil {
		return common.Hash{}, fmt.Errorf("submit attestation: %w", err)
	}

	c.logger.Info("attestation transaction submitted",
		zap.Uint64("nonce", nonce),
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.Int("signatures", len(signatures)))

	if err := c.WaitMined(ctx, tx.Hash()); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

// SettleRedemption pays out a redemption and waits for the receipt.
func (c *Client) SettleRedemption(ctx context.Context, redemptionID string, recipient common.Address, amount *big.Int) (common.Hash, error) {
	auth, err := c.transactor(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := c.bridge().SettleRedemption(auth, RedemptionKey(redemptionID), recipient, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("settle redemption: %w", err)
	}

	c.logger.Info("redemption settlement submitted",
		zap.String("redemption_id", redemptionID),
		zap.String("recipient", recipient.Hex()),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", tx.Hash().Hex()))

	if err := c.WaitMined(ctx, tx.Hash()); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

// EmergencyPause pauses the bridge and waits for the receipt.
func (c *Client) EmergencyPause(ctx context.Context) (string, error) {
	auth, err := c.transactor(ctx)
	if err != nil {
		return "", err
	}

	tx, err := c.bridge().EmergencyPause(auth)
	if err != nil {
		return "", fmt.Errorf("emergency pause: %w", err)
	}
	if err := c.WaitMined(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// WaitMined polls for the transaction receipt with exponential backoff until
// the configured timeout, then checks the execution status.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) error {
	timeout := c.cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = defaultReceiptTimeout
	}
	pollEvery := c.cfg.ReceiptPollEvery
	if pollEvery <= 0 {
		pollEvery = defaultReceiptPoll
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(pollEvery),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(timeout),
	), ctx)

	var receipt *types.Receipt
	err := backoff.Retry(func() error {
		var rcptErr error
		receipt, rcptErr = c.providers.Backend().TransactionReceipt(ctx, txHash)
		if rcptErr != nil {
			return rcptErr
		}
		return nil
	}, policy)
	if err != nil {
		return fmt.Errorf("wait for receipt %s: %w", txHash.Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s", ErrTxReverted, txHash.Hex())
	}
	return nil
}

// FilterBridgeOut returns BridgeOut events in [fromBlock, toBlock].
func (c *Client) FilterBridgeOut(ctx context.Context, fromBlock, toBlock uint64) ([]*contracts.BridgeOutEvent, error) {
	logs, err := c.filterLogs(ctx, "BridgeOut", fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	events := make([]*contracts.BridgeOutEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := contracts.ParseBridgeOut(l)
		if err != nil {
			return nil, fmt.Errorf("parse BridgeOut log %s: %w", l.TxHash.Hex(), err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// FilterYieldBridged returns YieldBridged events in [fromBlock, toBlock].
func (c *Client) FilterYieldBridged(ctx context.Context, fromBlock, toBlock uint64) ([]*contracts.YieldBridgedEvent, error) {
	logs, err := c.filterLogs(ctx, "YieldBridged", fromBlock, toBlock)
	if err != nil {
		return nil, err
	}
	events := make([]*contracts.YieldBridgedEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := contracts.ParseYieldBridged(l)
		if err != nil {
			return nil, fmt.Errorf("parse YieldBridged log %s: %w", l.TxHash.Hex(), err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Client) filterLogs(ctx context.Context, event string, fromBlock, toBlock uint64) ([]types.Log, error) {
	topic, err := contracts.EventTopic(event)
	if err != nil {
		return nil, err
	}
	query := goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.bridgeAddr},
		Topics:    [][]common.Hash{{topic}},
	}
	logs, err := c.providers.Backend().FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", event, err)
	}
	return logs, nil
}

// RecordRPCFailure feeds a call error into the provider failure accounting
// and reports whether an endpoint switch happened.
func (c *Client) RecordRPCFailure(err error) bool {
	return c.providers.RecordFailure(err)
}

// RecordRPCSuccess resets the active provider's failure streak.
func (c *Client) RecordRPCSuccess() {
	c.providers.RecordSuccess()
}

// Close closes the provider pool.
func (c *Client) Close() {
	c.providers.Close()
}

// IsRevert reports whether err is a contract-level rejection rather than an
// infrastructure failure.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTxReverted) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
