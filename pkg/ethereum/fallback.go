package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/internal/metrics"
	"github.com/minted-network/bridge-relay/pkg/config"
)

// Backend is the slice of the Ethereum client surface the relay uses,
// satisfied by *ethclient.Client.
type Backend interface {
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// DialFunc opens a backend for an RPC URL.
type DialFunc func(url string) (Backend, error)

// DialEthclient is the production DialFunc.
func DialEthclient(url string) (Backend, error) {
	return ethclient.Dial(url)
}

// ProviderManager owns the ordered RPC endpoint list and switches to the
// next endpoint after a run of infrastructure failures. Clean contract
// reverts are not endpoint problems and never trigger a switch.
type ProviderManager struct {
	mu        sync.Mutex
	urls      []string
	dial      DialFunc
	threshold int
	logger    *zap.Logger

	active   int
	backend  Backend
	failures int
}

// NewProviderManager dials the first endpoint in cfg.RPCURLs.
func NewProviderManager(cfg *config.EthereumConfig, dial DialFunc, logger *zap.Logger) (*ProviderManager, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}
	threshold := cfg.FailoverThreshold
	if threshold <= 0 {
		threshold = 3
	}

	backend, err := dial(cfg.RPCURLs[0])
	if err != nil {
		return nil, fmt.Errorf("dial primary endpoint %s: %w", cfg.RPCURLs[0], err)
	}

	logger.Info("RPC provider connected",
		zap.String("endpoint", cfg.RPCURLs[0]),
		zap.Int("fallbacks", len(cfg.RPCURLs)-1))
	metrics.ActiveProvider.Set(0)

	return &ProviderManager{
		urls:      cfg.RPCURLs,
		dial:      dial,
		threshold: threshold,
		logger:    logger,
		backend:   backend,
	}, nil
}

// Backend returns the active backend.
func (m *ProviderManager) Backend() Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend
}

// ActiveIndex returns the index of the endpoint in use.
func (m *ProviderManager) ActiveIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// RecordSuccess resets the consecutive failure count.
func (m *ProviderManager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = 0
}

// RecordFailure notes a failed call. Infrastructure errors count toward the
// failover threshold; once crossed the manager advances to the next endpoint
// (wrapping around) and resets the count. Returns true when a switch
// happened.
func (m *ProviderManager) RecordFailure(err error) bool {
	if !IsInfraError(err) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures++
	if m.failures < m.threshold {
		return false
	}
	m.failures = 0

	if len(m.urls) == 1 {
		m.logger.Warn("RPC endpoint failing but no fallback configured",
			zap.String("endpoint", m.urls[m.active]))
		return false
	}

	next := (m.active + 1) % len(m.urls)
	backend, dialErr := m.dial(m.urls[next])
	if dialErr != nil {
		m.logger.Error("failed to dial fallback endpoint",
			zap.String("endpoint", m.urls[next]),
			zap.Error(dialErr))
		return false
	}

	old := m.backend
	m.backend = backend
	m.active = next
	if old != nil {
		old.Close()
	}

	m.logger.Warn("switched RPC provider",
		zap.String("endpoint", m.urls[next]),
		zap.Int("index", next),
		zap.Error(err))
	metrics.ProviderFailovers.Inc()
	metrics.ActiveProvider.Set(float64(next))
	return true
}

// Close closes the active backend.
func (m *ProviderManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		m.backend.Close()
	}
}

// IsInfraError reports whether err looks like an endpoint problem (timeout,
// connection failure, bad gateway) rather than a contract-level rejection.
func IsInfraError(err error) bool {
	if err == nil {
		return false
	}
	if IsRevert(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"eof",
		"timeout",
		"bad gateway",
		"service unavailable",
		"too many requests",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
