package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"testing"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
)

// fakeBackend satisfies Backend; only the methods a test overrides matter.
type fakeBackend struct {
	url            string
	blockNumberFn  func(ctx context.Context) (uint64, error)
	closed         bool
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) CallContract(context.Context, goethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, nil
}
func (f *fakeBackend) PendingCodeAt(context.Context, common.Address) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}
func (f *fakeBackend) EstimateGas(context.Context, goethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeBackend) SendTransaction(context.Context, *types.Transaction) error { return nil }
func (f *fakeBackend) FilterLogs(context.Context, goethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (f *fakeBackend) SubscribeFilterLogs(context.Context, goethereum.FilterQuery, chan<- types.Log) (goethereum.Subscription, error) {
	return nil, errors.New("not supported")
}
func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, goethereum.NotFound
}
func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if f.blockNumberFn != nil {
		return f.blockNumberFn(ctx)
	}
	return 0, nil
}
func (f *fakeBackend) Close() { f.closed = true }

func newTestManager(t *testing.T, urls []string, threshold int) (*ProviderManager, map[string]*fakeBackend) {
	t.Helper()
	backends := make(map[string]*fakeBackend)
	dial := func(url string) (Backend, error) {
		b := &fakeBackend{url: url}
		backends[url] = b
		return b, nil
	}
	mgr, err := NewProviderManager(&config.EthereumConfig{
		RPCURLs:           urls,
		FailoverThreshold: threshold,
	}, dial, zap.NewNop())
	require.NoError(t, err)
	return mgr, backends
}

func TestFailoverAfterConsecutiveInfraFailures(t *testing.T) {
	mgr, backends := newTestManager(t, []string{"http://primary", "http://secondary"}, 3)
	infraErr := fmt.Errorf("post http://primary: connection refused")

	assert.False(t, mgr.RecordFailure(infraErr))
	assert.False(t, mgr.RecordFailure(infraErr))
	assert.Equal(t, 0, mgr.ActiveIndex())

	assert.True(t, mgr.RecordFailure(infraErr), "third failure must switch providers")
	assert.Equal(t, 1, mgr.ActiveIndex())
	assert.True(t, backends["http://primary"].closed)

	// A call through the new backend completes.
	backends["http://secondary"].blockNumberFn = func(ctx context.Context) (uint64, error) {
		return 18_000_000, nil
	}
	n, err := mgr.Backend().BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(18_000_000), n)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	mgr, _ := newTestManager(t, []string{"http://primary", "http://secondary"}, 2)
	infraErr := errors.New("i/o timeout")

	assert.False(t, mgr.RecordFailure(infraErr))
	mgr.RecordSuccess()
	assert.False(t, mgr.RecordFailure(infraErr), "streak restarted after a success")
	assert.Equal(t, 0, mgr.ActiveIndex())
}

func TestRevertsDoNotTriggerFailover(t *testing.T) {
	mgr, _ := newTestManager(t, []string{"http://primary", "http://secondary"}, 1)

	revert := errors.New("execution reverted: NonceAlreadyUsed()")
	assert.False(t, mgr.RecordFailure(revert))
	assert.False(t, mgr.RecordFailure(revert))
	assert.Equal(t, 0, mgr.ActiveIndex(), "reverts are not endpoint problems")
}

func TestFailoverWrapsAround(t *testing.T) {
	mgr, _ := newTestManager(t, []string{"http://a", "http://b", "http://c"}, 1)
	infraErr := errors.New("connection reset by peer")

	assert.True(t, mgr.RecordFailure(infraErr))
	assert.Equal(t, 1, mgr.ActiveIndex())
	assert.True(t, mgr.RecordFailure(infraErr))
	assert.Equal(t, 2, mgr.ActiveIndex())
	assert.True(t, mgr.RecordFailure(infraErr))
	assert.Equal(t, 0, mgr.ActiveIndex(), "wraps back to the primary")
}

func TestSingleEndpointNeverSwitches(t *testing.T) {
	mgr, backends := newTestManager(t, []string{"http://only"}, 1)
	assert.False(t, mgr.RecordFailure(errors.New("connection refused")))
	assert.Equal(t, 0, mgr.ActiveIndex())
	assert.False(t, backends["http://only"].closed)
}

func TestIsInfraError(t *testing.T) {
	assert.True(t, IsInfraError(context.DeadlineExceeded))
	assert.True(t, IsInfraError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, IsInfraError(errors.New("502 bad gateway")))
	assert.True(t, IsInfraError(errors.New("unexpected EOF")))

	assert.False(t, IsInfraError(nil))
	assert.False(t, IsInfraError(errors.New("execution reverted: Paused()")))
	assert.False(t, IsInfraError(ErrTxReverted))
	assert.False(t, IsInfraError(errors.New("invalid argument 0")))
}
