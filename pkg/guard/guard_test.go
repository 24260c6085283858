package guard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
)

type fakePauser struct {
	hasRoleFunc func(ctx context.Context) (bool, error)
	pauseFunc   func(ctx context.Context) (string, error)
	pauseCalls  int
}

func (f *fakePauser) HasPauserRole(ctx context.Context) (bool, error) {
	if f.hasRoleFunc != nil {
		return f.hasRoleFunc(ctx)
	}
	return true, nil
}

func (f *fakePauser) EmergencyPause(ctx context.Context) (string, error) {
	f.pauseCalls++
	if f.pauseFunc != nil {
		return f.pauseFunc(ctx)
	}
	return "0xpause", nil
}

func newTestGuard(cfg *config.GuardConfig, pauser Pauser) *Guard {
	if cfg == nil {
		cfg = &config.GuardConfig{
			SubmissionWindow: time.Minute,
			MaxPerWindow:     3,
			MaxCapJumpPct:    10,
			MaxConsecReverts: 3,
		}
	}
	if pauser == nil {
		pauser = &fakePauser{}
	}
	return New(cfg, pauser, zap.NewNop())
}

func TestAllowSlidingWindow(t *testing.T) {
	g := newTestGuard(nil, nil)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	assert.True(t, g.Allow())
	assert.True(t, g.Allow())
	assert.True(t, g.Allow())
	assert.False(t, g.Allow(), "fourth submission in the window must be blocked")

	// Once the earliest submissions age out, capacity returns.
	now = now.Add(61 * time.Second)
	assert.True(t, g.Allow())
}

func TestAllowBlockedDoesNotConsumeCapacity(t *testing.T) {
	g := newTestGuard(nil, nil)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, g.Allow())
	}
	for i := 0; i < 10; i++ {
		assert.False(t, g.Allow())
	}

	now = now.Add(61 * time.Second)
	assert.True(t, g.Allow(), "blocked attempts must not extend the window")
}

func TestCapJumpExceeded(t *testing.T) {
	g := newTestGuard(nil, nil)

	cur := decimal.NewFromInt(1_000_000)
	assert.False(t, g.CapJumpExceeded(cur, decimal.NewFromInt(1_050_000)), "5% is fine")
	assert.False(t, g.CapJumpExceeded(cur, decimal.NewFromInt(1_100_000)), "exactly 10% is fine")
	assert.True(t, g.CapJumpExceeded(cur, decimal.NewFromInt(1_100_001)))
	assert.True(t, g.CapJumpExceeded(cur, decimal.NewFromInt(800_000)), "drops count too")
	assert.False(t, g.CapJumpExceeded(decimal.Zero, decimal.NewFromInt(5_000_000)), "bootstrap from zero")
}

func TestRevertStreak(t *testing.T) {
	g := newTestGuard(nil, nil)

	assert.False(t, g.RecordRevert())
	assert.False(t, g.RecordRevert())
	assert.True(t, g.RecordRevert(), "third consecutive revert crosses the threshold")
	assert.Equal(t, 3, g.RevertStreak())

	g.RecordSuccess()
	assert.Zero(t, g.RevertStreak())
	assert.False(t, g.RecordRevert())
}

func TestTriggerPauseOncePerCycle(t *testing.T) {
	pauser := &fakePauser{}
	g := newTestGuard(nil, pauser)

	require.NoError(t, g.TriggerPause(context.Background(), "cap jump"))
	require.NoError(t, g.TriggerPause(context.Background(), "revert streak"))
	require.NoError(t, g.TriggerPause(context.Background(), "cap jump again"))
	assert.Equal(t, 1, pauser.pauseCalls, "exactly one pause attempt per cycle")

	g.ResetCycle()
	require.NoError(t, g.TriggerPause(context.Background(), "next cycle"))
	assert.Equal(t, 2, pauser.pauseCalls)
}

func TestTriggerPauseWithoutRole(t *testing.T) {
	pauser := &fakePauser{
		hasRoleFunc: func(ctx context.Context) (bool, error) { return false, nil },
	}
	g := newTestGuard(nil, pauser)

	err := g.TriggerPause(context.Background(), "cap jump")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lacks pauser role")
	assert.Zero(t, pauser.pauseCalls, "pause must not be attempted without the role")

	// Still consumed this cycle's single attempt.
	require.NoError(t, g.TriggerPause(context.Background(), "again"))
	assert.Zero(t, pauser.pauseCalls)
}

func TestTriggerPauseSubmitError(t *testing.T) {
	pauser := &fakePauser{
		pauseFunc: func(ctx context.Context) (string, error) { return "", errors.New("rpc down") },
	}
	g := newTestGuard(nil, pauser)

	err := g.TriggerPause(context.Background(), "revert streak")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emergency pause")
}
