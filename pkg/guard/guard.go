// Package guard gates value-moving submissions: a sliding-window rate limit,
// anomaly triggers for outsized supply-cap changes and revert streaks, and a
// one-way emergency-pause escalation.
package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/internal/metrics"
	"github.com/minted-network/bridge-relay/pkg/config"
)

// Pauser is the destination-chain surface the guard escalates through.
type Pauser interface {
	HasPauserRole(ctx context.Context) (bool, error)
	EmergencyPause(ctx context.Context) (txHash string, err error)
}

// Guard tracks submission volume and anomaly signals. Safe for use from
// concurrent pipeline goroutines.
type Guard struct {
	cfg    *config.GuardConfig
	pauser Pauser
	logger *zap.Logger

	mu           sync.Mutex
	submissions  []time.Time
	revertStreak int
	pausedCycle  bool

	now func() time.Time
}

// New creates a Guard over the given pauser.
func New(cfg *config.GuardConfig, pauser Pauser, logger *zap.Logger) *Guard {
	return &Guard{
		cfg:    cfg,
		pauser: pauser,
		logger: logger,
		now:    time.Now,
	}
}

// Allow reports whether one more submission fits the sliding window, and
// records it if so. A blocked submission is dropped for this cycle, never
// queued: the work is still pending on the source ledger and the next cycle
// will pick it up.
func (g *Guard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.cfg.SubmissionWindow)

	kept := g.submissions[:0]
	for _, ts := range g.submissions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.submissions = kept

	if len(g.submissions) >= g.cfg.MaxPerWindow {
		g.logger.Warn("submission rate limit hit",
			zap.Int("in_window", len(g.submissions)),
			zap.Int("max", g.cfg.MaxPerWindow),
			zap.Duration("window", g.cfg.SubmissionWindow))
		metrics.RateLimitBlocked.Inc()
		return false
	}
	g.submissions = append(g.submissions, now)
	return true
}

// CapJumpExceeded reports whether the proposed supply cap moves more than
// the configured percentage from the current one in a single step. A zero
// current cap accepts any proposal (bootstrap).
func (g *Guard) CapJumpExceeded(current, proposed decimal.Decimal) bool {
	if current.IsZero() {
		return false
	}
	changePct := proposed.Sub(current).Abs().
		Div(current).
		Mul(decimal.NewFromInt(100))
	if changePct.GreaterThan(decimal.NewFromFloat(g.cfg.MaxCapJumpPct)) {
		g.logger.Error("supply cap jump exceeds threshold",
			zap.String("current", current.String()),
			zap.String("proposed", proposed.String()),
			zap.String("change_pct", changePct.StringFixed(2)),
			zap.Float64("max_pct", g.cfg.MaxCapJumpPct))
		return true
	}
	return false
}

// RecordRevert notes an on-chain revert and reports whether the consecutive
// streak has crossed the anomaly threshold.
func (g *Guard) RecordRevert() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revertStreak++
	metrics.TxReverts.Inc()
	return g.revertStreak >= g.cfg.MaxConsecReverts
}

// RecordSuccess resets the revert streak.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.revertStreak = 0
}

// RevertStreak returns the current consecutive revert count.
func (g *Guard) RevertStreak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revertStreak
}

// ResetCycle re-arms the emergency pause at the start of an engine cycle.
func (g *Guard) ResetCycle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pausedCycle = false
}

// TriggerPause escalates to the destination's emergency pause. At most one
// pause call is made per cycle no matter how many triggers fire, and the
// call is only issued when the relay identity actually holds the pauser
// role. Pausing is one-way: nothing in the relay resumes the bridge.
func (g *Guard) TriggerPause(ctx context.Context, reason string) error {
	g.mu.Lock()
	if g.pausedCycle {
		g.mu.Unlock()
		g.logger.Warn("emergency pause already attempted this cycle",
			zap.String("reason", reason))
		return nil
	}
	g.pausedCycle = true
	g.mu.Unlock()
	metrics.EmergencyPauses.Inc()

	ok, err := g.pauser.HasPauserRole(ctx)
	if err != nil {
		return fmt.Errorf("check pauser role: %w", err)
	}
	if !ok {
		g.logger.Error("anomaly detected but relay identity lacks pauser role",
			zap.String("reason", reason))
		return fmt.Errorf("relay identity lacks pauser role, cannot pause (%s)", reason)
	}

	txHash, err := g.pauser.EmergencyPause(ctx)
	if err != nil {
		return fmt.Errorf("emergency pause: %w", err)
	}
	g.logger.Error("emergency pause submitted",
		zap.String("reason", reason),
		zap.String("tx_hash", txHash))
	return nil
}
