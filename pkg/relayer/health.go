package relayer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/minted-network/bridge-relay/internal/metrics"
	"github.com/minted-network/bridge-relay/pkg/canton"
	"github.com/minted-network/bridge-relay/pkg/config"
)

// HealthState classifies a pipeline's recent cycle outcomes.
type HealthState int

const (
	StateHealthy HealthState = iota
	StateDegraded
	StateFailed
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrPermanent wraps errors that retrying cannot fix (bad configuration,
// rejected credentials). A pipeline seeing one backs off to the long failed
// interval instead of hammering the endpoint.
var ErrPermanent = errors.New("permanent error")

// IsPermanent reports whether err cannot be fixed by retrying. Client-side
// ledger API rejections (4xx) are permanent: the request itself is wrong.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrPermanent) {
		return true
	}
	var apiErr *canton.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500
	}
	return false
}

// DirectionHealth tracks one pipeline's consecutive failures and drives its
// polling cadence.
type DirectionHealth struct {
	mu       sync.Mutex
	pipeline string
	cfg      *config.RelayConfig

	consecFailures int
	lastErr        error
	permanent      bool
}

// NewDirectionHealth creates health tracking for a named pipeline.
func NewDirectionHealth(pipeline string, cfg *config.RelayConfig) *DirectionHealth {
	return &DirectionHealth{pipeline: pipeline, cfg: cfg}
}

// Record notes the outcome of one cycle. Context cancellation is not a
// failure; it just means the engine is shutting down.
func (h *DirectionHealth) Record(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) {
		h.consecFailures = 0
		h.lastErr = nil
		h.permanent = false
	} else {
		h.consecFailures++
		h.lastErr = err
		h.permanent = IsPermanent(err)
	}
	metrics.PipelineHealth.WithLabelValues(h.pipeline).Set(float64(h.stateLocked()))
}

// State returns the current health classification.
func (h *DirectionHealth) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *DirectionHealth) stateLocked() HealthState {
	switch {
	case h.consecFailures == 0:
		return StateHealthy
	case h.permanent:
		return StateFailed
	case h.consecFailures >= h.cfg.DegradedThreshold:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// PollInterval returns how long to wait before the next cycle given the
// current health.
func (h *DirectionHealth) PollInterval() time.Duration {
	switch h.State() {
	case StateFailed:
		return h.cfg.FailedPollInterval
	case StateDegraded:
		return h.cfg.DegradedPollInterval
	default:
		return h.cfg.PollInterval
	}
}

// Snapshot reports the pipeline name, state, failure count, and last error
// message for the status API.
func (h *DirectionHealth) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := HealthSnapshot{
		Pipeline:       h.pipeline,
		State:          h.stateLocked().String(),
		ConsecFailures: h.consecFailures,
	}
	if h.lastErr != nil {
		snap.LastError = h.lastErr.Error()
	}
	return snap
}

// HealthSnapshot is the status API's view of one pipeline.
type HealthSnapshot struct {
	Pipeline       string `json:"pipeline"`
	State          string `json:"state"`
	ConsecFailures int    `json:"consecutive_failures"`
	LastError      string `json:"last_error,omitempty"`
}
