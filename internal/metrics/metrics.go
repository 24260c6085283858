// Package metrics defines the Prometheus instruments exported by the relay
// and validator processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineCycles counts completed poll cycles per directional pipeline.
	PipelineCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_pipeline_cycles_total",
		Help: "Completed poll cycles per pipeline and result",
	}, []string{"pipeline", "result"})

	// PipelineHealth exposes each pipeline's health state
	// (0 healthy, 1 degraded, 2 failed).
	PipelineHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_pipeline_health",
		Help: "Pipeline health state: 0 healthy, 1 degraded, 2 failed",
	}, []string{"pipeline"})

	// AttestationsSubmitted counts attestations submitted to the bridge contract.
	AttestationsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_attestations_submitted_total",
		Help: "Attestations submitted to the destination bridge contract",
	})

	// BridgeInsCompleted counts bridge-in requests completed on the ledger.
	BridgeInsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bridge_ins_completed_total",
		Help: "Bridge-in requests completed and minted on the ledger",
	})

	// YieldEpochsCredited counts yield epochs credited per pool.
	YieldEpochsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_yield_epochs_credited_total",
		Help: "Yield epochs credited to ledger pools",
	}, []string{"pool"})

	// RedemptionsSettled counts redemptions settled on the destination chain.
	RedemptionsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_redemptions_settled_total",
		Help: "Redemption requests settled on the destination chain",
	})

	// OrphanEventsRecovered counts events found only by the orphan re-scan.
	OrphanEventsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_orphan_events_recovered_total",
		Help: "Events recovered by the periodic lookback re-scan",
	})

	// RateLimitBlocked counts submissions blocked by the sliding window.
	RateLimitBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rate_limit_blocked_total",
		Help: "Submissions blocked by the sliding-window rate limit",
	})

	// TxReverts counts on-chain reverts observed by the relay.
	TxReverts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_tx_reverts_total",
		Help: "Destination-chain transaction reverts",
	})

	// EmergencyPauses counts emergency-pause escalations attempted.
	EmergencyPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_emergency_pauses_total",
		Help: "Emergency pause escalations attempted",
	})

	// ProviderFailovers counts RPC endpoint switches.
	ProviderFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_provider_failovers_total",
		Help: "RPC provider failovers",
	})

	// ActiveProvider exposes the index of the RPC endpoint in use.
	ActiveProvider = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_provider_index",
		Help: "Index of the active RPC endpoint in the configured list",
	})

	// SignaturesSubmitted counts validator signatures submitted to the ledger.
	SignaturesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "validator_signatures_submitted_total",
		Help: "Attestation signatures submitted by the validator node",
	})

	// VerificationRejects counts attestation requests the validator refused
	// to sign, by reason.
	VerificationRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validator_verification_rejects_total",
		Help: "Attestation requests rejected during verification",
	}, []string{"reason"})

	// SignedCacheSize exposes the validator's signed-request cache size.
	SignedCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "validator_signed_cache_size",
		Help: "Entries in the validator's signed-request cache",
	})
)
