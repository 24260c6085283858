// Package state persists the relay's processed-work snapshot so a restart
// neither reprocesses completed work nor loses track of scan positions.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// CurrentVersion is the snapshot schema version. A snapshot written by a
// different version is discarded and the relay rebuilds from on-ledger and
// on-chain truth.
const CurrentVersion = 2

// Yield pool identifiers used as processedYieldEpochs keys.
const (
	PoolStaking = "staking"
	PoolBoost   = "boost"
)

// snapshot is the on-disk schema.
type snapshot struct {
	Version               int                        `json:"version"`
	ProcessedAttestations map[string]bool            `json:"processedAttestations"`
	ProcessedBridgeOut    map[string]bool            `json:"processedBridgeOut"`
	ProcessedYieldEpochs  map[string]map[int64]bool  `json:"processedYieldEpochs"`
	ProcessedRedemptions  map[string]bool            `json:"processedRedemptions"`
	LastScanned           map[string]uint64          `json:"lastScanned"`
}

func emptySnapshot() snapshot {
	return snapshot{
		Version:               CurrentVersion,
		ProcessedAttestations: make(map[string]bool),
		ProcessedBridgeOut:    make(map[string]bool),
		ProcessedYieldEpochs: map[string]map[int64]bool{
			PoolStaking: {},
			PoolBoost:   {},
		},
		ProcessedRedemptions: make(map[string]bool),
		LastScanned:          make(map[string]uint64),
	}
}

// Store is the in-memory relay state backed by an atomically written file.
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	snap   snapshot
	logger *zap.Logger
}

// Load reads the snapshot at path. A missing file or a version mismatch
// yields an empty state; a present-but-corrupt file is an error so an
// operator can decide rather than silently reprocessing everything.
func Load(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{path: path, snap: emptySnapshot(), logger: logger}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("no relay state file, starting empty", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if snap.Version != CurrentVersion {
		logger.Warn("relay state version mismatch, discarding snapshot",
			zap.Int("file_version", snap.Version),
			zap.Int("current_version", CurrentVersion))
		return s, nil
	}

	// Older writers may omit maps that were always empty.
	if snap.ProcessedAttestations == nil {
		snap.ProcessedAttestations = make(map[string]bool)
	}
	if snap.ProcessedBridgeOut == nil {
		snap.ProcessedBridgeOut = make(map[string]bool)
	}
	if snap.ProcessedYieldEpochs == nil {
		snap.ProcessedYieldEpochs = make(map[string]map[int64]bool)
	}
	for _, pool := range []string{PoolStaking, PoolBoost} {
		if snap.ProcessedYieldEpochs[pool] == nil {
			snap.ProcessedYieldEpochs[pool] = make(map[int64]bool)
		}
	}
	if snap.ProcessedRedemptions == nil {
		snap.ProcessedRedemptions = make(map[string]bool)
	}
	if snap.LastScanned == nil {
		snap.LastScanned = make(map[string]uint64)
	}

	s.snap = snap
	logger.Info("relay state loaded",
		zap.Int("attestations", len(snap.ProcessedAttestations)),
		zap.Int("bridge_out", len(snap.ProcessedBridgeOut)),
		zap.Int("redemptions", len(snap.ProcessedRedemptions)))
	return s, nil
}

// Save writes the snapshot atomically: serialize to a temp file in the same
// directory, fsync, then rename over the target. A crash mid-write leaves
// either the old file or the new one, never a torn file.
func (s *Store) Save() error {
	s.mu.Lock()
	raw, err := json.MarshalIndent(s.snap, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// HasAttestation reports whether an attestation request id was already
// submitted on-chain.
func (s *Store) HasAttestation(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ProcessedAttestations[requestID]
}

// MarkAttestation records a submitted attestation request id.
func (s *Store) MarkAttestation(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ProcessedAttestations[requestID] = true
}

// HasBridgeOut reports whether a bridge-out dedup key ("txHash:logIndex")
// was already completed.
func (s *Store) HasBridgeOut(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ProcessedBridgeOut[key]
}

// MarkBridgeOut records a completed bridge-out dedup key.
func (s *Store) MarkBridgeOut(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ProcessedBridgeOut[key] = true
}

// HasYieldEpoch reports whether a yield epoch was already credited to a pool.
func (s *Store) HasYieldEpoch(pool string, epoch int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ProcessedYieldEpochs[pool][epoch]
}

// MarkYieldEpoch records a credited yield epoch for a pool.
func (s *Store) MarkYieldEpoch(pool string, epoch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.ProcessedYieldEpochs[pool] == nil {
		s.snap.ProcessedYieldEpochs[pool] = make(map[int64]bool)
	}
	s.snap.ProcessedYieldEpochs[pool][epoch] = true
}

// HasRedemption reports whether a redemption id was already settled.
func (s *Store) HasRedemption(redemptionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.ProcessedRedemptions[redemptionID]
}

// MarkRedemption records a settled redemption id.
func (s *Store) MarkRedemption(redemptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ProcessedRedemptions[redemptionID] = true
}

// LastScanned returns the last scanned block for a direction, zero if
// never scanned.
func (s *Store) LastScanned(direction string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.LastScanned[direction]
}

// SetLastScanned advances the scan position for a direction. It never moves
// backwards; orphan-recovery rescans pass an explicit lower bound to the
// scanner instead of rewinding the recorded position.
func (s *Store) SetLastScanned(direction string, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block > s.snap.LastScanned[direction] {
		s.snap.LastScanned[direction] = block
	}
}
