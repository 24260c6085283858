package relayer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineStartStop(t *testing.T) {
	ledger := &fakeLedger{}
	chain := &fakeChain{latestBlock: 100, supplyCap: nil}
	engine, _ := newTestEngine(t, ledger, chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	engine.Stop()

	snaps := engine.Health()
	require.Len(t, snaps, 5)
	assert.Equal(t, PipelineAttestations, snaps[0].Pipeline)
	assert.Equal(t, PipelineRedemptions, snaps[4].Pipeline)
}

func TestEngineHealthReportsFailingPipeline(t *testing.T) {
	ledger := &fakeLedger{}
	chain := &fakeChain{latestBlock: 100}
	engine, _ := newTestEngine(t, ledger, chain)

	// Attestations need a BridgeService contract; an empty ACS is a
	// permanent configuration problem, not a transient one.
	err := engine.runAttestations(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestInflightSetClaimRelease(t *testing.T) {
	s := newInflightSet()

	assert.True(t, s.claim("a"))
	assert.False(t, s.claim("a"), "second claim while in flight must fail")
	s.release("a")
	assert.True(t, s.claim("a"))
}

func TestNonceLedger(t *testing.T) {
	n := newNonceLedger()
	assert.False(t, n.seen(7))
	n.record(7)
	assert.True(t, n.seen(7))
}
