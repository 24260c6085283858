package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
)

func TestGetSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/collateral/snapshot", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("X-API-Key"))
		w.Write([]byte(`{
			"assets":[{"assetId":"UST-2026","amount":"1000000.5","stateHash":"0xaaa"}],
			"total":"1000000.5",
			"stateHash":"0xroot",
			"asOf":"2026-08-30T12:00:00Z"
		}`))
	}))
	defer srv.Close()

	c := NewClient(&config.RegistryConfig{BaseURL: srv.URL, APIKey: "key-123"}, zap.NewNop())
	snap, err := c.GetSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Assets, 1)
	assert.Equal(t, "UST-2026", snap.Assets[0].AssetID)
	assert.True(t, snap.Total.Equal(decimal.RequireFromString("1000000.5")))
	assert.Equal(t, "0xroot", snap.StateHash)
}

func TestGetAssetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(&config.RegistryConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := c.GetAsset(context.Background(), "missing-asset")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"assetId":"UST-2026","amount":"42","stateHash":"0xaaa"}`))
	}))
	defer srv.Close()

	c := NewClient(&config.RegistryConfig{BaseURL: srv.URL, MaxRetries: 3}, zap.NewNop())
	pos, err := c.GetAsset(context.Background(), "UST-2026")
	require.NoError(t, err)
	assert.True(t, pos.Amount.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, int32(3), calls.Load())
}
