package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/minted-network/bridge-relay/pkg/config"
)

func TestNotifyPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := NewNotifier(&config.AlertingConfig{WebhookURL: srv.URL, Service: "bridge-relay"}, zap.NewNop())
	n.Notify(context.Background(), Event{
		Severity: SeverityCritical,
		Kind:     "emergency_pause",
		Message:  "supply cap jump exceeded threshold",
		Fields:   map[string]string{"change_pct": "34.2"},
	})

	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, "emergency_pause", got.Kind)
	assert.Equal(t, "bridge-relay", got.Service)
	assert.Equal(t, "34.2", got.Fields["change_pct"])
	assert.False(t, got.At.IsZero())
}

func TestNotifyDropsBeyondRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewNotifier(&config.AlertingConfig{WebhookURL: srv.URL}, zap.NewNop()).(*webhookNotifier)
	n.limiter = rate.NewLimiter(rate.Limit(0), 2)

	for i := 0; i < 5; i++ {
		n.Notify(context.Background(), Event{Kind: "anomaly", Message: "revert streak"})
	}
	assert.Equal(t, int32(2), calls.Load(), "only the burst allowance is delivered")
}

func TestNoWebhookIsNoop(t *testing.T) {
	n := NewNotifier(&config.AlertingConfig{}, zap.NewNop())
	// Must not panic or block.
	n.Notify(context.Background(), Event{Kind: "test"})
	_, isNop := n.(nopNotifier)
	assert.True(t, isNop)
}
