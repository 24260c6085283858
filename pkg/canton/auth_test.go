package canton

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTokenFile(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte(token+"\n"), 0o600))
	return path
}

func signedTestJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestFileTokenRefreshFollowsJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	path := writeTokenFile(t, signedTestJWT(t, jwt.MapClaims{
		"sub": "relay-user",
		"exp": exp.Unix(),
	}))
	provider := &fileTokenProvider{path: path}

	token, refreshBy, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// Refresh-by tracks the claim, not the opaque-token fallback interval.
	assert.True(t, refreshBy.After(time.Now().Add(fallbackTokenTTL)))
	assert.WithinDuration(t, exp.Add(-defaultExpiryLeeway), refreshBy, 2*time.Second)
}

func TestFileTokenOpaqueFallsBackToFixedTTL(t *testing.T) {
	path := writeTokenFile(t, "opaque-participant-token")
	provider := &fileTokenProvider{path: path}

	token, refreshBy, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-participant-token", token)
	assert.WithinDuration(t, time.Now().Add(fallbackTokenTTL), refreshBy, 2*time.Second)
}

func TestFileTokenExpiredJWTRereadsPromptly(t *testing.T) {
	// An already-expired exp must not pin the refresh time in the past;
	// the provider falls back so rotation is picked up on the next call.
	path := writeTokenFile(t, signedTestJWT(t, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}))
	provider := &fileTokenProvider{path: path}

	_, refreshBy, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshBy.After(time.Now()))
	assert.WithinDuration(t, time.Now().Add(fallbackTokenTTL), refreshBy, 2*time.Second)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := signedTestJWT(t, jwt.MapClaims{"exp": exp.Unix()})

	got, err := tokenExpiry(token)
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))

	_, err = tokenExpiry("not-a-jwt")
	assert.Error(t, err)

	_, err = tokenExpiry(signedTestJWT(t, jwt.MapClaims{"sub": "no-exp"}))
	assert.Error(t, err)
}
