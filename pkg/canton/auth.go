package canton

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/minted-network/bridge-relay/pkg/config"
)

const (
	defaultExpiryLeeway = 60 * time.Second
	defaultAuthTimeout  = 10 * time.Second

	// If the token endpoint doesn't report expires_in, refresh conservatively.
	fallbackTokenTTL = 5 * time.Minute

	maxErrBodyBytes = 4096
)

// AuthProvider defines how the ledger client obtains and refreshes
// authentication tokens.
type AuthProvider interface {
	// Token returns a valid access token and its refresh-by time.
	Token(ctx context.Context) (token string, expiry time.Time, err error)
}

// NewAuthProvider selects a provider from configuration: a static token file
// when configured, OAuth2 client credentials otherwise, or no auth at all
// (wildcard participants) when neither is set.
func NewAuthProvider(cfg *config.AuthConfig, httpClient *http.Client) AuthProvider {
	if cfg.TokenFile != "" {
		return &fileTokenProvider{path: cfg.TokenFile}
	}
	if cfg.TokenURL != "" {
		return newClientCredentialsProvider(cfg, httpClient)
	}
	return noAuthProvider{}
}

// tokenExpiry parses a JWT without verifying it (the participant does
// verification) and returns its "exp" claim.
func tokenExpiry(tokenString string) (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse JWT: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("JWT missing 'exp' claim")
	}
	return exp.Time, nil
}

type noAuthProvider struct{}

func (noAuthProvider) Token(context.Context) (string, time.Time, error) {
	return "", time.Time{}, nil
}

// fileTokenProvider reads a long-lived token from disk on each refresh so
// external rotation is picked up without a restart.
type fileTokenProvider struct {
	path string

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func (p *fileTokenProvider) Token(_ context.Context) (string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.token != "" && now.Before(p.expiry) {
		return p.token, p.expiry, nil
	}

	raw, err := os.ReadFile(p.path)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read token file: %w", err)
	}
	p.token = strings.TrimSpace(string(raw))

	// Refresh against the token's own lifetime when it carries one; an
	// opaque token falls back to a conservative re-read interval.
	p.expiry = now.Add(fallbackTokenTTL)
	if exp, err := tokenExpiry(p.token); err == nil {
		if refreshBy := exp.Add(-defaultExpiryLeeway); refreshBy.After(now) {
			p.expiry = refreshBy
		}
	}
	return p.token, p.expiry, nil
}

// clientCredentialsProvider implements AuthProvider using the OAuth2 client
// credentials flow.
type clientCredentialsProvider struct {
	cfg        *config.AuthConfig
	httpClient *http.Client
	leeway     time.Duration

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newClientCredentialsProvider(cfg *config.AuthConfig, httpClient *http.Client) *clientCredentialsProvider {
	leeway := cfg.ExpiryLeeway
	if leeway == 0 {
		leeway = defaultExpiryLeeway
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultAuthTimeout}
	}
	return &clientCredentialsProvider{cfg: cfg, httpClient: httpClient, leeway: leeway}
}

func (p *clientCredentialsProvider) Token(ctx context.Context) (string, time.Time, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" || p.cfg.TokenURL == "" {
		return "", time.Time{}, errors.New("incomplete OAuth2 client credentials configuration")
	}

	p.mu.Lock()
	if p.token != "" && time.Now().Before(p.expiry) {
		tok, exp := p.token, p.expiry
		p.mu.Unlock()
		return tok, exp, nil
	}
	p.mu.Unlock()

	token, expiry, err := p.fetchToken(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	p.mu.Lock()
	p.token = token
	p.expiry = expiry
	p.mu.Unlock()

	return token, expiry, nil
}

func (p *clientCredentialsProvider) fetchToken(ctx context.Context) (string, time.Time, error) {
	payload := map[string]string{
		"client_id":     p.cfg.ClientID,
		"client_secret": p.cfg.ClientSecret,
		"audience":      p.cfg.Audience,
		"grant_type":    "client_credentials",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", time.Time{}, err
		}
		return "", time.Time{}, fmt.Errorf("call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes))
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token response missing access_token")
	}

	now := time.Now()
	if tr.ExpiresIn <= 0 {
		return tr.AccessToken, now.Add(fallbackTokenTTL), nil
	}
	refreshBy := now.Add(time.Duration(tr.ExpiresIn) * time.Second).Add(-p.leeway)
	if refreshBy.Before(now) {
		refreshBy = now.Add(time.Duration(tr.ExpiresIn/2) * time.Second)
	}
	return tr.AccessToken, refreshBy, nil
}
