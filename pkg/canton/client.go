// Package canton implements the Ledger Gateway: a minimal client for the
// Canton JSON Ledger API v2 covering the command/query surface the bridge
// needs (ledger end, active contracts, create, exercise, diagnostics).
package canton

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
)

const defaultRequestTimeout = 30 * time.Second

// Client is an HTTP client for a Canton participant's JSON Ledger API.
type Client struct {
	cfg        *config.CantonConfig
	httpClient *http.Client
	auth       AuthProvider
	logger     *zap.Logger
}

// NewClient creates a new Ledger Gateway client.
func NewClient(cfg *config.CantonConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	logger.Info("Canton ledger gateway configured",
		zap.String("api_url", cfg.APIURL),
		zap.String("package_id", cfg.PackageID))

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		auth:       NewAuthProvider(&cfg.Auth, httpClient),
		logger:     logger,
	}
}

// Template builds a TemplateID in the configured protocol package.
func (c *Client) Template(module, entity string) TemplateID {
	return TemplateID{PackageID: c.cfg.PackageID, ModuleName: module, EntityName: entity}
}

// GetLedgerEnd retrieves the current absolute ledger offset.
func (c *Client) GetLedgerEnd(ctx context.Context) (int64, error) {
	var out struct {
		Offset int64 `json:"offset"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/state/ledger-end", nil, &out); err != nil {
		return 0, fmt.Errorf("get ledger end: %w", err)
	}
	return out.Offset, nil
}

// QueryContracts returns the active contracts visible to party, filtered by
// template. A zero-value template returns everything.
//
// The request always uses a wildcard filter and filters client side: the
// participant's template filter is unreliable across package upgrades, so the
// original deployment never trusted it.
func (c *Client) QueryContracts(ctx context.Context, party string, template TemplateID) ([]ActiveContract, error) {
	offset, err := c.GetLedgerEnd(ctx)
	if err != nil {
		return nil, err
	}
	if offset == 0 {
		// Empty ledger, nothing active.
		return nil, nil
	}

	body := map[string]any{
		"filter": map[string]any{
			"filtersByParty": map[string]any{
				party: map[string]any{
					"identifierFilter": map[string]any{"wildcardFilter": map[string]any{}},
				},
			},
		},
		"activeAtOffset": offset,
	}

	raw, err := c.doRaw(ctx, http.MethodPost, "/v2/state/active-contracts", body)
	if err != nil {
		return nil, fmt.Errorf("query active contracts: %w", err)
	}

	entries, err := decodeContractEntries(raw)
	if err != nil {
		return nil, fmt.Errorf("decode active contracts: %w", err)
	}

	if template.EntityName == "" {
		return entries, nil
	}
	var out []ActiveContract
	for _, ac := range entries {
		if template.Matches(ac.CreatedEvent.TemplateID) {
			out = append(out, ac)
		}
	}
	return out, nil
}

// CreateContract submits a create command and waits for the transaction.
// Every submission carries a fresh UUID command id, making retries of a
// failed HTTP call safe to repeat: the ledger deduplicates on command id.
func (c *Client) CreateContract(ctx context.Context, actAs []string, template TemplateID, payload any) (*SubmitResult, error) {
	cmd := map[string]any{
		"createCommand": map[string]any{
			"templateId":     template,
			"createArgument": payload,
		},
	}
	return c.submit(ctx, actAs, cmd)
}

// ExerciseChoice submits an exercise command on a contract and waits.
func (c *Client) ExerciseChoice(ctx context.Context, actAs []string, template TemplateID, contractID, choice string, args any) (*SubmitResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	cmd := map[string]any{
		"exerciseCommand": map[string]any{
			"templateId":     template,
			"contractId":     contractID,
			"choice":         choice,
			"choiceArgument": args,
		},
	}
	return c.submit(ctx, actAs, cmd)
}

// ListUsers returns the participant's user records (diagnostics).
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/users", nil, &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out.Users, nil
}

// ListPackages returns the package ids known to the participant (diagnostics).
func (c *Client) ListPackages(ctx context.Context) ([]string, error) {
	var out struct {
		PackageIDs []string `json:"packageIds"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/packages", nil, &out); err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return out.PackageIDs, nil
}

func (c *Client) submit(ctx context.Context, actAs []string, command map[string]any) (*SubmitResult, error) {
	body := map[string]any{
		"userId":    c.cfg.UserID,
		"actAs":     actAs,
		"readAs":    []string{},
		"commandId": uuid.NewString(),
		"commands":  []any{command},
	}

	var result SubmitResult
	if err := c.doJSON(ctx, http.MethodPost, "/v2/commands/submit-and-wait", body, &result); err != nil {
		return nil, fmt.Errorf("submit command: %w", err)
	}
	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	raw, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, _, err := c.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("load auth token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(raw, maxErrBodyBytes)}
	}
	return raw, nil
}

// APIError is a non-200 JSON API response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api returned %d: %s", e.Status, e.Body)
}

// decodeContractEntries accepts both response shapes the JSON API produces
// for active-contracts: a JSON array of entries, or newline-delimited entry
// objects.
func decodeContractEntries(raw []byte) ([]ActiveContract, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var out []ActiveContract
	if trimmed[0] == '[' {
		var entries []contractEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		for _, e := range entries {
			if ac := e.ContractEntry.JsActiveContract; ac != nil {
				out = append(out, *ac)
			}
		}
		return out, nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e contractEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, err
		}
		if ac := e.ContractEntry.JsActiveContract; ac != nil {
			out = append(out, *ac)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
