package keys

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
)

const defaultHSMTimeout = 10 * time.Second

// HSMSigner asks a remote hardware signing module to sign digests. The raw
// private key never enters this process; the module returns a DER signature
// for a named key.
type HSMSigner struct {
	endpoint   string
	keyLabel   string
	apiToken   string
	address    common.Address
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHSMSigner creates a signer backed by the configured signing service.
func NewHSMSigner(cfg *config.SignerConfig, logger *zap.Logger) (*HSMSigner, error) {
	if cfg.HSMEndpoint == "" {
		return nil, fmt.Errorf("hsm backend requires an endpoint")
	}
	if cfg.HSMKeyLabel == "" {
		return nil, fmt.Errorf("hsm backend requires a key label")
	}
	if !common.IsHexAddress(cfg.ExpectedSigner) {
		return nil, fmt.Errorf("invalid expected signer address %q", cfg.ExpectedSigner)
	}

	timeout := cfg.HSMTimeout
	if timeout <= 0 {
		timeout = defaultHSMTimeout
	}

	logger.Info("HSM signer configured",
		zap.String("endpoint", cfg.HSMEndpoint),
		zap.String("key_label", cfg.HSMKeyLabel),
		zap.String("expected_signer", cfg.ExpectedSigner))

	return &HSMSigner{
		endpoint:   cfg.HSMEndpoint,
		keyLabel:   cfg.HSMKeyLabel,
		apiToken:   cfg.HSMAPIToken,
		address:    common.HexToAddress(cfg.ExpectedSigner),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type hsmSignRequest struct {
	KeyLabel string `json:"keyLabel"`
	Digest   string `json:"digest"`
}

type hsmSignResponse struct {
	Signature string `json:"signature"`
}

// Sign requests a DER signature over digest from the signing module.
func (h *HSMSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}

	body, err := json.Marshal(hsmSignRequest{
		KeyLabel: h.keyLabel,
		Digest:   base64.StdEncoding.EncodeToString(digest),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiToken)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call signing module: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read sign response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing module returned %d: %s", resp.StatusCode, raw)
	}

	var out hsmSignResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode sign response: %w", err)
	}
	der, err := base64.StdEncoding.DecodeString(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(der) == 0 {
		return nil, fmt.Errorf("signing module returned an empty signature")
	}
	return der, nil
}

// Address returns the configured signer address for this key label.
func (h *HSMSigner) Address() common.Address {
	return h.address
}
