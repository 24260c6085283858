// Package keys provides the attestation signing backends: a remote hardware
// signing module client and an encrypted local keystore for development. Both
// produce DER signatures and an expected signer address for recovery.
package keys

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
)

// Signer signs 32-byte digests and identifies the expected on-chain signer.
type Signer interface {
	// Sign returns a DER-encoded ECDSA signature over digest.
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	// Address is the Ethereum address signature recovery must resolve to.
	Address() common.Address
}

// NewSigner constructs the configured signing backend.
func NewSigner(cfg *config.SignerConfig, logger *zap.Logger) (Signer, error) {
	switch cfg.Backend {
	case "hsm":
		return NewHSMSigner(cfg, logger)
	case "local":
		return NewKeystoreSigner(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown signer backend %q", cfg.Backend)
	}
}
