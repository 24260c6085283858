package keys

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/sigcodec"
)

// KeystoreSigner signs with a secp256k1 key held in an AES-256-GCM encrypted
// file. Intended for development and test deployments; production runs use
// the HSM backend.
type KeystoreSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeystoreSigner decrypts the keystore at cfg.KeystorePath with a key
// derived from cfg.MasterKeyB64.
func NewKeystoreSigner(cfg *config.SignerConfig, logger *zap.Logger) (*KeystoreSigner, error) {
	masterKey, err := deriveMasterKey(cfg.MasterKeyB64)
	if err != nil {
		return nil, err
	}

	encrypted, err := os.ReadFile(cfg.KeystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}

	keyBytes, err := decryptKey(string(encrypted), masterKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", cfg.KeystorePath, err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	addr := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("local keystore signer loaded",
		zap.String("path", cfg.KeystorePath),
		zap.String("address", addr.Hex()))

	return &KeystoreSigner{key: key, address: addr}, nil
}

// Sign produces a DER signature over digest, matching the wire form the
// HSM backend returns.
func (k *KeystoreSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := crypto.Sign(digest, k.key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	return sigcodec.EncodeDER(r, s), nil
}

// Address returns the keystore key's Ethereum address.
func (k *KeystoreSigner) Address() common.Address {
	return k.address
}

// WriteKeystore generates a fresh signing key, encrypts it under the master
// key, and writes it to path. Returns the new key's address.
func WriteKeystore(path, masterKeyB64 string) (common.Address, error) {
	masterKey, err := deriveMasterKey(masterKeyB64)
	if err != nil {
		return common.Address{}, err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("generate signing key: %w", err)
	}

	encrypted, err := encryptKey(crypto.FromECDSA(key), masterKey)
	if err != nil {
		return common.Address{}, err
	}
	if err := os.WriteFile(path, []byte(encrypted), 0o600); err != nil {
		return common.Address{}, fmt.Errorf("write keystore: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// deriveMasterKey stretches the configured secret into a 32-byte AES key
// with HKDF-SHA256, so the config value need not itself be exactly 32 bytes.
func deriveMasterKey(masterKeyB64 string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("master key must be at least 32 bytes, got %d", len(secret))
	}

	reader := hkdf.New(sha256.New, secret, nil, []byte("attestation-keystore"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	return key, nil
}

// encryptKey seals a 32-byte private key with AES-256-GCM. The output is
// base64(nonce || ciphertext || tag).
func encryptKey(privateKey, masterKey []byte) (string, error) {
	if len(privateKey) != 32 {
		return "", fmt.Errorf("private key must be 32 bytes")
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, privateKey, nil)), nil
}

func decryptKey(encrypted string, masterKey []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	if len(plaintext) != 32 {
		return nil, fmt.Errorf("decrypted key has wrong size: got %d, want 32", len(plaintext))
	}
	return plaintext, nil
}
