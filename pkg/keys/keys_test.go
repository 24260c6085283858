package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/minted-network/bridge-relay/pkg/config"
	"github.com/minted-network/bridge-relay/pkg/sigcodec"
)

func testMasterKey(t *testing.T) string {
	t.Helper()
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(secret)
}

func TestKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validator.key")
	master := testMasterKey(t)

	addr, err := WriteKeystore(path, master)
	require.NoError(t, err)

	signer, err := NewKeystoreSigner(&config.SignerConfig{
		KeystorePath: path,
		MasterKeyB64: master,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, addr, signer.Address())

	digest := crypto.Keccak256([]byte("attestation digest"))
	der, err := signer.Sign(context.Background(), digest)
	require.NoError(t, err)

	// The DER output must convert through the codec back to the signer.
	ethSig, err := sigcodec.EthereumSignature(der, digest, signer.Address())
	require.NoError(t, err)
	assert.Len(t, ethSig, 65)
}

func TestKeystoreWrongMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validator.key")
	_, err := WriteKeystore(path, testMasterKey(t))
	require.NoError(t, err)

	_, err = NewKeystoreSigner(&config.SignerConfig{
		KeystorePath: path,
		MasterKeyB64: testMasterKey(t),
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt keystore")
}

func TestKeystoreShortMasterKey(t *testing.T) {
	_, err := WriteKeystore(filepath.Join(t.TempDir(), "k"), base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")
}

func TestHSMSignerSign(t *testing.T) {
	var gotReq hsmSignRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sign", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := hsmSignResponse{Signature: base64.StdEncoding.EncodeToString([]byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02})}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	signer, err := NewHSMSigner(&config.SignerConfig{
		HSMEndpoint:    srv.URL,
		HSMKeyLabel:    "validator-1-attest",
		HSMAPIToken:    "sekret",
		ExpectedSigner: "0x1111111111111111111111111111111111111111",
		HSMTimeout:     time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("payload"))
	der, err := signer.Sign(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, byte(0x30), der[0])

	assert.Equal(t, "validator-1-attest", gotReq.KeyLabel)
	decoded, err := base64.StdEncoding.DecodeString(gotReq.Digest)
	require.NoError(t, err)
	assert.Equal(t, digest, decoded)
	assert.Equal(t, "Bearer sekret", gotAuth)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", signer.Address().Hex())
}

func TestHSMSignerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "key not found", http.StatusNotFound)
	}))
	defer srv.Close()

	signer, err := NewHSMSigner(&config.SignerConfig{
		HSMEndpoint:    srv.URL,
		HSMKeyLabel:    "missing",
		ExpectedSigner: "0x2222222222222222222222222222222222222222",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = signer.Sign(context.Background(), make([]byte, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 404")

	_, err = signer.Sign(context.Background(), []byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestNewSignerBackendSelection(t *testing.T) {
	_, err := NewSigner(&config.SignerConfig{Backend: "vault"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown signer backend")

	path := filepath.Join(t.TempDir(), "validator.key")
	master := testMasterKey(t)
	_, err = WriteKeystore(path, master)
	require.NoError(t, err)

	signer, err := NewSigner(&config.SignerConfig{
		Backend:      "local",
		KeystorePath: path,
		MasterKeyB64: master,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, signer)
}
