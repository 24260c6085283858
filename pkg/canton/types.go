package canton

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TemplateID identifies a Daml template on the ledger.
type TemplateID struct {
	PackageID  string `json:"packageId"`
	ModuleName string `json:"moduleName"`
	EntityName string `json:"entityName"`
}

// String renders the ledger's "packageId:Module:Entity" form.
func (t TemplateID) String() string {
	return t.PackageID + ":" + t.ModuleName + ":" + t.EntityName
}

// Matches reports whether a templateId string from a created event refers to
// this template. The package id is only compared when both sides carry one.
func (t TemplateID) Matches(templateID string) bool {
	parts := strings.Split(templateID, ":")
	if len(parts) < 2 {
		return false
	}
	entity := parts[len(parts)-1]
	module := parts[len(parts)-2]
	if module != t.ModuleName || entity != t.EntityName {
		return false
	}
	if t.PackageID != "" && len(parts) >= 3 && parts[0] != t.PackageID {
		return false
	}
	return true
}

// CreatedEvent is the ledger's view of an active contract.
type CreatedEvent struct {
	ContractID     string          `json:"contractId"`
	TemplateID     string          `json:"templateId"`
	PackageName    string          `json:"packageName"`
	CreateArgument json.RawMessage `json:"createArgument"`
}

// ActiveContract pairs a created event with its offset.
type ActiveContract struct {
	CreatedEvent CreatedEvent `json:"createdEvent"`
}

// contractEntry mirrors the active-contracts response envelope. The JSON API
// nests each contract under contractEntry -> JsActiveContract.
type contractEntry struct {
	ContractEntry struct {
		JsActiveContract *ActiveContract `json:"JsActiveContract"`
	} `json:"contractEntry"`
}

// SubmitResult is the outcome of a submit-and-wait command.
type SubmitResult struct {
	UpdateID         string `json:"updateId"`
	CompletionOffset int64  `json:"completionOffset"`
}

// User is a ledger user record (diagnostics only).
type User struct {
	ID          string `json:"id"`
	PrimaryParty string `json:"primaryParty"`
}

// =============================================================================
// Minted protocol template payloads
// =============================================================================

// Daml module names of the Minted protocol packages.
const (
	ModuleProtocol   = "Minted.Protocol.V3"
	ModuleDirectMint = "Minted.Protocol.CantonDirectMint"
	ModuleStaking    = "Minted.Protocol.CantonSMUSD"
	ModuleBoostPool  = "Minted.Protocol.CantonBoostPool"
)

// YieldPoolTemplate maps a pool name ("staking" or "boost") to its service
// template location.
func YieldPoolTemplate(pool string) (module, entity string) {
	if pool == "boost" {
		return ModuleBoostPool, "CantonBoostPoolService"
	}
	return ModuleStaking, "CantonStakingService"
}

// Request/record status values shared by the bridge templates.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusBridged   = "bridged"
	StatusSettled   = "settled"
)

// BridgeService is the singleton coordination contract for the bridge.
type BridgeService struct {
	Operator           string          `json:"operator"`
	Governance         string          `json:"governance"`
	Validators         []string        `json:"validators"`
	RequiredSignatures int             `json:"requiredSignatures"`
	TotalBridgedIn     decimal.Decimal `json:"totalBridgedIn"`
	TotalBridgedOut    decimal.Decimal `json:"totalBridgedOut"`
	LastBridgeOutNonce int64           `json:"lastBridgeOutNonce"`
	LastBridgeInNonce  int64           `json:"lastBridgeInNonce"`
	Paused             bool            `json:"paused"`
}

// ValidatorSignature is one validator's signature over an attestation digest.
// Immutable once recorded.
type ValidatorSignature struct {
	Validator    string `json:"validator"`
	SignatureHex string `json:"signatureHex"`
	Signer       string `json:"signer"`
}

// AttestationRequest is a proposed cross-chain fact awaiting a validator
// signature quorum.
type AttestationRequest struct {
	RequestID         string               `json:"requestId"`
	Nonce             int64                `json:"nonce"`
	ClaimedCollateral decimal.Decimal      `json:"claimedCollateral"`
	NewSupplyCap      decimal.Decimal      `json:"newSupplyCap"`
	Assets            []AttestedAsset      `json:"assets"`
	ExpiresAt         time.Time            `json:"expiresAt"`
	Validators        []string             `json:"validators"`
	Signatures        []ValidatorSignature `json:"signatures"`
}

// QuorumSatisfied reports whether the collected signatures meet the
// required threshold.
func (a *AttestationRequest) QuorumSatisfied(required int) bool {
	return len(a.Signatures) >= required
}

// Expired reports whether the request's TTL has passed.
func (a *AttestationRequest) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// HasSigned reports whether the given validator party already signed.
func (a *AttestationRequest) HasSigned(validator string) bool {
	for _, s := range a.Signatures {
		if s.Validator == validator {
			return true
		}
	}
	return false
}

// Eligible reports whether the given validator party may sign this request.
func (a *AttestationRequest) Eligible(validator string) bool {
	for _, v := range a.Validators {
		if v == validator {
			return true
		}
	}
	return false
}

// BridgeInRequest is a pending Ethereum-to-Canton transfer. Completion
// (the mint) is gated on an attestation signed by the request's validator
// set. Dedup key: "<ethTxHash>:<logIndex>".
type BridgeInRequest struct {
	EthTxHash          string          `json:"ethTxHash"`
	LogIndex           int64           `json:"logIndex"`
	Nonce              int64           `json:"nonce"`
	Amount             decimal.Decimal `json:"amount"`
	EthSender          string          `json:"ethSender"`
	Recipient          string          `json:"recipient"`
	Validators         []string        `json:"validators"`
	RequiredSignatures int             `json:"requiredSignatures"`
	Status             string          `json:"status"`
}

// MintAuthorized reports whether an unexpired attestation carries enough
// signatures from this request's validator set to authorize the mint. At
// least one matching signature is always required, even when the recorded
// quorum is zero.
func (b *BridgeInRequest) MintAuthorized(attestations []AttestationRequest, now time.Time) bool {
	required := b.RequiredSignatures
	if required < 1 {
		required = 1
	}
	eligible := make(map[string]bool, len(b.Validators))
	for _, v := range b.Validators {
		eligible[v] = true
	}

	for i := range attestations {
		a := &attestations[i]
		if a.Expired(now) {
			continue
		}
		matched := 0
		for _, sig := range a.Signatures {
			if eligible[sig.Validator] {
				matched++
			}
		}
		if matched >= required {
			return true
		}
	}
	return false
}

// DedupKey returns the composite at-most-once processing key.
func (b *BridgeInRequest) DedupKey() string {
	return fmt.Sprintf("%s:%d", b.EthTxHash, b.LogIndex)
}

// RedemptionRequest is a pending Canton-side burn awaiting an Ethereum payout.
type RedemptionRequest struct {
	RedemptionID string          `json:"redemptionId"`
	Owner        string          `json:"owner"`
	EthRecipient string          `json:"ethRecipient"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
}

// MUSDHolding is a single mUSD token contract.
// Ref is a stable reference id used to de-duplicate holdings when summing.
type MUSDHolding struct {
	Owner  string          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref"`
}

// SupplyService tracks issued supply and its cap.
type SupplyService struct {
	CurrentSupply decimal.Decimal `json:"currentSupply"`
	SupplyCap     decimal.Decimal `json:"supplyCap"`
}

// YieldPoolService is the shared shape of the two yield pool services.
type YieldPoolService struct {
	Operator    string          `json:"operator"`
	TotalShares decimal.Decimal `json:"totalShares"`
	Paused      bool            `json:"paused"`
}

// =============================================================================
// Choice argument payloads
// =============================================================================

// SubmitSignatureArgs carries a validator signature onto an AttestationRequest.
type SubmitSignatureArgs struct {
	Validator       string `json:"validator"`
	SignatureHex    string `json:"signatureHex"`
	RecoveredSigner string `json:"recoveredSigner"`
}

// MarkBridgedArgs closes an AttestationRequest after on-chain submission.
type MarkBridgedArgs struct {
	RelayTxHash string `json:"relayTxHash"`
}

// ReceiveYieldArgs credits bridged yield to a pool service.
type ReceiveYieldArgs struct {
	Epoch  int64           `json:"epoch"`
	Amount decimal.Decimal `json:"amount"`
}

// MarkSettledArgs records the durable settlement marker on a RedemptionRequest.
type MarkSettledArgs struct {
	EthTxHash string `json:"ethTxHash"`
}

// MintArgs mints mUSD to a party with a dedup reference.
type MintArgs struct {
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Ref       string          `json:"ref"`
}
