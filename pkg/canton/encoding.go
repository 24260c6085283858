package canton

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// AssetKind is the closed set of collateral asset variants an attestation
// can carry.
type AssetKind string

const (
	AssetKindTreasury AssetKind = "treasury"
	AssetKindStaked   AssetKind = "staked"
	AssetKindLP       AssetKind = "lp"
)

// requiredExtraFields maps each asset kind to the extra fields its payload
// must carry. The mapping is total over the known kinds; an unlisted kind is
// rejected at decode time rather than guessed at.
var requiredExtraFields = map[AssetKind][]string{
	AssetKindTreasury: {"custodian", "cusip"},
	AssetKindStaked:   {"poolId", "epoch"},
	AssetKindLP:       {"poolId", "pairToken"},
}

// KnownAssetKind reports whether kind is one of the supported variants.
func KnownAssetKind(kind AssetKind) bool {
	_, ok := requiredExtraFields[kind]
	return ok
}

// RequiredExtraFields returns the extra field names a given kind must carry.
func RequiredExtraFields(kind AssetKind) []string {
	return requiredExtraFields[kind]
}

// AttestedAsset is one collateral line item inside an AttestationRequest.
// The Kind discriminates the variant and ExtraFields carries the per-kind
// payload.
type AttestedAsset struct {
	AssetID     string            `json:"assetId"`
	Kind        AssetKind         `json:"kind"`
	Amount      decimal.Decimal   `json:"amount"`
	ExtraFields map[string]string `json:"extraFields"`
}

// Validate checks that the asset's kind is known and that every extra field
// the kind requires is present and non-empty.
func (a *AttestedAsset) Validate() error {
	fields, ok := requiredExtraFields[a.Kind]
	if !ok {
		return fmt.Errorf("unknown asset kind %q for asset %s", a.Kind, a.AssetID)
	}
	for _, f := range fields {
		if a.ExtraFields[f] == "" {
			return fmt.Errorf("asset %s (%s) missing extra field %q", a.AssetID, a.Kind, f)
		}
	}
	if a.Amount.IsNegative() {
		return fmt.Errorf("asset %s has negative amount %s", a.AssetID, a.Amount)
	}
	return nil
}

// UnmarshalJSON decodes and validates in one step so malformed assets never
// enter the process.
func (a *AttestedAsset) UnmarshalJSON(data []byte) error {
	type raw AttestedAsset
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*a = AttestedAsset(r)
	return a.Validate()
}

// SumAssets adds up the amounts of all assets.
func SumAssets(assets []AttestedAsset) decimal.Decimal {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(a.Amount)
	}
	return total
}

// SumHoldings adds up holding amounts, de-duplicated by ref. The ACS can
// briefly show the same logical holding twice across a transfer; the ref is
// stable, so the first occurrence wins.
func SumHoldings(holdings []MUSDHolding) decimal.Decimal {
	total := decimal.Zero
	seen := make(map[string]bool, len(holdings))
	for _, h := range holdings {
		if h.Ref != "" && seen[h.Ref] {
			continue
		}
		seen[h.Ref] = true
		total = total.Add(h.Amount)
	}
	return total
}

// ParseDecimal parses a ledger decimal string. The JSON API renders Daml
// Decimal values as strings, never as JSON numbers.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// FormatDecimal renders a decimal for a createArgument or choiceArgument.
// Daml Decimal carries ten fractional digits.
func FormatDecimal(d decimal.Decimal) string {
	return d.StringFixed(10)
}
