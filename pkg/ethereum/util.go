package ethereum

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// TokenDecimals is mUSD's on-chain precision.
const TokenDecimals = 6

// RedemptionKey maps a ledger redemption id to the contract's bytes32 key.
func RedemptionKey(redemptionID string) [32]byte {
	return crypto.Keccak256Hash([]byte(redemptionID))
}

// AttestationDigest computes the message hash validators sign: the packed
// 32-byte words of nonce, collateral, new supply cap, and expiry, hashed
// with keccak256. Must match the contract's digest exactly.
func AttestationDigest(nonce uint64, collateral, newSupplyCap *big.Int, expiresAt time.Time) common.Hash {
	word := func(v *big.Int) []byte {
		buf := make([]byte, 32)
		v.FillBytes(buf)
		return buf
	}
	return crypto.Keccak256Hash(
		word(new(big.Int).SetUint64(nonce)),
		word(collateral),
		word(newSupplyCap),
		word(big.NewInt(expiresAt.Unix())),
	)
}

// DecimalToUnits converts a ledger decimal amount to on-chain token units,
// truncating sub-unit dust.
func DecimalToUnits(d decimal.Decimal) *big.Int {
	return d.Shift(TokenDecimals).Truncate(0).BigInt()
}

// UnitsToDecimal converts on-chain token units to a ledger decimal amount.
func UnitsToDecimal(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, -TokenDecimals)
}
