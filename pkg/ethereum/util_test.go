package ethereum

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalUnitsRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("1234.567891")
	units := DecimalToUnits(d)
	assert.Equal(t, big.NewInt(1_234_567_891), units)
	assert.True(t, UnitsToDecimal(units).Equal(d))
}

func TestDecimalToUnitsTruncatesDust(t *testing.T) {
	d := decimal.RequireFromString("0.1234567899")
	assert.Equal(t, big.NewInt(123_456), DecimalToUnits(d))
}

func TestAttestationDigestDeterministic(t *testing.T) {
	at := time.Unix(1_900_000_000, 0)
	a := AttestationDigest(7, big.NewInt(1000), big.NewInt(900), at)
	b := AttestationDigest(7, big.NewInt(1000), big.NewInt(900), at)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, AttestationDigest(8, big.NewInt(1000), big.NewInt(900), at))
	assert.NotEqual(t, a, AttestationDigest(7, big.NewInt(1001), big.NewInt(900), at))
	assert.NotEqual(t, a, AttestationDigest(7, big.NewInt(1000), big.NewInt(901), at))
	assert.NotEqual(t, a, AttestationDigest(7, big.NewInt(1000), big.NewInt(900), at.Add(time.Second)))
}

func TestRedemptionKeyStable(t *testing.T) {
	k1 := RedemptionKey("red-001")
	k2 := RedemptionKey("red-001")
	require.Equal(t, k1, k2)
	assert.NotEqual(t, k1, RedemptionKey("red-002"))
}
