package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBridgeOut(t *testing.T) {
	ev := parsedABI.Events["BridgeOut"]
	data, err := ev.Inputs.NonIndexed().Pack("minted-user::alice", big.NewInt(2_500_000_000))
	require.NoError(t, err)

	sender := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	log := types.Log{
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(17)),
			common.BytesToHash(common.LeftPadBytes(sender.Bytes(), 32)),
		},
		Data:        data,
		BlockNumber: 18_100_000,
		TxHash:      common.HexToHash("0xbeef"),
		Index:       3,
	}

	out, err := ParseBridgeOut(log)
	require.NoError(t, err)
	assert.Equal(t, int64(17), out.Nonce.Int64())
	assert.Equal(t, sender, out.Sender)
	assert.Equal(t, "minted-user::alice", out.CantonRecipient)
	assert.Equal(t, int64(2_500_000_000), out.Amount.Int64())
	assert.Equal(t, uint64(18_100_000), out.Raw.BlockNumber)
	assert.Equal(t, uint(3), out.Raw.Index)
}

func TestParseYieldBridged(t *testing.T) {
	ev := parsedABI.Events["YieldBridged"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(750_000))
	require.NoError(t, err)

	log := types.Log{
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(int64(YieldPoolBoost))),
			common.BigToHash(big.NewInt(42)),
		},
		Data: data,
	}

	out, err := ParseYieldBridged(log)
	require.NoError(t, err)
	assert.Equal(t, YieldPoolBoost, out.Pool)
	assert.Equal(t, int64(42), out.Epoch.Int64())
	assert.Equal(t, int64(750_000), out.Amount.Int64())
}

func TestParseRejectsWrongEvent(t *testing.T) {
	log := types.Log{Topics: []common.Hash{parsedABI.Events["YieldBridged"].ID}}
	_, err := ParseBridgeOut(log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a BridgeOut event")
}

func TestEventTopic(t *testing.T) {
	topic, err := EventTopic("BridgeOut")
	require.NoError(t, err)
	assert.Equal(t, parsedABI.Events["BridgeOut"].ID, topic)

	_, err = EventTopic("Nope")
	require.Error(t, err)
}
