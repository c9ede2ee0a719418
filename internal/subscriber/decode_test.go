package subscriber

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/depositrelay/internal/errs"
)

func TestLowerTwentyBytes_ExtractsAddressFromPaddedTopic(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000c0ffee")
	var topic common.Hash
	copy(topic[12:], addr[:])

	assert.Equal(t, addr, lowerTwentyBytes(topic))
}

func TestDecodeDeposited_MissingSenderTopicIsDecodeError(t *testing.T) {
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}

	_, err := decodeDeposited(lg)

	var decodeErr *errs.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeDeposited_NonStringAmountIsDecodeError(t *testing.T) {
	lg := types.Log{
		Topics: []common.Hash{common.HexToHash("0xdeadbeef"), common.HexToHash("0xc0ffee")},
		Data:   []byte{1, 2, 3},
	}

	_, err := decodeDeposited(lg)

	var decodeErr *errs.DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestDecodeDeposited_PayloadFidelity(t *testing.T) {
	sender := common.HexToAddress("0x00000000000000000000000000000000c0ffee")
	packed, err := amountArguments.Pack("12345")
	require.NoError(t, err)
	var senderTopic common.Hash
	copy(senderTopic[12:], sender[:])

	lg := types.Log{
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef"), senderTopic},
		Data:        packed,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xabc123"),
		Index:       7,
	}

	msg, err := decodeDeposited(lg)
	require.NoError(t, err)

	assert.Equal(t, strings.ToLower(sender.Hex()), msg.Sender)
	assert.Equal(t, msg.Sender, strings.ToLower(msg.Sender), "payload sender must be lowercase hex")
	assert.Equal(t, "12345", msg.Amount)
	assert.Equal(t, uint64(42), msg.BlockNumber)
	assert.Equal(t, lg.TxHash.Hex(), msg.TxHash)
	assert.Equal(t, uint64(7), msg.LogIndex)
}

func TestHasRequiredFields(t *testing.T) {
	assert.False(t, hasRequiredFields(types.Log{}))
	assert.True(t, hasRequiredFields(types.Log{BlockNumber: 1, TxHash: common.HexToHash("0x1")}))
}
