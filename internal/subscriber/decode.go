package subscriber

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/klaytn/depositrelay/internal/errs"
	"github.com/klaytn/depositrelay/internal/model"
)

// amountArguments decodes a single ABI "string" from a log's data section,
// the same shape the Deposited event's amount field is declared with
// (spec.md §4.5 step 4).
var amountArguments = abi.Arguments{{Type: mustNewType("string")}}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// decodeDeposited turns a matching log into a DepositMessage, or a
// DecodeError if the log has no indexed sender topic or its data does not
// decode as a single ABI string (spec.md §3 invariant I5, §7 DecodeError).
// Pending-log fields are checked separately by hasRequiredFields.
func decodeDeposited(log types.Log) (model.DepositMessage, error) {
	if len(log.Topics) < 2 {
		return model.DepositMessage{}, &errs.DecodeError{Op: "decode Deposited log", Err: errors.New("missing indexed sender topic")}
	}
	sender := lowerTwentyBytes(log.Topics[1])

	values, err := amountArguments.Unpack(log.Data)
	if err != nil {
		return model.DepositMessage{}, &errs.DecodeError{Op: "decode Deposited log", Err: errors.Wrap(err, "unpack amount")}
	}
	if len(values) != 1 {
		return model.DepositMessage{}, &errs.DecodeError{Op: "decode Deposited log", Err: errors.New("unexpected amount decode shape")}
	}
	amount, ok := values[0].(string)
	if !ok {
		return model.DepositMessage{}, &errs.DecodeError{Op: "decode Deposited log", Err: errors.New("amount is not a string")}
	}

	return model.DepositMessage{
		// spec.md §3: sender is "lowercase hex with 0x prefix" — common.Address.Hex()
		// returns EIP-55 checksummed mixed case, which would violate payload
		// fidelity (invariant I5 / P5).
		Sender:      strings.ToLower(sender.Hex()),
		Amount:      amount,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
	}, nil
}

// lowerTwentyBytes extracts an indexed EVM address from its 32-byte topic
// encoding: addresses are left-padded with zeros to fill a topic slot, so
// the address itself is the low-order 20 bytes (spec.md §9 design note).
func lowerTwentyBytes(topic common.Hash) common.Address {
	var addr common.Address
	copy(addr[:], topic[12:])
	return addr
}

// hasRequiredFields reports whether a log carries a non-zero block number
// and transaction hash, i.e. it has been mined and is not a pending log
// (spec.md §4.5 step 4). The log index is not checked: types.Log holds it
// as a plain uint, and 0 is a valid index. go-ethereum's ethclient.FilterLogs never returns pending logs,
// but the check is kept to mirror the protocol-level guarantee spec.md
// calls out explicitly rather than assume it from the RPC implementation.
func hasRequiredFields(log types.Log) bool {
	return log.BlockNumber != 0 && log.TxHash != (common.Hash{})
}
