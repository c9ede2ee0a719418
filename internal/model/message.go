// Package model holds the wire and key types shared by the subscriber and
// includer services.
package model

import "fmt"

// SourceEventKey is the natural dedup key for a source-chain log: the pair
// (tx_hash, log_index). Unique across the lifetime of the source chain
// modulo reorgs deeper than the configured reorg buffer.
type SourceEventKey struct {
	TxHash   string
	LogIndex uint64
}

func (k SourceEventKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxHash, k.LogIndex)
}

// DepositMessage is the wire payload carried by the broker queue. Fields
// mirror the decoded Deposited event exactly; amounts are carried as
// strings and never renormalised (spec invariant: payload fidelity).
type DepositMessage struct {
	Sender      string `json:"sender"`
	Amount      string `json:"amount"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
}

// Key returns the DepositMessage's SourceEventKey.
func (m DepositMessage) Key() SourceEventKey {
	return SourceEventKey{TxHash: m.TxHash, LogIndex: m.LogIndex}
}

// Valid reports whether the string fields sender, amount and tx_hash are
// non-empty. block_number and log_index are not checked: a missing one
// decodes as 0, which is also a valid value. A delivery that fails this
// check is a poison message (spec.md §4.6 step 1).
func (m DepositMessage) Valid() bool {
	return m.Sender != "" && m.Amount != "" && m.TxHash != ""
}
