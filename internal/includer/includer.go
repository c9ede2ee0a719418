// Package includer implements the consume/mint state machine: read
// DepositMessages off the broker queue, deduplicate against the ledger,
// submit the corresponding mint on Chain B, record the outcome, and
// acknowledge. Grounded on datasync/chaindatafetcher/event/kafka/consumer.go's
// handler-driven consume loop (read delivery, dispatch, ack/reject) and
// original_source/src/bin/includer.rs's claim/submit/finalize sequence.
package includer

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/pkg/errors"

	"github.com/klaytn/depositrelay/internal/errs"
	"github.com/klaytn/depositrelay/internal/ledger"
	"github.com/klaytn/depositrelay/internal/logging"
	"github.com/klaytn/depositrelay/internal/model"
)

var log = logging.Module("includer")

// ChainSigner is the subset of chainclient.SignClient the loop depends on.
type ChainSigner interface {
	SubmitMint(ctx context.Context, tokenAddress, to common.Address, amount string) (string, error)
}

// Ledger is the subset of ledger.Store the loop depends on.
type Ledger interface {
	ClaimMint(ctx context.Context, key model.SourceEventKey, tokenAddress, amount string) (ledger.ClaimResult, error)
	FinalizeMint(ctx context.Context, key model.SourceEventKey, outcome ledger.MintOutcome) error
}

// Delivery is the subset of an amqp091-go delivery the loop depends on,
// narrowed to body plus ack/nack callbacks so tests can feed synthetic
// deliveries without a real broker.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

// Loop is the includer's consume/mint state machine. It processes one
// delivery at a time; the includer is single-flight by design (spec.md §5),
// so the chain signer never races on nonce allocation.
type Loop struct {
	signer       ChainSigner
	store        Ledger
	tokenAddress common.Address
}

// New constructs an includer loop targeting tokenAddress on Chain B.
func New(signer ChainSigner, store Ledger, tokenAddress common.Address) *Loop {
	return &Loop{signer: signer, store: store, tokenAddress: tokenAddress}
}

// HandleDelivery runs the full per-delivery cycle described in spec.md
// §4.6: parse, claim, submit, finalize, ack. A parse failure rejects the
// delivery without requeue (poison message) and returns nil — the delivery
// has been fully handled, not dropped silently.
func (l *Loop) HandleDelivery(ctx context.Context, d Delivery) error {
	var msg model.DepositMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || !msg.Valid() {
		log.Warnw("rejecting poison delivery", "err", err)
		return d.Nack(false)
	}
	key := msg.Key()

	claim, err := l.store.ClaimMint(ctx, key, l.tokenAddress.Hex(), msg.Amount)
	if err != nil {
		return err
	}
	if claim == ledger.AlreadyClaimed {
		log.Debugw("delivery already claimed by a prior attempt, acking", "key", key.String())
		return d.Ack()
	}

	to := common.HexToAddress(msg.Sender)
	destTxHash, err := l.signer.SubmitMint(ctx, l.tokenAddress, to, msg.Amount)
	outcome := ledger.MintOutcome{}
	if err != nil {
		outcome.Success = false
		outcome.ErrorText = mintErrorText(err)
		log.Errorw("mint failed, recording and acking, no automatic retry", "key", key.String(), "err", err)
	} else {
		outcome.Success = true
		outcome.DestTxHash = destTxHash
		log.Infow("mint included", "key", key.String(), "dest_tx_hash", destTxHash)
	}

	if err := l.store.FinalizeMint(ctx, key, outcome); err != nil {
		return err
	}
	// Acked in both the success and failure case (spec.md §4.6 step 4): a
	// retry after a recorded failure requires operator intervention, since
	// mint is not idempotent at the contract layer (spec.md §7).
	return d.Ack()
}

func mintErrorText(err error) string {
	var mf *errs.MintFailure
	if errors.As(err, &mf) {
		return mf.Reason
	}
	return err.Error()
}

// FromAMQP adapts an amqp091-go delivery into the loop's narrow Delivery
// shape, so HandleDelivery itself never touches an amqp.Delivery.
func FromAMQP(d amqp.Delivery) Delivery {
	return Delivery{
		Body: d.Body,
		Ack:  func() error { return d.Ack(false) },
		Nack: func(requeue bool) error { return d.Nack(false, requeue) },
	}
}
