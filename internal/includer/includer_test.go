package includer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/depositrelay/internal/errs"
	"github.com/klaytn/depositrelay/internal/ledger"
	"github.com/klaytn/depositrelay/internal/model"
)

var testToken = common.HexToAddress("0x000000000000000000000000000000000070c3")

type fakeSigner struct {
	destTxHash string
	err        error
	calls      int
}

func (f *fakeSigner) SubmitMint(ctx context.Context, tokenAddress, to common.Address, amount string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.destTxHash, nil
}

type fakeLedger struct {
	claimed   map[model.SourceEventKey]bool
	finalized map[model.SourceEventKey]ledger.MintOutcome
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claimed: map[model.SourceEventKey]bool{}, finalized: map[model.SourceEventKey]ledger.MintOutcome{}}
}

func (f *fakeLedger) ClaimMint(ctx context.Context, key model.SourceEventKey, tokenAddress, amount string) (ledger.ClaimResult, error) {
	if f.claimed[key] {
		return ledger.AlreadyClaimed, nil
	}
	f.claimed[key] = true
	return ledger.Claimed, nil
}

func (f *fakeLedger) FinalizeMint(ctx context.Context, key model.SourceEventKey, outcome ledger.MintOutcome) error {
	f.finalized[key] = outcome
	return nil
}

type fakeDelivery struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeDelivery) toDelivery(body []byte) Delivery {
	return Delivery{
		Body: body,
		Ack:  func() error { f.acked = true; return nil },
		Nack: func(requeue bool) error { f.nacked = true; f.requeue = requeue; return nil },
	}
}

func validBody() []byte {
	return []byte(`{"sender":"0x00000000000000000000000000000000c0ffee","amount":"1000","block_number":95,"tx_hash":"0xabc","log_index":0}`)
}

// Scenario 2/P1: a fresh delivery is claimed, minted, finalized with
// success, and acked exactly once.
func TestHandleDelivery_SuccessfulMint(t *testing.T) {
	signer := &fakeSigner{destTxHash: "0xdef"}
	store := newFakeLedger()
	loop := New(signer, store, testToken)
	d := &fakeDelivery{}

	err := loop.HandleDelivery(context.Background(), d.toDelivery(validBody()))
	require.NoError(t, err)

	assert.True(t, d.acked)
	assert.Equal(t, 1, signer.calls)
	key := model.SourceEventKey{TxHash: "0xabc", LogIndex: 0}
	outcome := store.finalized[key]
	assert.True(t, outcome.Success)
	assert.Equal(t, "0xdef", outcome.DestTxHash)
}

// P1 -- at most one mint submitted for k copies of the same delivery.
func TestHandleDelivery_AlreadyClaimedSkipsMint(t *testing.T) {
	signer := &fakeSigner{destTxHash: "0xdef"}
	store := newFakeLedger()
	loop := New(signer, store, testToken)

	require.NoError(t, loop.HandleDelivery(context.Background(), (&fakeDelivery{}).toDelivery(validBody())))

	d2 := &fakeDelivery{}
	require.NoError(t, loop.HandleDelivery(context.Background(), d2.toDelivery(validBody())))

	assert.True(t, d2.acked)
	assert.Equal(t, 1, signer.calls)
}

// Scenario 5: mint revert is recorded with success=false and a non-empty
// error, and the delivery is still acked (no automatic retry).
func TestHandleDelivery_MintRevertRecordsFailureAndAcks(t *testing.T) {
	signer := &fakeSigner{err: &errs.MintFailure{Reason: "transaction reverted"}}
	store := newFakeLedger()
	loop := New(signer, store, testToken)
	d := &fakeDelivery{}

	require.NoError(t, loop.HandleDelivery(context.Background(), d.toDelivery(validBody())))

	assert.True(t, d.acked)
	key := model.SourceEventKey{TxHash: "0xabc", LogIndex: 0}
	outcome := store.finalized[key]
	assert.False(t, outcome.Success)
	assert.Equal(t, "transaction reverted", outcome.ErrorText)
}

// Scenario 4: a poison payload is rejected without requeue and the loop
// does not attempt to claim or mint.
func TestHandleDelivery_PoisonPayloadRejectedWithoutRequeue(t *testing.T) {
	signer := &fakeSigner{}
	store := newFakeLedger()
	loop := New(signer, store, testToken)
	d := &fakeDelivery{}

	err := loop.HandleDelivery(context.Background(), d.toDelivery([]byte(`{"sender":"0xabc"}`)))
	require.NoError(t, err)

	assert.True(t, d.nacked)
	assert.False(t, d.requeue)
	assert.Equal(t, 0, signer.calls)
	assert.Empty(t, store.claimed)
}

// Scenario 4 variant: a payload with a tx_hash but a missing amount is
// still a poison message and must not reach claim/mint with an empty
// amount.
func TestHandleDelivery_MissingAmountRejectedWithoutRequeue(t *testing.T) {
	signer := &fakeSigner{}
	store := newFakeLedger()
	loop := New(signer, store, testToken)
	d := &fakeDelivery{}

	body := []byte(`{"sender":"0x00000000000000000000000000000000c0ffee","tx_hash":"0xabc","log_index":0}`)
	err := loop.HandleDelivery(context.Background(), d.toDelivery(body))
	require.NoError(t, err)

	assert.True(t, d.nacked)
	assert.False(t, d.requeue)
	assert.Equal(t, 0, signer.calls)
	assert.Empty(t, store.claimed)
}

func TestMintErrorText_UnwrapsMintFailure(t *testing.T) {
	assert.Equal(t, "transaction reverted", mintErrorText(&errs.MintFailure{Reason: "transaction reverted"}))
	assert.Equal(t, "boom", mintErrorText(errors.New("boom")))
}
