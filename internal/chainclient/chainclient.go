// Package chainclient wraps read-only and signing access to an EVM chain
// over JSON-RPC. The read side (head block, filtered logs) serves the
// subscriber; the signing side (submit + wait for inclusion) serves the
// includer. Grounded on node/sc/bridge_manager.go's use of
// accounts/abi/bind (MakeTransactOpts building a *bind.TransactOpts,
// bind.WaitDeployed polling for a receipt under a timeout context) — that
// exact subpackage wasn't retrieved as non-test source in this pack, so the
// upstream github.com/ethereum/go-ethereum module it was forked from is
// used directly for ethclient/abi/crypto/types; bind itself is not used.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/klaytn/depositrelay/internal/errs"
)

// ReadClient is the subscriber's view of Chain A: current head and filtered
// log retrieval (spec.md §4.4).
type ReadClient struct {
	eth *ethclient.Client
}

// DialRead connects to a read-only JSON-RPC endpoint.
func DialRead(ctx context.Context, url string) (*ReadClient, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, &errs.ConfigError{Op: "dial chain A", Err: err}
	}
	return &ReadClient{eth: c}, nil
}

func (r *ReadClient) Close() { r.eth.Close() }

// HeadBlock returns the current head block number. RPC failures are wrapped
// as TransientIoError so callers know to sleep and retry without advancing
// their cursor.
func (r *ReadClient) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := r.eth.BlockNumber(ctx)
	if err != nil {
		return 0, &errs.TransientIoError{Op: "eth_blockNumber", Err: err}
	}
	return n, nil
}

// FilterLogs fetches logs emitted by address in [fromBlock, toBlock].
func (r *ReadClient) FilterLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
	}
	logs, err := r.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, &errs.TransientIoError{Op: "eth_getLogs", Err: err}
	}
	return logs, nil
}

// SignClient is the includer's view of Chain B: nonce/gas lookups, signed
// submission, and inclusion wait. A single private key signs all
// transactions; submission is sequential (single-flight by design, spec.md
// §5), so no nonce races arise.
type SignClient struct {
	eth        *ethclient.Client
	key        *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	mintABI    abi.ABI
	waitPeriod time.Duration
	waitMax    time.Duration
}

// mintSignature is "mint(address,string)": the destination token's mint
// entrypoint takes the recipient and the amount as an ABI string, the same
// representation the source Deposited event carries it in — per spec.md
// §9's "amount as string" design note, amounts are never parsed to a
// fixed-width integer anywhere in this system, including on submission.
const mintSignature = `[{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"string"}]}]`

// DialSign connects to a signing JSON-RPC endpoint and derives the sender
// address from privateKeyHex.
func DialSign(ctx context.Context, url, privateKeyHex string, inclusionTimeout time.Duration) (*SignClient, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, &errs.ConfigError{Op: "dial chain B", Err: err}
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		c.Close()
		return nil, &errs.ConfigError{Op: "parse private key", Err: err}
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, &errs.ConfigError{Op: "fetch chain B id", Err: err}
	}
	parsedABI, err := abi.JSON(strings.NewReader(mintSignature))
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "parse mint ABI")
	}
	return &SignClient{
		eth:        c,
		key:        key,
		from:       crypto.PubkeyToAddress(key.PublicKey),
		chainID:    chainID,
		mintABI:    parsedABI,
		waitPeriod: 500 * time.Millisecond,
		waitMax:    inclusionTimeout,
	}, nil
}

func (s *SignClient) Close() { s.eth.Close() }

// SubmitMint builds, signs, and submits a mint(to, amount) transaction to
// tokenAddress and blocks until it is included in a block or the inclusion
// timeout elapses (spec.md §4.4). The caller receives either the
// destination tx hash or an error describing the failure (RPC error,
// revert, timeout).
func (s *SignClient) SubmitMint(ctx context.Context, tokenAddress common.Address, to common.Address, amount string) (string, error) {
	data, err := s.mintABI.Pack("mint", to, amount)
	if err != nil {
		return "", errors.Wrap(err, "pack mint call")
	}

	nonce, err := s.eth.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", &errs.TransientIoError{Op: "eth_getTransactionCount", Err: err}
	}
	gasPrice, err := s.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", &errs.TransientIoError{Op: "eth_gasPrice", Err: err}
	}
	gasLimit, err := s.eth.EstimateGas(ctx, ethereum.CallMsg{
		From: s.from,
		To:   &tokenAddress,
		Data: data,
	})
	if err != nil {
		return "", &errs.MintFailure{Reason: errors.Wrap(err, "estimate gas").Error()}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &tokenAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signer := types.LatestSignerForChainID(s.chainID)
	signedTx, err := types.SignTx(tx, signer, s.key)
	if err != nil {
		return "", errors.Wrap(err, "sign mint tx")
	}

	if err := s.eth.SendTransaction(ctx, signedTx); err != nil {
		return "", &errs.MintFailure{Reason: errors.Wrap(err, "send mint tx").Error()}
	}

	return s.waitMined(ctx, signedTx.Hash())
}

// waitMined polls for a receipt until it is available or waitMax elapses,
// the same "build opts, send, poll with a timeout context" shape
// node/sc/bridge_manager.go follows via bind.WaitDeployed.
func (s *SignClient) waitMined(ctx context.Context, txHash common.Hash) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.waitMax)
	defer cancel()

	ticker := time.NewTicker(s.waitPeriod)
	defer ticker.Stop()

	for {
		receipt, err := s.eth.TransactionReceipt(waitCtx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return "", &errs.MintFailure{Reason: "transaction reverted"}
			}
			return txHash.Hex(), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return "", &errs.MintFailure{Reason: errors.Wrap(err, "poll receipt").Error()}
		}
		select {
		case <-waitCtx.Done():
			return "", &errs.MintFailure{Reason: "timed out waiting for inclusion"}
		case <-ticker.C:
		}
	}
}
