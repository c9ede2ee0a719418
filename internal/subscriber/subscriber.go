// Package subscriber implements the scan/publish state machine: tail Chain
// A, deduplicate against the ledger, publish one message per confirmed
// Deposited event, and advance the persistent scan cursor. Grounded on
// node/sc/sub_event_handler.go's ChildChainEventHandler (a handler
// dispatching decoded logs one at a time) and original_source's
// subscribe.rs (the head-poll/filter-range/per-log loop itself).
package subscriber

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/klaytn/depositrelay/internal/abiloader"
	"github.com/klaytn/depositrelay/internal/errs"
	"github.com/klaytn/depositrelay/internal/ledger"
	"github.com/klaytn/depositrelay/internal/logging"
	"github.com/klaytn/depositrelay/internal/model"
)

const (
	pollBackoff              = time.Second
	pollIdle                 = time.Second
	defaultReorgBufferBlocks = uint64(10)
	lastSeenCacheSize        = 64
)

var log = logging.Module("subscriber")

// ChainReader is the subset of chainclient.ReadClient the loop depends on,
// narrowed to an interface so tests can substitute a fake.
type ChainReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]types.Log, error)
}

// Publisher is the subset of broker.Client the loop depends on.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Ledger is the subset of ledger.Store the loop depends on.
type Ledger interface {
	RecordPublished(ctx context.Context, key model.SourceEventKey, block uint64, sender, amount, queueName string, payload model.DepositMessage) (ledger.PublishResult, error)
	CursorLoad(ctx context.Context, service string) (uint64, bool, error)
	CursorStore(ctx context.Context, service string, block uint64) error
	SettingsGet(ctx context.Context, key string) (string, bool, error)
}

// Loop is the subscriber's scan/publish state machine.
type Loop struct {
	chain       ChainReader
	pub         Publisher
	store       Ledger
	event       abiloader.EventDescriptor
	serviceName string
	queueName   string
	lastSeen    *lru.Cache
	sleep       func(time.Duration)
	lastScanned uint64
}

// New constructs a subscriber loop. event carries the Deposited topic and
// deposit contract address derived by the ABI loader at startup.
func New(chain ChainReader, pub Publisher, store Ledger, event abiloader.EventDescriptor, serviceName, queueName string) (*Loop, error) {
	cache, err := lru.New(lastSeenCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create last-seen cache")
	}
	return &Loop{
		chain:       chain,
		pub:         pub,
		store:       store,
		event:       event,
		serviceName: serviceName,
		queueName:   queueName,
		lastSeen:    cache,
		sleep:       time.Sleep,
	}, nil
}

// Init implements spec.md §4.5's initialization: load head, load persisted
// cursor (head-reset on source chain rollback), then rewind by the
// configured reorg buffer.
func (l *Loop) Init(ctx context.Context) error {
	head, err := l.chain.HeadBlock(ctx)
	if err != nil {
		return err
	}

	cursor, found, err := l.store.CursorLoad(ctx, l.serviceName)
	if err != nil {
		return err
	}
	switch {
	case !found:
		log.Infow("no persisted cursor, starting at head", "head", head)
		l.lastScanned = head
	case cursor > head:
		log.Warnw("persisted cursor is ahead of chain head, source chain appears to have restarted", "cursor", cursor, "head", head)
		l.lastScanned = head
	default:
		l.lastScanned = cursor
	}

	reorgBuffer := defaultReorgBufferBlocks
	v, ok, err := l.store.SettingsGet(ctx, "reorg_buffer_blocks")
	if err != nil {
		return err
	}
	if ok {
		if parsed, perr := strconv.ParseUint(v, 10, 64); perr == nil {
			reorgBuffer = parsed
		} else {
			log.Warnw("invalid reorg_buffer_blocks setting, using default", "value", v, "default", defaultReorgBufferBlocks)
		}
	}
	l.lastScanned = saturatingSub(l.lastScanned, reorgBuffer)
	log.Infow("subscriber initialized", "last_scanned_block", l.lastScanned, "reorg_buffer_blocks", reorgBuffer)
	return nil
}

// RunOnce executes a single main-cycle iteration (spec.md §4.5 "Main
// cycle"). Returns an error only for a DecodeError, which is a hard stop
// per spec.md §7; everything else is recovered internally: publish failures
// are logged and the scan continues, while RPC and ledger failures back off
// without advancing the cursor.
func (l *Loop) RunOnce(ctx context.Context) error {
	head, err := l.chain.HeadBlock(ctx)
	if err != nil {
		log.Warnw("head block fetch failed, backing off", "err", err)
		l.sleep(pollBackoff)
		return nil
	}

	if head <= l.lastScanned {
		l.sleep(pollIdle)
		return nil
	}

	from := l.lastScanned + 1
	logs, err := l.chain.FilterLogs(ctx, l.event.ContractAddress, from, head)
	if err != nil {
		log.Warnw("log fetch failed, backing off without advancing cursor", "from", from, "to", head, "err", err)
		l.sleep(pollBackoff)
		return nil
	}

	for _, lg := range logs {
		if err := l.processLog(ctx, lg); err != nil {
			var decodeErr *errs.DecodeError
			if errors.As(err, &decodeErr) {
				log.Errorw("fatal decode error for log, schema drift suspected", "tx_hash", lg.TxHash, "log_index", lg.Index, "err", err)
				return err
			}
			var publishErr *errs.PublishFailure
			if errors.As(err, &publishErr) {
				// PublishFailure: the ledger row is already durable, so
				// this log is not lost. Continue the scan.
				log.Errorw("error publishing log, continuing scan", "tx_hash", lg.TxHash, "log_index", lg.Index, "err", err)
				continue
			}
			log.Warnw("error recording log, backing off without advancing cursor", "tx_hash", lg.TxHash, "log_index", lg.Index, "err", err)
			l.sleep(pollBackoff)
			return nil
		}
	}

	if err := l.store.CursorStore(ctx, l.serviceName, head); err != nil {
		log.Warnw("cursor store failed, backing off", "to", head, "err", err)
		l.sleep(pollBackoff)
		return nil
	}
	l.lastScanned = head
	return nil
}

func (l *Loop) processLog(ctx context.Context, lg types.Log) error {
	if len(lg.Topics) == 0 || lg.Topics[0] != l.event.Topic {
		return nil
	}
	if !hasRequiredFields(lg) {
		return nil
	}

	msg, err := decodeDeposited(lg)
	if err != nil {
		return err
	}
	key := msg.Key()

	result, err := l.store.RecordPublished(ctx, key, msg.BlockNumber, msg.Sender, msg.Amount, l.queueName, msg)
	if err != nil {
		return err
	}
	if result == ledger.Duplicate {
		log.Debugw("duplicate deposit, skipping publish", "key", key.String())
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal deposit message")
	}
	if err := l.pub.Publish(ctx, body); err != nil {
		// The row is already durable; the operator reconciles unpublished
		// rows later (spec.md §7 PublishFailure).
		return &errs.PublishFailure{Key: key.String(), Err: err}
	}

	l.lastSeen.Add(key, msg.BlockNumber)
	log.Infow("published deposit", "key", key.String(), "block", msg.BlockNumber)
	return nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
