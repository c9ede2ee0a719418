// Package ledger persists the relay's dedup fences: published deposits,
// claimed mint calls, the subscriber's scan cursor, and process settings.
// Grounded on the raw database/sql-over-Postgres shape of other_examples'
// audit.PGStore (context-scoped methods, one query per operation,
// ON CONFLICT ... DO NOTHING for idempotent inserts), adapted from a
// single audit log to the relay's four distinct tables.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/klaytn/depositrelay/internal/model"
)

// PublishResult reports whether record_published inserted a new row or
// found one already present for the same source key.
type PublishResult int

const (
	Inserted PublishResult = iota
	Duplicate
)

// ClaimResult reports whether claim_mint claimed the row or found it
// already claimed by a prior attempt.
type ClaimResult int

const (
	Claimed ClaimResult = iota
	AlreadyClaimed
)

// MintOutcome is the result of a submitted mint transaction, recorded
// exactly once per claimed row.
type MintOutcome struct {
	Success    bool
	DestTxHash string // set when Success
	ErrorText  string // set when !Success
}

// Store is the ledger's single connection pool, bounded to a small number
// of connections per spec.md §4.2 ("single connection pool bounded to a
// small number of connections").
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at databaseURL and bounds the pool.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger store")
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &Store{db: db}, nil
}

// Ping verifies connectivity, used by the startup health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the relay's tables if they do not already exist.
// The relational store itself is an external collaborator (spec.md §1);
// this is a convenience for local/dev bootstrap, not a migration tool.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return errors.Wrap(err, "ensure schema")
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS subscriber_state (
	service_name text PRIMARY KEY,
	last_scanned_block bigint NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscriber_published_deposits (
	source_tx_hash text NOT NULL,
	source_log_index bigint NOT NULL,
	source_block bigint NOT NULL,
	sender text NOT NULL,
	amount text NOT NULL,
	queue_name text NOT NULL,
	payload jsonb NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE(source_tx_hash, source_log_index)
);

CREATE TABLE IF NOT EXISTS includer_mint_calls (
	source_tx_hash text NOT NULL,
	source_log_index bigint NOT NULL,
	token_address text NOT NULL,
	amount text NOT NULL,
	dest_tx_hash text,
	success boolean,
	error text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE(source_tx_hash, source_log_index)
);

CREATE TABLE IF NOT EXISTS process_settings (
	setting text PRIMARY KEY,
	value text NOT NULL
);
`

// RecordPublished inserts a row for a published deposit, returning
// Duplicate if a row for the same source key already exists. This is the
// subscriber's sole dedup fence (invariant I1).
func (s *Store) RecordPublished(ctx context.Context, key model.SourceEventKey, block uint64, sender, amount, queueName string, payload model.DepositMessage) (PublishResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrap(err, "marshal payload")
	}

	const q = `
		INSERT INTO subscriber_published_deposits
			(source_tx_hash, source_log_index, source_block, sender, amount, queue_name, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_tx_hash, source_log_index) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, q, key.TxHash, key.LogIndex, block, sender, amount, queueName, raw)
	if err != nil {
		return 0, errors.Wrap(err, "record published deposit")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "record published deposit: rows affected")
	}
	if n == 0 {
		return Duplicate, nil
	}
	return Inserted, nil
}

// ClaimMint inserts a mint-call row, returning AlreadyClaimed if a row for
// the same source key already exists. This is the includer's sole dedup
// fence (invariant I2, I3).
func (s *Store) ClaimMint(ctx context.Context, key model.SourceEventKey, tokenAddress, amount string) (ClaimResult, error) {
	const q = `
		INSERT INTO includer_mint_calls (source_tx_hash, source_log_index, token_address, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_tx_hash, source_log_index) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, q, key.TxHash, key.LogIndex, tokenAddress, amount)
	if err != nil {
		return 0, errors.Wrap(err, "claim mint")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "claim mint: rows affected")
	}
	if n == 0 {
		return AlreadyClaimed, nil
	}
	return Claimed, nil
}

// FinalizeMint records the outcome of a previously claimed mint. No-op if
// no row exists for key (should not happen in normal operation since a
// claim always precedes a finalize).
func (s *Store) FinalizeMint(ctx context.Context, key model.SourceEventKey, outcome MintOutcome) error {
	const q = `
		UPDATE includer_mint_calls
		SET dest_tx_hash = $3, success = $4, error = $5, updated_at = now()
		WHERE source_tx_hash = $1 AND source_log_index = $2
	`
	var destTxHash, errText sql.NullString
	if outcome.Success {
		destTxHash = sql.NullString{String: outcome.DestTxHash, Valid: true}
	} else {
		errText = sql.NullString{String: outcome.ErrorText, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q, key.TxHash, key.LogIndex, destTxHash, outcome.Success, errText)
	return errors.Wrap(err, "finalize mint")
}

// CursorLoad returns the persisted last_scanned_block for service, or
// (0, false) if no cursor row exists yet.
func (s *Store) CursorLoad(ctx context.Context, service string) (uint64, bool, error) {
	const q = `SELECT last_scanned_block FROM subscriber_state WHERE service_name = $1`
	var block uint64
	err := s.db.QueryRowContext(ctx, q, service).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "load cursor")
	}
	return block, true, nil
}

// CursorStore upserts the persisted cursor for service.
func (s *Store) CursorStore(ctx context.Context, service string, block uint64) error {
	const q = `
		INSERT INTO subscriber_state (service_name, last_scanned_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (service_name) DO UPDATE SET last_scanned_block = $2, updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, q, service, block)
	return errors.Wrap(err, "store cursor")
}

// SettingsGet returns the string value for key, or ("", false) if unset.
func (s *Store) SettingsGet(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM process_settings WHERE setting = $1`
	var v string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get setting")
	}
	return v, true, nil
}
