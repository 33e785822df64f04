package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juno-intents/confidential-wrap/internal/pending"
)

var ErrInvalidConfig = errors.New("pending/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pending/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) RecordBurn(ctx context.Context, b pending.Burn) (pending.Record, bool, error) {
	if s == nil || s.pool == nil {
		return pending.Record{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := b.Validate(); err != nil {
		return pending.Record{}, false, err
	}
	if b.ChainID > math.MaxInt64 {
		return pending.Record{}, false, fmt.Errorf("%w: chain id too large", pending.ErrInvalidBurn)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO unshield_burns (
			burnt_handle,
			chain_id,
			wrapper,
			account,
			recipient,
			unwrap_tx_hash,
			state,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		ON CONFLICT (burnt_handle) DO NOTHING
	`, b.BurntAmountHandle[:], int64(b.ChainID), b.Wrapper[:], b.Account[:], b.Recipient[:], b.UnwrapTxHash[:], int16(pending.StateBurnt))
	if err != nil {
		return pending.Record{}, false, fmt.Errorf("pending/postgres: insert burn: %w", err)
	}

	rec, err := s.Get(ctx, b.BurntAmountHandle)
	if err != nil {
		return pending.Record{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return rec, true, nil
	}
	if rec.Burn != b {
		return pending.Record{}, false, pending.ErrBurnMismatch
	}
	return rec, false, nil
}

func (s *Store) MarkFinalized(ctx context.Context, handle common.Hash, txHash common.Hash) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE unshield_burns
		SET state = $2, finalize_tx_hash = $3, updated_at = now()
		WHERE burnt_handle = $1 AND state = $4
	`, handle[:], int16(pending.StateFinalized), txHash[:], int16(pending.StateBurnt))
	if err != nil {
		return fmt.Errorf("pending/postgres: mark finalized: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	rec, err := s.Get(ctx, handle)
	if err != nil {
		return err
	}
	if rec.State == pending.StateFinalized && rec.FinalizeTxHash == txHash {
		return nil
	}
	return pending.ErrInvalidTransition
}

func (s *Store) RecordFailure(ctx context.Context, handle common.Hash, reason string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE unshield_burns
		SET attempts = attempts + 1, last_error = $2, updated_at = now()
		WHERE burnt_handle = $1 AND state = $3
	`, handle[:], reason, int16(pending.StateBurnt))
	if err != nil {
		return fmt.Errorf("pending/postgres: record failure: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, handle); err != nil {
		return err
	}
	return pending.ErrInvalidTransition
}

const selectColumns = `
	burnt_handle, chain_id, wrapper, account, recipient, unwrap_tx_hash,
	state, finalize_tx_hash, attempts, last_error, created_at, updated_at
`

func (s *Store) Get(ctx context.Context, handle common.Hash) (pending.Record, error) {
	if s == nil || s.pool == nil {
		return pending.Record{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM unshield_burns WHERE burnt_handle = $1`, handle[:])
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pending.Record{}, pending.ErrNotFound
		}
		return pending.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListByState(ctx context.Context, state pending.State, limit int) ([]pending.Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM unshield_burns
		WHERE state = $1
		ORDER BY created_at ASC, burnt_handle ASC
		LIMIT $2
	`, int16(state), limit)
	if err != nil {
		return nil, fmt.Errorf("pending/postgres: list by state: %w", err)
	}
	defer rows.Close()

	var out []pending.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending/postgres: list rows: %w", err)
	}
	return out, nil
}

func (s *Store) ListRetryable(ctx context.Context, chainID uint64, account common.Address, maxAttempts int, limit int) ([]pending.Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 || maxAttempts <= 0 {
		return nil, nil
	}
	if chainID > math.MaxInt64 {
		return nil, fmt.Errorf("%w: chain id overflows int64", ErrInvalidConfig)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM unshield_burns
		WHERE state = $1 AND chain_id = $2 AND account = $3 AND attempts < $4
		ORDER BY created_at ASC, burnt_handle ASC
		LIMIT $5
	`, int16(pending.StateBurnt), int64(chainID), account[:], maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("pending/postgres: list retryable: %w", err)
	}
	defer rows.Close()

	var out []pending.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending/postgres: list rows: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (pending.Record, error) {
	var (
		handleRaw    []byte
		chainID      int64
		wrapperRaw   []byte
		accountRaw   []byte
		recipientRaw []byte
		unwrapRaw    []byte
		state        int16
		finalizeRaw  []byte
		attempts     int32
		lastError    string
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(&handleRaw, &chainID, &wrapperRaw, &accountRaw, &recipientRaw, &unwrapRaw,
		&state, &finalizeRaw, &attempts, &lastError, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pending.Record{}, err
		}
		return pending.Record{}, fmt.Errorf("pending/postgres: scan: %w", err)
	}
	if chainID < 0 || state < 0 || attempts < 0 {
		return pending.Record{}, fmt.Errorf("pending/postgres: negative values in db")
	}
	if len(handleRaw) != 32 || len(unwrapRaw) != 32 || len(wrapperRaw) != 20 || len(accountRaw) != 20 || len(recipientRaw) != 20 {
		return pending.Record{}, fmt.Errorf("pending/postgres: invalid column length in db")
	}

	rec := pending.Record{
		Burn: pending.Burn{
			BurntAmountHandle: common.BytesToHash(handleRaw),
			ChainID:           uint64(chainID),
			Wrapper:           common.BytesToAddress(wrapperRaw),
			Account:           common.BytesToAddress(accountRaw),
			Recipient:         common.BytesToAddress(recipientRaw),
			UnwrapTxHash:      common.BytesToHash(unwrapRaw),
		},
		State:     pending.State(state),
		Attempts:  int(attempts),
		LastError: lastError,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if finalizeRaw != nil {
		if len(finalizeRaw) != 32 {
			return pending.Record{}, fmt.Errorf("pending/postgres: invalid finalize tx hash length in db")
		}
		rec.FinalizeTxHash = common.BytesToHash(finalizeRaw)
	}
	return rec, nil
}
