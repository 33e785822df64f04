package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juno-intents/confidential-wrap/internal/inflight"
)

var ErrInvalidConfig = errors.New("inflight/postgres: invalid config")

// Store is an inflight.Store shared by every worker signing for the same accounts.
// Liveness is judged by the database clock so workers with skewed clocks agree.
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
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("inflight/postgres: ensure schema: %w", err)
	}
	return nil
}

// TryAcquire takes key when it is free or lapsed and otherwise returns the live holder,
// in a single statement.
func (s *Store) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (inflight.Lease, bool, error) {
	if err := s.check(); err != nil {
		return inflight.Lease{}, false, err
	}
	if key == "" || holder == "" || ttl <= 0 {
		return inflight.Lease{}, false, inflight.ErrInvalidInput
	}

	l := inflight.Lease{Key: key}
	var acquired bool
	err := s.pool.QueryRow(ctx, `
		WITH taken AS (
			INSERT INTO inflight_leases (conversion_key, holder, acquired_at, lease_until)
			VALUES ($1, $2, now(), now() + make_interval(secs => $3::double precision))
			ON CONFLICT (conversion_key) DO UPDATE
			SET holder = EXCLUDED.holder,
				acquired_at = EXCLUDED.acquired_at,
				renewed_at = NULL,
				lease_until = EXCLUDED.lease_until
			WHERE inflight_leases.lease_until <= now()
			RETURNING holder, acquired_at, lease_until, true AS acquired
		)
		SELECT holder, acquired_at, lease_until, acquired FROM taken
		UNION ALL
		SELECT holder, acquired_at, lease_until, false FROM inflight_leases
		WHERE conversion_key = $1 AND NOT EXISTS (SELECT 1 FROM taken)
	`, key, holder, ttl.Seconds()).Scan(&l.Holder, &l.AcquiredAt, &l.ExpiresAt, &acquired)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent acquire committed after this statement's snapshot.
			return l, false, nil
		}
		return inflight.Lease{}, false, fmt.Errorf("inflight/postgres: try acquire: %w", err)
	}
	l.AcquiredAt = l.AcquiredAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	return l, acquired, nil
}

func (s *Store) Renew(ctx context.Context, key, holder string, ttl time.Duration) (inflight.Lease, error) {
	if err := s.check(); err != nil {
		return inflight.Lease{}, err
	}
	if key == "" || holder == "" || ttl <= 0 {
		return inflight.Lease{}, inflight.ErrInvalidInput
	}

	l := inflight.Lease{Key: key, Holder: holder}
	err := s.pool.QueryRow(ctx, `
		UPDATE inflight_leases
		SET lease_until = now() + make_interval(secs => $3::double precision),
			renewed_at = now()
		WHERE conversion_key = $1 AND holder = $2 AND lease_until > now()
		RETURNING acquired_at, lease_until
	`, key, holder, ttl.Seconds()).Scan(&l.AcquiredAt, &l.ExpiresAt)
	if err == nil {
		l.AcquiredAt = l.AcquiredAt.UTC()
		l.ExpiresAt = l.ExpiresAt.UTC()
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return inflight.Lease{}, fmt.Errorf("inflight/postgres: renew: %w", err)
	}

	var (
		cur  string
		live bool
	)
	err = s.pool.QueryRow(ctx, `
		SELECT holder, lease_until > now() FROM inflight_leases WHERE conversion_key = $1
	`, key).Scan(&cur, &live)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return inflight.Lease{}, inflight.ErrNotFound
	case err != nil:
		return inflight.Lease{}, fmt.Errorf("inflight/postgres: renew: %w", err)
	case cur != holder:
		return inflight.Lease{}, inflight.ErrNotOwner
	case !live:
		return inflight.Lease{}, inflight.ErrExpired
	}
	return inflight.Lease{}, fmt.Errorf("inflight/postgres: renew: lease changed concurrently")
}

// Release drops the holder's lease. Lapsed leases of other holders are cleared too.
func (s *Store) Release(ctx context.Context, key, holder string) error {
	if err := s.check(); err != nil {
		return err
	}
	if key == "" || holder == "" {
		return inflight.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM inflight_leases
		WHERE conversion_key = $1 AND (holder = $2 OR lease_until <= now())
	`, key, holder)
	if err != nil {
		return fmt.Errorf("inflight/postgres: release: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	l, err := s.Get(ctx, key)
	if errors.Is(err, inflight.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if l.Holder != holder {
		return inflight.ErrNotOwner
	}
	return nil
}

// Get returns the live lease for key.
func (s *Store) Get(ctx context.Context, key string) (inflight.Lease, error) {
	if err := s.check(); err != nil {
		return inflight.Lease{}, err
	}
	if key == "" {
		return inflight.Lease{}, inflight.ErrInvalidInput
	}

	l := inflight.Lease{Key: key}
	err := s.pool.QueryRow(ctx, `
		SELECT holder, acquired_at, lease_until
		FROM inflight_leases
		WHERE conversion_key = $1 AND lease_until > now()
	`, key).Scan(&l.Holder, &l.AcquiredAt, &l.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inflight.Lease{}, inflight.ErrNotFound
		}
		return inflight.Lease{}, fmt.Errorf("inflight/postgres: get: %w", err)
	}
	l.AcquiredAt = l.AcquiredAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	return l, nil
}

func (s *Store) check() error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	return nil
}
