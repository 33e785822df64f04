package inflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

const DefaultTTL = 5 * time.Minute

// BusyError reports the current holder of a key that could not be acquired.
type BusyError struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("inflight: %s held by %s until %s", e.Key, e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

func (e *BusyError) Unwrap() error { return ErrBusy }

type GuardOption func(*Guard)

func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithLogger(log *slog.Logger) GuardOption {
	return func(g *Guard) {
		if log != nil {
			g.log = log
		}
	}
}

// Guard runs functions under a lease so that at most one holder runs per key.
type Guard struct {
	store  Store
	holder string
	ttl    time.Duration
	log    *slog.Logger
}

func NewGuard(store Store, holder string, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidInput)
	}
	if holder == "" {
		return nil, fmt.Errorf("%w: empty holder", ErrInvalidInput)
	}
	g := &Guard{
		store:  store,
		holder: holder,
		ttl:    DefaultTTL,
		log:    slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Do acquires key, runs fn and releases key. While fn runs the lease is renewed every
// ttl/3; if a renewal fails, fn's context is cancelled. When the key is held elsewhere
// Do returns a *BusyError without calling fn.
func (g *Guard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l, ok, err := g.store.TryAcquire(ctx, key, g.holder, g.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return &BusyError{Key: key, Holder: l.Holder, ExpiresAt: l.ExpiresAt}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go g.keepAlive(runCtx, key, cancel, done)

	defer func() {
		cancel(nil)
		<-done
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer relCancel()
		if err := g.store.Release(relCtx, key, g.holder); err != nil {
			g.log.Warn("inflight release failed", "key", key, "err", err)
		}
	}()

	return fn(runCtx)
}

func (g *Guard) keepAlive(ctx context.Context, key string, cancel context.CancelCauseFunc, done chan<- struct{}) {
	defer close(done)

	every := g.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := g.store.Renew(ctx, key, g.holder, g.ttl); err != nil {
				if errors.Is(ctx.Err(), context.Canceled) {
					return
				}
				g.log.Error("inflight lease lost", "key", key, "err", err)
				cancel(fmt.Errorf("inflight: lease lost: %w", err))
				return
			}
		}
	}
}
