package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	txMaxRetries     = 3
	txInitialBackoff = 100 * time.Millisecond
	txMaxBackoff     = time.Second
)

// WithTransaction runs fn inside a transaction, committing on nil and
// rolling back on error or panic. Serialization failures and deadlocks
// (SQLSTATE 40001, 40P01) are retried with doubling backoff; every other
// error surfaces immediately.
func WithTransaction(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	backoff := txInitialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = runInTx(ctx, pool, fn)
		if err == nil || !retryableTxError(err) || attempt >= txMaxRetries {
			return err
		}
		log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt+1).Msg("retrying serialization failure")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > txMaxBackoff {
			backoff = txMaxBackoff
		}
	}
}

func runInTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RetryableTxError codes per PostgreSQL class 40.
func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
