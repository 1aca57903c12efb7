package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	URL            string
	MaxConns       int32
	MinConns       int32
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
}

const (
	defaultMaxConns       = 20
	defaultMinConns       = 2
	defaultAcquireTimeout = 5 * time.Second
	defaultIdleTimeout    = 30 * time.Second
)

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pc.MaxConns = cfg.MaxConns
	if pc.MaxConns <= 0 {
		pc.MaxConns = defaultMaxConns
	}
	pc.MinConns = cfg.MinConns
	if pc.MinConns <= 0 {
		pc.MinConns = defaultMinConns
	}
	pc.MaxConnIdleTime = cfg.IdleTimeout
	if pc.MaxConnIdleTime <= 0 {
		pc.MaxConnIdleTime = defaultIdleTimeout
	}
	acquire := cfg.AcquireTimeout
	if acquire <= 0 {
		acquire = defaultAcquireTimeout
	}
	pc.ConnConfig.ConnectTimeout = acquire

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
