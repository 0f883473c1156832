package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"schedula/agenda/internal/gateway"
)

const defaultPingTimeout = 5 * time.Second

// Options configure the booking database connection. Zero pool values keep
// the database/sql defaults.
type Options struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// PingTimeout bounds the startup reachability check.
	PingTimeout time.Duration
}

// Connect opens the booking database through the pgx stdlib driver and
// returns a Gateway once the database answers a ping. The caller owns the
// returned Gateway and must Close it.
func Connect(ctx context.Context, opts Options) (*Gateway, error) {
	db, err := openDB(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewGateway(db), nil
}

func openDB(ctx context.Context, opts Options) (*bun.DB, error) {
	sqlDB, err := sql.Open("pgx", opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	opts.applyPool(sqlDB)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, pingError(err)
	}
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}

func (o Options) applyPool(sqlDB *sql.DB) {
	if o.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	if o.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(o.ConnMaxIdleTime)
	}
}

// pingError keeps server-side throttling distinguishable; every other
// startup failure means the backend is unavailable.
func pingError(err error) error {
	mapped := mapError(err)
	if gateway.Classify(mapped) == gateway.KindTransient {
		return fmt.Errorf("%w: ping database: %w", gateway.ErrUnavailable, err)
	}
	return fmt.Errorf("ping database: %w", mapped)
}

func (g *Gateway) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}
