// Package postgres opens the lib/pq connection pool that holds the source
// documents the indexer loads and whose status it reports back.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/resilience"
)

type Client struct {
	DB *sql.DB
}

// New opens the pool and waits, with backoff, for the server to answer.
// A malformed DSN fails at once.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	connector, err := pq.NewConnector(cfg.DSN())
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrInvalidArgument, err, "parsing postgres connection settings")
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	retry := resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond}
	err = resilience.Retry(ctx, "postgres-connect", retry, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, 5*time.Second, "postgres-ping", func(ctx context.Context) error {
			return Classify(db.PingContext(ctx))
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return Classify(c.DB.PingContext(ctx))
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Classify tags a database/sql or lib/pq error with the error kind
// callers branch on: connection trouble is ErrNetwork, lock contention
// ErrDatabaseLocked, rejected data ErrInvalidArgument and a missing row
// ErrDocumentNotFound. Anything else is returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return qerrors.Wrap(qerrors.ErrDocumentNotFound, err, "no such row")
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return qerrors.Wrap(qerrors.ErrNetwork, err, "postgres connection lost")
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch {
	case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
		// connection exception, insufficient resources, operator intervention
		return qerrors.Wrap(qerrors.ErrNetwork, err, "postgres "+pqErr.Code.Name())
	case pqErr.Code == "55P03", pqErr.Code.Class() == "40":
		return qerrors.Wrap(qerrors.ErrDatabaseLocked, err, "postgres "+pqErr.Code.Name())
	case pqErr.Code.Class() == "22", pqErr.Code.Class() == "23":
		return qerrors.Wrap(qerrors.ErrInvalidArgument, err, "postgres rejected the row: "+pqErr.Code.Name())
	}
	return err
}
