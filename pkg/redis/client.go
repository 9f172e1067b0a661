// Package redis wraps go-redis/v9 with the handful of operations the result
// cache needs: get, set with TTL, and prefix invalidation.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/resilience"
)

// ErrNil is returned unwrapped by Get for a missing key.
var ErrNil = redis.Nil

// scanBatch is both the SCAN COUNT hint and the UNLINK batch size.
const scanBatch = 100

type Client struct {
	rdb *redis.Client
}

// NewClient connects and PINGs, retrying with backoff. Socket timeouts are
// kept short: a slow cache is worse than none.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	c := &Client{rdb: rdb}
	err := resilience.Retry(ctx, "redis-connect", resilience.RetryConfig{MaxAttempts: 3}, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, 2*time.Second, "redis-ping", c.Ping)
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return c, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if IsNilError(err) {
		return nil, ErrNil
	}
	return b, classify(err, "GET")
}

// Set stores value under key; a zero ttl keeps it until evicted.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return classify(c.rdb.Set(ctx, key, value, ttl).Err(), "SET")
}

// FlushByPattern UNLINKs every key matching the glob pattern, in batches,
// and returns how many were removed. Keys written during the scan may
// survive.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var (
		removed int64
		batch   []string
	)
	unlink := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return classify(err, "UNLINK")
	}

	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		if batch = append(batch, iter.Val()); len(batch) >= scanBatch {
			if err := unlink(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, classify(err, "SCAN "+pattern)
	}
	return removed, unlink()
}

func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return classify(c.rdb.Ping(ctx).Err(), "PING")
}

// classify tags a go-redis failure as ErrNetworkTimeout or ErrNetwork.
// Server replies such as WRONGTYPE are left alone.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return qerrors.Wrap(qerrors.ErrNetworkTimeout, err, "redis "+op)
	case errors.Is(err, redis.ErrClosed), errors.As(err, &netErr):
		return qerrors.Wrap(qerrors.ErrNetwork, err, "redis "+op)
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		return err
	}
	return qerrors.Wrap(qerrors.ErrNetwork, err, "redis "+op)
}
