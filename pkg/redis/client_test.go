package redis

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestClassify(t *testing.T) {
	timeout := &net.OpError{Op: "read", Err: context.DeadlineExceeded}
	refused := &net.OpError{Op: "dial", Err: errors.New("connection refused")}

	assert.NoError(t, classify(nil, "GET"))
	assert.ErrorIs(t, classify(context.DeadlineExceeded, "GET"), qerrors.ErrNetworkTimeout)
	assert.ErrorIs(t, classify(timeout, "GET"), qerrors.ErrNetworkTimeout)
	assert.ErrorIs(t, classify(refused, "SET"), qerrors.ErrNetwork)
	assert.ErrorIs(t, classify(redis.ErrClosed, "PING"), qerrors.ErrNetwork)
	assert.ErrorIs(t, classify(errors.New("EOF"), "GET"), qerrors.ErrNetwork)

	wrongType := replyError("WRONGTYPE Operation against a key holding the wrong kind of value")
	assert.Equal(t, error(wrongType), classify(wrongType, "GET"))

	err := classify(refused, "SET")
	assert.Contains(t, err.Error(), "redis SET")
	assert.ErrorIs(t, err, refused)
}

func TestIsNilError(t *testing.T) {
	assert.True(t, IsNilError(ErrNil))
	assert.False(t, IsNilError(errors.New("nil")))
	assert.False(t, IsNilError(nil))
}
