package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

func TestClassify(t *testing.T) {
	plain := errors.New("plain")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, qerrors.ErrDocumentNotFound},
		{"bad conn", fmt.Errorf("query: %w", driver.ErrBadConn), qerrors.ErrNetwork},
		{"admin shutdown", &pq.Error{Code: "57P01"}, qerrors.ErrNetwork},
		{"connection failure", &pq.Error{Code: "08006"}, qerrors.ErrNetwork},
		{"too many connections", &pq.Error{Code: "53300"}, qerrors.ErrNetwork},
		{"lock not available", &pq.Error{Code: "55P03"}, qerrors.ErrDatabaseLocked},
		{"deadlock", &pq.Error{Code: "40P01"}, qerrors.ErrDatabaseLocked},
		{"unique violation", &pq.Error{Code: "23505"}, qerrors.ErrInvalidArgument},
		{"string too long", &pq.Error{Code: "22001"}, qerrors.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, Classify(nil))
	assert.Same(t, plain, Classify(plain))
	syntax := &pq.Error{Code: "42601"}
	assert.Equal(t, error(syntax), Classify(syntax))
}

