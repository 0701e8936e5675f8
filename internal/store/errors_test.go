package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAfterClose(t *testing.T) {
	s := &BaseStore{}
	assert.ErrorIs(t, s.classify(sql.ErrConnDone), ErrStoreUnavailable)

	assert.NoError(t, s.Close())

	for _, err := range []error{
		sql.ErrConnDone,
		sql.ErrTxDone,
		errors.New("sql: database is closed"),
	} {
		got := s.classify(err)
		assert.ErrorIs(t, got, ErrStoreClosed)
		assert.ErrorIs(t, got, err)
	}

	assert.ErrorIs(t, s.classify(sql.ErrNoRows), sql.ErrNoRows)
	assert.NotErrorIs(t, s.classify(sql.ErrNoRows), ErrStoreClosed)
}
