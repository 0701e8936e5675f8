package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

type PostgresStore struct {
	store.BaseStore
}

func NewPostgresStore(config *store.DBConfig) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	s := &PostgresStore{BaseStore: store.BaseStore{
		DB:         db,
		Converter:  toDollarParams,
		Classifier: classifyPQ,
		// SHARE conflicts with the ROW EXCLUSIVE lock taken by INSERT, so a
		// student being added either commits before the backfill reads the
		// students table or waits for the new integration to be visible.
		LockStudents: `LOCK TABLE students IN SHARE MODE`,
	}}

	if config.MigrationsDir != "" {
		if err := s.ApplyMigrations(config.MigrationsDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	return s, nil
}

func (s *PostgresStore) ApplyMigrations(dir string) error {
	return s.BaseStore.ApplyMigrations(dir, nil)
}

func toDollarParams(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func classifyPQ(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch {
	case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
		// connection_exception, operator_intervention (admin shutdown)
		return store.ErrStoreUnavailable
	case pqErr.Code == "23505":
		return store.ErrAlreadyExists
	case pqErr.Code == "23503":
		return store.ErrNotFound
	}
	return nil
}
