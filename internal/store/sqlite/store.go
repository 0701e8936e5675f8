// internal/store/sqlite/store.go
package sqlite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

type SQLiteStore struct {
	store.BaseStore
}

func NewSQLiteStore(config *store.DBConfig) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and an in-memory
	// database only lives as long as the connection that created it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{BaseStore: store.BaseStore{
		DB: db,
		Converter: func(query string) string {
			return query
		},
		Classifier: classifySQLite,
	}}

	if config.MigrationsDir != "" {
		if err := s.ApplyMigrations(config.MigrationsDir); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	return s, nil
}

func (s *SQLiteStore) ApplyMigrations(dir string) error {
	return s.BaseStore.ApplyMigrations(dir, translateToSQLite)
}

// sqliteDialect is ordered: longer Postgres tokens come before their prefixes.
var sqliteDialect = strings.NewReplacer(
	"SERIAL PRIMARY KEY", "INTEGER PRIMARY KEY AUTOINCREMENT",
	"TIMESTAMPTZ", "TIMESTAMP",
	"BIGINT", "INTEGER",
	"VARCHAR(32)", "TEXT",
	"VARCHAR(10)", "TEXT",
	"now()", "CURRENT_TIMESTAMP",
	"::text", "",
)

// translateToSQLite converts Postgres SQL to SQLite dialect
func translateToSQLite(sql string) string {
	return sqliteDialect.Replace(sql)
}

func classifySQLite(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}
	switch {
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return store.ErrAlreadyExists
	case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return store.ErrNotFound
	case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
		return store.ErrStoreUnavailable
	}
	return nil
}
