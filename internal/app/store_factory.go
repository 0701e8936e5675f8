package app

import (
	"fmt"
	"strings"

	"github.com/shrimpsizemoose/pointbulle/internal/store"
	"github.com/shrimpsizemoose/pointbulle/internal/store/postgres"
	"github.com/shrimpsizemoose/pointbulle/internal/store/sqlite"
)

// NewStore opens the store the DSN points at and applies migrations.
// DSNs starting with "postgres" select Postgres, anything else is a SQLite path.
func NewStore(config *store.DBConfig) (store.LedgerStore, error) {
	if config.Type == "" {
		config.Type = store.DBTypeSQLite
		if strings.HasPrefix(config.DSN, "postgres") {
			config.Type = store.DBTypePostgres
		}
	}

	switch config.Type {
	case store.DBTypePostgres:
		return postgres.NewPostgresStore(config)
	case store.DBTypeSQLite:
		return sqlite.NewSQLiteStore(config)
	default:
		return nil, fmt.Errorf("unable to determine database type from DSN: %s", config.DSN)
	}
}
