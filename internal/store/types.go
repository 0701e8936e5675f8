package store

type DatabaseType string

const (
	DBTypePostgres DatabaseType = "postgres"
	DBTypeSQLite   DatabaseType = "sqlite"
)

type DBConfig struct {
	DSN           string
	Type          DatabaseType
	MigrationsDir string
	MaxOpenConns  int
}

// ScoreKey identifies a (student, integration) ledger row.
type ScoreKey struct {
	StudentID   int64  `db:"student_id" json:"student_id"`
	Integration string `db:"integration" json:"integration"`
}
