package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

// fanOutBatch keeps bulk inserts well below the bind parameter limits of
// both Postgres and SQLite.
const fanOutBatch = 500

func (s *BaseStore) ListIntegrations(ctx context.Context) ([]models.Integration, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var integrations []models.Integration
	err := s.DB.SelectContext(ctx, &integrations, `
		SELECT integration_key, name, created_at
		FROM integrations
		ORDER BY integration_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", s.classify(err))
	}
	return integrations, nil
}

func (s *BaseStore) GetIntegration(ctx context.Context, key string) (*models.Integration, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var integration models.Integration
	query := s.q(`
		SELECT integration_key, name, created_at
		FROM integrations
		WHERE integration_key = ?
	`)
	err := s.DB.GetContext(ctx, &integration, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntegration, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration %s: %w", key, s.classify(err))
	}
	return &integration, nil
}

// RegisterIntegration adds a new integration and, in the same transaction,
// creates zero balance score and cached score rows for every existing
// student. It returns the number of students backfilled.
func (s *BaseStore) RegisterIntegration(ctx context.Context, integration models.Integration) (int, error) {
	if integration.CreatedAt.IsZero() {
		integration.CreatedAt = time.Now().UTC()
	}

	var backfilled int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if s.LockStudents != "" {
			if _, err := tx.ExecContext(ctx, s.LockStudents); err != nil {
				return fmt.Errorf("failed to lock students: %w", s.classify(err))
			}
		}

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO integrations (integration_key, name, created_at)
			VALUES (:integration_key, :name, :created_at)
		`, integration)
		if err != nil {
			return fmt.Errorf("failed to insert integration %s: %w", integration.Key, s.classify(err))
		}

		var studentIDs []int64
		if err := tx.SelectContext(ctx, &studentIDs, `SELECT student_id FROM students ORDER BY student_id`); err != nil {
			return fmt.Errorf("failed to list students for backfill: %w", s.classify(err))
		}

		rows := make([]models.CachedScore, 0, len(studentIDs))
		for _, id := range studentIDs {
			rows = append(rows, zeroScore(id, integration.Key, integration.CreatedAt))
		}
		if err := s.insertScoreRows(ctx, tx, rows); err != nil {
			return err
		}
		backfilled = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return backfilled, nil
}

func (s *BaseStore) integrationKeys(ctx context.Context, q sqlx.QueryerContext) ([]string, error) {
	var keys []string
	if err := sqlx.SelectContext(ctx, q, &keys, `SELECT integration_key FROM integrations ORDER BY integration_key`); err != nil {
		return nil, fmt.Errorf("failed to list integration keys: %w", s.classify(err))
	}
	return keys, nil
}

func zeroScore(studentID int64, integration string, at time.Time) models.CachedScore {
	return models.CachedScore{
		Score: models.Score{
			StudentID:   studentID,
			Integration: integration,
		},
		Timestamp: at,
	}
}

// insertScoreRows creates the ledger row and the cache row for each key.
func (s *BaseStore) insertScoreRows(ctx context.Context, tx *sqlx.Tx, rows []models.CachedScore) error {
	for start := 0; start < len(rows); start += fanOutBatch {
		end := min(start+fanOutBatch, len(rows))
		batch := rows[start:end]

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO scores (student_id, integration, points, version)
			VALUES (:student_id, :integration, :points, :version)
		`, batch)
		if err != nil {
			return fmt.Errorf("failed to create score rows: %w", s.classify(err))
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO cached_scores (student_id, integration, points, version, synced_at)
			VALUES (:student_id, :integration, :points, :version, :synced_at)
		`, batch)
		if err != nil {
			return fmt.Errorf("failed to create cached score rows: %w", s.classify(err))
		}
	}
	return nil
}
