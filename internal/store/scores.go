package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

// IncrementScore adds delta to the balance and returns the row as it was
// right after this update. The read-modify-write happens inside a single
// UPDATE ... RETURNING statement so concurrent increments of the same key are
// serialized by the database and never lose a delta.
func (s *BaseStore) IncrementScore(ctx context.Context, studentID int64, integration string, delta int64) (models.Score, error) {
	if err := s.guard(); err != nil {
		return models.Score{}, err
	}

	var score models.Score
	query := s.q(`
		UPDATE scores
		SET points = points + ?, version = version + 1
		WHERE student_id = ? AND integration = ?
		RETURNING student_id, integration, points, version
	`)
	err := s.DB.GetContext(ctx, &score, query, delta, studentID, integration)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Score{}, s.missingScoreRow(ctx, studentID, integration)
	}
	if err != nil {
		return models.Score{}, fmt.Errorf("failed to increment score: %w", s.classify(err))
	}
	return score, nil
}

// missingScoreRow explains why a (student, integration) row was not found.
func (s *BaseStore) missingScoreRow(ctx context.Context, studentID int64, integration string) error {
	if err := s.requireStudent(ctx, s.DB, studentID); err != nil {
		return err
	}
	if _, err := s.GetIntegration(ctx, integration); err != nil {
		return err
	}
	return fmt.Errorf("%w: no score row for student %d on %s", ErrConsistencyViolation, studentID, integration)
}

func (s *BaseStore) ScoresByStudent(ctx context.Context, studentID int64, integration string) ([]models.Score, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	query := `
		SELECT student_id, integration, points, version
		FROM scores
		WHERE student_id = ?`
	args := []any{studentID}
	if integration != "" {
		query += ` AND integration = ?`
		args = append(args, integration)
	}
	query += ` ORDER BY integration`

	scores := []models.Score{}
	if err := s.DB.SelectContext(ctx, &scores, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get scores of student %d: %w", studentID, s.classify(err))
	}
	return scores, nil
}

func (s *BaseStore) ScoresByCourse(ctx context.Context, courseID int64, integration string) ([]models.Score, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	query := `
		SELECT sc.student_id, sc.integration, sc.points, sc.version
		FROM scores sc
		JOIN students s ON s.student_id = sc.student_id
		WHERE s.course_id = ?`
	args := []any{courseID}
	if integration != "" {
		query += ` AND sc.integration = ?`
		args = append(args, integration)
	}
	query += ` ORDER BY sc.student_id, sc.integration`

	scores := []models.Score{}
	if err := s.DB.SelectContext(ctx, &scores, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get scores of course %d: %w", courseID, s.classify(err))
	}
	return scores, nil
}

func (s *BaseStore) CachedScoresByStudent(ctx context.Context, studentID int64, integration string) ([]models.CachedScore, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	query := `
		SELECT student_id, integration, points, version, synced_at
		FROM cached_scores
		WHERE student_id = ?`
	args := []any{studentID}
	if integration != "" {
		query += ` AND integration = ?`
		args = append(args, integration)
	}
	query += ` ORDER BY integration`

	scores := []models.CachedScore{}
	if err := s.DB.SelectContext(ctx, &scores, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get cached scores of student %d: %w", studentID, s.classify(err))
	}
	return scores, nil
}

func (s *BaseStore) CachedScoresByCourse(ctx context.Context, courseID int64, integration string) ([]models.CachedScore, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	query := `
		SELECT c.student_id, c.integration, c.points, c.version, c.synced_at
		FROM cached_scores c
		JOIN students s ON s.student_id = c.student_id
		WHERE s.course_id = ?`
	args := []any{courseID}
	if integration != "" {
		query += ` AND c.integration = ?`
		args = append(args, integration)
	}
	query += ` ORDER BY c.student_id, c.integration`

	scores := []models.CachedScore{}
	if err := s.DB.SelectContext(ctx, &scores, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get cached scores of course %d: %w", courseID, s.classify(err))
	}
	return scores, nil
}

// RefreshCachedScore stores the snapshot unless the cache already holds the
// same or a newer ledger version. It reports whether the row was written.
func (s *BaseStore) RefreshCachedScore(ctx context.Context, score models.CachedScore) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	query := s.q(`
		UPDATE cached_scores
		SET points = ?, version = ?, synced_at = ?
		WHERE student_id = ? AND integration = ? AND version < ?
	`)
	res, err := s.DB.ExecContext(ctx, query,
		score.Points,
		score.Version,
		score.Timestamp.UTC(),
		score.StudentID,
		score.Integration,
		score.Version,
	)
	if err != nil {
		return false, fmt.Errorf("failed to refresh cached score: %w", s.classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to refresh cached score: %w", s.classify(err))
	}
	return n > 0, nil
}

// ReconcileCachedScores copies every ledger row that is ahead of its cache
// row into the cache and returns the number of cache rows updated.
func (s *BaseStore) ReconcileCachedScores(ctx context.Context, asOf time.Time) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	query := s.q(`
		UPDATE cached_scores
		SET points = (
				SELECT sc.points FROM scores sc
				WHERE sc.student_id = cached_scores.student_id
				AND sc.integration = cached_scores.integration
			),
			version = (
				SELECT sc.version FROM scores sc
				WHERE sc.student_id = cached_scores.student_id
				AND sc.integration = cached_scores.integration
			),
			synced_at = ?
		WHERE EXISTS (
			SELECT 1 FROM scores sc
			WHERE sc.student_id = cached_scores.student_id
			AND sc.integration = cached_scores.integration
			AND sc.version > cached_scores.version
		)
	`)
	res, err := s.DB.ExecContext(ctx, query, asOf.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile cached scores: %w", s.classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile cached scores: %w", s.classify(err))
	}
	return n, nil
}

// MissingScoreRows lists (student, integration) pairs lacking a score or a
// cached score row. An empty result means the ledger is complete.
func (s *BaseStore) MissingScoreRows(ctx context.Context) ([]ScoreKey, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var missing []ScoreKey
	err := s.DB.SelectContext(ctx, &missing, `
		SELECT s.student_id, i.integration_key AS integration
		FROM students s
		CROSS JOIN integrations i
		WHERE NOT EXISTS (
			SELECT 1 FROM scores sc
			WHERE sc.student_id = s.student_id AND sc.integration = i.integration_key
		)
		OR NOT EXISTS (
			SELECT 1 FROM cached_scores c
			WHERE c.student_id = s.student_id AND c.integration = i.integration_key
		)
		ORDER BY s.student_id, i.integration_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to check ledger completeness: %w", s.classify(err))
	}
	return missing, nil
}
