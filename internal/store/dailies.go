package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

// ClaimDaily records the student's daily claim for day (YYYY-MM-DD). The
// boolean is false when the student already claimed on that day, in which
// case the returned claim is the existing one.
func (s *BaseStore) ClaimDaily(ctx context.Context, studentID int64, day string) (models.DailyClaim, bool, error) {
	var (
		claim   models.DailyClaim
		claimed bool
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.requireStudent(ctx, tx, studentID); err != nil {
			return err
		}

		query := s.q(`
			INSERT INTO dailies (student_id, last_daily, num_dailies)
			VALUES (?, ?, 1)
			ON CONFLICT (student_id) DO UPDATE SET
			last_daily = excluded.last_daily,
			num_dailies = dailies.num_dailies + 1
			WHERE dailies.last_daily <> excluded.last_daily
			RETURNING student_id, last_daily, num_dailies
		`)
		err := tx.GetContext(ctx, &claim, query, studentID, day)
		if err == nil {
			claimed = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to claim daily: %w", s.classify(err))
		}

		query = s.q(`SELECT student_id, last_daily, num_dailies FROM dailies WHERE student_id = ?`)
		if err := tx.GetContext(ctx, &claim, query, studentID); err != nil {
			return fmt.Errorf("failed to get daily: %w", s.classify(err))
		}
		return nil
	})
	if err != nil {
		return models.DailyClaim{}, false, err
	}
	return claim, claimed, nil
}
