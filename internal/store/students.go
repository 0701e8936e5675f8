package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

// AddStudent creates the student, its external ids and one score and cached
// score row per registered integration. Either all of it is committed or
// nothing is.
func (s *BaseStore) AddStudent(ctx context.Context, student models.NewStudent) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var courseID int64
		err := tx.GetContext(ctx, &courseID, s.q(`SELECT course_id FROM courses WHERE course_id = ?`), student.CourseID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("course %d: %w", student.CourseID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check course: %w", s.classify(err))
		}

		var lastSeen *time.Time
		if student.LastSeen != nil {
			t := student.LastSeen.UTC()
			lastSeen = &t
		}
		query := s.q(`
			INSERT INTO students (course_id, last_seen)
			VALUES (?, ?)
			RETURNING student_id
		`)
		if err := tx.QueryRowxContext(ctx, query, student.CourseID, lastSeen).Scan(&id); err != nil {
			return fmt.Errorf("failed to create student: %w", s.classify(err))
		}

		keys, err := s.integrationKeys(ctx, tx)
		if err != nil {
			return err
		}

		for integration, externalID := range student.ExternalIDs {
			if !slices.Contains(keys, integration) {
				return fmt.Errorf("%w: %s", ErrUnknownIntegration, integration)
			}
			if err := s.upsertExternalID(ctx, tx, id, integration, externalID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		rows := make([]models.CachedScore, 0, len(keys))
		for _, key := range keys {
			rows = append(rows, zeroScore(id, key, now))
		}
		return s.insertScoreRows(ctx, tx, rows)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *BaseStore) upsertExternalID(ctx context.Context, tx *sqlx.Tx, studentID int64, integration, externalID string) error {
	query := s.q(`
		INSERT INTO student_external_ids (student_id, integration, external_id)
		VALUES (?, ?, ?)
		ON CONFLICT (student_id, integration) DO UPDATE SET
		external_id = excluded.external_id
	`)
	if _, err := tx.ExecContext(ctx, query, studentID, integration, externalID); err != nil {
		return fmt.Errorf("failed to link %s id for student %d: %w", integration, studentID, s.classify(err))
	}
	return nil
}

// UpdateStudentExternalID links the student to an external account on the
// integration. An empty externalID unlinks it.
func (s *BaseStore) UpdateStudentExternalID(ctx context.Context, studentID int64, integration, externalID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.requireStudent(ctx, tx, studentID); err != nil {
			return err
		}
		keys, err := s.integrationKeys(ctx, tx)
		if err != nil {
			return err
		}
		if !slices.Contains(keys, integration) {
			return fmt.Errorf("%w: %s", ErrUnknownIntegration, integration)
		}

		if externalID == "" {
			query := s.q(`DELETE FROM student_external_ids WHERE student_id = ? AND integration = ?`)
			if _, err := tx.ExecContext(ctx, query, studentID, integration); err != nil {
				return fmt.Errorf("failed to unlink %s id: %w", integration, s.classify(err))
			}
			return nil
		}
		return s.upsertExternalID(ctx, tx, studentID, integration, externalID)
	})
}

func (s *BaseStore) TouchStudent(ctx context.Context, studentID int64, at time.Time) error {
	if err := s.guard(); err != nil {
		return err
	}
	query := s.q(`UPDATE students SET last_seen = ? WHERE student_id = ?`)
	res, err := s.DB.ExecContext(ctx, query, at.UTC(), studentID)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", s.classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("student %d: %w", studentID, ErrNotFound)
	}
	return nil
}

// DeleteStudent removes the student together with every score, cached
// score, daily and external id row that references it.
func (s *BaseStore) DeleteStudent(ctx context.Context, studentID int64) (*models.Student, error) {
	var deleted *models.Student
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		student, err := s.getStudent(ctx, tx, studentID)
		if err != nil {
			return err
		}

		for _, table := range []string{"cached_scores", "scores", "dailies", "student_external_ids", "students"} {
			query := s.q("DELETE FROM " + table + " WHERE student_id = ?")
			if _, err := tx.ExecContext(ctx, query, studentID); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, s.classify(err))
			}
		}
		deleted = student
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (s *BaseStore) GetStudent(ctx context.Context, studentID int64) (*models.Student, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.getStudent(ctx, s.DB, studentID)
}

func (s *BaseStore) getStudent(ctx context.Context, q sqlx.QueryerContext, studentID int64) (*models.Student, error) {
	var student models.Student
	query := s.q(`
		SELECT student_id, course_id, last_seen
		FROM students
		WHERE student_id = ?
	`)
	err := sqlx.GetContext(ctx, q, &student, query, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("student %d: %w", studentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", s.classify(err))
	}

	students := []models.Student{student}
	if err := s.loadExternalIDs(ctx, q, students); err != nil {
		return nil, err
	}
	return &students[0], nil
}

func (s *BaseStore) requireStudent(ctx context.Context, q sqlx.QueryerContext, studentID int64) error {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, s.q(`SELECT student_id FROM students WHERE student_id = ?`), studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("student %d: %w", studentID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check student: %w", s.classify(err))
	}
	return nil
}

func (s *BaseStore) FindStudents(ctx context.Context, filter StudentFilter) ([]models.Student, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	keys, err := s.integrationKeys(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	where, args, err := BuildStudentFilter(filter, keys)
	if err != nil {
		return nil, err
	}

	var students []models.Student
	query := s.q(`
		SELECT s.student_id, s.course_id, s.last_seen
		FROM students s
		WHERE ` + where + `
		ORDER BY s.student_id
	`)
	if err := s.DB.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find students: %w", s.classify(err))
	}
	if err := s.loadExternalIDs(ctx, s.DB, students); err != nil {
		return nil, err
	}
	return students, nil
}

func (s *BaseStore) ListStudentsByCourse(ctx context.Context, courseID int64) ([]models.Student, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var students []models.Student
	query := s.q(`
		SELECT student_id, course_id, last_seen
		FROM students
		WHERE course_id = ?
		ORDER BY student_id
	`)
	if err := s.DB.SelectContext(ctx, &students, query, courseID); err != nil {
		return nil, fmt.Errorf("failed to list students of course %d: %w", courseID, s.classify(err))
	}
	if err := s.loadExternalIDs(ctx, s.DB, students); err != nil {
		return nil, err
	}
	return students, nil
}

type externalIDRow struct {
	StudentID   int64  `db:"student_id"`
	Integration string `db:"integration"`
	ExternalID  string `db:"external_id"`
}

func (s *BaseStore) loadExternalIDs(ctx context.Context, q sqlx.QueryerContext, students []models.Student) error {
	if len(students) == 0 {
		return nil
	}

	ids := make([]int64, len(students))
	byID := make(map[int64]*models.Student, len(students))
	for i := range students {
		students[i].ExternalIDs = map[string]string{}
		ids[i] = students[i].ID
		byID[students[i].ID] = &students[i]
	}

	query, args, err := sqlx.In(`
		SELECT student_id, integration, external_id
		FROM student_external_ids
		WHERE student_id IN (?)
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to build external id query: %w", err)
	}

	var rows []externalIDRow
	if err := sqlx.SelectContext(ctx, q, &rows, s.q(query), args...); err != nil {
		return fmt.Errorf("failed to load external ids: %w", s.classify(err))
	}
	for _, row := range rows {
		if student, ok := byID[row.StudentID]; ok {
			student.ExternalIDs[row.Integration] = row.ExternalID
		}
	}
	return nil
}
