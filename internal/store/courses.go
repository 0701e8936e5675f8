package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

func (s *BaseStore) AddCourse(ctx context.Context, course models.NewCourse) (int64, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	var id int64
	query := s.q(`
		INSERT INTO courses (pl_course_id, last_sync)
		VALUES (?, ?)
		RETURNING course_id
	`)
	if err := s.DB.QueryRowxContext(ctx, query, course.PLCourseID, course.LastSync.UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create course: %w", s.classify(err))
	}
	return id, nil
}

func (s *BaseStore) GetCourse(ctx context.Context, courseID int64) (*models.Course, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var course models.Course
	query := s.q(`
		SELECT course_id, pl_course_id, last_sync
		FROM courses
		WHERE course_id = ?
	`)
	err := s.DB.GetContext(ctx, &course, query, courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course %d: %w", courseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", s.classify(err))
	}
	return &course, nil
}

func (s *BaseStore) ListCourses(ctx context.Context) ([]models.Course, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var courses []models.Course
	err := s.DB.SelectContext(ctx, &courses, `
		SELECT course_id, pl_course_id, last_sync
		FROM courses
		ORDER BY course_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", s.classify(err))
	}
	return courses, nil
}

func (s *BaseStore) UpdateCourseLastSync(ctx context.Context, courseID int64, at time.Time) error {
	if err := s.guard(); err != nil {
		return err
	}
	query := s.q(`UPDATE courses SET last_sync = ? WHERE course_id = ?`)
	res, err := s.DB.ExecContext(ctx, query, at.UTC(), courseID)
	if err != nil {
		return fmt.Errorf("failed to update course last sync: %w", s.classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("course %d: %w", courseID, ErrNotFound)
	}
	return nil
}
