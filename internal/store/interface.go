package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
)

type LedgerStore interface {
	Close() error
	ApplyMigrations(dir string) error

	ListIntegrations(ctx context.Context) ([]models.Integration, error)
	GetIntegration(ctx context.Context, key string) (*models.Integration, error)
	RegisterIntegration(ctx context.Context, integration models.Integration) (int, error)

	AddCourse(ctx context.Context, course models.NewCourse) (int64, error)
	GetCourse(ctx context.Context, courseID int64) (*models.Course, error)
	ListCourses(ctx context.Context) ([]models.Course, error)
	UpdateCourseLastSync(ctx context.Context, courseID int64, at time.Time) error

	AddStudent(ctx context.Context, student models.NewStudent) (int64, error)
	GetStudent(ctx context.Context, studentID int64) (*models.Student, error)
	UpdateStudentExternalID(ctx context.Context, studentID int64, integration, externalID string) error
	TouchStudent(ctx context.Context, studentID int64, at time.Time) error
	DeleteStudent(ctx context.Context, studentID int64) (*models.Student, error)
	FindStudents(ctx context.Context, filter StudentFilter) ([]models.Student, error)
	ListStudentsByCourse(ctx context.Context, courseID int64) ([]models.Student, error)

	IncrementScore(ctx context.Context, studentID int64, integration string, delta int64) (models.Score, error)
	ScoresByStudent(ctx context.Context, studentID int64, integration string) ([]models.Score, error)
	ScoresByCourse(ctx context.Context, courseID int64, integration string) ([]models.Score, error)

	CachedScoresByStudent(ctx context.Context, studentID int64, integration string) ([]models.CachedScore, error)
	CachedScoresByCourse(ctx context.Context, courseID int64, integration string) ([]models.CachedScore, error)
	RefreshCachedScore(ctx context.Context, score models.CachedScore) (bool, error)
	ReconcileCachedScores(ctx context.Context, asOf time.Time) (int64, error)
	MissingScoreRows(ctx context.Context) ([]ScoreKey, error)

	ClaimDaily(ctx context.Context, studentID int64, day string) (models.DailyClaim, bool, error)
}

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB         *sqlx.DB
	Converter  func(string) string
	Classifier ErrorClassifier

	// LockStudents, when set, runs first in the RegisterIntegration
	// transaction and must block concurrent inserts into students until commit.
	LockStudents string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Close releases the database handle. It is safe to call more than once;
// every operation issued afterwards fails with ErrStoreClosed.
func (s *BaseStore) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.DB != nil {
			s.closeErr = s.DB.Close()
		}
	})
	return s.closeErr
}

func (s *BaseStore) guard() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func (s *BaseStore) q(query string) string {
	if s.Converter == nil {
		return query
	}
	return s.Converter(query)
}

func (s *BaseStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := s.guard(); err != nil {
		return err
	}
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", s.classify(err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", s.classify(err))
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	if err := s.guard(); err != nil {
		return err
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(fmt.Sprintf("%s/%s", dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		logger.Debug.Printf("Applying migration: %s", file.Name())
		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}
