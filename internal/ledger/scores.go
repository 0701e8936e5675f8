package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/metrics"
	"github.com/shrimpsizemoose/pointbulle/internal/models"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

// Increment adds delta to the student's balance on the integration and
// returns the balance right after this increment. The cache is refreshed
// afterwards; a failed refresh is logged and left to reconciliation.
//
// Increments are never retried here. A connection failure while the update
// was in flight is reported as ErrIncrementIndeterminate.
func (c *Coordinator) Increment(ctx context.Context, studentID int64, integration string, delta int64) (models.Score, error) {
	key, err := c.validate(ctx, integration)
	if err != nil {
		return models.Score{}, err
	}

	score, err := c.store.IncrementScore(ctx, studentID, key, delta)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConsistencyViolation):
		metrics.ConsistencyViolations.Inc()
		logger.Error.Printf("Increment of student %d on %s: %v", studentID, key, err)
		return models.Score{}, err
	case errors.Is(err, store.ErrStoreUnavailable), errors.Is(err, context.Canceled):
		return models.Score{}, fmt.Errorf("%w: %w", ErrIncrementIndeterminate, err)
	default:
		return models.Score{}, err
	}

	metrics.IncrementsTotal.WithLabelValues(key).Inc()
	if delta > 0 {
		metrics.PointsAwardedTotal.WithLabelValues(key).Add(float64(delta))
	}

	c.refresh(ctx, score)
	return score, nil
}

func (c *Coordinator) refresh(ctx context.Context, score models.Score) {
	_, err := c.store.RefreshCachedScore(ctx, models.CachedScore{Score: score, Timestamp: c.now()})
	if err != nil {
		metrics.CacheRefreshFailures.WithLabelValues(score.Integration).Inc()
		logger.Error.Printf("Failed to refresh cached score of student %d on %s (version %d): %v",
			score.StudentID, score.Integration, score.Version, err)
	}
}

// StudentScores reads a single student's live balances. An empty
// integration returns every integration.
func (c *Coordinator) StudentScores(ctx context.Context, studentID int64, integration string) ([]models.Score, error) {
	key, err := c.optionalKey(ctx, integration)
	if err != nil {
		return nil, err
	}
	scores, err := retryRead(ctx, c, "student scores", func() ([]models.Score, error) {
		return c.store.ScoresByStudent(ctx, studentID, key)
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkComplete(ctx, studentID, key, len(scores)); err != nil {
		return nil, err
	}
	return scores, nil
}

// CachedScoresByStudent reads a single student's balances from the cache.
func (c *Coordinator) CachedScoresByStudent(ctx context.Context, studentID int64, integration string) ([]models.CachedScore, error) {
	key, err := c.optionalKey(ctx, integration)
	if err != nil {
		return nil, err
	}
	scores, err := retryRead(ctx, c, "cached student scores", func() ([]models.CachedScore, error) {
		return c.store.CachedScoresByStudent(ctx, studentID, key)
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkComplete(ctx, studentID, key, len(scores)); err != nil {
		return nil, err
	}
	return scores, nil
}

// CourseScores reads the course board from the cache.
func (c *Coordinator) CourseScores(ctx context.Context, courseID int64, integration string) ([]models.CachedScore, error) {
	key, err := c.optionalKey(ctx, integration)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return retryRead(ctx, c, "cached course scores", func() ([]models.CachedScore, error) {
		return c.store.CachedScoresByCourse(ctx, courseID, key)
	})
}

// LedgerScoresByCourse reads the course board from live balances.
func (c *Coordinator) LedgerScoresByCourse(ctx context.Context, courseID int64, integration string) ([]models.Score, error) {
	key, err := c.optionalKey(ctx, integration)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return retryRead(ctx, c, "course scores", func() ([]models.Score, error) {
		return c.store.ScoresByCourse(ctx, courseID, key)
	})
}

func (c *Coordinator) optionalKey(ctx context.Context, integration string) (string, error) {
	if integration == "" {
		return "", nil
	}
	return c.validate(ctx, integration)
}

// checkComplete turns a short read of a live student into a consistency
// violation. A deleted student has no rows and reads as empty.
func (c *Coordinator) checkComplete(ctx context.Context, studentID int64, key string, got int) error {
	want := 1
	if key == "" {
		want = c.registry.Len()
	}
	if got >= want {
		return nil
	}

	_, err := c.GetStudent(ctx, studentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	metrics.ConsistencyViolations.Inc()
	err = fmt.Errorf("%w: student %d has %d of %d score rows", store.ErrConsistencyViolation, studentID, got, want)
	logger.Error.Printf("%v", err)
	return err
}
