package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
	"github.com/shrimpsizemoose/pointbulle/internal/scoring"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
	"github.com/shrimpsizemoose/pointbulle/internal/store/sqlite"
)

var testNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type testData struct {
	coord    *Coordinator
	store    *sqlite.SQLiteStore
	ctx      context.Context
	courseID int64
	clock    *time.Time
}

func setupCoordinator(t *testing.T) (*testData, func()) {
	s, err := sqlite.NewSQLiteStore(&store.DBConfig{
		DSN:           ":memory:",
		MigrationsDir: "../../migrations",
	})
	require.NoError(t, err, "Failed to create store")

	ctx := context.Background()
	clock := testNow
	coord, err := NewCoordinator(ctx, s, Options{
		ReadRetryInitial: time.Millisecond,
		Daily:            scoring.NewDailyRewarder(2, map[int]int{2: 3}),
		Now:              func() time.Time { return clock },
	})
	require.NoError(t, err)

	courseID, err := coord.AddCourse(ctx, models.NewCourse{PLCourseID: 101})
	require.NoError(t, err)

	return &testData{
		coord:    coord,
		store:    s,
		ctx:      ctx,
		courseID: courseID,
		clock:    &clock,
	}, func() { s.Close() }
}

func (td *testData) addStudent(t *testing.T, externalIDs map[string]string) int64 {
	id, err := td.coord.AddStudent(td.ctx, models.NewStudent{CourseID: td.courseID, ExternalIDs: externalIDs})
	require.NoError(t, err)
	return id
}

func TestIncrementReturnsRunningBalance(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	id := td.addStudent(t, nil)

	score, err := td.coord.Increment(td.ctx, id, "discord", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), score.Points)

	score, err = td.coord.Increment(td.ctx, id, "DISCORD", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), score.Points)

	t.Run("cache follows the ledger", func(t *testing.T) {
		cached, err := td.coord.CachedScoresByStudent(td.ctx, id, "DISCORD")
		require.NoError(t, err)
		require.Len(t, cached, 1)
		assert.Equal(t, int64(3), cached[0].Points)
		assert.True(t, testNow.Equal(cached[0].Timestamp))
	})

	t.Run("unknown integration", func(t *testing.T) {
		_, err := td.coord.Increment(td.ctx, id, "MYSPACE", 1)
		assert.ErrorIs(t, err, store.ErrUnknownIntegration)
	})

	t.Run("unknown student", func(t *testing.T) {
		_, err := td.coord.Increment(td.ctx, 999, "DISCORD", 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestConcurrentIncrementsMatchCache(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	id := td.addStudent(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := td.coord.Increment(td.ctx, id, "PIAZZA", 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	live, err := td.coord.StudentScores(td.ctx, id, "PIAZZA")
	require.NoError(t, err)
	cached, err := td.coord.CachedScoresByStudent(td.ctx, id, "PIAZZA")
	require.NoError(t, err)

	assert.Equal(t, int64(60), live[0].Points)
	assert.Equal(t, live[0], cached[0].Score)
}

func TestRegisterIntegrationAtRuntime(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		td.addStudent(t, nil)
	}

	n, err := td.coord.RegisterIntegration(td.ctx, models.Integration{Key: "qa-platform", Name: "Q&A"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	board, err := td.coord.CourseScores(td.ctx, td.courseID, "QA-PLATFORM")
	require.NoError(t, err)
	require.Len(t, board, 3)
	for _, row := range board {
		assert.Equal(t, int64(0), row.Points)
	}

	t.Run("ensure is a no-op once registered", func(t *testing.T) {
		require.NoError(t, td.coord.EnsureIntegration(td.ctx, models.Integration{Key: "QA-PLATFORM", Name: "Q&A"}))
		assert.Contains(t, td.coord.Registry().Keys(), "QA-PLATFORM")
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := td.coord.RegisterIntegration(td.ctx, models.Integration{Key: "no spaces", Name: "x"})
		assert.ErrorIs(t, err, store.ErrInvalidQuery)
	})
}

func TestRegistryPicksUpIntegrationsFromOtherProcesses(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	id := td.addStudent(t, nil)

	_, err := td.store.RegisterIntegration(td.ctx, models.Integration{Key: "TELEGRAM", Name: "Telegram"})
	require.NoError(t, err)

	score, err := td.coord.Increment(td.ctx, id, "TELEGRAM", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), score.Points)
}

func TestDeleteStudentEmptiesReads(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	id := td.addStudent(t, nil)
	_, err := td.coord.DeleteStudent(td.ctx, id)
	require.NoError(t, err)

	scores, err := td.coord.StudentScores(td.ctx, id, "")
	require.NoError(t, err)
	assert.Empty(t, scores)

	cached, err := td.coord.CachedScoresByStudent(td.ctx, id, "DISCORD")
	require.NoError(t, err)
	assert.Empty(t, cached)

	board, err := td.coord.CourseScores(td.ctx, td.courseID, "")
	require.NoError(t, err)
	assert.Empty(t, board)

	_, err = td.coord.DeleteStudent(td.ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMissingRowIsReportedNotRepaired(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	id := td.addStudent(t, nil)
	_, err := td.store.DB.Exec(`DELETE FROM cached_scores WHERE student_id = ? AND integration = 'PL'`, id)
	require.NoError(t, err)

	_, err = td.coord.CachedScoresByStudent(td.ctx, id, "")
	assert.ErrorIs(t, err, store.ErrConsistencyViolation)

	report, err := td.coord.Reconcile(td.ctx)
	assert.ErrorIs(t, err, store.ErrConsistencyViolation)
	assert.Equal(t, []store.ScoreKey{{StudentID: id, Integration: "PL"}}, report.Missing)

	_, err = td.coord.Reconcile(td.ctx)
	assert.ErrorIs(t, err, store.ErrConsistencyViolation, "reconcile never creates rows")
}

func TestReconcileHealsStaleCache(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	id := td.addStudent(t, nil)
	// bypass the coordinator so the cache misses the update
	_, err := td.store.IncrementScore(td.ctx, id, "PL", 9)
	require.NoError(t, err)

	*td.clock = testNow.Add(time.Minute)
	report, err := td.coord.Reconcile(td.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Refreshed)
	assert.Empty(t, report.Missing)

	board, err := td.coord.CourseScores(td.ctx, td.courseID, "PL")
	require.NoError(t, err)
	assert.Equal(t, int64(9), board[0].Points)
	assert.True(t, testNow.Add(time.Minute).Equal(board[0].Timestamp))
}

func TestFindOrCreateStudent(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	student, created, err := td.coord.FindOrCreateStudent(td.ctx, "discord", "alice#1", td.courseID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice#1", student.ExternalIDs["DISCORD"])

	again, created, err := td.coord.FindOrCreateStudent(td.ctx, "DISCORD", "alice#1", td.courseID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, student.ID, again.ID)

	scores, err := td.coord.StudentScores(td.ctx, student.ID, "")
	require.NoError(t, err)
	assert.Len(t, scores, 3)
}

func TestClaimDaily(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	id := td.addStudent(t, nil)

	first, err := td.coord.ClaimDaily(td.ctx, id, "DISCORD")
	require.NoError(t, err)
	assert.True(t, first.Claimed)
	assert.Equal(t, int64(2), first.Awarded)
	assert.Equal(t, int64(2), first.Score.Points)

	again, err := td.coord.ClaimDaily(td.ctx, id, "DISCORD")
	require.NoError(t, err)
	assert.False(t, again.Claimed)
	assert.Equal(t, int64(0), again.Awarded)

	*td.clock = testNow.Add(24 * time.Hour)
	second, err := td.coord.ClaimDaily(td.ctx, id, "DISCORD")
	require.NoError(t, err)
	assert.True(t, second.Claimed)
	assert.Equal(t, int64(5), second.Awarded, "second claim hits the milestone bonus")
	assert.Equal(t, int64(7), second.Score.Points)
}

func TestFilterValidation(t *testing.T) {
	td, cleanup := setupCoordinator(t)
	defer cleanup()

	_, err := td.coord.FindStudents(td.ctx, store.StudentFilter{})
	assert.ErrorIs(t, err, store.ErrInvalidQuery)

	students, err := td.coord.FindStudents(td.ctx, store.StudentFilter{"piazza_id": "nobody"})
	require.NoError(t, err)
	assert.Empty(t, students)
}

// MockStore fails on demand; methods it does not override panic.
type MockStore struct {
	store.LedgerStore
	mock.Mock
}

func (m *MockStore) ListIntegrations(ctx context.Context) ([]models.Integration, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Integration), args.Error(1)
}

func (m *MockStore) IncrementScore(ctx context.Context, studentID int64, integration string, delta int64) (models.Score, error) {
	args := m.Called(studentID, integration, delta)
	return args.Get(0).(models.Score), args.Error(1)
}

func (m *MockStore) RefreshCachedScore(ctx context.Context, score models.CachedScore) (bool, error) {
	args := m.Called(score.StudentID, score.Integration, score.Points)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ScoresByStudent(ctx context.Context, studentID int64, integration string) ([]models.Score, error) {
	args := m.Called(studentID, integration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Score), args.Error(1)
}

func newMockCoordinator(t *testing.T) (*Coordinator, *MockStore) {
	m := new(MockStore)
	m.On("ListIntegrations").Return([]models.Integration{{Key: "PL"}, {Key: "DISCORD"}}, nil).Once()

	coord, err := NewCoordinator(context.Background(), m, Options{
		ReadRetryAttempts: 3,
		ReadRetryInitial:  time.Millisecond,
	})
	require.NoError(t, err)
	return coord, m
}

var errConnReset = fmt.Errorf("%w: connection reset by peer", store.ErrStoreUnavailable)

func TestReadsRetryWhileStoreUnavailable(t *testing.T) {
	coord, m := newMockCoordinator(t)

	m.On("ScoresByStudent", int64(1), "PL").Return(nil, errConnReset).Twice()
	m.On("ScoresByStudent", int64(1), "PL").Return([]models.Score{{StudentID: 1, Integration: "PL", Points: 4}}, nil).Once()

	scores, err := coord.StudentScores(context.Background(), 1, "PL")
	require.NoError(t, err)
	assert.Equal(t, int64(4), scores[0].Points)
	m.AssertExpectations(t)
}

func TestReadsGiveUpAfterMaxAttempts(t *testing.T) {
	coord, m := newMockCoordinator(t)

	m.On("ScoresByStudent", int64(1), "PL").Return(nil, errConnReset).Times(3)

	_, err := coord.StudentScores(context.Background(), 1, "PL")
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
	m.AssertExpectations(t)
}

func TestIncrementIsNeverRetried(t *testing.T) {
	coord, m := newMockCoordinator(t)

	m.On("IncrementScore", int64(1), "PL", int64(5)).Return(models.Score{}, errConnReset).Once()

	_, err := coord.Increment(context.Background(), 1, "PL", 5)
	assert.ErrorIs(t, err, ErrIncrementIndeterminate)
	m.AssertNumberOfCalls(t, "IncrementScore", 1)
}

func TestIncrementSucceedsWhenCacheRefreshFails(t *testing.T) {
	coord, m := newMockCoordinator(t)

	m.On("IncrementScore", int64(1), "DISCORD", int64(5)).
		Return(models.Score{StudentID: 1, Integration: "DISCORD", Points: 5, Version: 1}, nil).Once()
	m.On("RefreshCachedScore", int64(1), "DISCORD", int64(5)).Return(false, errConnReset).Once()

	score, err := coord.Increment(context.Background(), 1, "DISCORD", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), score.Points)
	m.AssertExpectations(t)
}
