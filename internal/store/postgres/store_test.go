package postgres

import (
	"context"
	"flag"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shrimpsizemoose/pointbulle/internal/models"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

// setupTestDB starts a throwaway Postgres container and applies the migrations
func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	container, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_DB":       "testdb",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(&store.DBConfig{
		DSN:           dsn,
		MigrationsDir: "../../../migrations",
		MaxOpenConns:  10,
	})
	require.NoError(t, err, "Failed to create store")

	cleanup := func() {
		s.Close()
		container.Terminate(ctx)
	}

	return s, cleanup
}

type testData struct {
	store    *PostgresStore
	ctx      context.Context
	now      time.Time
	courseID int64
}

func setupTestData(t *testing.T) (*testData, func()) {
	s, cleanup := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	courseID, err := s.AddCourse(ctx, models.NewCourse{PLCourseID: 101, LastSync: now})
	require.NoError(t, err, "Failed to insert test course")

	return &testData{
		store:    s,
		ctx:      ctx,
		now:      now,
		courseID: courseID,
	}, cleanup
}

func (td *testData) addStudent(t *testing.T, externalIDs map[string]string) int64 {
	id, err := td.store.AddStudent(td.ctx, models.NewStudent{
		CourseID:    td.courseID,
		ExternalIDs: externalIDs,
	})
	require.NoError(t, err, "Failed to add student")
	return id
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		log.Println("Skipping Postgres integration tests. Use -short=false to run them.")
		os.Exit(0)
	}
	log.Println("Starting Postgres store tests...")
	code := m.Run()
	log.Println("Finished Postgres store tests")
	os.Exit(code)
}

func TestToDollarParams(t *testing.T) {
	assert.Equal(t,
		"SELECT 1 FROM scores WHERE student_id = $1 AND integration = $2",
		toDollarParams("SELECT 1 FROM scores WHERE student_id = ? AND integration = ?"),
	)
}

func TestLedgerLifecycle(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	alice := td.addStudent(t, map[string]string{"DISCORD": "alice#1"})
	bob := td.addStudent(t, nil)

	t.Run("every student has a row per integration", func(t *testing.T) {
		missing, err := td.store.MissingScoreRows(td.ctx)
		require.NoError(t, err)
		assert.Empty(t, missing)

		scores, err := td.store.ScoresByCourse(td.ctx, td.courseID, "")
		require.NoError(t, err)
		assert.Len(t, scores, 6)
	})

	t.Run("increment", func(t *testing.T) {
		score, err := td.store.IncrementScore(td.ctx, alice, "DISCORD", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), score.Points)

		_, err = td.store.IncrementScore(td.ctx, alice, "MYSPACE", 5)
		assert.ErrorIs(t, err, store.ErrUnknownIntegration)

		_, err = td.store.IncrementScore(td.ctx, 9999, "DISCORD", 5)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("register integration backfills", func(t *testing.T) {
		n, err := td.store.RegisterIntegration(td.ctx, models.Integration{Key: "TELEGRAM", Name: "Telegram"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, id := range []int64{alice, bob} {
			scores, err := td.store.ScoresByStudent(td.ctx, id, "TELEGRAM")
			require.NoError(t, err)
			assert.Len(t, scores, 1)
		}

		_, err = td.store.RegisterIntegration(td.ctx, models.Integration{Key: "TELEGRAM", Name: "Telegram"})
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("find by external id", func(t *testing.T) {
		students, err := td.store.FindStudents(td.ctx, store.StudentFilter{"discord_id": "alice#1"})
		require.NoError(t, err)
		require.Len(t, students, 1)
		assert.Equal(t, alice, students[0].ID)
	})

	t.Run("reconcile", func(t *testing.T) {
		n, err := td.store.ReconcileCachedScores(td.ctx, td.now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		cached, err := td.store.CachedScoresByStudent(td.ctx, alice, "DISCORD")
		require.NoError(t, err)
		assert.Equal(t, int64(5), cached[0].Points)
	})

	t.Run("delete cascades", func(t *testing.T) {
		_, err := td.store.DeleteStudent(td.ctx, bob)
		require.NoError(t, err)

		scores, err := td.store.ScoresByStudent(td.ctx, bob, "")
		require.NoError(t, err)
		assert.Empty(t, scores)
	})
}

func TestConcurrentIncrements(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	id := td.addStudent(t, nil)

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := td.store.IncrementScore(td.ctx, id, "PL", 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	scores, err := td.store.ScoresByStudent(td.ctx, id, "PL")
	require.NoError(t, err)
	assert.Equal(t, int64(3*workers), scores[0].Points)
	assert.Equal(t, int64(workers), scores[0].Version)
}

func TestConcurrentRegistrationAndEnrollment(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := td.store.AddStudent(td.ctx, models.NewStudent{CourseID: td.courseID})
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := td.store.RegisterIntegration(td.ctx, models.Integration{Key: "GRADESCOPE", Name: "Gradescope"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	missing, err := td.store.MissingScoreRows(td.ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestClaimDaily(t *testing.T) {
	td, cleanup := setupTestData(t)
	defer cleanup()

	id := td.addStudent(t, nil)

	_, claimed, err := td.store.ClaimDaily(td.ctx, id, "2024-01-15")
	require.NoError(t, err)
	assert.True(t, claimed)

	claim, claimed, err := td.store.ClaimDaily(td.ctx, id, "2024-01-15")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 1, claim.NumDailies)
}
