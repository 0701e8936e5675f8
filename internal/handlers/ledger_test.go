package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/pointbulle/internal/app"
)

func setupServer(t *testing.T) (*httptest.Server, func()) {
	cfg := &app.Config{}
	cfg.Database.DSN = ":memory:"
	cfg.Database.MigrationsDir = "../../migrations"
	cfg.Ledger.ReadRetryInitial = "1ms"
	cfg.Ledger.Timezone = "UTC"
	cfg.API.RequiredHeaders = []app.HeaderConfig{{Name: "X-Course", Value: "ds101"}}

	service, err := app.NewServiceFromConfig(context.Background(), cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewLedgerHandler(service).Register(mux)
	server := httptest.NewServer(mux)

	return server, func() {
		server.Close()
		service.Close()
	}
}

func call(t *testing.T, server *httptest.Server, method, path string, body any, out any) int {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-Course", "ds101")

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type scoreRow struct {
	StudentID   int64  `json:"student_id"`
	Integration string `json:"integration"`
	Points      int64  `json:"points"`
}

func TestLedgerAPI(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	var course struct {
		CourseID int64 `json:"course_id"`
	}
	require.Equal(t, http.StatusCreated, call(t, server, "POST", "/api/v1/courses",
		map[string]any{"pl_course_id": 42, "last_sync": "2024-01-15T12:00:00Z"}, &course))

	var student struct {
		StudentID int64 `json:"student_id"`
	}
	require.Equal(t, http.StatusCreated, call(t, server, "POST", "/api/v1/students",
		map[string]any{"course_id": course.CourseID, "external_ids": map[string]string{"discord": "alice#1"}}, &student))

	scoresPath := "/api/v1/students/" + itoa(student.StudentID) + "/scores"

	t.Run("increment returns running balance", func(t *testing.T) {
		var score scoreRow
		require.Equal(t, http.StatusOK, call(t, server, "POST", scoresPath+"/discord", map[string]int64{"delta": 5}, &score))
		assert.Equal(t, int64(5), score.Points)

		require.Equal(t, http.StatusOK, call(t, server, "POST", scoresPath+"/DISCORD", map[string]int64{"delta": -2}, &score))
		assert.Equal(t, int64(3), score.Points)
	})

	t.Run("student scores from ledger and cache", func(t *testing.T) {
		var live, cached struct {
			Rows []scoreRow `json:"rows"`
		}
		require.Equal(t, http.StatusOK, call(t, server, "GET", scoresPath, nil, &live))
		require.Equal(t, http.StatusOK, call(t, server, "GET", scoresPath+"?source=cache", nil, &cached))
		assert.Len(t, live.Rows, 3)
		assert.Equal(t, live.Rows, cached.Rows)
	})

	t.Run("course board", func(t *testing.T) {
		var board struct {
			Rows []scoreRow `json:"rows"`
		}
		path := "/api/v1/courses/" + itoa(course.CourseID) + "/scores?integration=discord"
		require.Equal(t, http.StatusOK, call(t, server, "GET", path, nil, &board))
		require.Len(t, board.Rows, 1)
		assert.Equal(t, int64(3), board.Rows[0].Points)
	})

	t.Run("register integration backfills", func(t *testing.T) {
		var resp struct {
			Key        string `json:"key"`
			Backfilled int    `json:"backfilled"`
		}
		require.Equal(t, http.StatusCreated, call(t, server, "POST", "/api/v1/integrations",
			map[string]string{"key": "qa-platform", "name": "Q&A"}, &resp))
		assert.Equal(t, "QA-PLATFORM", resp.Key)
		assert.Equal(t, 1, resp.Backfilled)

		assert.Equal(t, http.StatusConflict, call(t, server, "POST", "/api/v1/integrations",
			map[string]string{"key": "QA-PLATFORM", "name": "Q&A"}, nil))
	})

	t.Run("find students", func(t *testing.T) {
		var found struct {
			Rows []struct {
				StudentID int64 `json:"student_id"`
			} `json:"rows"`
		}
		require.Equal(t, http.StatusOK, call(t, server, "GET", "/api/v1/students?discord_id=alice%231", nil, &found))
		require.Len(t, found.Rows, 1)
		assert.Equal(t, student.StudentID, found.Rows[0].StudentID)

		assert.Equal(t, http.StatusBadRequest, call(t, server, "GET", "/api/v1/students", nil, nil))
		assert.Equal(t, http.StatusBadRequest, call(t, server, "GET", "/api/v1/students?favourite_color=red", nil, nil))
	})

	t.Run("link external id", func(t *testing.T) {
		path := "/api/v1/students/" + itoa(student.StudentID) + "/external/piazza"
		assert.Equal(t, http.StatusNoContent, call(t, server, "PUT", path, map[string]string{"external_id": "p-9"}, nil))
	})

	t.Run("errors map to status codes", func(t *testing.T) {
		assert.Equal(t, http.StatusUnprocessableEntity, call(t, server, "POST", scoresPath+"/myspace", map[string]int64{"delta": 1}, nil))
		assert.Equal(t, http.StatusNotFound, call(t, server, "POST", "/api/v1/students/999/scores/PL", map[string]int64{"delta": 1}, nil))
		assert.Equal(t, http.StatusBadRequest, call(t, server, "POST", scoresPath+"/PL", map[string]int64{"delta": 5000000}, nil))
		assert.Equal(t, http.StatusBadRequest, call(t, server, "GET", "/api/v1/courses/abc", nil, nil))
		assert.Equal(t, http.StatusNotFound, call(t, server, "GET", "/api/v1/courses/999/scores", nil, nil))
	})

	t.Run("reconcile", func(t *testing.T) {
		var report struct {
			Refreshed int64 `json:"refreshed"`
		}
		require.Equal(t, http.StatusOK, call(t, server, "POST", "/api/v1/reconcile", nil, &report))
		assert.Equal(t, int64(0), report.Refreshed)
	})

	t.Run("delete student", func(t *testing.T) {
		path := "/api/v1/students/" + itoa(student.StudentID)
		assert.Equal(t, http.StatusOK, call(t, server, "DELETE", path, nil, nil))
		assert.Equal(t, http.StatusNotFound, call(t, server, "DELETE", path, nil, nil))

		var scores []map[string]any
		require.Equal(t, http.StatusOK, call(t, server, "GET", scoresPath, nil, &scores))
		assert.NotNil(t, scores)
		assert.Empty(t, scores)
	})
}

func TestRequiredHeaders(t *testing.T) {
	server, cleanup := setupServer(t)
	defer cleanup()

	resp, err := server.Client().Get(server.URL + "/api/v1/integrations")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
