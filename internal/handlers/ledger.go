package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/pointbulle/internal/app"
	"github.com/shrimpsizemoose/pointbulle/internal/ledger"
	"github.com/shrimpsizemoose/pointbulle/internal/metrics"
	"github.com/shrimpsizemoose/pointbulle/internal/models"
	"github.com/shrimpsizemoose/pointbulle/internal/store"
)

type LedgerHandler struct {
	service *app.Service
}

func NewLedgerHandler(service *app.Service) *LedgerHandler {
	return &LedgerHandler{
		service: service,
	}
}

func (h *LedgerHandler) Register(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"GET /api/v1/integrations":  h.HandleListIntegrations,
		"POST /api/v1/integrations": h.HandleRegisterIntegration,

		"GET /api/v1/courses":                   h.HandleListCourses,
		"POST /api/v1/courses":                  h.HandleAddCourse,
		"GET /api/v1/courses/{course}":          h.HandleGetCourse,
		"POST /api/v1/courses/{course}/sync":    h.HandleCourseSync,
		"GET /api/v1/courses/{course}/students": h.HandleCourseStudents,
		"GET /api/v1/courses/{course}/scores":   h.HandleCourseScores,

		"GET /api/v1/students":                                  h.HandleFindStudents,
		"POST /api/v1/students":                                 h.HandleAddStudent,
		"DELETE /api/v1/students/{student}":                     h.HandleDeleteStudent,
		"PUT /api/v1/students/{student}/external/{integration}": h.HandleLinkStudent,
		"GET /api/v1/students/{student}/scores":                 h.HandleStudentScores,
		"POST /api/v1/students/{student}/scores/{integration}":  h.HandleIncrement,

		"POST /api/v1/reconcile": h.HandleReconcile,
	}
	for pattern, handler := range routes {
		mux.Handle(pattern, h.wrap(handler))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// wrap times the request and rejects callers without the required headers
// or a valid token.
func (h *LedgerHandler) wrap(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			metrics.APIRequestDuration.WithLabelValues(
				r.Pattern,
				r.Method,
				strconv.Itoa(rec.status),
			).Observe(time.Since(start).Seconds())
		}()

		if !h.service.ValidateHeaders(r.Header) {
			http.Error(rec, "these are not the droids you are looking for", http.StatusForbidden)
			return
		}
		if err := h.service.ValidateAuth(r); err != nil {
			logger.Error.Printf("Auth failed: %v", err)
			http.Error(rec, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(rec, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrUnknownIntegration):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrIncrementIndeterminate),
		errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, store.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		logger.Error.Printf("ERROR: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(store.ErrInvalidQuery, errors.New("invalid "+name+" id"))
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(store.ErrInvalidQuery, err)
	}
	return nil
}

func (h *LedgerHandler) HandleListIntegrations(w http.ResponseWriter, r *http.Request) {
	integrations, err := h.service.Ledger.ListIntegrations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": integrations})
}

func (h *LedgerHandler) HandleRegisterIntegration(w http.ResponseWriter, r *http.Request) {
	var integration models.Integration
	if err := decode(r, &integration); err != nil {
		writeError(w, err)
		return
	}
	backfilled, err := h.service.Ledger.RegisterIntegration(r.Context(), integration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":        models.NormalizeIntegrationKey(integration.Key),
		"backfilled": backfilled,
	})
}

func (h *LedgerHandler) HandleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.service.Ledger.ListCourses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": courses})
}

func (h *LedgerHandler) HandleAddCourse(w http.ResponseWriter, r *http.Request) {
	var course models.NewCourse
	if err := decode(r, &course); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.service.Ledger.AddCourse(r.Context(), course)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"course_id": id})
}

func (h *LedgerHandler) HandleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "course")
	if err != nil {
		writeError(w, err)
		return
	}
	course, err := h.service.Ledger.GetCourse(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (h *LedgerHandler) HandleCourseSync(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "course")
	if err != nil {
		writeError(w, err)
		return
	}
	at, err := h.service.Ledger.UpdateCourseLastSync(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course_id": id, "last_sync": at})
}

func (h *LedgerHandler) HandleCourseStudents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "course")
	if err != nil {
		writeError(w, err)
		return
	}
	students, err := h.service.Ledger.StudentsByCourse(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": students})
}

// HandleCourseScores serves the course board from the cache unless
// ?source=ledger asks for live balances.
func (h *LedgerHandler) HandleCourseScores(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "course")
	if err != nil {
		writeError(w, err)
		return
	}
	integration := r.URL.Query().Get("integration")

	var rows any
	switch r.URL.Query().Get("source") {
	case "", "cache":
		rows, err = h.service.Ledger.CourseScores(r.Context(), id, integration)
	case "ledger":
		rows, err = h.service.Ledger.LedgerScoresByCourse(r.Context(), id, integration)
	default:
		err = errors.Join(store.ErrInvalidQuery, errors.New("source must be cache or ledger"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *LedgerHandler) HandleFindStudents(w http.ResponseWriter, r *http.Request) {
	filter := store.StudentFilter{}
	for attr, values := range r.URL.Query() {
		if len(values) != 1 {
			writeError(w, errors.Join(store.ErrInvalidQuery, errors.New(attr+" must be given once")))
			return
		}
		filter[attr] = values[0]
	}

	students, err := h.service.Ledger.FindStudents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": students})
}

func (h *LedgerHandler) HandleAddStudent(w http.ResponseWriter, r *http.Request) {
	var student models.NewStudent
	if err := decode(r, &student); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.service.Ledger.AddStudent(r.Context(), student)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"student_id": id})
}

func (h *LedgerHandler) HandleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "student")
	if err != nil {
		writeError(w, err)
		return
	}
	student, err := h.service.Ledger.DeleteStudent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, student)
}

func (h *LedgerHandler) HandleLinkStudent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "student")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ExternalID string `json:"external_id"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := h.service.Ledger.UpdateStudentExternalID(r.Context(), id, r.PathValue("integration"), body.ExternalID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStudentScores serves live balances unless ?source=cache.
func (h *LedgerHandler) HandleStudentScores(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "student")
	if err != nil {
		writeError(w, err)
		return
	}
	integration := r.URL.Query().Get("integration")

	var rows any
	switch r.URL.Query().Get("source") {
	case "", "ledger":
		rows, err = h.service.Ledger.StudentScores(r.Context(), id, integration)
	case "cache":
		rows, err = h.service.Ledger.CachedScoresByStudent(r.Context(), id, integration)
	default:
		err = errors.Join(store.ErrInvalidQuery, errors.New("source must be cache or ledger"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *LedgerHandler) HandleIncrement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "student")
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.IncrementRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, errors.Join(store.ErrInvalidQuery, err))
		return
	}

	score, err := h.service.Ledger.Increment(r.Context(), id, r.PathValue("integration"), req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *LedgerHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Ledger.Reconcile(r.Context())
	if err != nil && !errors.Is(err, store.ErrConsistencyViolation) {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}
