package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicops/clinic-platform/internal/tenancy"
)

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if org := req.Header.Get("X-Org-Id"); org != "" {
				req = req.WithContext(tenancy.WithOrgID(req.Context(), org))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/queue", h.ListDay)
	r.Post("/queue", h.Add)
	r.Route("/queue/{queueID}", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/complete", h.Complete)
		r.Post("/skip", h.Skip)
		r.Post("/cancel", h.Cancel)
		r.Post("/prioritize", h.Prioritize)
		r.Post("/emergency", h.SendToEmergency)
		r.Post("/doctor", h.AssignDoctor)
	})
	r.Get("/admin/clinics/{orgID}/queue/stats", h.GetStats)
	return r
}

func newHandlerFixture(t *testing.T) (*fakeStore, http.Handler) {
	t.Helper()
	store := newFakeStore()
	svc := newTestService(store, nil, &captureSink{})
	h := NewHandler(svc, nil, nil)
	return store, testRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path, org string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if org != "" {
		req.Header.Set("X-Org-Id", org)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAdd(t *testing.T) {
	_, router := newHandlerFixture(t)

	rec := doJSON(t, router, http.MethodPost, "/queue", "org-1",
		AddRequest{PatientID: uuid.New()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var entry Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, 1, entry.QueueNumber)
	assert.Equal(t, StatusWaiting, entry.Status)
	assert.Equal(t, "org-1", entry.OrgID)
}

func TestHandlerAddRequiresPatient(t *testing.T) {
	_, router := newHandlerFixture(t)
	rec := doJSON(t, router, http.MethodPost, "/queue", "org-1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerAddRequiresOrg(t *testing.T) {
	_, router := newHandlerFixture(t)
	rec := doJSON(t, router, http.MethodPost, "/queue", "",
		AddRequest{PatientID: uuid.New()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerStartUnknownEntry(t *testing.T) {
	_, router := newHandlerFixture(t)
	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/queue/%s/complete", uuid.New()), "org-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error)
}

func TestHandlerInvalidTransitionConflict(t *testing.T) {
	store, router := newHandlerFixture(t)
	svc := newTestService(store, nil, &captureSink{})

	entry, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	// Complete straight from waiting is a state machine violation.
	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/queue/%s/complete", entry.ID), "org-1", nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_transition", resp.Error)
	assert.Equal(t, "waiting", resp.CurrentStatus)
}

func TestHandlerLifecycle(t *testing.T) {
	store, router := newHandlerFixture(t)
	svc := newTestService(store, nil, &captureSink{})

	entry, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/queue/%s/start", entry.ID), "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/queue/%s/complete", entry.ID), "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var completed Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, CheckupCompleted, completed.CheckupStatus)
}

func TestHandlerPrioritize(t *testing.T) {
	store, router := newHandlerFixture(t)
	svc := newTestService(store, nil, &captureSink{})

	entry, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/queue/%s/prioritize", entry.ID), "org-1",
		PrioritizeRequest{Priority: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.True(t, updated.Emergency)
	assert.Equal(t, 2, updated.EmergencyPriority)
}

func TestHandlerPrioritizeRejectsNegative(t *testing.T) {
	store, router := newHandlerFixture(t)
	svc := newTestService(store, nil, &captureSink{})

	entry, err := svc.AddToQueue(context.Background(), "org-1", uuid.New(), time.Time{})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/queue/%s/prioritize", entry.ID), "org-1",
		PrioritizeRequest{Priority: -3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListOrdersEmergencyFirst(t *testing.T) {
	store, router := newHandlerFixture(t)
	svc := newTestService(store, nil, &captureSink{})
	ctx := context.Background()

	day := DateOf(time.Now().UTC())
	_, err := svc.AddToQueue(ctx, "org-1", uuid.New(), day)
	require.NoError(t, err)
	_, err = svc.AddToQueue(ctx, "org-1", uuid.New(), day)
	require.NoError(t, err)
	third, err := svc.AddToQueue(ctx, "org-1", uuid.New(), day)
	require.NoError(t, err)
	_, err = svc.PrioritizeEmergency(ctx, "org-1", third.ID, 2)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet,
		"/queue?date="+day.Format("2006-01-02"), "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, 3, resp.Entries[0].QueueNumber)
	assert.Equal(t, 1, resp.Entries[1].QueueNumber)
	assert.Equal(t, 2, resp.Entries[2].QueueNumber)
}

func TestHandlerCapacityExceeded(t *testing.T) {
	store := newFakeStore()
	store.capacity = 1
	svc := newTestService(store, nil, &captureSink{})
	router := testRouter(NewHandler(svc, nil, nil))

	rec := doJSON(t, router, http.MethodPost, "/queue", "org-1",
		AddRequest{PatientID: uuid.New()})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/queue", "org-1",
		AddRequest{PatientID: uuid.New()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "capacity_exceeded", resp.Error)
}

func TestHandlerStats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(pgxmock.NewRows([]string{
			"total", "waiting", "in_progress", "completed", "cancelled", "archived", "emergency",
		}).AddRow(int64(10), int64(2), int64(1), int64(6), int64(1), int64(0), int64(1)))

	h := NewHandler(nil, NewStatsRepository(mock), nil)
	router := testRouter(h)

	rec := doJSON(t, router, http.MethodGet,
		"/admin/clinics/org-1/queue/stats?from=2024-06-01&to=2024-06-07", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(1), stats.Emergency)
}

func TestHandlerStatsRangeValidation(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	router := testRouter(h)

	rec := doJSON(t, router, http.MethodGet,
		"/admin/clinics/org-1/queue/stats?from=2024-06-07&to=2024-06-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
