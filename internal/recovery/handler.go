package recovery

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicops/clinic-platform/internal/queue"
	"github.com/clinicops/clinic-platform/internal/tenancy"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

// Handler exposes the recovery operations on the admin surface.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a recovery handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// ListMissed handles GET /admin/clinics/{orgID}/missed?from=&to=
func (h *Handler) ListMissed(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}

	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := queue.ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid from date, use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := queue.ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid to date, use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = parsed
	}

	entries, err := h.svc.ListMissed(r.Context(), orgID, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// RescheduleRequest names the target date for a single reschedule.
type RescheduleRequest struct {
	NewDate string `json:"new_date"`
	Reason  string `json:"reason,omitempty"`
}

// Reschedule handles POST /admin/clinics/{orgID}/missed/{queueID}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	orgID, queueID, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	newDate, err := queue.ParseDate(req.NewDate)
	if err != nil {
		http.Error(w, "invalid new_date, use YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	updated, err := h.svc.Reschedule(r.Context(), orgID, queueID, newDate, req.Reason, tenancy.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// BatchRequest reschedules many entries onto the same date.
type BatchRequest struct {
	QueueIDs []uuid.UUID `json:"queue_ids"`
	NewDate  string      `json:"new_date"`
	Reason   string      `json:"reason,omitempty"`
}

// RescheduleBatch handles POST /admin/clinics/{orgID}/missed/reschedule-batch
func (h *Handler) RescheduleBatch(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.QueueIDs) == 0 {
		http.Error(w, "queue_ids required", http.StatusBadRequest)
		return
	}
	newDate, err := queue.ParseDate(req.NewDate)
	if err != nil {
		http.Error(w, "invalid new_date, use YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	results := h.svc.RescheduleBatch(r.Context(), orgID, req.QueueIDs, newDate, req.Reason, tenancy.ActorFromContext(r.Context()))
	writeJSON(w, http.StatusOK, batchResponse(results))
}

// ManualRequest reschedules entries each to their own date.
type ManualRequest struct {
	Items []struct {
		QueueID uuid.UUID `json:"queue_id"`
		NewDate string    `json:"new_date"`
		Reason  string    `json:"reason,omitempty"`
	} `json:"items"`
}

// RescheduleManual handles POST /admin/clinics/{orgID}/missed/reschedule-manual
func (h *Handler) RescheduleManual(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}

	var req ManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
		http.Error(w, "items required", http.StatusBadRequest)
		return
	}

	items := make([]ManualItem, 0, len(req.Items))
	for _, item := range req.Items {
		// A malformed date still yields a per-item failure, not a
		// rejected request; siblings must proceed.
		var newDate time.Time
		if parsed, err := queue.ParseDate(item.NewDate); err == nil {
			newDate = parsed
		}
		items = append(items, ManualItem{QueueID: item.QueueID, NewDate: newDate, Reason: item.Reason})
	}

	results := h.svc.RescheduleManual(r.Context(), orgID, items, tenancy.ActorFromContext(r.Context()))
	writeJSON(w, http.StatusOK, batchResponse(results))
}

// ArchiveRequest carries the archival reason.
type ArchiveRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Archive handles POST /admin/clinics/{orgID}/missed/{queueID}/archive
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	orgID, queueID, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	var req ArchiveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	archived, err := h.svc.Archive(r.Context(), orgID, queueID, req.Reason, tenancy.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, archived)
}

// History handles GET /admin/clinics/{orgID}/missed/{queueID}/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	orgID, queueID, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	records, err := h.svc.History(r.Context(), orgID, queueID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (h *Handler) pathParams(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	queueID, err := uuid.Parse(chi.URLParam(r, "queueID"))
	if err != nil {
		http.Error(w, "invalid queue id", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	return orgID, queueID, true
}

func batchResponse(results []ItemResult) map[string]any {
	succeeded := 0
	for _, res := range results {
		if res.OK {
			succeeded++
		}
	}
	return map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CurrentStatus string `json:"current_status,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, queue.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrCapacityExceeded):
		status, resp.Error = http.StatusUnprocessableEntity, "capacity_exceeded"
	case errors.Is(err, queue.ErrDuplicateEntry):
		status, resp.Error = http.StatusConflict, "duplicate_entry"
	case errors.Is(err, queue.ErrInvalidDate):
		status, resp.Error = http.StatusUnprocessableEntity, "invalid_date"
	case errors.Is(err, ErrNotMissed):
		status, resp.Error = http.StatusUnprocessableEntity, "not_missed"
	default:
		if ite, ok := queue.IsInvalidTransition(err); ok {
			status, resp.Error = http.StatusConflict, "invalid_transition"
			resp.CurrentStatus = string(ite.Current)
		} else {
			h.logger.Error("recovery operation failed", "error", err)
			resp.Error = "internal"
			resp.Message = "internal server error"
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
