package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicops/clinic-platform/internal/tenancy"
	"github.com/clinicops/clinic-platform/pkg/logging"
)

// Handler handles HTTP requests for the day queue.
type Handler struct {
	svc    *Service
	stats  *StatsRepository
	logger *logging.Logger
}

// NewHandler creates a queue handler.
func NewHandler(svc *Service, stats *StatsRepository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, stats: stats, logger: logger}
}

// ListDay handles GET /queue?date=YYYY-MM-DD
func (h *Handler) ListDay(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}

	var day time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid date, use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}

	entries, err := h.svc.ListDay(r.Context(), orgID, day)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// AddRequest is the body for adding a patient to the queue.
type AddRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Date      string    `json:"date,omitempty"`
}

// Add handles POST /queue
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == uuid.Nil {
		http.Error(w, "patient_id is required", http.StatusBadRequest)
		return
	}

	var date time.Time
	if req.Date != "" {
		parsed, err := ParseDate(req.Date)
		if err != nil {
			http.Error(w, "invalid date, use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed
	}

	entry, err := h.svc.AddToQueue(r.Context(), orgID, req.PatientID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// StartRequest optionally names the doctor taking the visit.
type StartRequest struct {
	DoctorID *uuid.UUID `json:"doctor_id,omitempty"`
}

// Start handles POST /queue/{queueID}/start
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(orgID string, queueID uuid.UUID) (*Entry, error) {
		var req StartRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, errBadBody
			}
		}
		return h.svc.Start(r.Context(), orgID, queueID, req.DoctorID)
	})
}

// Complete handles POST /queue/{queueID}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(orgID string, queueID uuid.UUID) (*Entry, error) {
		return h.svc.Complete(r.Context(), orgID, queueID)
	})
}

// Skip handles POST /queue/{queueID}/skip
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(orgID string, queueID uuid.UUID) (*Entry, error) {
		return h.svc.Skip(r.Context(), orgID, queueID)
	})
}

// Cancel handles POST /queue/{queueID}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(orgID string, queueID uuid.UUID) (*Entry, error) {
		return h.svc.Cancel(r.Context(), orgID, queueID)
	})
}

// PrioritizeRequest sets the emergency tier.
type PrioritizeRequest struct {
	Priority int `json:"priority"`
}

// Prioritize handles POST /queue/{queueID}/prioritize
func (h *Handler) Prioritize(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(orgID string, queueID uuid.UUID) (*Entry, error) {
		var req PrioritizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, errBadBody
		}
		if req.Priority < 0 {
			return nil, errBadBody
		}
		return h.svc.PrioritizeEmergency(r.Context(), orgID, queueID, req.Priority)
	})
}

// SendToEmergency handles POST /queue/{queueID}/emergency
func (h *Handler) SendToEmergency(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(orgID string, queueID uuid.UUID) (*Entry, error) {
		return h.svc.SendToEmergency(r.Context(), orgID, queueID)
	})
}

// AssignRequest names the doctor to bind.
type AssignRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

// AssignDoctor handles POST /queue/{queueID}/doctor
func (h *Handler) AssignDoctor(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(orgID string, queueID uuid.UUID) (*Entry, error) {
		var req AssignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DoctorID == uuid.Nil {
			return nil, errBadBody
		}
		return h.svc.AssignDoctor(r.Context(), orgID, queueID, req.DoctorID)
	})
}

// GetStats handles GET /admin/clinics/{orgID}/queue/stats?from=&to=
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	from := DateOf(now)
	to := from
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid from date, use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := ParseDate(raw)
		if err != nil {
			http.Error(w, "invalid to date, use YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		to = parsed
	}
	if to.Before(from) {
		http.Error(w, "to must not precede from", http.StatusBadRequest)
		return
	}

	stats, err := h.stats.GetStats(r.Context(), orgID, from, to)
	if err != nil {
		h.logger.Error("failed to get queue stats", "org_id", orgID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

var errBadBody = errors.New("invalid request body")

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, apply func(orgID string, queueID uuid.UUID) (*Entry, error)) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}
	queueID, err := uuid.Parse(chi.URLParam(r, "queueID"))
	if err != nil {
		http.Error(w, "invalid queue id", http.StatusBadRequest)
		return
	}

	entry, err := apply(orgID, queueID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// errorResponse is the uniform rejection body: a specific error kind
// plus the entry's observed state when a transition was refused.
type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CurrentStatus string `json:"current_status,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBadBody) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp := errorResponse{Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrDuplicateEntry):
		status, resp.Error = http.StatusConflict, "duplicate_entry"
	case errors.Is(err, ErrCapacityExceeded):
		status, resp.Error = http.StatusUnprocessableEntity, "capacity_exceeded"
	case errors.Is(err, ErrInvalidDate):
		status, resp.Error = http.StatusUnprocessableEntity, "invalid_date"
	case errors.Is(err, ErrDoctorNotEligible):
		status, resp.Error = http.StatusUnprocessableEntity, "doctor_not_eligible"
	case errors.Is(err, ErrDoctorNotOnDuty):
		status, resp.Error = http.StatusUnprocessableEntity, "doctor_not_on_duty"
	default:
		if ite, ok := IsInvalidTransition(err); ok {
			status, resp.Error = http.StatusConflict, "invalid_transition"
			resp.CurrentStatus = string(ite.Current)
		} else {
			h.logger.Error("queue operation failed", "error", err)
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
