package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/davidleathers/transaction-audit-ledger/internal/domain/errors"
	"github.com/davidleathers/transaction-audit-ledger/internal/domain/ledger"
	ledgersvc "github.com/davidleathers/transaction-audit-ledger/internal/service/ledger"
)

// Handler exposes the ledger facade over HTTP
type Handler struct {
	service *ledgersvc.Service
	logger  *zap.Logger
}

// NewHandler creates the API handler set
func NewHandler(service *ledgersvc.Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes attaches all ledger routes to the mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/audit/events", h.handleLogEvent)
	mux.HandleFunc("GET /api/v1/audit/events", h.handleQueryEvents)
	mux.HandleFunc("POST /api/v1/audit/decisions", h.handleLogDecision)
	mux.HandleFunc("POST /api/v1/audit/decisions/{id}/review", h.handleReviewDecision)
	mux.HandleFunc("POST /api/v1/audit/compliance", h.handleLogCompliance)
	mux.HandleFunc("GET /api/v1/audit/verify", h.handleVerify)
	mux.HandleFunc("GET /api/v1/audit/reports/compliance", h.handleComplianceReport)
	mux.HandleFunc("POST /api/v1/audit/retention/cleanup", h.handleCleanup)
	mux.HandleFunc("GET /api/v1/audit/metrics", h.handleMetrics)
}

type idResponse struct {
	ID uuid.UUID `json:"id"`
}

func (h *Handler) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req ledgersvc.LogEventRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.service.LogEvent(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (h *Handler) handleLogDecision(w http.ResponseWriter, r *http.Request) {
	var req ledgersvc.LogDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.service.LogFraudDecision(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

type reviewRequest struct {
	ReviewedBy   string `json:"reviewed_by"`
	AppealStatus string `json:"appeal_status"`
}

func (h *Handler) handleReviewDecision(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, apperrors.NewValidationError("INVALID_ID",
			"decision id must be a UUID"))
		return
	}
	var req reviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.ReviewDecision(r.Context(), id, req.ReviewedBy, req.AppealStatus); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reviewed"})
}

func (h *Handler) handleLogCompliance(w http.ResponseWriter, r *http.Request) {
	var req ledgersvc.LogComplianceRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.service.LogComplianceEvent(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// eventResponse mirrors the domain event with details decoded for callers
// allowed to read them
type eventResponse struct {
	Event   *ledger.Event          `json:"event"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (h *Handler) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.service.QueryAuditEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	decrypt := r.URL.Query().Get("decrypt") == "true"
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		item := eventResponse{Event: e}
		if decrypt && e.Details != "" {
			details, derr := h.service.EventDetails(e)
			if derr != nil {
				h.logger.Warn("failed to decode event details",
					zap.String("event_id", e.ID.String()), zap.Error(derr))
			} else {
				item.Details = details
			}
		}
		out = append(out, item)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": out,
		"count":  len(out),
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.VerifyChainIntegrity(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		h.writeError(w, r, apperrors.NewValidationError("INVALID_WINDOW",
			"start must be RFC3339"))
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		h.writeError(w, r, apperrors.NewValidationError("INVALID_WINDOW",
			"end must be RFC3339"))
		return
	}

	summary, err := h.service.GenerateComplianceReport(r.Context(), start, end, q.Get("type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CleanupOldEvents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.GetMetrics())
}

// HandleHealth serves the liveness/readiness probe. Registered outside the
// versioned API so load balancers can reach it unauthenticated.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.service.GetHealth(r.Context())
	status := http.StatusOK
	if report.Status == ledgersvc.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, report)
}

func parseEventFilter(r *http.Request) (ledger.EventFilter, error) {
	q := r.URL.Query()
	filter := ledger.EventFilter{
		ActorType: q.Get("actor_type"),
		ActorID:   q.Get("actor_id"),
	}

	if types := q.Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, ledger.EventType(strings.TrimSpace(t)))
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, apperrors.NewValidationError("INVALID_FILTER",
				"since must be RFC3339")
		}
		filter.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return filter, apperrors.NewValidationError("INVALID_FILTER",
				"until must be RFC3339")
		}
		filter.Until = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, apperrors.NewValidationError("INVALID_FILTER",
				"limit must be a non-negative integer")
		}
		filter.Limit = n
	}

	return filter, nil
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, apperrors.NewValidationError("INVALID_BODY",
			"request body is not valid JSON").WithCause(err))
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.GetStatusCode(err)
	resp := errorResponse{
		Error:     err.Error(),
		RequestID: RequestID(r.Context()),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Code = appErr.Code
	}
	if status >= 500 {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	}
	h.writeJSON(w, status, resp)
}
