package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"datavault/internal/audit"
	"datavault/internal/platform/middleware"
	"datavault/internal/transport/http/shared"
	respond "datavault/internal/transport/http/shared/json"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

// AuditService defines the audit trail operations the transport layer needs.
type AuditService interface {
	Query(ctx context.Context, ownerID id.OwnerID, filter audit.Filter, page, perPage int) (audit.Page, error)
	Aggregate(ctx context.Context, ownerID id.OwnerID) (audit.Stats, error)
	Export(ctx context.Context, ownerID id.OwnerID, format string) ([]byte, error)
}

// AuditHandler handles audit trail endpoints.
type AuditHandler struct {
	logger *slog.Logger
	trail  AuditService
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(trail AuditService, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		logger: logger,
		trail:  trail,
	}
}

// Register registers the audit routes.
func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/audit", h.handleQuery)
	r.Get("/audit/stats", h.handleStats)
	r.Get("/audit/export", h.handleExport)
	r.Get("/audit/actions", h.handleActions)
}

type entryResponse struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ipAddress"`
	UserAgent  string         `json:"userAgent"`
	Timestamp  time.Time      `json:"timestamp"`
}

type auditPageResponse struct {
	Entries    []entryResponse  `json:"logs"`
	Pagination audit.Pagination `json:"pagination"`
}

func (h *AuditHandler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	var filter audit.Filter
	if actionParam := query.Get("action"); actionParam != "" {
		action := audit.Action(actionParam)
		filter.Action = &action
	}
	from, err := parseTimeParam(query.Get("startDate"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid startDate"))
		return
	}
	filter.From = from
	to, err := parseTimeParam(query.Get("endDate"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid endDate"))
		return
	}
	filter.To = to

	page := parseIntParam(query.Get("page"), 1)
	perPage := parseIntParam(query.Get("limit"), 0)

	result, err := h.trail.Query(ctx, ownerID, filter, page, perPage)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to query audit trail",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	resp := auditPageResponse{
		Entries:    make([]entryResponse, 0, len(result.Entries)),
		Pagination: result.Pagination,
	}
	for _, entry := range result.Entries {
		resp.Entries = append(resp.Entries, formatEntry(entry))
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuditHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	stats, err := h.trail.Aggregate(ctx, ownerID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to aggregate audit trail",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, stats)
}

func (h *AuditHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = audit.FormatJSON
	}

	payload, err := h.trail.Export(ctx, ownerID, format)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to export audit trail",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	writeExport(w, format, "audit-export", payload)
}

func (h *AuditHandler) handleActions(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]any{"actions": audit.Actions})
}

func formatEntry(entry audit.Entry) entryResponse {
	return entryResponse{
		ID:         entry.ID.String(),
		Action:     string(entry.Action),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    entry.Details,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		Timestamp:  entry.Timestamp,
	}
}

func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Date-only form, common from UI date pickers.
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
