package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"datavault/internal/audit"
	"datavault/internal/consent"
	"datavault/internal/platform/middleware"
	"datavault/internal/transport/http/shared"
	respond "datavault/internal/transport/http/shared/json"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

// ConsentService defines the consent ledger operations the transport layer needs.
type ConsentService interface {
	Create(ctx context.Context, ownerID id.OwnerID, input consent.CreateInput, meta audit.Meta) (*consent.Record, error)
	Grant(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID, meta audit.Meta) (*consent.Record, error)
	Withdraw(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID, meta audit.Meta) (*consent.Record, error)
	WithdrawAll(ctx context.Context, ownerID id.OwnerID, meta audit.Meta) (int, error)
	Get(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID) (*consent.Record, error)
	List(ctx context.Context, ownerID id.OwnerID, filter consent.Filter) ([]*consent.Record, error)
	Stats(ctx context.Context, ownerID id.OwnerID) (consent.Stats, error)
}

// ConsentHandler handles consent ledger endpoints.
type ConsentHandler struct {
	logger   *slog.Logger
	consents ConsentService
}

// NewConsentHandler creates a new ConsentHandler.
func NewConsentHandler(consents ConsentService, logger *slog.Logger) *ConsentHandler {
	return &ConsentHandler{
		logger:   logger,
		consents: consents,
	}
}

// Register registers the consent routes.
func (h *ConsentHandler) Register(r chi.Router) {
	r.Post("/consent", h.handleCreate)
	r.Get("/consent", h.handleList)
	r.Get("/consent/stats", h.handleStats)
	r.Post("/consent/withdraw-all/confirm", h.handleWithdrawAll)
	r.Get("/consent/{id}", h.handleGet)
	r.Post("/consent/{id}/grant", h.handleGrant)
	r.Post("/consent/{id}/withdraw", h.handleWithdraw)
}

type createConsentRequest struct {
	DataItemID *string    `json:"dataItemId"`
	Purpose    string     `json:"purpose"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

type consentResponse struct {
	ID          string     `json:"id"`
	DataItemID  *string    `json:"dataItemId"`
	Purpose     string     `json:"purpose"`
	Status      string     `json:"status"`
	GrantedAt   *time.Time `json:"grantedAt"`
	WithdrawnAt *time.Time `json:"withdrawnAt"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (h *ConsentHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	var req createConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode create consent request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	input := consent.CreateInput{
		Purpose:   req.Purpose,
		Status:    consent.Status(req.Status),
		ExpiresAt: req.ExpiresAt,
	}
	if req.DataItemID != nil {
		itemID, err := id.ParseItemID(*req.DataItemID)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid data item id"))
			return
		}
		input.DataItemID = &itemID
	}

	record, err := h.consents.Create(ctx, ownerID, input, requestMeta(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create consent",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusCreated, formatConsent(record, time.Now()))
}

func (h *ConsentHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	var filter consent.Filter
	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		status := consent.Status(statusParam)
		if !status.IsValid() {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid status filter"))
			return
		}
		filter.Status = &status
	}

	records, err := h.consents.List(ctx, ownerID, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list consents",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	now := time.Now()
	resp := make([]consentResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, formatConsent(record, now))
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"consents": resp})
}

func (h *ConsentHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	stats, err := h.consents.Stats(ctx, ownerID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to compute consent stats",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, stats)
}

func (h *ConsentHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	consentID, err := id.ParseConsentID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
		return
	}

	record, err := h.consents.Get(ctx, ownerID, consentID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to get consent",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, formatConsent(record, time.Now()))
}

func (h *ConsentHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.consents.Grant)
}

func (h *ConsentHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.consents.Withdraw)
}

func (h *ConsentHandler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, ownerID id.OwnerID, consentID id.ConsentID, meta audit.Meta) (*consent.Record, error),
) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	consentID, err := id.ParseConsentID(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid consent id"))
		return
	}

	record, err := op(ctx, ownerID, consentID, requestMeta(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "consent transition failed",
			"request_id", middleware.GetRequestID(ctx),
			"consent_id", consentID.String(),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, formatConsent(record, time.Now()))
}

func (h *ConsentHandler) handleWithdrawAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	count, err := h.consents.WithdrawAll(ctx, ownerID, requestMeta(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to withdraw all consents",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Withdrew %d consent%s", count, pluralSuffix(count)),
		"count":   count,
	})
}

// formatConsent reports the effective status so expired grants read as EXPIRED
// even though the stored status lags.
func formatConsent(record *consent.Record, now time.Time) consentResponse {
	resp := consentResponse{
		ID:          record.ID.String(),
		Purpose:     record.Purpose,
		Status:      string(record.EffectiveStatus(now)),
		GrantedAt:   record.GrantedAt,
		WithdrawnAt: record.WithdrawnAt,
		ExpiresAt:   record.ExpiresAt,
		CreatedAt:   record.CreatedAt,
	}
	if record.DataItemID != nil {
		itemID := record.DataItemID.String()
		resp.DataItemID = &itemID
	}
	return resp
}
