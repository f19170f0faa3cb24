package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"datavault/internal/account"
	"datavault/internal/audit"
	"datavault/internal/platform/middleware"
	"datavault/internal/transport/http/shared"
	respond "datavault/internal/transport/http/shared/json"
	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

// AccountService defines the account operations the transport layer needs.
type AccountService interface {
	Register(ctx context.Context, input account.RegisterInput, meta audit.Meta) (*account.Owner, string, error)
	Login(ctx context.Context, email, password string, meta audit.Meta) (*account.Owner, string, error)
	Logout(ctx context.Context, ownerID id.OwnerID, meta audit.Meta) error
	Profile(ctx context.Context, ownerID id.OwnerID) (*account.Owner, error)
}

// AuthHandler handles account endpoints. Register and login are public;
// profile and logout sit behind the auth middleware.
type AuthHandler struct {
	logger   *slog.Logger
	accounts AccountService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(accounts AccountService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		accounts: accounts,
	}
}

// RegisterPublic registers the unauthenticated account routes.
func (h *AuthHandler) RegisterPublic(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
}

// RegisterProtected registers the routes that require a verified token.
func (h *AuthHandler) RegisterProtected(r chi.Router) {
	r.Get("/auth/me", h.handleProfile)
	r.Post("/auth/logout", h.handleLogout)
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ownerResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type authResponse struct {
	Token string        `json:"token"`
	Owner ownerResponse `json:"user"`
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode register request",
			"request_id", requestID,
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	owner, token, err := h.accounts.Register(ctx, account.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, requestMeta(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "registration failed",
			"request_id", requestID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusCreated, authResponse{
		Token: token,
		Owner: formatOwner(owner),
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "failed to decode login request",
			"request_id", requestID,
			"error", err,
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	owner, token, err := h.accounts.Login(ctx, req.Email, req.Password, requestMeta(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"request_id", requestID,
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, authResponse{
		Token: token,
		Owner: formatOwner(owner),
	})
}

func (h *AuthHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	owner, err := h.accounts.Profile(ctx, ownerID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load profile",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]ownerResponse{"user": formatOwner(owner)})
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := ownerFromContext(ctx, h.logger, w)
	if !ok {
		return
	}

	if err := h.accounts.Logout(ctx, ownerID, requestMeta(ctx)); err != nil {
		h.logger.ErrorContext(ctx, "logout failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		shared.WriteError(w, err)
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func formatOwner(owner *account.Owner) ownerResponse {
	return ownerResponse{
		ID:        owner.ID.String(),
		Email:     owner.Email,
		Name:      owner.Name,
		CreatedAt: owner.CreatedAt,
	}
}

// ownerFromContext extracts the authenticated owner id, writing an internal
// error if the auth middleware did not populate it.
func ownerFromContext(ctx context.Context, logger *slog.Logger, w http.ResponseWriter) (id.OwnerID, bool) {
	ownerID := middleware.GetOwnerID(ctx)
	if ownerID.IsNil() {
		logger.ErrorContext(ctx, "owner id missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return ownerID, false
	}
	return ownerID, true
}

// requestMeta projects middleware request metadata into audit metadata.
func requestMeta(ctx context.Context) audit.Meta {
	m := middleware.GetRequestMeta(ctx)
	return audit.Meta{
		IPAddress: m.IPAddress,
		UserAgent: m.UserAgent,
		Device:    m.Device,
	}
}
