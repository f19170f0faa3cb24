package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "datavault/pkg/domain"
)

// TokenVerifier verifies a bearer token and returns the owner it belongs to.
// The owner identity must always come from verified claims, never from the
// request body, so ownership checks cannot be bypassed.
type TokenVerifier interface {
	VerifyToken(tokenString string) (id.OwnerID, error)
}

type ownerIDKey struct{}

// Auth enforces bearer-token authentication and places the verified owner ID
// into the request context.
func Auth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeAuthError(w, "missing bearer token")
				return
			}

			ownerID, err := verifier.VerifyToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized request",
					"request_id", GetRequestID(r.Context()),
					"path", r.URL.Path,
					"error", err,
				)
				writeAuthError(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey{}, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerID retrieves the authenticated owner ID from the context. A nil ID
// means the auth middleware did not run.
func GetOwnerID(ctx context.Context) id.OwnerID {
	if ownerID, ok := ctx.Value(ownerIDKey{}).(id.OwnerID); ok {
		return ownerID
	}
	return id.OwnerID{}
}

// WithOwnerID injects an owner ID into the context; used by tests and by the
// account handlers that establish identity themselves.
func WithOwnerID(ctx context.Context, ownerID id.OwnerID) context.Context {
	return context.WithValue(ctx, ownerIDKey{}, ownerID)
}

func writeAuthError(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + desc + `"}`))
}
