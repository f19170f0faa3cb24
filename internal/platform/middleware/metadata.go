package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// RequestMeta carries the caller-facing provenance that audit entries record.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	// Device is a normalized "browser/os/platform" summary derived from the
	// raw user agent, suitable for audit details without storing entropy.
	Device string
}

type requestMetaKey struct{}

// Metadata extracts client IP and user agent once per request and stores them
// in the context so services can attach them to audit entries.
func Metadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := RequestMeta{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Device:    deviceSummary(r.UserAgent()),
		}
		ctx := context.WithValue(r.Context(), requestMetaKey{}, meta)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestMeta retrieves request metadata from the context.
func GetRequestMeta(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{}
}

// clientIP prefers the first X-Forwarded-For hop; RemoteAddr is the fallback.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func deviceSummary(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	browser = strings.ToLower(strings.TrimSpace(browser))
	if browser == "" {
		browser = "unknown"
	}

	os := strings.ToLower(strings.TrimSpace(ua.OS()))
	if os == "" {
		os = "unknown"
	}

	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	return browser + "/" + os + "/" + platform
}
