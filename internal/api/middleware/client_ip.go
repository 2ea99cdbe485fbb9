package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	apiContext "clientportal/internal/api/context"
)

// ExtractClientIP returns the peer address of r without its port.
func ExtractClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// extractForwardedIP prefers X-Forwarded-For, then X-Real-IP. Only safe
// behind a proxy that overwrites those headers.
func extractForwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return ExtractClientIP(r)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(apiContext.ClientIP).(string)
	return ip
}

// ClientIP stores the caller's address in the request context for rate
// limiting and audit logging.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ExtractClientIP(r)
			if trustProxy {
				ip = extractForwardedIP(r)
			}
			ctx := context.WithValue(r.Context(), apiContext.ClientIP, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
