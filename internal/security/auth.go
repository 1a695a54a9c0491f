package security

import (
	"net"
	"net/http"
)

// RequireBearer builds middleware enforcing a shared bearer token on every
// request. An empty token disables the check entirely, matching the
// original's "auth_token unset means open" behavior. Every decision is
// recorded through audit.
func RequireBearer(token string, audit *AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)
			action := r.Method + " " + r.URL.Path

			got := bearerFrom(r.Header.Get("Authorization"))
			if got != token {
				audit.Log(sourceIP, r.UserAgent(), action, http.StatusForbidden, "invalid or missing bearer token")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			audit.Log(sourceIP, r.UserAgent(), action, http.StatusOK, "authorized")
			next.ServeHTTP(w, r)
		})
	}
}

func bearerFrom(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
