package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware authenticates HTTP requests from a bearer token or API key and
// stores the identity in the request context. Requests without credentials
// pass through unauthenticated unless the service requires auth.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if token := extractBearer(r); token != "" {
				identity, err := service.ValidateJWT(token)
				if err != nil && len(service.apiKeys) > 0 {
					// Some clients send API keys as bearer tokens.
					identity, err = service.ValidateAPIKey(token)
				}
				if err != nil {
					logger.Warn("bearer validation failed", "error", err)
					unauthorized(w, "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			if apiKey := extractAPIKey(r); apiKey != "" {
				identity, err := service.ValidateAPIKey(apiKey)
				if err != nil {
					logger.Warn("api key validation failed", "error", err)
					unauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}

			if service.Required() {
				unauthorized(w, "missing credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="conduit"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"` + msg + `"}}`))
}

func extractBearer(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	for _, key := range []string{"X-API-Key", "API-Key"} {
		if v := strings.TrimSpace(r.Header.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
