package middleware

import (
	"net"
	"net/http"
	"strconv"

	"llm_chat/internal/apperr"
	"llm_chat/internal/ratelimit"
	"llm_chat/internal/utils"
)

var rlLogger = utils.NewLogger("ratelimit")

// RateLimit limits requests per authenticated user, or per client address
// for anonymous requests. Limiter failures let the request through.
func RateLimit(limiter ratelimit.Limiter, surface apperr.Surface) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetUserID(r.Context())
			if key == "" {
				key = clientIP(r)
			}

			decision, err := limiter.Allow(r.Context(), key)
			if err != nil {
				rlLogger.Error("Rate limit check failed", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			}

			if !decision.Allowed {
				rlLogger.Warn("Rate limit exceeded", "key", key, "surface", surface)
				apperr.Write(w, apperr.New(apperr.RateLimit, surface), surface)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
