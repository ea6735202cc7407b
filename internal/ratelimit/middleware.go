package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nhalm/infergate/internal/api"
)

// IdentityFunc extracts the caller identity from an HTTP request.
// Returning an empty string skips admission for that request.
type IdentityFunc func(*http.Request) string

// Middleware returns chi middleware that admission-checks every request
// under the given operation name.
//
// Sets the following headers on all responses:
//   - RateLimit-Limit: The quota ceiling for the current window
//   - RateLimit-Remaining: Requests remaining in the current window
//   - RateLimit-Reset: Unix timestamp when the current window resets
//   - Retry-After: (only when limited) Seconds until the window resets
//
// These follow the IETF draft-ietf-httpapi-ratelimit-headers specification.
// Denials carry machine-readable limit/remaining/reset_at fields in the
// structured error body.
func (l *Limiter) Middleware(operation string, identityFn IdentityFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := identityFn(r)
			if identity == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			res := l.Check(ctx, identity, operation)
			useState := api.HasState(ctx)

			setHeader := func(key, value string) {
				if useState {
					api.SetHeader(r, key, value)
				} else {
					w.Header().Set(key, value)
				}
			}

			setHeader("RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
			setHeader("RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			setHeader("RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retryAfter := max(1, int64(time.Until(res.ResetAt).Seconds()))
				setHeader("Retry-After", strconv.FormatInt(retryAfter, 10))

				denial := api.ErrRateLimited.
					With("Rate limit exceeded. Retry in " + strconv.FormatInt(retryAfter, 10) + " seconds.").
					WithDetails(map[string]any{
						"limit":     res.Limit,
						"remaining": 0,
						"reset_at":  res.ResetAt.Unix(),
					})
				if useState {
					api.SetError(r, denial)
				} else {
					http.Error(w, denial.Message, http.StatusTooManyRequests)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
