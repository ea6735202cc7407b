// Package auth verifies caller identity from bearer JWTs.
//
// Authentication is the primary gate and FAILS CLOSED: a missing, invalid,
// or expired token rejects the request with 401. This is deliberately the
// opposite of the admission controller, which fails open on store trouble.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/nhalm/infergate/internal/api"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the verified caller.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Admin   bool
}

// Claims are the JWT claims issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// Verifier validates bearer tokens and resolves admin status.
type Verifier struct {
	secret        []byte
	adminSubjects map[string]struct{}
}

// NewVerifier creates a Verifier. adminSubjects is a configured allow-list
// of subject ids granted admin in addition to any admin claim in the token.
func NewVerifier(secret string, adminSubjects []string) *Verifier {
	admins := make(map[string]struct{}, len(adminSubjects))
	for _, sub := range adminSubjects {
		if sub = strings.TrimSpace(sub); sub != "" {
			admins[sub] = struct{}{}
		}
	}
	return &Verifier{
		secret:        []byte(secret),
		adminSubjects: admins,
	}
}

// Verify parses and validates a raw token, returning the caller identity.
func (v *Verifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, errors.New("invalid token claims")
	}

	_, allowListed := v.adminSubjects[claims.Subject]
	return Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Admin:   claims.Admin || allowListed,
	}, nil
}

// Middleware returns middleware that authenticates every request.
// Returns 401 when the bearer token is missing or invalid.
func (v *Verifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				reject(w, r, "Missing authorization header")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				reject(w, r, "Invalid authorization format")
				return
			}

			token := strings.TrimPrefix(header, prefix)
			if token == "" {
				reject(w, r, "Empty bearer token")
				return
			}

			identity, err := v.Verify(token)
			if err != nil {
				reject(w, r, "Invalid bearer token")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns middleware that rejects non-admin callers with 403.
// Must run after Middleware.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok || !identity.Admin {
				if api.HasState(r.Context()) {
					api.SetError(r, api.ErrForbidden.With("Admin access required"))
				} else {
					http.Error(w, "Admin access required", http.StatusForbidden)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext retrieves the verified identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Subject returns the caller's stable subject id, or "" when the request
// is unauthenticated. Used as the admission-control identity.
func Subject(r *http.Request) string {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		return ""
	}
	return identity.Subject
}

func reject(w http.ResponseWriter, r *http.Request, message string) {
	if api.HasState(r.Context()) {
		api.SetError(r, api.ErrUnauthorized.With(message))
		return
	}
	http.Error(w, message, http.StatusUnauthorized)
}
