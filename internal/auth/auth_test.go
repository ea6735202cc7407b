package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/nhalm/infergate/internal/auth"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, claims auth.Claims) string {
	t.Helper()

	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerify(t *testing.T) {
	v := auth.NewVerifier(testSecret, []string{"admin-1"})

	t.Run("valid token", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
			Email:            "u1@example.com",
			Name:             "User One",
		})

		identity, err := v.Verify(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if identity.Subject != "u1" || identity.Email != "u1@example.com" {
			t.Errorf("unexpected identity: %+v", identity)
		}
		if identity.Admin {
			t.Error("expected non-admin")
		}
	})

	t.Run("admin claim", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u2"},
			Admin:            true,
		})

		identity, err := v.Verify(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !identity.Admin {
			t.Error("expected admin from claim")
		}
	})

	t.Run("admin allow-list", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1"},
		})

		identity, err := v.Verify(token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !identity.Admin {
			t.Error("expected admin from allow-list")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})

		if _, err := v.Verify(token); err == nil {
			t.Error("expected error for expired token")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := mintToken(t, "other-secret", auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
		})

		if _, err := v.Verify(token); err == nil {
			t.Error("expected error for wrong secret")
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{})

		if _, err := v.Verify(token); err == nil {
			t.Error("expected error for missing subject")
		}
	})
}

func TestMiddleware(t *testing.T) {
	v := auth.NewVerifier(testSecret, nil)

	var gotIdentity auth.Identity
	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = auth.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("authenticated", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
		})

		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if gotIdentity.Subject != "u1" {
			t.Errorf("expected identity in context, got %+v", gotIdentity)
		}
	})

	// Authentication fails closed, unlike the admission controller.
	rejections := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	v := auth.NewVerifier(testSecret, nil)

	handler := v.Middleware()(auth.RequireAdmin()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	t.Run("admin allowed", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
			Admin:            true,
		})
		req := httptest.NewRequest(http.MethodPost, "/test", http.NoBody)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("non-admin forbidden", func(t *testing.T) {
		token := mintToken(t, testSecret, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
		})
		req := httptest.NewRequest(http.MethodPost, "/test", http.NoBody)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}
