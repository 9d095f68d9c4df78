package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/txn2/config-store/pkg/auth"
)

type tokenEchoAuthenticator struct{}

func (tokenEchoAuthenticator) Authenticate(ctx context.Context) (*auth.Identity, error) {
	token := auth.TokenFrom(ctx)
	if token == "" {
		return nil, errors.New("no credentials")
	}
	return &auth.Identity{Subject: token, Method: "apikey"}, nil
}

func TestAuthentication(t *testing.T) {
	var identity *auth.Identity
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity = auth.IdentityFrom(r.Context())
	}), Authentication(tokenEchoAuthenticator{}))

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer secret-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if identity == nil || identity.Subject != "secret-1" {
			t.Errorf("identity = %v, want subject secret-1", identity)
		}
	})

	t.Run("api key header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "secret-2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if identity == nil || identity.Subject != "secret-2" {
			t.Errorf("identity = %v, want subject secret-2", identity)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Error("WWW-Authenticate header not set")
		}
	})
}

func TestAuthenticationAnonymous(t *testing.T) {
	chain := auth.NewChainedAuthenticator(auth.ChainedAuthConfig{AllowAnonymous: true})
	var identity *auth.Identity
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity = auth.IdentityFrom(r.Context())
	}), Authentication(chain))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if identity == nil || identity.Method != "anonymous" {
		t.Errorf("identity = %v, want anonymous", identity)
	}
}
