package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/peerhub/apiserver/config"
	"github.com/peerhub/apiserver/internal/services"
)

func newOAuthEnv(t *testing.T, fetch profileFetcher) (*testEnv, *chi.Mux) {
	t.Helper()

	env := newTestEnv(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewOAuthHandler(env.svc, env.auth, config.GoogleOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost/auth/google/callback",
	}, log)
	if fetch != nil {
		handler.fetch = fetch
	}

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		OAuthRouter(r, handler)
	})
	return env, router
}

func TestGoogleLoginRedirect(t *testing.T) {
	_, router := newOAuthEnv(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/google", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("redirect is missing the state parameter")
	}

	cookie := stateCookie(t, rec.Result().Cookies())
	if cookie.Value != state {
		t.Fatalf("cookie state %q does not match redirect state %q", cookie.Value, state)
	}
	if !cookie.HttpOnly {
		t.Fatal("state cookie should be http-only")
	}
}

func TestGoogleCallback(t *testing.T) {
	env, router := newOAuthEnv(t, func(ctx context.Context, code string) (services.ExternalProfile, error) {
		if code != "auth-code" {
			t.Fatalf("code = %q, want auth-code", code)
		}
		return services.ExternalProfile{
			Email:         "jane.doe@gmail.com",
			EmailVerified: true,
			GivenName:     "Jane",
			FamilyName:    "Doe",
		}, nil
	})

	rec := doCallback(t, router, "auth-code", "state-1", "state-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp TokenResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatal("callback returned an empty token")
	}

	user, err := env.repo.GetByEmail(t.Context(), "jane.doe@gmail.com")
	if err != nil {
		t.Fatalf("account was not created: %v", err)
	}
	if user.Username != "jane.doe" {
		t.Fatalf("username = %q, want jane.doe", user.Username)
	}
}

func TestGoogleCallbackRejectsUnverifiedEmail(t *testing.T) {
	_, router := newOAuthEnv(t, func(ctx context.Context, code string) (services.ExternalProfile, error) {
		return services.ExternalProfile{Email: "jane.doe@gmail.com"}, nil
	})

	rec := doCallback(t, router, "auth-code", "state-1", "state-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGoogleCallbackStateMismatch(t *testing.T) {
	_, router := newOAuthEnv(t, func(ctx context.Context, code string) (services.ExternalProfile, error) {
		t.Fatal("profile should not be fetched on state mismatch")
		return services.ExternalProfile{}, nil
	})

	rec := doCallback(t, router, "auth-code", "state-1", "state-2")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGoogleCallbackMissingParams(t *testing.T) {
	_, router := newOAuthEnv(t, nil)

	for _, target := range []string{
		"/auth/google/callback",
		"/auth/google/callback?code=auth-code",
		"/auth/google/callback?state=state-1",
		"/auth/google/callback?error=access_denied",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestGoogleCallbackFetchFailure(t *testing.T) {
	_, router := newOAuthEnv(t, func(ctx context.Context, code string) (services.ExternalProfile, error) {
		return services.ExternalProfile{}, errors.New("exchange failed")
	})

	rec := doCallback(t, router, "auth-code", "state-1", "state-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func doCallback(t *testing.T, router http.Handler, code, queryState, cookieState string) *httptest.ResponseRecorder {
	t.Helper()

	target := "/auth/google/callback?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(queryState)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: cookieState})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func stateCookie(t *testing.T, cookies []*http.Cookie) *http.Cookie {
	t.Helper()
	for _, c := range cookies {
		if c.Name == stateCookieName {
			return c
		}
	}
	t.Fatal("state cookie was not set")
	return nil
}
