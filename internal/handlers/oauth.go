package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/peerhub/apiserver/config"
	"github.com/peerhub/apiserver/internal/services"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	stateCookieName = "oauth_state"
	stateTTL        = 10 * time.Minute
)

// profileFetcher exchanges an authorization code for the provider's profile.
// Injected so tests can bypass the network round-trip.
type profileFetcher func(ctx context.Context, code string) (services.ExternalProfile, error)

// OAuthHandler implements the Google login flow: redirect out with a state
// cookie, then reconcile the returned profile into a local account and hand
// off to the shared token issuance.
type OAuthHandler struct {
	userService *services.UserService
	auth        *AuthHandler
	oauth       *oauth2.Config
	fetch       profileFetcher
	log         *slog.Logger
}

// NewOAuthHandler constructs the Google OAuth handler.
func NewOAuthHandler(userService *services.UserService, auth *AuthHandler, cfg config.GoogleOAuthConfig, log *slog.Logger) *OAuthHandler {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}

	h := &OAuthHandler{
		userService: userService,
		auth:        auth,
		oauth:       oauthCfg,
		log:         log,
	}
	h.fetch = h.fetchGoogleProfile
	return h
}

// OAuthRouter registers the Google login routes on the given router.
func OAuthRouter(r chi.Router, handler *OAuthHandler) {
	r.Get("/google", handler.GoogleLogin)
	r.Get("/google/callback", handler.GoogleCallback)
}

// GoogleLogin redirects the client to the provider's consent screen.
func (h *OAuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// GoogleCallback exchanges the authorization code, reconciles the external
// profile into a local account, and returns a session token.
func (h *OAuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, "provider returned an error")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != state {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}

	// Clear the one-shot state cookie.
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	profile, err := h.fetch(r.Context(), code)
	if err != nil {
		h.log.Error("fetch provider profile", "err", err)
		writeError(w, http.StatusBadRequest, "failed to fetch provider profile")
		return
	}

	user, err := h.userService.Reconcile(r.Context(), profile)
	if err != nil {
		writeAppError(w, h.log, err)
		return
	}

	token, err := h.auth.IssueToken(user.ID, user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func (h *OAuthHandler) fetchGoogleProfile(ctx context.Context, code string) (services.ExternalProfile, error) {
	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		return services.ExternalProfile{}, err
	}

	svc, err := googleoauth.NewService(ctx, option.WithTokenSource(h.oauth.TokenSource(ctx, token)))
	if err != nil {
		return services.ExternalProfile{}, err
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return services.ExternalProfile{}, err
	}

	verified := info.VerifiedEmail != nil && *info.VerifiedEmail
	return services.ExternalProfile{
		Email:         info.Email,
		EmailVerified: verified,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
		Picture:       info.Picture,
	}, nil
}

func newState() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
