// Package auth implements the OIDC login flow and session middleware. The
// identity provider supplies the stable user identifier (email) consumed by
// every authenticated operation.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/example/bellgate/internal/config"
	httperrors "github.com/example/bellgate/internal/http/errors"
)

const stateCookieName = "bellgate_oauth_state"

// Service encapsulates the OIDC authorization-code flow.
type Service struct {
	cfg      *config.Config
	sessions *SessionManager
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
}

// NewService discovers the OIDC provider and prepares the OAuth2 config.
func NewService(ctx context.Context, cfg *config.Config, sessions *SessionManager) (*Service, error) {
	provider, err := oidc.NewProvider(ctx, cfg.OAuth.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}

	return &Service{
		cfg:      cfg,
		sessions: sessions,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OAuth.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.BaseURL + cfg.OAuth.RedirectPath,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}, nil
}

// BeginOAuth starts the authorization-code flow with a state nonce.
func (s *Service) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		httperrors.Internal(w, r, err, "failed to generate oauth state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

// HandleOAuthCallback completes the flow: validates state, exchanges the
// code, verifies the ID token, and starts a session keyed by the email claim.
func (s *Service) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		httperrors.BadRequest(w, r, fmt.Errorf("state mismatch"), "invalid oauth state")
		return
	}

	token, err := s.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		httperrors.Internal(w, r, err, "oauth code exchange failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		httperrors.Internal(w, r, fmt.Errorf("no id_token in token response"), "oauth response missing id token")
		return
	}

	idToken, err := s.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		httperrors.Internal(w, r, err, "id token verification failed")
		return
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil || claims.Email == "" {
		httperrors.Internal(w, r, err, "id token missing email claim")
		return
	}

	if err := s.sessions.Issue(w, claims.Email); err != nil {
		httperrors.Internal(w, r, err, "failed to issue session")
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout clears the session cookie.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// RequireUser rejects requests without a valid session before any body
// parsing happens, and attaches the user identifier to the context.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.sessions.CurrentUser(r)
		if !ok {
			httperrors.Unauthorized(w, r, "Please login to access this feature")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func randomState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
