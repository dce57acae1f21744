package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/smartnotes/internal/auth"
	"github.com/dukerupert/smartnotes/internal/httpx"
	"github.com/dukerupert/smartnotes/internal/token"
)

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "smartnotes_session"

// TokenVerifier turns a raw session token into its claims.
type TokenVerifier interface {
	Verify(raw string) (token.Claims, error)
}

// SessionGate resolves the session cookie into an auth.Identity on the request
// context. Requests to protected paths without a valid session are rejected:
// API requests get 401 JSON, HTMX requests an HX-Redirect, and page requests a
// 303 to the login page carrying the original path. Unprotected paths always
// pass through, with the identity attached when the token is valid.
func SessionGate(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := resolveIdentity(verifier, r)
			if !ok {
				if IsProtected(r.URL.Path) {
					logger.Debug("unauthenticated request to protected path", "path", r.URL.Path)
					reject(w, r)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveIdentity(verifier TokenVerifier, r *http.Request) (auth.Identity, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return auth.Identity{}, false
	}
	claims, err := verifier.Verify(cookie.Value)
	if err != nil {
		return auth.Identity{}, false
	}
	return auth.Identity{UserID: claims.Subject, Email: claims.Email}, true
}

func reject(w http.ResponseWriter, r *http.Request) {
	switch {
	case IsAPI(r.URL.Path):
		httpx.Error(w, http.StatusUnauthorized, "unauthorized")
	case r.Header.Get("HX-Request") == "true":
		w.Header().Set("HX-Redirect", LoginURL(r))
		w.WriteHeader(http.StatusOK)
	default:
		http.Redirect(w, r, LoginURL(r), http.StatusSeeOther)
	}
}

// SetSessionCookie writes the session token cookie.
func SetSessionCookie(w http.ResponseWriter, value string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie deletes the session cookie on the client.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
