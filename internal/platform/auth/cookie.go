package auth

import (
	"net/http"
	"time"

	"clientportal/internal/platform/config"
)

const DefaultCookieName = "portal_session"

// CookieStore carries the session credential in an HttpOnly cookie.
type CookieStore struct {
	name   string
	secure bool
	maxAge time.Duration
}

func NewCookieStore(cfg config.SessionConfig) *CookieStore {
	name := cfg.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	maxAge := cfg.TTL
	if maxAge <= 0 {
		maxAge = DefaultSessionTTL
	}
	return &CookieStore{name: name, secure: cfg.SecureCookie, maxAge: maxAge}
}

func (c *CookieStore) Persist(w http.ResponseWriter, credential string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    credential,
		Path:     "/",
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Retrieve returns the credential presented with r, if any.
func (c *CookieStore) Retrieve(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Clear expires the cookie on the client. Clearing an absent cookie is fine.
func (c *CookieStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
