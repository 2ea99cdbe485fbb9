package middleware

import (
	"context"
	"net/http"

	apiContext "clientportal/internal/api/context"
	"clientportal/internal/pkg/errors"
	"clientportal/internal/platform/auth"
	"clientportal/internal/platform/models"
)

// SessionMiddleware admits requests that carry a valid session cookie.
type SessionMiddleware struct {
	sessions *auth.SessionService
	cookies  *auth.CookieStore
}

func NewSessionMiddleware(sessions *auth.SessionService, cookies *auth.CookieStore) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, cookies: cookies}
}

func (m *SessionMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential, ok := m.cookies.Retrieve(r)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Not authenticated", nil)
			return
		}

		session := m.sessions.Validate(credential)
		if session == nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Not authenticated", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Session, session)
		next(w, r.WithContext(ctx))
	}
}

func SessionFromContext(ctx context.Context) *models.PortalSession {
	session, _ := ctx.Value(apiContext.Session).(*models.PortalSession)
	return session
}
