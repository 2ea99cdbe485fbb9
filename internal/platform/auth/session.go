package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clientportal/internal/platform/config"
	"clientportal/internal/platform/models"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	issuer            = "clientportal"
)

// SessionClaims is the signed body of a portal session credential.
type SessionClaims struct {
	IdentityID   string `json:"identityId"`
	OrgID        string `json:"orgId"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	OrgName      string `json:"orgName"`
	TaskFolderID string `json:"taskFolderId"`
	TaskListID   string `json:"taskListId"`
	jwt.RegisteredClaims
}

// SessionService mints and validates HS256 session credentials.
type SessionService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionService(cfg config.SessionConfig) *SessionService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for issuing and validating.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

func (s *SessionService) Mint(session models.PortalSession) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("session secret is not configured")
	}

	now := s.now()
	claims := SessionClaims{
		IdentityID:   session.IdentityID,
		OrgID:        session.OrgID,
		Email:        session.Email,
		FirstName:    session.FirstName,
		LastName:     session.LastName,
		OrgName:      session.OrgName,
		TaskFolderID: session.TaskFolderID,
		TaskListID:   session.TaskListID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.IdentityID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate returns the session carried by token, or nil when the credential
// is malformed, forged, expired or incomplete.
func (s *SessionService) Validate(tokenString string) *models.PortalSession {
	if tokenString == "" || len(s.secret) == 0 {
		return nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil
	}
	if claims.IdentityID == "" || claims.OrgID == "" || claims.Email == "" {
		return nil
	}

	return &models.PortalSession{
		IdentityID:   claims.IdentityID,
		OrgID:        claims.OrgID,
		Email:        claims.Email,
		FirstName:    claims.FirstName,
		LastName:     claims.LastName,
		OrgName:      claims.OrgName,
		TaskFolderID: claims.TaskFolderID,
		TaskListID:   claims.TaskListID,
	}
}
