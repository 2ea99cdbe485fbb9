package magiclink

import (
	"context"
	"net/url"
	"strings"

	"clientportal/internal/platform/models"
)

// TokenStore persists single-use login tokens.
type TokenStore interface {
	Create(ctx context.Context, email, identityID, orgID string) (*models.MagicLinkToken, error)
	FindByToken(ctx context.Context, token string) (*models.MagicLinkToken, error)
	MarkUsed(ctx context.Context, record *models.MagicLinkToken) error
}

// Issuer creates tokens and the links that carry them. Delivering the link
// is the caller's job.
type Issuer struct {
	store   TokenStore
	baseURL string
}

func NewIssuer(store TokenStore, portalBaseURL string) *Issuer {
	return &Issuer{
		store:   store,
		baseURL: strings.TrimRight(portalBaseURL, "/"),
	}
}

func (i *Issuer) Issue(ctx context.Context, email, identityID, orgID string) (*models.MagicLinkToken, error) {
	return i.store.Create(ctx, email, identityID, orgID)
}

func (i *Issuer) BuildVerificationURL(token string) string {
	return i.baseURL + "/verify?token=" + url.QueryEscape(token)
}
