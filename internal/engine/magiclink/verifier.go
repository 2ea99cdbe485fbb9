package magiclink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clientportal/internal/platform/repositories"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenAlreadyUsed = errors.New("token already used")
	ErrTokenExpired     = errors.New("token expired")
)

// Verified is the identity reference bound to a consumed token.
type Verified struct {
	Email      string
	IdentityID string
	OrgID      string
}

type Verifier struct {
	store TokenStore
	now   func() time.Time
}

func NewVerifier(store TokenStore) *Verifier {
	return &Verifier{store: store, now: time.Now}
}

func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify consumes token. Checks run lookup, used, expired, in that order, so
// a replayed link reports reuse even once it has also expired. The record is
// only written on success.
func (v *Verifier) Verify(ctx context.Context, token string) (*Verified, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	record, err := v.store.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if record == nil {
		return nil, ErrInvalidToken
	}
	if record.Used {
		return nil, ErrTokenAlreadyUsed
	}
	if !v.now().Before(record.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	if err := v.store.MarkUsed(ctx, record); err != nil {
		if errors.Is(err, repositories.ErrTokenAlreadyUsed) {
			return nil, ErrTokenAlreadyUsed
		}
		return nil, fmt.Errorf("mark token used: %w", err)
	}

	return &Verified{
		Email:      record.Email,
		IdentityID: record.IdentityID,
		OrgID:      record.OrgID,
	}, nil
}

// IsTokenFailure reports whether err is one of the token failures that are
// safe to show the caller verbatim.
func IsTokenFailure(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenAlreadyUsed) || errors.Is(err, ErrTokenExpired)
}
