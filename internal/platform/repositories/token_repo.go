package repositories

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"clientportal/internal/platform/models"
)

const (
	DefaultTokenTTL = 15 * time.Minute
	tokenBytes      = 32
)

var (
	// ErrStorage wraps any failure of the underlying database.
	ErrStorage = errors.New("token storage error")
	// ErrTokenAlreadyUsed is returned by MarkUsed when the record was
	// consumed by another request first.
	ErrTokenAlreadyUsed = errors.New("token already used")
)

type TokenRepository struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewTokenRepository(db *sql.DB, ttl time.Duration) *TokenRepository {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenRepository{db: db, ttl: ttl, now: time.Now}
}

// WithClock replaces the repository clock. Intended for tests.
func (r *TokenRepository) WithClock(now func() time.Time) *TokenRepository {
	r.now = now
	return r
}

// Create persists a fresh, unused token bound to the given identity and org.
func (r *TokenRepository) Create(ctx context.Context, email, identityID, orgID string) (*models.MagicLinkToken, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	now := r.now().UTC().Truncate(time.Second)
	record := &models.MagicLinkToken{
		ID:         "mlt_" + uuid.NewString(),
		Token:      token,
		Email:      email,
		IdentityID: identityID,
		OrgID:      orgID,
		ExpiresAt:  now.Add(r.ttl),
		Used:       false,
		CreatedAt:  now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO magic_link_tokens (id, token_hash, email, identity_id, org_id, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, record.ID, hashToken(token), record.Email, record.IdentityID, record.OrgID, record.ExpiresAt.Unix(), record.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("%w: insert token: %v", ErrStorage, err)
	}

	return record, nil
}

// FindByToken returns the record for token, or nil when no such token exists.
func (r *TokenRepository) FindByToken(ctx context.Context, token string) (*models.MagicLinkToken, error) {
	var (
		record    models.MagicLinkToken
		expiresAt int64
		createdAt int64
		usedAt    sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, identity_id, org_id, expires_at, used, used_at, created_at
		FROM magic_link_tokens WHERE token_hash = ?
	`, hashToken(token)).Scan(&record.ID, &record.Email, &record.IdentityID, &record.OrgID, &expiresAt, &record.Used, &usedAt, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: find token: %v", ErrStorage, err)
	}

	record.Token = token
	record.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	if usedAt.Valid {
		t := time.Unix(usedAt.Int64, 0).UTC()
		record.UsedAt = &t
	}
	return &record, nil
}

// MarkUsed flips the used flag with a single conditional update so that two
// concurrent verifications of the same token cannot both succeed.
func (r *TokenRepository) MarkUsed(ctx context.Context, record *models.MagicLinkToken) error {
	now := r.now().UTC().Truncate(time.Second)

	res, err := r.db.ExecContext(ctx, `
		UPDATE magic_link_tokens SET used = 1, used_at = ? WHERE id = ? AND used = 0
	`, now.Unix(), record.ID)
	if err != nil {
		return fmt.Errorf("%w: mark used: %v", ErrStorage, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrStorage, err)
	}
	if n == 0 {
		return ErrTokenAlreadyUsed
	}

	record.Used = true
	record.UsedAt = &now
	return nil
}

// PurgeExpired deletes records that expired before cutoff, used or not.
func (r *TokenRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM magic_link_tokens WHERE expires_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: purge tokens: %v", ErrStorage, err)
	}
	return res.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashToken is the at-rest form of a token; plaintext tokens are never stored.
func hashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
