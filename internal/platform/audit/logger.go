package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"clientportal/internal/platform/models"
)

const (
	ActionLinkRequested = "login.link_requested"
	ActionLinkIssued    = "login.link_issued"
	ActionVerified      = "login.verified"
	ActionVerifyFailed  = "login.verify_failed"
	ActionLogout        = "login.logout"
)

// Entry describes one login lifecycle event.
type Entry struct {
	Action     string
	Email      string
	IdentityID string
	OrgID      string
	Metadata   map[string]interface{}
	IPAddress  string
	UserAgent  string
}

// Logger writes audit entries to the audit_logs table in the background.
// Failures are logged and never reach the request that produced the entry.
type Logger struct {
	db *sql.DB
	wg sync.WaitGroup
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

func (l *Logger) Log(e Entry) {
	if l == nil || l.db == nil {
		return
	}

	metaJSON, _ := json.Marshal(e.Metadata)

	row := &models.AuditLog{
		ID:         "audit_" + uuid.New().String(),
		Action:     e.Action,
		Email:      e.Email,
		IdentityID: e.IdentityID,
		OrgID:      e.OrgID,
		Metadata:   e.Metadata,
		IPAddress:  orUnknown(e.IPAddress),
		UserAgent:  orUnknown(e.UserAgent),
		CreatedAt:  time.Now().Unix(),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := l.db.ExecContext(ctx, `
			INSERT INTO audit_logs (id, action, email, identity_id, org_id, metadata, ip_address, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, row.ID, row.Action, row.Email, row.IdentityID, row.OrgID, string(metaJSON), row.IPAddress, row.UserAgent, row.CreatedAt)
		if err != nil {
			log.Warn().Err(err).Str("action", row.Action).Msg("failed to write audit log")
		}
	}()
}

// Wait blocks until every pending entry has been written.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}

// Recent returns the newest entries for an identity, newest first. An empty
// identityID returns entries for everyone.
func (l *Logger) Recent(ctx context.Context, identityID string, limit int) ([]*models.AuditLog, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, action, email, identity_id, org_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE ? = '' OR identity_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, identityID, identityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var (
			entry                          models.AuditLog
			email, identityID, orgID, meta sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Action, &email, &identityID, &orgID, &meta, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Email = email.String
		entry.IdentityID = identityID.String
		entry.OrgID = orgID.String
		if meta.Valid && meta.String != "" {
			json.Unmarshal([]byte(meta.String), &entry.Metadata)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
