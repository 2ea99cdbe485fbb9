package models

import "time"

// MagicLinkToken is a single-use login token. Records are never deleted by
// request handling; Used flips to true exactly once.
type MagicLinkToken struct {
	ID         string     `json:"id"`
	Token      string     `json:"-"`
	Email      string     `json:"email"`
	IdentityID string     `json:"identity_id"`
	OrgID      string     `json:"org_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Used       bool       `json:"used"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Identity is a contact in the external directory.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	PortalEnabled bool   `json:"portalEnabled"`
}

// Organization is a company in the external directory.
type Organization struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	PortalEnabled bool   `json:"portalEnabled"`
	TaskFolderID  string `json:"taskFolderId"`
	TaskListID    string `json:"taskListId"`
}

// TaskListConfigured reports whether the organization can use the task proxy.
func (o *Organization) TaskListConfigured() bool {
	return o.TaskListID != ""
}

// PortalSession is the payload carried by the signed session credential.
type PortalSession struct {
	IdentityID   string `json:"identityId"`
	OrgID        string `json:"orgId"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	OrgName      string `json:"orgName"`
	TaskFolderID string `json:"taskFolderId"`
	TaskListID   string `json:"taskListId"`
}

// NewPortalSession builds the session for a freshly verified identity.
func NewPortalSession(identity *Identity, org *Organization) PortalSession {
	return PortalSession{
		IdentityID:   identity.ID,
		OrgID:        org.ID,
		Email:        identity.Email,
		FirstName:    identity.FirstName,
		LastName:     identity.LastName,
		OrgName:      org.Name,
		TaskFolderID: org.TaskFolderID,
		TaskListID:   org.TaskListID,
	}
}

// FullName joins first and last name, skipping blanks.
func (s PortalSession) FullName() string {
	switch {
	case s.FirstName == "":
		return s.LastName
	case s.LastName == "":
		return s.FirstName
	default:
		return s.FirstName + " " + s.LastName
	}
}

// AuditLog is one row of the login audit trail.
type AuditLog struct {
	ID         string                 `json:"id"`
	Action     string                 `json:"action"`
	Email      string                 `json:"email,omitempty"`
	IdentityID string                 `json:"identity_id,omitempty"`
	OrgID      string                 `json:"org_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	IPAddress  string                 `json:"ip_address"`
	UserAgent  string                 `json:"user_agent"`
	CreatedAt  int64                  `json:"created_at"`
}
