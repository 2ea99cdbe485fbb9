// Package directory resolves portal identities and their organizations
// against the CRM. Every call goes to the CRM; nothing is cached.
package directory

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clientportal/internal/platform/crm"
	"clientportal/internal/platform/models"
)

const (
	PropEmail         = "email"
	PropFirstName     = "firstname"
	PropLastName      = "lastname"
	PropPortalEnabled = "portal_enabled"
	PropLastLogin     = "last_portal_login"
	PropName          = "name"
	PropTaskFolderID  = "task_folder_id"
	PropTaskListID    = "task_list_id"
)

var (
	contactProperties = []string{PropEmail, PropFirstName, PropLastName, PropPortalEnabled}
	companyProperties = []string{PropName, PropPortalEnabled, PropTaskFolderID, PropTaskListID}
)

// Eligibility failures.
var (
	ErrIdentityNotFound       = errors.New("contact not found")
	ErrIdentityPortalDisabled = errors.New("portal access is not enabled for this contact")
	ErrOrgNotFound            = errors.New("company not found")
	ErrOrgPortalDisabled      = errors.New("portal access is not enabled for this company")
	ErrTaskListUnconfigured   = errors.New("portal is not fully configured for this company")
)

// CRM is the subset of the CRM client the directory needs.
type CRM interface {
	SearchObjects(ctx context.Context, objectType string, search crm.SearchRequest) ([]crm.Object, error)
	GetObject(ctx context.Context, objectType, id string, properties []string) (*crm.Object, error)
	UpdateObject(ctx context.Context, objectType, id string, properties map[string]string) error
	ListAssociations(ctx context.Context, fromType, fromID, toType string) ([]string, error)
}

// IdentityResult never carries an error for a plain miss. Err is set only
// when the CRM could not answer.
type IdentityResult struct {
	Found    bool
	Identity *models.Identity
	Err      error
}

type OrgResult struct {
	Found bool
	Org   *models.Organization
	Err   error
}

type Service struct {
	crm CRM
}

func NewService(client CRM) *Service {
	return &Service{crm: client}
}

func (s *Service) FindIdentityByEmail(ctx context.Context, email string) IdentityResult {
	results, err := s.crm.SearchObjects(ctx, crm.ObjectContacts, crm.SearchRequest{
		FilterGroups: []crm.FilterGroup{{
			Filters: []crm.Filter{{PropertyName: PropEmail, Operator: "EQ", Value: email}},
		}},
		Properties: contactProperties,
		Limit:      1,
	})
	if err != nil {
		return IdentityResult{Err: err}
	}
	if len(results) == 0 {
		return IdentityResult{}
	}

	c := results[0]
	identity := &models.Identity{
		ID:            c.ID,
		Email:         c.Property(PropEmail),
		FirstName:     c.Property(PropFirstName),
		LastName:      c.Property(PropLastName),
		PortalEnabled: parseFlag(c.Property(PropPortalEnabled)),
	}
	if identity.Email == "" {
		identity.Email = email
	}
	return IdentityResult{Found: true, Identity: identity}
}

// FindOrgForIdentity resolves the first associated company, then fetches it.
// The CRM has no joined query, so this is always two round trips.
func (s *Service) FindOrgForIdentity(ctx context.Context, identityID string) OrgResult {
	ids, err := s.crm.ListAssociations(ctx, crm.ObjectContacts, identityID, crm.ObjectCompanies)
	if err != nil {
		if isNotFound(err) {
			return OrgResult{}
		}
		return OrgResult{Err: err}
	}
	if len(ids) == 0 {
		return OrgResult{}
	}

	company, err := s.crm.GetObject(ctx, crm.ObjectCompanies, ids[0], companyProperties)
	if err != nil {
		if isNotFound(err) {
			return OrgResult{}
		}
		return OrgResult{Err: err}
	}

	return OrgResult{Found: true, Org: &models.Organization{
		ID:            company.ID,
		Name:          company.Property(PropName),
		PortalEnabled: parseFlag(company.Property(PropPortalEnabled)),
		TaskFolderID:  company.Property(PropTaskFolderID),
		TaskListID:    company.Property(PropTaskListID),
	}}
}

func (s *Service) TouchLastLogin(ctx context.Context, identityID string, at time.Time) error {
	return s.crm.UpdateObject(ctx, crm.ObjectContacts, identityID, map[string]string{
		PropLastLogin: at.UTC().Format(time.RFC3339),
	})
}

// CheckIdentity applies the identity half of the entitlement rules.
func CheckIdentity(identity *models.Identity) error {
	switch {
	case identity == nil:
		return ErrIdentityNotFound
	case !identity.PortalEnabled:
		return ErrIdentityPortalDisabled
	}
	return nil
}

// CheckEligibility applies the portal entitlement rules in order.
func CheckEligibility(identity *models.Identity, org *models.Organization) error {
	if err := CheckIdentity(identity); err != nil {
		return err
	}
	switch {
	case org == nil:
		return ErrOrgNotFound
	case !org.PortalEnabled:
		return ErrOrgPortalDisabled
	case !org.TaskListConfigured():
		return ErrTaskListUnconfigured
	}
	return nil
}

// IsEntitlementDenied reports whether err means portal access was switched
// off, as opposed to the records being missing or incomplete.
func IsEntitlementDenied(err error) bool {
	return errors.Is(err, ErrIdentityPortalDisabled) || errors.Is(err, ErrOrgPortalDisabled)
}

func parseFlag(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func isNotFound(err error) bool {
	var apiErr *crm.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
