package directory

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientportal/internal/platform/crm"
	"clientportal/internal/platform/models"
)

type fakeCRM struct {
	contacts     []crm.Object
	searchErr    error
	associations map[string][]string
	assocErr     error
	companies    map[string]*crm.Object
	getErr       error
	updates      map[string]map[string]string
}

func (f *fakeCRM) SearchObjects(_ context.Context, _ string, _ crm.SearchRequest) ([]crm.Object, error) {
	return f.contacts, f.searchErr
}

func (f *fakeCRM) GetObject(_ context.Context, _ string, id string, _ []string) (*crm.Object, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	obj, ok := f.companies[id]
	if !ok {
		return nil, &crm.APIError{StatusCode: http.StatusNotFound}
	}
	return obj, nil
}

func (f *fakeCRM) UpdateObject(_ context.Context, _ string, id string, props map[string]string) error {
	if f.updates == nil {
		f.updates = map[string]map[string]string{}
	}
	f.updates[id] = props
	return nil
}

func (f *fakeCRM) ListAssociations(_ context.Context, _, fromID, _ string) ([]string, error) {
	return f.associations[fromID], f.assocErr
}

func TestFindIdentityByEmail(t *testing.T) {
	svc := NewService(&fakeCRM{contacts: []crm.Object{{
		ID: "101",
		Properties: map[string]string{
			PropEmail: "alice@example.com", PropFirstName: "Alice", PropLastName: "Ng", PropPortalEnabled: "true",
		},
	}}})

	res := svc.FindIdentityByEmail(context.Background(), "alice@example.com")
	require.True(t, res.Found)
	require.NoError(t, res.Err)
	assert.Equal(t, &models.Identity{
		ID: "101", Email: "alice@example.com", FirstName: "Alice", LastName: "Ng", PortalEnabled: true,
	}, res.Identity)
}

func TestFindIdentityByEmail_NotFoundAndFailure(t *testing.T) {
	res := NewService(&fakeCRM{}).FindIdentityByEmail(context.Background(), "bob@example.com")
	assert.False(t, res.Found)
	assert.NoError(t, res.Err)

	res = NewService(&fakeCRM{searchErr: errors.New("dial tcp: refused")}).FindIdentityByEmail(context.Background(), "bob@example.com")
	assert.False(t, res.Found)
	assert.Error(t, res.Err)
}

func TestFindOrgForIdentity(t *testing.T) {
	f := &fakeCRM{
		associations: map[string][]string{"101": {"501", "502"}},
		companies: map[string]*crm.Object{"501": {ID: "501", Properties: map[string]string{
			PropName: "Acme", PropPortalEnabled: "TRUE", PropTaskFolderID: "F1", PropTaskListID: "L1",
		}}},
	}

	res := NewService(f).FindOrgForIdentity(context.Background(), "101")
	require.True(t, res.Found)
	assert.Equal(t, &models.Organization{
		ID: "501", Name: "Acme", PortalEnabled: true, TaskFolderID: "F1", TaskListID: "L1",
	}, res.Org)
}

func TestFindOrgForIdentity_Misses(t *testing.T) {
	// no association
	res := NewService(&fakeCRM{}).FindOrgForIdentity(context.Background(), "101")
	assert.False(t, res.Found)
	assert.NoError(t, res.Err)

	// association to a deleted company
	res = NewService(&fakeCRM{associations: map[string][]string{"101": {"999"}}}).FindOrgForIdentity(context.Background(), "101")
	assert.False(t, res.Found)
	assert.NoError(t, res.Err)

	// transport failure
	res = NewService(&fakeCRM{assocErr: errors.New("timeout")}).FindOrgForIdentity(context.Background(), "101")
	assert.False(t, res.Found)
	assert.Error(t, res.Err)

	res = NewService(&fakeCRM{
		associations: map[string][]string{"101": {"501"}},
		getErr:       &crm.APIError{StatusCode: http.StatusInternalServerError},
	}).FindOrgForIdentity(context.Background(), "101")
	assert.False(t, res.Found)
	assert.Error(t, res.Err)
}

func TestTouchLastLogin(t *testing.T) {
	f := &fakeCRM{}
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, NewService(f).TouchLastLogin(context.Background(), "101", at))
	assert.Equal(t, "2026-03-04T05:06:07Z", f.updates["101"][PropLastLogin])
}

func TestCheckEligibility(t *testing.T) {
	enabled := &models.Identity{ID: "1", PortalEnabled: true}
	org := &models.Organization{ID: "2", PortalEnabled: true, TaskListID: "L1"}

	tests := []struct {
		name     string
		identity *models.Identity
		org      *models.Organization
		want     error
		denied   bool
	}{
		{"eligible", enabled, org, nil, false},
		{"no identity", nil, org, ErrIdentityNotFound, false},
		{"identity disabled", &models.Identity{ID: "1"}, org, ErrIdentityPortalDisabled, true},
		{"no org", enabled, nil, ErrOrgNotFound, false},
		{"org disabled", enabled, &models.Organization{ID: "2", TaskListID: "L1"}, ErrOrgPortalDisabled, true},
		{"no task list", enabled, &models.Organization{ID: "2", PortalEnabled: true}, ErrTaskListUnconfigured, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckEligibility(tt.identity, tt.org)
			assert.ErrorIs(t, err, tt.want)
			if tt.want == nil {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.denied, IsEntitlementDenied(err))
		})
	}
}
