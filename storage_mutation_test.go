package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestLeadWritesInvalidateLeadStores(t *testing.T) {
	tests := []struct {
		name  string
		write func(f *fixture, target Lead) error
	}{
		{"create", func(f *fixture, _ Lead) error {
			_, err := f.s.CreateLead(context.Background(), LeadInput{Name: "new"})
			return err
		}},
		{"update", func(f *fixture, target Lead) error {
			_, err := f.s.UpdateLead(context.Background(), target.ID, LeadPatch{Status: strPtr(StatusQualified)})
			return err
		}},
		{"delete", func(f *fixture, target Lead) error {
			return f.s.DeleteLead(context.Background(), target.ID)
		}},
		{"bulk", func(f *fixture, target Lead) error {
			_, err := f.s.BulkUpdateLeads(context.Background(), []string{target.ID}, BulkPatch{Status: strPtr(StatusWon)})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			target := f.lead("target", "t1", "rep-1", "")
			f.signIn(t, rep)
			ctx := context.Background()

			filters := LeadFilters{Search: "target"}
			_, err := f.s.ListLeads(ctx, filters)
			require.NoError(t, err)
			_, err = f.s.GetLeadByID(ctx, target.ID)
			require.NoError(t, err)
			require.Equal(t, 1, f.src.count("ListLeads"))
			gets := f.src.count("GetLead")

			require.NoError(t, tt.write(f, target))
			assert.Zero(t, f.s.stores.leadLists.len())
			assert.Zero(t, f.s.stores.leads.len())

			_, err = f.s.ListLeads(ctx, filters)
			require.NoError(t, err)
			assert.Equal(t, 2, f.src.count("ListLeads"), "previously cached filters fetch again")

			before := f.src.count("GetLead")
			f.s.GetLeadByID(ctx, target.ID)
			assert.Greater(t, f.src.count("GetLead"), before)
			assert.GreaterOrEqual(t, before, gets)
		})
	}
}

func TestCreateLead(t *testing.T) {
	f := newFixture(t, false)
	f.lead("existing", "t1", "rep-1", "")
	f.signIn(t, rep)

	created, err := f.s.CreateLead(context.Background(), LeadInput{Name: "Acme", Email: "hi@acme.test"})
	require.NoError(t, err)
	assert.Equal(t, "rep-1", created.CreatedBy)
	assert.Equal(t, "t1", created.TenantID)
	assert.Equal(t, StatusNew, created.Status)
	assert.Empty(t, created.Phone)

	leads := f.s.State().Leads.Data
	require.Len(t, leads, 2)
	assert.Equal(t, created.ID, leads[0].ID, "new lead is prepended")
}

func TestCreateLeadValidation(t *testing.T) {
	f := newFixture(t, false)
	f.signIn(t, rep)

	_, err := f.s.CreateLead(context.Background(), LeadInput{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.s.CreateLead(context.Background(), LeadInput{Name: "A", Status: "Hot"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, f.src.count("InsertLead"))
	assert.NoError(t, f.s.State().Error())
}

func TestCreateLeadDeniedForUnknownRole(t *testing.T) {
	f := newFixture(t, false)
	f.signIn(t, &Identity{ID: "x", Role: "Viewer", TenantID: "t1"})
	denials := testutil.ToFloat64(permissionDeniedTotal.WithLabelValues(string(ActionCreate)))

	_, err := f.s.CreateLead(context.Background(), LeadInput{Name: "A"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, f.src.count("InsertLead"))
	assert.Equal(t, "Permission denied for creating leads", f.s.State().Leads.Err)
	assert.Equal(t, denials+1, testutil.ToFloat64(permissionDeniedTotal.WithLabelValues(string(ActionCreate))))
}

func TestCreateLeadRemoteFailure(t *testing.T) {
	f := newFixture(t, false)
	f.lead("existing", "t1", "rep-1", "")
	f.signIn(t, rep)
	f.src.failWith("InsertLead", errors.New("unique violation"))

	_, err := f.s.CreateLead(context.Background(), LeadInput{Name: "A"})
	require.Error(t, err)

	snap := f.s.State()
	assert.Equal(t, "Create lead failed: unique violation", snap.Leads.Err)
	assert.Len(t, snap.Leads.Data, 1)
	assert.False(t, snap.Leads.Loading)
}

func TestUpdateLeadChecksFreshRecord(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "mgr-1", "rep-1")
	f.signIn(t, rep)
	ctx := context.Background()

	_, err := f.s.GetLeadByID(ctx, l.ID)
	require.NoError(t, err)

	// reassigned behind the cache's back
	_, err = f.src.MemorySource.UpdateLead(ctx, "t1", l.ID, LeadPatch{AssignedTo: strPtr("mgr-1")})
	require.NoError(t, err)

	_, err = f.s.UpdateLead(ctx, l.ID, LeadPatch{Name: strPtr("mine")})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.src.count("UpdateLead"))
	assert.Equal(t, "Permission denied for updating lead", f.s.State().Leads.Err)

	raw, _ := f.src.RawLead(l.ID)
	assert.Equal(t, "a", raw.Name)
}

func TestUpdateLead(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "rep-1", "")
	f.signIn(t, rep)
	f.clock.Advance(time.Minute)

	updated, err := f.s.UpdateLead(context.Background(), l.ID, LeadPatch{
		Name:         strPtr("renamed"),
		CustomFields: &CustomFields{},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, l.Email, updated.Email, "absent fields are left alone")
	assert.True(t, updated.UpdatedAt.Equal(f.clock.Now()))
	assert.True(t, updated.CreatedAt.Equal(l.CreatedAt))

	leads := f.s.State().Leads.Data
	require.Len(t, leads, 1)
	assert.Equal(t, "renamed", leads[0].Name)
}

func TestUpdateLeadMissingIsDenied(t *testing.T) {
	f := newFixture(t, false)
	foreign := f.lead("a", "t2", "admin-2", "")
	f.signIn(t, admin)

	_, err := f.s.UpdateLead(context.Background(), foreign.ID, LeadPatch{Name: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Lead not found", f.s.State().Leads.Err)
	assert.Zero(t, f.src.count("UpdateLead"))
}

func TestDeleteLeadIsSoft(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "rep-1", "")
	f.signIn(t, rep)
	ctx := context.Background()

	require.NoError(t, f.s.DeleteLead(ctx, l.ID))

	raw, ok := f.src.RawLead(l.ID)
	require.True(t, ok, "row still exists")
	require.NotNil(t, raw.DeletedAt)
	assert.True(t, raw.DeletedAt.Equal(f.clock.Now()))

	assert.Empty(t, f.s.State().Leads.Data)
	leads, err := f.s.ListLeads(ctx, LeadFilters{})
	require.NoError(t, err)
	assert.Empty(t, leads)
	_, err = f.s.GetLeadByID(ctx, l.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, f.s.DeleteLead(ctx, l.ID), ErrNotFound, "deleting twice finds nothing")
}

func TestDeleteLeadDenied(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "mgr-1", "mgr-1")
	f.signIn(t, rep)

	err := f.s.DeleteLead(context.Background(), l.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, f.src.count("SoftDeleteLead"))
	assert.Equal(t, "Permission denied for deleting lead", f.s.State().Leads.Err)
}

func TestBulkUpdateSkipsDeniedLeads(t *testing.T) {
	f := newFixture(t, false)
	a := f.lead("a", "t1", "rep-1", "")
	b := f.lead("b", "t1", "mgr-1", "mgr-1")
	c := f.lead("c", "t1", "mgr-1", "rep-1")
	f.signIn(t, rep)

	res, err := f.s.BulkUpdateLeads(context.Background(), []string{a.ID, b.ID, c.ID, a.ID}, BulkPatch{Status: strPtr(StatusWon)})
	require.NoError(t, err)

	ids := []string{}
	for _, l := range res.Updated {
		ids = append(ids, l.ID)
		assert.Equal(t, StatusWon, l.Status)
	}
	assert.ElementsMatch(t, []string{a.ID, c.ID}, ids)
	assert.Equal(t, []string{b.ID}, res.Skipped)
	assert.Equal(t, 1, f.src.count("UpdateLeads"), "one batched write")

	raw, _ := f.src.RawLead(b.ID)
	assert.Equal(t, StatusNew, raw.Status)

	for _, l := range f.s.State().Leads.Data {
		if l.ID == b.ID {
			assert.Equal(t, StatusNew, l.Status)
		} else {
			assert.Equal(t, StatusWon, l.Status)
		}
	}
}

func TestBulkUpdateAllDenied(t *testing.T) {
	f := newFixture(t, false)
	b := f.lead("b", "t1", "mgr-1", "mgr-1")
	f.signIn(t, rep)

	_, err := f.s.BulkUpdateLeads(context.Background(), []string{b.ID, "missing"}, BulkPatch{Status: strPtr(StatusWon)})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, f.src.count("UpdateLeads"))
	assert.Equal(t, "No leads found or permission denied for all selected leads", f.s.State().Leads.Err)
}

func TestBulkUpdateValidation(t *testing.T) {
	f := newFixture(t, false)
	f.signIn(t, admin)

	_, err := f.s.BulkUpdateLeads(context.Background(), nil, BulkPatch{Status: strPtr(StatusWon)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.s.BulkUpdateLeads(context.Background(), []string{"x"}, BulkPatch{Status: strPtr("Nope")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.s.BulkUpdateLeads(context.Background(), []string{"x"}, BulkPatch{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, f.src.count("GetLead"))
}

func TestUpdateLeadWithNothingToChange(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "rep-1", "")
	f.signIn(t, rep)

	_, err := f.s.UpdateLead(context.Background(), l.ID, LeadPatch{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, f.src.count("GetLead"))
	assert.Zero(t, f.src.count("UpdateLead"))
	assert.NoError(t, f.s.State().Error())
}

func TestAddContact(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "rep-1", "")
	f.signIn(t, rep)
	ctx := context.Background()

	_, err := f.s.ListContactsForLead(ctx, l.ID)
	require.NoError(t, err)
	_, err = f.s.GetLeadByID(ctx, l.ID)
	require.NoError(t, err)

	c, err := f.s.AddContact(ctx, ContactInput{LeadID: l.ID, Name: "Jo", Email: "jo@a.test"})
	require.NoError(t, err)
	assert.Equal(t, "rep-1", c.CreatedBy)
	assert.Equal(t, "t1", c.TenantID)

	snap := f.s.State()
	assert.Equal(t, l.ID, snap.ContactsFor)
	require.Len(t, snap.Contacts.Data, 1)
	assert.Equal(t, c.ID, snap.Contacts.Data[0].ID)

	assert.Zero(t, f.s.stores.contacts.len())
	assert.Zero(t, f.s.stores.leads.len(), "lead by id embeds contacts")
	got, err := f.s.GetLeadByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, got.Contacts, 1)
}

func TestAddContactRequiresLead(t *testing.T) {
	f := newFixture(t, false)
	other := f.lead("a", "t1", "mgr-1", "mgr-1")
	f.signIn(t, rep)
	ctx := context.Background()

	_, err := f.s.AddContact(ctx, ContactInput{Name: "Jo"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.s.AddContact(ctx, ContactInput{LeadID: other.ID, Name: "Jo"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, "Permission denied for adding contact to this lead", f.s.State().Contacts.Err)
	assert.Zero(t, f.src.count("InsertContact"))
}

func TestUpdateContact(t *testing.T) {
	f := newFixture(t, false)
	mine := f.lead("mine", "t1", "rep-1", "")
	theirs := f.lead("theirs", "t1", "mgr-1", "mgr-1")
	c1 := f.src.PutContact(Contact{LeadID: mine.ID, Name: "a", TenantID: "t1"})
	c2 := f.src.PutContact(Contact{LeadID: theirs.ID, Name: "b", TenantID: "t1"})
	f.signIn(t, rep)
	ctx := context.Background()

	_, err := f.s.ListContactsForLead(ctx, mine.ID)
	require.NoError(t, err)

	updated, err := f.s.UpdateContact(ctx, c1.ID, ContactPatch{Notes: strPtr("called")})
	require.NoError(t, err)
	assert.Equal(t, "called", updated.Notes)
	assert.Equal(t, "called", f.s.State().Contacts.Data[0].Notes)

	_, err = f.s.UpdateContact(ctx, c2.ID, ContactPatch{Notes: strPtr("x")})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, "Permission denied for updating this contact", f.s.State().Contacts.Err)

	_, err = f.s.UpdateContact(ctx, "missing", ContactPatch{Notes: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Contact not found", f.s.State().Contacts.Err)
	assert.Equal(t, 1, f.src.count("UpdateContact"))
}

func TestDeleteContactNeedsDeleteOnLead(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "mgr-1", "mgr-1")
	c := f.src.PutContact(Contact{LeadID: l.ID, Name: "a", TenantID: "t1"})
	f.signIn(t, rep)
	ctx := context.Background()

	err := f.s.DeleteContact(ctx, c.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, "Permission denied for deleting this contact", f.s.State().Contacts.Err)

	f.signIn(t, manager)
	_, err = f.s.ListContactsForLead(ctx, l.ID)
	require.NoError(t, err)
	require.NoError(t, f.s.DeleteContact(ctx, c.ID))

	raw, ok := f.src.RawContact(c.ID)
	require.True(t, ok)
	assert.NotNil(t, raw.DeletedAt)
	assert.Empty(t, f.s.State().Contacts.Data)

	contacts, err := f.s.ListContactsForLead(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestDeleteLeadInvalidatesContacts(t *testing.T) {
	f := newFixture(t, false)
	l := f.lead("a", "t1", "rep-1", "")
	f.src.PutContact(Contact{LeadID: l.ID, Name: "a", TenantID: "t1"})
	f.signIn(t, rep)
	ctx := context.Background()

	_, err := f.s.ListContactsForLead(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.s.stores.contacts.len())

	require.NoError(t, f.s.DeleteLead(ctx, l.ID))
	assert.Zero(t, f.s.stores.contacts.len())
}
