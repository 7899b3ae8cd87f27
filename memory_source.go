package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

/*
	MemorySource is an in-process Source. It keeps every row (soft-deleted ones included)
	and applies the same tenant scoping, ordering and limits as the Postgres source.

	It backs tests and local demos; nothing is persisted.
*/
type MemorySource struct {
	mu  sync.RWMutex
	now func() time.Time

	leads     map[string]Lead
	contacts  map[string]Contact
	users     map[string]User
	pipelines map[string]Pipeline
	stages    map[string]Stage
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource returns an empty source; now defaults to time.Now
func NewMemorySource(now func() time.Time) *MemorySource {
	if now == nil {
		now = time.Now
	}
	return &MemorySource{
		now:       now,
		leads:     map[string]Lead{},
		contacts:  map[string]Contact{},
		users:     map[string]User{},
		pipelines: map[string]Pipeline{},
		stages:    map[string]Stage{},
	}
}

func newID() string {
	return uuid.NewString()
}

func (m *MemorySource) AddUser(u User) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = newID()
	}
	m.users[u.ID] = u
	return u
}

func (m *MemorySource) AddPipeline(p Pipeline) Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	m.pipelines[p.ID] = p
	return p
}

func (m *MemorySource) AddStage(s Stage) Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = newID()
	}
	m.stages[s.ID] = s
	return s
}

// PutLead stores l as is (ids, owners and timestamps included); joins are resolved on read
func (m *MemorySource) PutLead(l Lead) Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.now()
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}
	l.CustomFields = l.CustomFields.Clone()
	l.AssignedUser, l.Pipeline, l.Stage, l.Contacts = nil, nil, nil, nil
	m.leads[l.ID] = l
	return l
}

func (m *MemorySource) PutContact(c Contact) Contact {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	m.contacts[c.ID] = c
	return c
}

// RawLead returns the stored row whatever its tenant or deleted state
func (m *MemorySource) RawLead(id string) (Lead, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	return l, ok
}

func (m *MemorySource) RawContact(id string) (Contact, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	return c, ok
}

// live returns the lead when it belongs to tenantID and isn't deleted; callers hold mu
func (m *MemorySource) live(tenantID, id string) (Lead, bool) {
	l, ok := m.leads[id]
	if !ok || l.TenantID != tenantID || l.DeletedAt != nil {
		return Lead{}, false
	}
	return l, true
}

// joined resolves the assigned user, pipeline and stage of l; callers hold mu
func (m *MemorySource) joined(l Lead) Lead {
	l.CustomFields = l.CustomFields.Clone()
	if u, ok := m.users[l.AssignedTo]; ok && l.AssignedTo != "" {
		l.AssignedUser = &UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	if p, ok := m.pipelines[l.PipelineID]; ok && l.PipelineID != "" {
		l.Pipeline = &PipelineRef{ID: p.ID, Name: p.Name}
	}
	if s, ok := m.stages[l.StageID]; ok && l.StageID != "" {
		l.Stage = &StageRef{ID: s.ID, Name: s.Name, Order: s.OrderPosition}
	}
	return l
}

func matchesLead(l Lead, q LeadQuery) bool {
	if q.Status != "" && l.Status != q.Status {
		return false
	}
	if q.PipelineID != "" && l.PipelineID != q.PipelineID {
		return false
	}
	if q.AssignedTo != "" && l.AssignedTo != q.AssignedTo {
		return false
	}
	if q.Search != "" {
		term := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(l.Name), term) && !strings.Contains(strings.ToLower(l.Email), term) {
			return false
		}
	}
	return true
}

func (m *MemorySource) ListLeads(ctx context.Context, tenantID string, q LeadQuery) ([]Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Lead{}
	for id := range m.leads {
		l, ok := m.live(tenantID, id)
		if !ok || !matchesLead(l, q) {
			continue
		}
		out = append(out, m.joined(l))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemorySource) GetLead(ctx context.Context, tenantID string, id string) (*Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.live(tenantID, id)
	if !ok {
		return nil, ErrNotFound
	}
	l = m.joined(l)
	l.Contacts = m.contactsOf(tenantID, id, true)
	return &l, nil
}

// contactsOf lists a lead's live contacts by created_at; callers hold mu
func (m *MemorySource) contactsOf(tenantID, leadID string, ascending bool) []Contact {
	out := []Contact{}
	for _, c := range m.contacts {
		if c.LeadID == leadID && c.TenantID == tenantID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if ascending {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemorySource) InsertLead(ctx context.Context, row LeadRow) (*Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	l := Lead{
		ID:           newID(),
		Name:         row.Name,
		Email:        row.Email,
		Phone:        row.Phone,
		Status:       row.Status,
		StageID:      row.StageID,
		PipelineID:   row.PipelineID,
		AssignedTo:   row.AssignedTo,
		CreatedBy:    row.CreatedBy,
		TenantID:     row.TenantID,
		CustomFields: row.CustomFields.Clone(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.leads[l.ID] = l
	l = m.joined(l)
	return &l, nil
}

func (m *MemorySource) UpdateLead(ctx context.Context, tenantID string, id string, patch LeadPatch) (*Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.live(tenantID, id)
	if !ok {
		return nil, ErrNotFound
	}
	patch.apply(&l)
	l.UpdatedAt = m.now()
	m.leads[id] = l
	l = m.joined(l)
	return &l, nil
}

func (m *MemorySource) UpdateLeads(ctx context.Context, tenantID string, ids []string, patch LeadPatch) ([]Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := []Lead{}
	for _, id := range ids {
		l, ok := m.live(tenantID, id)
		if !ok {
			continue
		}
		patch.apply(&l)
		l.UpdatedAt = now
		m.leads[id] = l
		out = append(out, m.joined(l))
	}
	return out, nil
}

func (m *MemorySource) SoftDeleteLead(ctx context.Context, tenantID string, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.live(tenantID, id)
	if !ok {
		return ErrNotFound
	}
	l.DeletedAt = &at
	m.leads[id] = l
	return nil
}

func (m *MemorySource) ListContacts(ctx context.Context, tenantID string, leadID string) ([]Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contactsOf(tenantID, leadID, false), nil
}

func (m *MemorySource) GetContact(ctx context.Context, tenantID string, id string) (*Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemorySource) InsertContact(ctx context.Context, row ContactRow) (*Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c := Contact{
		ID:          newID(),
		LeadID:      row.LeadID,
		Name:        row.Name,
		Email:       row.Email,
		Phone:       row.Phone,
		Designation: row.Designation,
		Notes:       row.Notes,
		CreatedBy:   row.CreatedBy,
		TenantID:    row.TenantID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.contacts[c.ID] = c
	return &c, nil
}

func (m *MemorySource) UpdateContact(ctx context.Context, tenantID string, id string, patch ContactPatch) (*Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return nil, ErrNotFound
	}
	patch.apply(&c)
	c.UpdatedAt = m.now()
	m.contacts[id] = c
	return &c, nil
}

func (m *MemorySource) SoftDeleteContact(ctx context.Context, tenantID string, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return ErrNotFound
	}
	c.DeletedAt = &at
	m.contacts[id] = c
	return nil
}

func (m *MemorySource) ListUsers(ctx context.Context, tenantID string) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []User{}
	for _, u := range m.users {
		if u.TenantID == tenantID && u.DeletedAt == nil {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return limit(out, usersLimit), nil
}

func (m *MemorySource) ListPipelines(ctx context.Context, tenantID string) ([]Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Pipeline{}
	for _, p := range m.pipelines {
		if p.TenantID == tenantID && p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return limit(out, pipelinesLimit), nil
}

func (m *MemorySource) ListStages(ctx context.Context, tenantID string) ([]Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Stage{}
	for _, s := range m.stages {
		if s.TenantID == tenantID && s.DeletedAt == nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderPosition == out[j].OrderPosition {
			return out[i].ID < out[j].ID
		}
		return out[i].OrderPosition < out[j].OrderPosition
	})
	return limit(out, stagesLimit), nil
}

func limit[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
