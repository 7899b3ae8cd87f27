package storage

import (
	"context"
	"time"
)

/*
	Source is the remote record store the cache sits in front of.

	Every method is scoped by tenantID and must ignore soft-deleted rows unless stated
	otherwise. A missing row (or a row owned by another tenant) is reported as
	ErrNotFound so callers can't tell the two apart.
*/
type Source interface {
	// ListLeads returns non-deleted leads ordered by created_at desc, with assigned user,
	// pipeline and stage resolved
	ListLeads(ctx context.Context, tenantID string, q LeadQuery) ([]Lead, error)

	// GetLead returns one lead plus its non-deleted contacts (created_at asc) in a single call
	GetLead(ctx context.Context, tenantID string, id string) (*Lead, error)

	InsertLead(ctx context.Context, row LeadRow) (*Lead, error)
	// UpdateLead writes only the non-nil fields of patch and sets updated_at
	UpdateLead(ctx context.Context, tenantID string, id string, patch LeadPatch) (*Lead, error)
	// UpdateLeads applies one patch to every id in a single statement
	UpdateLeads(ctx context.Context, tenantID string, ids []string, patch LeadPatch) ([]Lead, error)
	SoftDeleteLead(ctx context.Context, tenantID string, id string, at time.Time) error

	// ListContacts returns a lead's non-deleted contacts ordered by created_at desc
	ListContacts(ctx context.Context, tenantID string, leadID string) ([]Contact, error)
	GetContact(ctx context.Context, tenantID string, id string) (*Contact, error)
	InsertContact(ctx context.Context, row ContactRow) (*Contact, error)
	UpdateContact(ctx context.Context, tenantID string, id string, patch ContactPatch) (*Contact, error)
	SoftDeleteContact(ctx context.Context, tenantID string, id string, at time.Time) error

	ListUsers(ctx context.Context, tenantID string) ([]User, error)
	ListPipelines(ctx context.Context, tenantID string) ([]Pipeline, error)
	ListStages(ctx context.Context, tenantID string) ([]Stage, error)
}

// reference data page sizes
const (
	usersLimit     = 50
	pipelinesLimit = 20
	stagesLimit    = 100
)
