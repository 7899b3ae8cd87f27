package storage

import (
	"time"
)

type actionTypes int32

const (
	actionSelect actionTypes = iota
	actionInsert
	actionUpdate
	actionDelete
)

// resourceType identifies which family of cache stores a write touches
type resourceType int32

const (
	resourceLeads resourceType = iota
	resourceContacts
)

func (r resourceType) String() string {
	switch r {
	case resourceLeads:
		return "leads"
	case resourceContacts:
		return "contacts"
	}
	return "unknown"
}

// Role is the role name carried by an Identity
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleManager  Role = "Manager"
	RoleSalesRep Role = "Sales Rep"
)

// Action is something an identity wants to do to a lead (or a lead's contacts)
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// Lead statuses
const (
	StatusNew       = "New"
	StatusQualified = "Qualified"
	StatusContacted = "Contacted"
	StatusDemo      = "Demo"
	StatusProposal  = "Proposal"
	StatusWon       = "Won"
	StatusLost      = "Lost"
)

var leadStatuses = map[string]struct{}{
	StatusNew:       {},
	StatusQualified: {},
	StatusContacted: {},
	StatusDemo:      {},
	StatusProposal:  {},
	StatusWon:       {},
	StatusLost:      {},
}

// Identity is the signed-in user as supplied by the session provider
type Identity struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenantId"`
}

/*
	Lead is the denormalized read view of a crm.leads row.

	Optional columns (phone, stage_id, pipeline_id, assigned_to) are plain strings where
	"" means NULL in the database. AssignedUser, Pipeline and Stage are resolved by the
	source's joins and Contacts is only populated by GetLeadByID.
*/
type Lead struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone,omitempty"`
	Status       string       `json:"status"`
	StageID      string       `json:"stageId,omitempty"`
	PipelineID   string       `json:"pipelineId,omitempty"`
	AssignedTo   string       `json:"assignedTo,omitempty"`
	CreatedBy    string       `json:"createdBy,omitempty"`
	TenantID     string       `json:"tenantId"`
	CustomFields CustomFields `json:"customFields"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	DeletedAt    *time.Time   `json:"deletedAt,omitempty"`

	AssignedUser *UserRef     `json:"assignedUser,omitempty"`
	Pipeline     *PipelineRef `json:"pipeline,omitempty"`
	Stage        *StageRef    `json:"stage,omitempty"`
	Contacts     []Contact    `json:"contacts,omitempty"`
}

// UserRef is the small projection of a user joined onto a lead
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type PipelineRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type StageRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// Contact belongs to exactly one lead and inherits that lead's permissions
type Contact struct {
	ID          string     `json:"id"`
	LeadID      string     `json:"leadId"`
	Name        string     `json:"name"`
	Email       string     `json:"email,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	Designation string     `json:"designation,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	TenantID    string     `json:"tenantId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

type User struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Email    string `json:"email" db:"email"`
	Role     Role   `json:"role" db:"role"`
	TenantID string `json:"tenantId" db:"tenant_id"`

	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

type Pipeline struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	TenantID string `json:"tenantId" db:"tenant_id"`

	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

type Stage struct {
	ID            string `json:"id" db:"id"`
	Name          string `json:"name" db:"name"`
	PipelineID    string `json:"pipelineId" db:"pipeline_id"`
	OrderPosition int    `json:"orderPosition" db:"order_position"`
	TenantID      string `json:"tenantId" db:"tenant_id"`

	DeletedAt *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
}

// LeadFilters narrows ListLeads. Empty values and the value "all" mean no filter.
type LeadFilters struct {
	Search     string `json:"search,omitempty"`
	Status     string `json:"status,omitempty"`
	PipelineID string `json:"pipelineId,omitempty"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

// LeadQuery is what the facade hands the source for a list read
type LeadQuery struct {
	LeadFilters
	Limit int
}

// LeadInput is the caller-supplied part of a new lead
type LeadInput struct {
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone,omitempty"`
	Status       string       `json:"status,omitempty"`
	StageID      string       `json:"stageId,omitempty"`
	PipelineID   string       `json:"pipelineId,omitempty"`
	AssignedTo   string       `json:"assignedTo,omitempty"`
	CustomFields CustomFields `json:"customFields"`
}

// LeadPatch is a sparse update: only non-nil fields are written
type LeadPatch struct {
	Name         *string       `json:"name,omitempty"`
	Email        *string       `json:"email,omitempty"`
	Phone        *string       `json:"phone,omitempty"`
	Status       *string       `json:"status,omitempty"`
	StageID      *string       `json:"stageId,omitempty"`
	PipelineID   *string       `json:"pipelineId,omitempty"`
	AssignedTo   *string       `json:"assignedTo,omitempty"`
	CustomFields *CustomFields `json:"customFields,omitempty"`
}

// BulkPatch is the subset of lead fields a bulk update may touch
type BulkPatch struct {
	Status     *string `json:"status,omitempty"`
	AssignedTo *string `json:"assignedTo,omitempty"`
	StageID    *string `json:"stageId,omitempty"`
}

func (b BulkPatch) leadPatch() LeadPatch {
	return LeadPatch{
		Status:     b.Status,
		AssignedTo: b.AssignedTo,
		StageID:    b.StageID,
	}
}

// BulkResult reports which leads a bulk update wrote and which it skipped
type BulkResult struct {
	Updated []Lead   `json:"updated"`
	Skipped []string `json:"skipped"`
}

type ContactInput struct {
	LeadID      string `json:"leadId"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Designation string `json:"designation,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type ContactPatch struct {
	Name        *string `json:"name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Designation *string `json:"designation,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// LeadRow is a fully populated insert for the leads collection
type LeadRow struct {
	LeadInput
	CreatedBy string
	TenantID  string
}

// ContactRow is a fully populated insert for the contacts collection
type ContactRow struct {
	ContactInput
	CreatedBy string
	TenantID  string
}
