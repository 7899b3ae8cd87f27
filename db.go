package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

/*
	db is the Postgres Source. Reads go to readConnection and writes to writeConnection;
	both may be the same pool.

	Writes are single statements that return the joined row (a CTE around the
	INSERT/UPDATE ... RETURNING), so the caller gets the same shape a read would give.
*/
type db struct {
	writeConnection *sqlx.DB
	readConnection  *sqlx.DB
}

var _ Source = (*db)(nil)

// NewPostgresSource builds a Source over the crm schema. readConn may be nil to read from writeConn.
func NewPostgresSource(writeConn, readConn *sqlx.DB) (Source, error) {
	if writeConn == nil {
		return nil, errors.New("storage: write connection is required")
	}
	if readConn == nil {
		readConn = writeConn
	}
	return &db{
		writeConnection: writeConn,
		readConnection:  readConn,
	}, nil
}

func (db *db) writeConn() *sqlx.DB {
	return db.writeConnection
}

func (db *db) readConn() *sqlx.DB {
	return db.readConnection
}

const leadColumns = `l.id, l.name, l.email, l.phone, l.status, l.stage_id, l.pipeline_id, l.assigned_to,
	l.created_by, l.tenant_id, l.custom_fields, l.created_at, l.updated_at, l.deleted_at,
	u.name AS assigned_user_name, u.email AS assigned_user_email,
	p.name AS pipeline_name, s.name AS stage_name, s.order_position AS stage_order`

const leadJoins = `LEFT JOIN crm.users u ON u.id = l.assigned_to
	LEFT JOIN crm.pipelines p ON p.id = l.pipeline_id
	LEFT JOIN crm.stages s ON s.id = l.stage_id`

const leadContactsColumn = `COALESCE((
		SELECT json_agg(c ORDER BY c.created_at ASC) FROM crm.contacts c
		WHERE c.lead_id = l.id AND c.tenant_id = l.tenant_id AND c.deleted_at IS NULL
	), '[]') AS contacts`

const leadsSelectByID = `SELECT ` + leadColumns + `, ` + leadContactsColumn + `
	FROM crm.leads l ` + leadJoins + `
	WHERE l.id = :id AND l.tenant_id = :tenant_id AND l.deleted_at IS NULL`

const leadsInsert = `WITH l AS (
	INSERT INTO crm.leads (name, email, phone, status, stage_id, pipeline_id, assigned_to, created_by, tenant_id, custom_fields)
	VALUES (:name, :email, :phone, :status, :stage_id, :pipeline_id, :assigned_to, :created_by, :tenant_id, :custom_fields)
	RETURNING *
) SELECT ` + leadColumns + ` FROM l ` + leadJoins

const leadsSoftDelete = `UPDATE crm.leads SET deleted_at = :at, updated_at = :at
	WHERE id = :id AND tenant_id = :tenant_id AND deleted_at IS NULL`

const contactColumns = `id, lead_id, name, email, phone, designation, notes, created_by, tenant_id,
	created_at, updated_at, deleted_at`

const contactsSelectByLead = `SELECT ` + contactColumns + ` FROM crm.contacts
	WHERE lead_id = :lead_id AND tenant_id = :tenant_id AND deleted_at IS NULL
	ORDER BY created_at DESC`

const contactsSelectByID = `SELECT ` + contactColumns + ` FROM crm.contacts
	WHERE id = :id AND tenant_id = :tenant_id AND deleted_at IS NULL`

const contactsInsert = `INSERT INTO crm.contacts (lead_id, name, email, phone, designation, notes, created_by, tenant_id)
	VALUES (:lead_id, :name, :email, :phone, :designation, :notes, :created_by, :tenant_id)
	RETURNING ` + contactColumns

const contactsSoftDelete = `UPDATE crm.contacts SET deleted_at = :at, updated_at = :at
	WHERE id = :id AND tenant_id = :tenant_id AND deleted_at IS NULL`

const usersSelect = `SELECT id, name, email, role, tenant_id, deleted_at FROM crm.users
	WHERE tenant_id = :tenant_id AND deleted_at IS NULL ORDER BY name ASC LIMIT :limit`

const pipelinesSelect = `SELECT id, name, tenant_id, deleted_at FROM crm.pipelines
	WHERE tenant_id = :tenant_id AND deleted_at IS NULL ORDER BY name ASC LIMIT :limit`

const stagesSelect = `SELECT id, name, pipeline_id, order_position, tenant_id, deleted_at FROM crm.stages
	WHERE tenant_id = :tenant_id AND deleted_at IS NULL ORDER BY order_position ASC LIMIT :limit`

// leadRow is the flat scan target for a lead with its joins
type leadRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Email        sql.NullString `db:"email"`
	Phone        sql.NullString `db:"phone"`
	Status       string         `db:"status"`
	StageID      sql.NullString `db:"stage_id"`
	PipelineID   sql.NullString `db:"pipeline_id"`
	AssignedTo   sql.NullString `db:"assigned_to"`
	CreatedBy    sql.NullString `db:"created_by"`
	TenantID     string         `db:"tenant_id"`
	CustomFields CustomFields   `db:"custom_fields"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	DeletedAt    sql.NullTime   `db:"deleted_at"`

	AssignedUserName  sql.NullString `db:"assigned_user_name"`
	AssignedUserEmail sql.NullString `db:"assigned_user_email"`
	PipelineName      sql.NullString `db:"pipeline_name"`
	StageName         sql.NullString `db:"stage_name"`
	StageOrder        sql.NullInt64  `db:"stage_order"`
}

// leadDetailRow adds the aggregated contacts of leadsSelectByID
type leadDetailRow struct {
	leadRow
	Contacts []byte `db:"contacts"`
}

func (r leadRow) lead() Lead {
	l := Lead{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email.String,
		Phone:        r.Phone.String,
		Status:       r.Status,
		StageID:      r.StageID.String,
		PipelineID:   r.PipelineID.String,
		AssignedTo:   r.AssignedTo.String,
		CreatedBy:    r.CreatedBy.String,
		TenantID:     r.TenantID,
		CustomFields: r.CustomFields,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		l.DeletedAt = &t
	}
	if r.AssignedTo.Valid && r.AssignedUserName.Valid {
		l.AssignedUser = &UserRef{ID: r.AssignedTo.String, Name: r.AssignedUserName.String, Email: r.AssignedUserEmail.String}
	}
	if r.PipelineID.Valid && r.PipelineName.Valid {
		l.Pipeline = &PipelineRef{ID: r.PipelineID.String, Name: r.PipelineName.String}
	}
	if r.StageID.Valid && r.StageName.Valid {
		l.Stage = &StageRef{ID: r.StageID.String, Name: r.StageName.String, Order: int(r.StageOrder.Int64)}
	}
	return l
}

type contactRow struct {
	ID          string         `db:"id"`
	LeadID      string         `db:"lead_id"`
	Name        string         `db:"name"`
	Email       sql.NullString `db:"email"`
	Phone       sql.NullString `db:"phone"`
	Designation sql.NullString `db:"designation"`
	Notes       sql.NullString `db:"notes"`
	CreatedBy   sql.NullString `db:"created_by"`
	TenantID    string         `db:"tenant_id"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	DeletedAt   sql.NullTime   `db:"deleted_at"`
}

func (r contactRow) contact() Contact {
	c := Contact{
		ID:          r.ID,
		LeadID:      r.LeadID,
		Name:        r.Name,
		Email:       r.Email.String,
		Phone:       r.Phone.String,
		Designation: r.Designation.String,
		Notes:       r.Notes.String,
		CreatedBy:   r.CreatedBy.String,
		TenantID:    r.TenantID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		c.DeletedAt = &t
	}
	return c
}

// contactJSON is one element of the json_agg contacts column
type contactJSON struct {
	ID          string     `json:"id"`
	LeadID      string     `json:"lead_id"`
	Name        string     `json:"name"`
	Email       *string    `json:"email"`
	Phone       *string    `json:"phone"`
	Designation *string    `json:"designation"`
	Notes       *string    `json:"notes"`
	CreatedBy   *string    `json:"created_by"`
	TenantID    string     `json:"tenant_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at"`
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decodeContacts(raw []byte) ([]Contact, error) {
	if len(raw) == 0 {
		return []Contact{}, nil
	}
	rows := []contactJSON{}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}
	out := make([]Contact, 0, len(rows))
	for _, r := range rows {
		out = append(out, Contact{
			ID:          r.ID,
			LeadID:      r.LeadID,
			Name:        r.Name,
			Email:       str(r.Email),
			Phone:       str(r.Phone),
			Designation: str(r.Designation),
			Notes:       str(r.Notes),
			CreatedBy:   str(r.CreatedBy),
			TenantID:    r.TenantID,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
			DeletedAt:   r.DeletedAt,
		})
	}
	return out, nil
}

// nullable maps "" to NULL for optional columns
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// selectNamed runs a named query on conn into dest
func selectNamed(ctx context.Context, conn *sqlx.DB, dest interface{}, query string, arg interface{}) error {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return err
	}
	return conn.SelectContext(ctx, dest, conn.Rebind(q), args...)
}

// getNamed is selectNamed for exactly one row; no row is ErrNotFound
func getNamed(ctx context.Context, conn *sqlx.DB, dest interface{}, query string, arg interface{}) error {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return err
	}
	err = conn.GetContext(ctx, dest, conn.Rebind(q), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// execNamed runs a write and reports ErrNotFound when it touched nothing
func execNamed(ctx context.Context, conn *sqlx.DB, query string, arg interface{}) error {
	res, err := conn.NamedExecContext(ctx, query, arg)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *db) ListLeads(ctx context.Context, tenantID string, q LeadQuery) ([]Lead, error) {
	where := []string{"l.tenant_id = :tenant_id", "l.deleted_at IS NULL"}
	args := map[string]interface{}{
		"tenant_id": tenantID,
		"limit":     q.Limit,
	}
	if q.Status != "" {
		where = append(where, "l.status = :status")
		args["status"] = q.Status
	}
	if q.PipelineID != "" {
		where = append(where, "l.pipeline_id = :pipeline_id")
		args["pipeline_id"] = q.PipelineID
	}
	if q.AssignedTo != "" {
		where = append(where, "l.assigned_to = :assigned_to")
		args["assigned_to"] = q.AssignedTo
	}
	if q.Search != "" {
		where = append(where, "(l.name ILIKE :search OR l.email ILIKE :search)")
		args["search"] = "%" + escapeLike(q.Search) + "%"
	}

	query := `SELECT ` + leadColumns + ` FROM crm.leads l ` + leadJoins +
		` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY l.created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT :limit`
	}

	rows := []leadRow{}
	if err := selectNamed(ctx, db.readConn(), &rows, query, args); err != nil {
		return nil, err
	}
	out := make([]Lead, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.lead())
	}
	return out, nil
}

// escapeLike makes % and _ in a search term match literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (db *db) GetLead(ctx context.Context, tenantID string, id string) (*Lead, error) {
	row := leadDetailRow{}
	err := getNamed(ctx, db.readConn(), &row, leadsSelectByID, map[string]interface{}{
		"id":        id,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, err
	}

	l := row.lead()
	if l.Contacts, err = decodeContacts(row.Contacts); err != nil {
		return nil, err
	}
	return &l, nil
}

func (db *db) InsertLead(ctx context.Context, in LeadRow) (*Lead, error) {
	row := leadRow{}
	err := getNamed(ctx, db.writeConn(), &row, leadsInsert, map[string]interface{}{
		"name":          in.Name,
		"email":         nullable(in.Email),
		"phone":         nullable(in.Phone),
		"status":        in.Status,
		"stage_id":      nullable(in.StageID),
		"pipeline_id":   nullable(in.PipelineID),
		"assigned_to":   nullable(in.AssignedTo),
		"created_by":    nullable(in.CreatedBy),
		"tenant_id":     in.TenantID,
		"custom_fields": in.CustomFields,
	})
	if err != nil {
		return nil, err
	}
	l := row.lead()
	return &l, nil
}

// leadSet builds the sparse SET list of patch; updated_at is always set by the server
func leadSet(patch LeadPatch, args map[string]interface{}) string {
	set := []string{}
	add := func(col string, v interface{}) {
		set = append(set, fmt.Sprintf("%s = :%s", col, col))
		args[col] = v
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", nullable(*patch.Email))
	}
	if patch.Phone != nil {
		add("phone", nullable(*patch.Phone))
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.StageID != nil {
		add("stage_id", nullable(*patch.StageID))
	}
	if patch.PipelineID != nil {
		add("pipeline_id", nullable(*patch.PipelineID))
	}
	if patch.AssignedTo != nil {
		add("assigned_to", nullable(*patch.AssignedTo))
	}
	if patch.CustomFields != nil {
		add("custom_fields", *patch.CustomFields)
	}
	set = append(set, "updated_at = now()")
	return strings.Join(set, ", ")
}

func (db *db) UpdateLead(ctx context.Context, tenantID string, id string, patch LeadPatch) (*Lead, error) {
	args := map[string]interface{}{
		"id":        id,
		"tenant_id": tenantID,
	}
	query := `WITH l AS (
	UPDATE crm.leads SET ` + leadSet(patch, args) + `
	WHERE id = :id AND tenant_id = :tenant_id AND deleted_at IS NULL
	RETURNING *
) SELECT ` + leadColumns + ` FROM l ` + leadJoins

	row := leadRow{}
	if err := getNamed(ctx, db.writeConn(), &row, query, args); err != nil {
		return nil, err
	}
	l := row.lead()
	return &l, nil
}

func (db *db) UpdateLeads(ctx context.Context, tenantID string, ids []string, patch LeadPatch) ([]Lead, error) {
	args := map[string]interface{}{
		"ids":       pq.Array(ids),
		"tenant_id": tenantID,
	}
	query := `WITH l AS (
	UPDATE crm.leads SET ` + leadSet(patch, args) + `
	WHERE id = ANY(:ids) AND tenant_id = :tenant_id AND deleted_at IS NULL
	RETURNING *
) SELECT ` + leadColumns + ` FROM l ` + leadJoins + ` ORDER BY l.created_at DESC`

	rows := []leadRow{}
	if err := selectNamed(ctx, db.writeConn(), &rows, query, args); err != nil {
		return nil, err
	}
	out := make([]Lead, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.lead())
	}
	return out, nil
}

func (db *db) SoftDeleteLead(ctx context.Context, tenantID string, id string, at time.Time) error {
	return execNamed(ctx, db.writeConn(), leadsSoftDelete, map[string]interface{}{
		"id":        id,
		"tenant_id": tenantID,
		"at":        at,
	})
}

func (db *db) ListContacts(ctx context.Context, tenantID string, leadID string) ([]Contact, error) {
	rows := []contactRow{}
	err := selectNamed(ctx, db.readConn(), &rows, contactsSelectByLead, map[string]interface{}{
		"lead_id":   leadID,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.contact())
	}
	return out, nil
}

func (db *db) GetContact(ctx context.Context, tenantID string, id string) (*Contact, error) {
	row := contactRow{}
	err := getNamed(ctx, db.readConn(), &row, contactsSelectByID, map[string]interface{}{
		"id":        id,
		"tenant_id": tenantID,
	})
	if err != nil {
		return nil, err
	}
	c := row.contact()
	return &c, nil
}

func (db *db) InsertContact(ctx context.Context, in ContactRow) (*Contact, error) {
	row := contactRow{}
	err := getNamed(ctx, db.writeConn(), &row, contactsInsert, map[string]interface{}{
		"lead_id":     in.LeadID,
		"name":        in.Name,
		"email":       nullable(in.Email),
		"phone":       nullable(in.Phone),
		"designation": nullable(in.Designation),
		"notes":       nullable(in.Notes),
		"created_by":  nullable(in.CreatedBy),
		"tenant_id":   in.TenantID,
	})
	if err != nil {
		return nil, err
	}
	c := row.contact()
	return &c, nil
}

func (db *db) UpdateContact(ctx context.Context, tenantID string, id string, patch ContactPatch) (*Contact, error) {
	args := map[string]interface{}{
		"id":        id,
		"tenant_id": tenantID,
	}
	set := []string{}
	add := func(col string, v interface{}) {
		set = append(set, fmt.Sprintf("%s = :%s", col, col))
		args[col] = v
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", nullable(*patch.Email))
	}
	if patch.Phone != nil {
		add("phone", nullable(*patch.Phone))
	}
	if patch.Designation != nil {
		add("designation", nullable(*patch.Designation))
	}
	if patch.Notes != nil {
		add("notes", nullable(*patch.Notes))
	}
	set = append(set, "updated_at = now()")

	query := `UPDATE crm.contacts SET ` + strings.Join(set, ", ") + `
	WHERE id = :id AND tenant_id = :tenant_id AND deleted_at IS NULL
	RETURNING ` + contactColumns

	row := contactRow{}
	if err := getNamed(ctx, db.writeConn(), &row, query, args); err != nil {
		return nil, err
	}
	c := row.contact()
	return &c, nil
}

func (db *db) SoftDeleteContact(ctx context.Context, tenantID string, id string, at time.Time) error {
	return execNamed(ctx, db.writeConn(), contactsSoftDelete, map[string]interface{}{
		"id":        id,
		"tenant_id": tenantID,
		"at":        at,
	})
}

func (db *db) ListUsers(ctx context.Context, tenantID string) ([]User, error) {
	out := []User{}
	err := selectNamed(ctx, db.readConn(), &out, usersSelect, map[string]interface{}{
		"tenant_id": tenantID,
		"limit":     usersLimit,
	})
	return out, err
}

func (db *db) ListPipelines(ctx context.Context, tenantID string) ([]Pipeline, error) {
	out := []Pipeline{}
	err := selectNamed(ctx, db.readConn(), &out, pipelinesSelect, map[string]interface{}{
		"tenant_id": tenantID,
		"limit":     pipelinesLimit,
	})
	return out, err
}

func (db *db) ListStages(ctx context.Context, tenantID string) ([]Stage, error) {
	out := []Stage{}
	err := selectNamed(ctx, db.readConn(), &out, stagesSelect, map[string]interface{}{
		"tenant_id": tenantID,
		"limit":     stagesLimit,
	})
	return out, err
}
