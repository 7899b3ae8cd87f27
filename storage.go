package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Storage is the data access facade a UI talks to for one signed-in session
type Storage interface {
	// SetIdentity clears every cache and all published state, then (for a non-nil identity)
	// fetches users, pipelines, stages and leads concurrently. nil signs out.
	SetIdentity(ctx context.Context, identity *Identity) error
	Identity() *Identity

	ListLeads(ctx context.Context, filters LeadFilters) ([]Lead, error)
	GetLeadByID(ctx context.Context, id string) (*Lead, error)
	ListContactsForLead(ctx context.Context, leadID string) ([]Contact, error)

	Users(ctx context.Context) ([]User, error)
	Pipelines(ctx context.Context) ([]Pipeline, error)
	Stages(ctx context.Context) ([]Stage, error)
	StagesForPipeline(ctx context.Context, pipelineID string) ([]Stage, error)

	CreateLead(ctx context.Context, in LeadInput) (*Lead, error)
	UpdateLead(ctx context.Context, id string, patch LeadPatch) (*Lead, error)
	DeleteLead(ctx context.Context, id string) error
	/*
		BulkUpdateLeads checks every id on its own and writes the ones the identity may edit
		in one batch. Denied or missing ids are reported in BulkResult.Skipped; only when
		nothing is left does it fail.
	*/
	BulkUpdateLeads(ctx context.Context, ids []string, patch BulkPatch) (*BulkResult, error)

	AddContact(ctx context.Context, in ContactInput) (*Contact, error)
	UpdateContact(ctx context.Context, id string, patch ContactPatch) (*Contact, error)
	DeleteContact(ctx context.Context, id string) error

	// HasPermission lets a UI hide actions up front; writes check again on their own
	HasPermission(action Action, lead *Lead) bool

	State() Snapshot
	// Subscribe calls fn with every new snapshot, in order. fn may call State but must not
	// call any other method of the facade.
	Subscribe(fn func(Snapshot)) (cancel func())
	ClearError()
	ClearCache()
}

type Config struct {
	Source Source
	Logger *logrus.Logger

	ServiceName string        // used in cache keys; defaults to "crm"
	CacheTTL    time.Duration // defaults to 10 minutes
	PageSize    int           // lead list cap; defaults to 100

	/*
		EnforceViewPermission filters lead reads through Evaluate(view). Off by default:
		list reads rely on tenant scoping alone, so a Sales Rep sees every lead in the
		tenant and is only restricted on edit and delete.
	*/
	EnforceViewPermission bool

	Debugger bool
	Clock    func() time.Time
}

const (
	defaultServiceName = "crm"
	defaultCacheTTL    = 10 * time.Minute
	defaultPageSize    = 100
)

// stores are the resource caches of one session; a new identity gets new stores
type stores struct {
	leadLists *cache[[]Lead]
	leads     *cache[*Lead]
	contacts  *cache[[]Contact]
	users     *cache[[]User]
	pipelines *cache[[]Pipeline]
	stages    *cache[[]Stage]
}

func newStores(ttl time.Duration, now func() time.Time) *stores {
	return &stores{
		leadLists: newCache[[]Lead]("lead_lists", ttl, now),
		leads:     newCache[*Lead]("leads", ttl, now),
		contacts:  newCache[[]Contact]("contacts", ttl, now),
		users:     newCache[[]User](tableUsers, ttl, now),
		pipelines: newCache[[]Pipeline](tablePipelines, ttl, now),
		stages:    newCache[[]Stage](tableStages, ttl, now),
	}
}

type storage struct {
	source      Source
	serviceName string
	ttl         time.Duration
	pageSize    int
	enforceView bool
	now         func() time.Time
	baseLog     *logrus.Entry

	mu       sync.RWMutex
	epoch    uint64
	identity *Identity
	stores   *stores
	log      *logrus.Entry

	state *published
}

// session is what one operation works against, captured once at its start
type session struct {
	identity *Identity
	stores   *stores
	epoch    uint64
	log      *logrus.Entry
}

// New returns a signed-out facade; call SetIdentity to start a session
func New(conf *Config) (Storage, error) {
	if conf == nil {
		return nil, errors.New("storage: config is required")
	}
	c := *conf
	if err := c.validate(); err != nil {
		return nil, err
	}

	base := logrus.NewEntry(c.Logger)
	debug.init(base, c.Debugger)

	s := &storage{
		source:      c.Source,
		serviceName: c.ServiceName,
		ttl:         c.CacheTTL,
		pageSize:    c.PageSize,
		enforceView: c.EnforceViewPermission,
		now:         c.Clock,
		baseLog:     base,
		stores:      newStores(c.CacheTTL, c.Clock),
		log:         newEntry(base, nil),
		state:       newPublished(),
	}
	return s, nil
}

func (s *storage) session() (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil, ErrNoSession
	}
	return &session{
		identity: s.identity,
		stores:   s.stores,
		epoch:    s.epoch,
		log:      s.log,
	}, nil
}

func (s *storage) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

func (s *storage) HasPermission(action Action, lead *Lead) bool {
	s.mu.RLock()
	identity := s.identity
	s.mu.RUnlock()
	return Evaluate(identity, action, lead)
}

func (s *storage) State() Snapshot {
	return s.state.snapshot()
}

func (s *storage) Subscribe(fn func(Snapshot)) func() {
	return s.state.subscribe(fn)
}

func (s *storage) ClearError() {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()
	s.state.clearErrors(epoch)
}

// ClearCache drops every cached entry and the published leads and contacts
func (s *storage) ClearCache() {
	s.mu.RLock()
	st, epoch := s.stores, s.epoch
	s.mu.RUnlock()

	s.invalidate(st, resourceLeads, actionDelete)
	s.invalidate(st, resourceContacts, actionDelete)
	st.users.invalidateAll()
	st.pipelines.invalidateAll()
	st.stages.invalidateAll()

	s.state.apply(epoch, func(snap *Snapshot) {
		snap.Leads.Data = nil
		snap.Contacts.Data = nil
		snap.ContactsFor = ""
	})
}
