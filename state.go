package storage

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Resource is one slice of published state
type Resource[T any] struct {
	Data    T      `json:"data"`
	Loading bool   `json:"loading"`
	Err     string `json:"error,omitempty"`
}

// Snapshot is everything a UI renders from. Each resource has its own loading flag and error.
type Snapshot struct {
	Leads     Resource[[]Lead]     `json:"leads"`
	Contacts  Resource[[]Contact]  `json:"contacts"`
	Users     Resource[[]User]     `json:"users"`
	Pipelines Resource[[]Pipeline] `json:"pipelines"`
	Stages    Resource[[]Stage]    `json:"stages"`

	// ContactsFor is the lead whose contacts are in Contacts
	ContactsFor string `json:"contactsFor,omitempty"`
}

// Loading is true while any resource is loading
func (s Snapshot) Loading() bool {
	return s.Leads.Loading || s.Contacts.Loading || s.Users.Loading || s.Pipelines.Loading || s.Stages.Loading
}

// Error combines every resource's error, each prefixed with its source. nil when all are clear.
func (s Snapshot) Error() error {
	var result *multierror.Error
	for _, e := range []struct {
		source string
		msg    string
	}{
		{tableLeads, s.Leads.Err},
		{tableContacts, s.Contacts.Err},
		{tableUsers, s.Users.Err},
		{tablePipelines, s.Pipelines.Err},
		{tableStages, s.Stages.Err},
	} {
		if e.msg != "" {
			result = multierror.Append(result, fmt.Errorf("%s: %s", e.source, e.msg))
		}
	}
	return result.ErrorOrNil()
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Leads.Data = copyLeads(s.Leads.Data)
	out.Contacts.Data = append([]Contact(nil), s.Contacts.Data...)
	out.Users.Data = append([]User(nil), s.Users.Data...)
	out.Pipelines.Data = append([]Pipeline(nil), s.Pipelines.Data...)
	out.Stages.Data = append([]Stage(nil), s.Stages.Data...)
	return out
}

type stateSlice int

const (
	sliceLeads stateSlice = iota
	sliceContacts
	sliceUsers
	slicePipelines
	sliceStages
)

/*
	published holds the facade's state and its subscribers.

	epoch changes on every identity switch. Work started under an old epoch may still
	finish but none of its results, errors or loading changes are applied.
*/
type published struct {
	mu      sync.Mutex
	epoch   uint64
	snap    Snapshot
	loading map[stateSlice]int

	// notifyMu keeps deliveries in the order changes were applied
	notifyMu sync.Mutex
	subs     map[int]func(Snapshot)
	nextSub  int
}

func newPublished() *published {
	return &published{
		loading: map[stateSlice]int{},
		subs:    map[int]func(Snapshot){},
	}
}

func (p *published) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.clone()
}

func (p *published) subscribe(fn func(Snapshot)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// apply runs fn against the state if epoch is still current and notifies subscribers
// Lock order is notifyMu then mu, and mu is released before any subscriber runs.
func (p *published) apply(epoch uint64, fn func(s *Snapshot)) bool {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if epoch != p.epoch {
		p.mu.Unlock()
		return false
	}
	fn(&p.snap)
	p.syncLoading()
	snap := p.snap.clone()
	subs := make([]func(Snapshot), 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		s(snap)
	}
	return true
}

// begin marks sl as loading and clears its error
func (p *published) begin(epoch uint64, sl stateSlice) {
	p.apply(epoch, func(s *Snapshot) {
		p.loading[sl]++
		setErr(s, sl, "")
	})
}

// end clears one loading mark for sl and applies fn (which may be nil)
func (p *published) end(epoch uint64, sl stateSlice, fn func(s *Snapshot)) {
	p.apply(epoch, func(s *Snapshot) {
		if p.loading[sl] > 0 {
			p.loading[sl]--
		}
		if fn != nil {
			fn(s)
		}
	})
}

func (p *published) fail(epoch uint64, sl stateSlice, msg string) {
	p.end(epoch, sl, func(s *Snapshot) {
		setErr(s, sl, msg)
	})
}

// setError publishes msg without touching loading (used for denials that never start a request)
func (p *published) setError(epoch uint64, sl stateSlice, msg string) {
	p.apply(epoch, func(s *Snapshot) {
		setErr(s, sl, msg)
	})
}

func (p *published) clearErrors(epoch uint64) {
	p.apply(epoch, func(s *Snapshot) {
		s.Leads.Err = ""
		s.Contacts.Err = ""
		s.Users.Err = ""
		s.Pipelines.Err = ""
		s.Stages.Err = ""
	})
}

// reset empties the state and moves to epoch without notifying; call notify afterwards
func (p *published) reset(epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epoch = epoch
	p.snap = Snapshot{}
	p.loading = map[stateSlice]int{}
}

func (p *published) notify(epoch uint64) {
	p.apply(epoch, func(*Snapshot) {})
}

// syncLoading copies the loading counters into the snapshot; callers hold mu
func (p *published) syncLoading() {
	p.snap.Leads.Loading = p.loading[sliceLeads] > 0
	p.snap.Contacts.Loading = p.loading[sliceContacts] > 0
	p.snap.Users.Loading = p.loading[sliceUsers] > 0
	p.snap.Pipelines.Loading = p.loading[slicePipelines] > 0
	p.snap.Stages.Loading = p.loading[sliceStages] > 0
}

func setErr(s *Snapshot, sl stateSlice, msg string) {
	switch sl {
	case sliceLeads:
		s.Leads.Err = msg
	case sliceContacts:
		s.Contacts.Err = msg
	case sliceUsers:
		s.Users.Err = msg
	case slicePipelines:
		s.Pipelines.Err = msg
	case sliceStages:
		s.Stages.Err = msg
	}
}
