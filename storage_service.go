package storage

import (
	"context"
	"errors"
	"sort"
)

func (s *storage) ListLeads(ctx context.Context, filters LeadFilters) ([]Lead, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	f := filters.normalized()
	if err := f.validate(); err != nil {
		return nil, err
	}

	s.state.begin(sess.epoch, sliceLeads)
	leads, hit, err := sess.stores.leadLists.load(ctx, leadListKey(s.serviceName, f), func(ctx context.Context) ([]Lead, error) {
		rows, err := s.source.ListLeads(ctx, sess.identity.TenantID, LeadQuery{LeadFilters: f, Limit: s.pageSize})
		if err != nil {
			return nil, err
		}
		return normalizeLeads(rows), nil
	})
	if err != nil {
		err = remote("Failed to fetch leads", err)
		sess.log.WithError(err).Warn("list leads")
		s.state.fail(sess.epoch, sliceLeads, err.Error())
		return nil, err
	}
	sess.log.WithField("cache_hit", hit).Debugf("listed %d leads", len(leads))

	if s.enforceView {
		leads = viewable(sess.identity, leads)
	}

	out := copyLeads(leads)
	s.state.end(sess.epoch, sliceLeads, func(snap *Snapshot) {
		snap.Leads.Data = copyLeads(out)
	})
	return out, nil
}

func viewable(identity *Identity, leads []Lead) []Lead {
	out := make([]Lead, 0, len(leads))
	for i := range leads {
		if Evaluate(identity, ActionView, &leads[i]) {
			out = append(out, leads[i])
		}
	}
	return out
}

func (s *storage) GetLeadByID(ctx context.Context, id string) (*Lead, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, invalid("lead id is required")
	}

	s.state.begin(sess.epoch, sliceLeads)
	lead, _, err := sess.stores.leads.load(ctx, leadKey(s.serviceName, id), func(ctx context.Context) (*Lead, error) {
		return s.fetchLead(ctx, sess, id)
	})
	if err == nil && s.enforceView && !Evaluate(sess.identity, ActionView, lead) {
		err = notFound("Lead not found")
	}
	if err != nil {
		if !IsDenied(err) {
			err = remote("Failed to fetch lead details", err)
		}
		sess.log.WithError(err).WithField("lead_id", id).Warn("get lead")
		s.state.fail(sess.epoch, sliceLeads, err.Error())
		return nil, err
	}

	s.state.end(sess.epoch, sliceLeads, nil)
	return copyLead(lead), nil
}

/*
	fetchLead reads one lead (with contacts) straight from the source, bypassing the cache.
	Writes use it for their permission checks so they never decide on a stale copy.
*/
func (s *storage) fetchLead(ctx context.Context, sess *session, id string) (*Lead, error) {
	l, err := s.source.GetLead(ctx, sess.identity.TenantID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Lead not found")
		}
		return nil, err
	}
	// a misconfigured source must not hand us another tenant's row
	if l == nil || l.TenantID != sess.identity.TenantID || l.DeletedAt != nil {
		return nil, notFound("Lead not found")
	}

	n := normalizeLead(*l)
	if n.Contacts == nil {
		n.Contacts = []Contact{}
	}
	return &n, nil
}

func (s *storage) ListContactsForLead(ctx context.Context, leadID string) ([]Contact, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if leadID == "" {
		return nil, invalid("lead id is required")
	}

	s.state.begin(sess.epoch, sliceContacts)
	contacts, _, err := sess.stores.contacts.load(ctx, contactsKey(s.serviceName, leadID), func(ctx context.Context) ([]Contact, error) {
		rows, err := s.source.ListContacts(ctx, sess.identity.TenantID, leadID)
		if err != nil {
			return nil, err
		}
		return normalizeContacts(rows), nil
	})
	if err != nil {
		err = remote("Failed to fetch contacts", err)
		sess.log.WithError(err).WithField("lead_id", leadID).Warn("list contacts")
		s.state.fail(sess.epoch, sliceContacts, err.Error())
		return nil, err
	}

	out := append([]Contact(nil), contacts...)
	s.state.end(sess.epoch, sliceContacts, func(snap *Snapshot) {
		snap.Contacts.Data = append([]Contact(nil), out...)
		snap.ContactsFor = leadID
	})
	return out, nil
}

// loadReference is the shared read path for the single-entry reference stores
func loadReference[T any](
	ctx context.Context,
	s *storage,
	sess *session,
	c *cache[[]T],
	table string,
	sl stateSlice,
	fetch func(ctx context.Context, tenantID string) ([]T, error),
	publish func(snap *Snapshot, data []T),
) ([]T, error) {
	s.state.begin(sess.epoch, sl)
	rows, _, err := c.load(ctx, referenceKey(s.serviceName, table), func(ctx context.Context) ([]T, error) {
		return fetch(ctx, sess.identity.TenantID)
	})
	if err != nil {
		err = remote("Failed to fetch "+table, err)
		sess.log.WithError(err).Warn("load reference data")
		s.state.fail(sess.epoch, sl, err.Error())
		return nil, err
	}

	out := append([]T(nil), rows...)
	s.state.end(sess.epoch, sl, func(snap *Snapshot) {
		publish(snap, append([]T(nil), out...))
	})
	return out, nil
}

func (s *storage) Users(ctx context.Context) ([]User, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return loadReference(ctx, s, sess, sess.stores.users, tableUsers, sliceUsers, s.source.ListUsers,
		func(snap *Snapshot, data []User) { snap.Users.Data = data })
}

func (s *storage) Pipelines(ctx context.Context) ([]Pipeline, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return loadReference(ctx, s, sess, sess.stores.pipelines, tablePipelines, slicePipelines, s.source.ListPipelines,
		func(snap *Snapshot, data []Pipeline) { snap.Pipelines.Data = data })
}

func (s *storage) Stages(ctx context.Context) ([]Stage, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return loadReference(ctx, s, sess, sess.stores.stages, tableStages, sliceStages, s.source.ListStages,
		func(snap *Snapshot, data []Stage) { snap.Stages.Data = data })
}

// StagesForPipeline returns one pipeline's stages by order position
func (s *storage) StagesForPipeline(ctx context.Context, pipelineID string) ([]Stage, error) {
	stages, err := s.Stages(ctx)
	if err != nil {
		return nil, err
	}

	out := []Stage{}
	for _, st := range stages {
		if st.PipelineID == pipelineID {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderPosition < out[j].OrderPosition
	})
	return out, nil
}
