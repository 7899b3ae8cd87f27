package storage

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// bulkCheckConcurrency bounds the per-id permission reads of a bulk update
const bulkCheckConcurrency = 8

// refuse publishes a denial on sl and returns it; no remote write has happened
func (s *storage) refuse(sess *session, sl stateSlice, action Action, err error) error {
	permissionDeniedTotal.WithLabelValues(string(action)).Inc()
	sess.log.WithField("action", action).Warn(err.Error())
	s.state.setError(sess.epoch, sl, err.Error())
	return err
}

/*
	gate resolves a lead fresh from the source and checks action on it. A lead that can't
	be found under the caller's tenant is refused exactly like one the caller may not touch.
*/
func (s *storage) gate(ctx context.Context, sess *session, leadID string, action Action, sl stateSlice, notFoundMsg, deniedMsg string) (*Lead, error) {
	lead, err := s.fetchLead(ctx, sess, leadID)
	if err != nil {
		if IsDenied(err) {
			return nil, s.refuse(sess, sl, action, notFound(notFoundMsg))
		}
		err = remote("Failed to load lead", err)
		sess.log.WithError(err).WithField("lead_id", leadID).Warn("permission lookup")
		s.state.setError(sess.epoch, sl, err.Error())
		return nil, err
	}

	if !Evaluate(sess.identity, action, lead) {
		return nil, s.refuse(sess, sl, action, denied(deniedMsg))
	}
	return lead, nil
}

func (s *storage) CreateLead(ctx context.Context, in LeadInput) (*Lead, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	if !Evaluate(sess.identity, ActionCreate, nil) {
		return nil, s.refuse(sess, sliceLeads, ActionCreate, denied("Permission denied for creating leads"))
	}

	s.state.begin(sess.epoch, sliceLeads)
	created, err := s.source.InsertLead(ctx, LeadRow{
		LeadInput: in.withDefaults(),
		CreatedBy: sess.identity.ID,
		TenantID:  sess.identity.TenantID,
	})
	if err != nil {
		err = remote("Create lead failed", err)
		sess.log.WithError(err).Warn("create lead")
		s.state.fail(sess.epoch, sliceLeads, err.Error())
		return nil, err
	}

	lead := normalizeLead(*created)
	s.invalidate(sess.stores, resourceLeads, actionInsert)
	s.state.end(sess.epoch, sliceLeads, func(snap *Snapshot) {
		snap.Leads.Data = append([]Lead{*copyLead(&lead)}, snap.Leads.Data...)
	})

	sess.log.WithField("lead_id", lead.ID).Info("lead created")
	return copyLead(&lead), nil
}

func (s *storage) UpdateLead(ctx context.Context, id string, patch LeadPatch) (*Lead, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := patch.validate(); err != nil {
		return nil, err
	}

	if _, err := s.gate(ctx, sess, id, ActionEdit, sliceLeads, "Lead not found", "Permission denied for updating lead"); err != nil {
		return nil, err
	}

	s.state.begin(sess.epoch, sliceLeads)
	updated, err := s.source.UpdateLead(ctx, sess.identity.TenantID, id, patch)
	if err != nil {
		err = remote("Update lead failed", err)
		sess.log.WithError(err).WithField("lead_id", id).Warn("update lead")
		s.state.fail(sess.epoch, sliceLeads, err.Error())
		return nil, err
	}

	lead := normalizeLead(*updated)
	s.invalidate(sess.stores, resourceLeads, actionUpdate)
	s.state.end(sess.epoch, sliceLeads, func(snap *Snapshot) {
		snap.Leads.Data = replaceLeads(snap.Leads.Data, lead)
	})
	return copyLead(&lead), nil
}

func (s *storage) DeleteLead(ctx context.Context, id string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	if _, err := s.gate(ctx, sess, id, ActionDelete, sliceLeads, "Lead not found", "Permission denied for deleting lead"); err != nil {
		return err
	}

	s.state.begin(sess.epoch, sliceLeads)
	if err := s.source.SoftDeleteLead(ctx, sess.identity.TenantID, id, s.now().UTC()); err != nil {
		err = remote("Delete lead failed", err)
		sess.log.WithError(err).WithField("lead_id", id).Warn("delete lead")
		s.state.fail(sess.epoch, sliceLeads, err.Error())
		return err
	}

	s.invalidate(sess.stores, resourceLeads, actionDelete)
	s.state.end(sess.epoch, sliceLeads, func(snap *Snapshot) {
		snap.Leads.Data = removeLead(snap.Leads.Data, id)
	})

	sess.log.WithField("lead_id", id).Info("lead deleted")
	return nil
}

func (s *storage) BulkUpdateLeads(ctx context.Context, ids []string, patch BulkPatch) (*BulkResult, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := patch.validate(); err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, invalid("no lead ids given")
	}

	// every id is resolved and checked on its own; any failure just skips that id
	allowed := make([]bool, len(ids))
	g := errgroup.Group{}
	g.SetLimit(bulkCheckConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			lead, err := s.fetchLead(ctx, sess, id)
			if err != nil {
				sess.log.WithError(err).WithField("lead_id", id).Debug("bulk update: lead not resolved")
				return nil
			}
			allowed[i] = Evaluate(sess.identity, ActionEdit, lead)
			return nil
		})
	}
	g.Wait()

	result := &BulkResult{Updated: []Lead{}, Skipped: []string{}}
	toUpdate := []string{}
	for i, id := range ids {
		if allowed[i] {
			toUpdate = append(toUpdate, id)
		} else {
			result.Skipped = append(result.Skipped, id)
		}
	}

	if len(toUpdate) == 0 {
		return nil, s.refuse(sess, sliceLeads, ActionEdit, denied("No leads found or permission denied for all selected leads"))
	}

	s.state.begin(sess.epoch, sliceLeads)
	updated, err := s.source.UpdateLeads(ctx, sess.identity.TenantID, toUpdate, patch.leadPatch())
	if err != nil {
		err = remote("Bulk update leads failed", err)
		sess.log.WithError(err).Warn("bulk update leads")
		s.state.fail(sess.epoch, sliceLeads, err.Error())
		return nil, err
	}

	result.Updated = normalizeLeads(updated)
	s.invalidate(sess.stores, resourceLeads, actionUpdate)
	s.state.end(sess.epoch, sliceLeads, func(snap *Snapshot) {
		snap.Leads.Data = replaceLeads(snap.Leads.Data, result.Updated...)
	})

	if len(result.Skipped) > 0 {
		sess.log.WithField("skipped", len(result.Skipped)).Info("bulk update skipped leads")
	}
	result.Updated = copyLeads(result.Updated)
	return result, nil
}

func uniqueIDs(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *storage) AddContact(ctx context.Context, in ContactInput) (*Contact, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	msg := "Permission denied for adding contact to this lead"
	if _, err := s.gate(ctx, sess, in.LeadID, ActionEdit, sliceContacts, msg, msg); err != nil {
		return nil, err
	}

	s.state.begin(sess.epoch, sliceContacts)
	created, err := s.source.InsertContact(ctx, ContactRow{
		ContactInput: in,
		CreatedBy:    sess.identity.ID,
		TenantID:     sess.identity.TenantID,
	})
	if err != nil {
		err = remote("Add contact failed", err)
		sess.log.WithError(err).WithField("lead_id", in.LeadID).Warn("add contact")
		s.state.fail(sess.epoch, sliceContacts, err.Error())
		return nil, err
	}

	contact := normalizeContact(*created)
	s.invalidate(sess.stores, resourceContacts, actionInsert)
	s.state.end(sess.epoch, sliceContacts, func(snap *Snapshot) {
		if snap.ContactsFor == contact.LeadID {
			snap.Contacts.Data = append([]Contact{contact}, snap.Contacts.Data...)
		}
	})
	return &contact, nil
}

// contactLead finds the lead a contact belongs to; a missing contact is refused on sl
func (s *storage) contactLead(ctx context.Context, sess *session, id string, action Action) (string, error) {
	c, err := s.source.GetContact(ctx, sess.identity.TenantID, id)
	if err != nil {
		if IsDenied(err) {
			return "", s.refuse(sess, sliceContacts, action, notFound("Contact not found"))
		}
		err = remote("Failed to load contact", err)
		s.state.setError(sess.epoch, sliceContacts, err.Error())
		return "", err
	}
	if c == nil || c.TenantID != sess.identity.TenantID || c.DeletedAt != nil {
		return "", s.refuse(sess, sliceContacts, action, notFound("Contact not found"))
	}
	return c.LeadID, nil
}

func (s *storage) UpdateContact(ctx context.Context, id string, patch ContactPatch) (*Contact, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := patch.validate(); err != nil {
		return nil, err
	}

	leadID, err := s.contactLead(ctx, sess, id, ActionEdit)
	if err != nil {
		return nil, err
	}
	msg := "Permission denied for updating this contact"
	if _, err := s.gate(ctx, sess, leadID, ActionEdit, sliceContacts, msg, msg); err != nil {
		return nil, err
	}

	s.state.begin(sess.epoch, sliceContacts)
	updated, err := s.source.UpdateContact(ctx, sess.identity.TenantID, id, patch)
	if err != nil {
		err = remote("Update contact failed", err)
		sess.log.WithError(err).WithField("contact_id", id).Warn("update contact")
		s.state.fail(sess.epoch, sliceContacts, err.Error())
		return nil, err
	}

	contact := normalizeContact(*updated)
	s.invalidate(sess.stores, resourceContacts, actionUpdate)
	s.state.end(sess.epoch, sliceContacts, func(snap *Snapshot) {
		snap.Contacts.Data = replaceContact(snap.Contacts.Data, contact)
	})
	return &contact, nil
}

// DeleteContact needs delete rights on the owning lead, not just edit
func (s *storage) DeleteContact(ctx context.Context, id string) error {
	sess, err := s.session()
	if err != nil {
		return err
	}

	leadID, err := s.contactLead(ctx, sess, id, ActionDelete)
	if err != nil {
		return err
	}
	msg := "Permission denied for deleting this contact"
	if _, err := s.gate(ctx, sess, leadID, ActionDelete, sliceContacts, msg, msg); err != nil {
		return err
	}

	s.state.begin(sess.epoch, sliceContacts)
	if err := s.source.SoftDeleteContact(ctx, sess.identity.TenantID, id, s.now().UTC()); err != nil {
		err = remote("Delete contact failed", err)
		sess.log.WithError(err).WithField("contact_id", id).Warn("delete contact")
		s.state.fail(sess.epoch, sliceContacts, err.Error())
		return err
	}

	s.invalidate(sess.stores, resourceContacts, actionDelete)
	s.state.end(sess.epoch, sliceContacts, func(snap *Snapshot) {
		snap.Contacts.Data = removeContact(snap.Contacts.Data, id)
	})
	return nil
}
