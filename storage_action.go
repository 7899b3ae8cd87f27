package storage

/*
	invalidate drops whole stores after a successful write. There is no per-key targeting:
	a write to a resource type empties every store that can hold that resource.

	- any lead write empties lead lists and leads by id
	- deleting a lead also empties contacts by lead, whose entries for it are now unreachable
	- any contact write empties contacts by lead and leads by id (a lead by id embeds its contacts)
*/
func (s *storage) invalidate(st *stores, res resourceType, action actionTypes) {
	if action == actionSelect {
		return
	}

	switch res {
	case resourceLeads:
		st.leadLists.invalidateAll()
		st.leads.invalidateAll()
		if action == actionDelete {
			st.contacts.invalidateAll()
		}

	case resourceContacts:
		st.contacts.invalidateAll()
		st.leads.invalidateAll()
	}

	d("invalidated %s stores after action %d", res, action)
}

// replaceLeads swaps in updated versions of leads already in the list, keeping order
func replaceLeads(list []Lead, updated ...Lead) []Lead {
	byID := make(map[string]Lead, len(updated))
	for _, u := range updated {
		byID[u.ID] = u
	}
	out := make([]Lead, 0, len(list))
	for _, l := range list {
		if u, ok := byID[l.ID]; ok {
			u.CustomFields = u.CustomFields.Clone()
			out = append(out, u)
			continue
		}
		out = append(out, l)
	}
	return out
}

func removeLead(list []Lead, id string) []Lead {
	out := make([]Lead, 0, len(list))
	for _, l := range list {
		if l.ID != id {
			out = append(out, l)
		}
	}
	return out
}

func replaceContact(list []Contact, updated Contact) []Contact {
	out := make([]Contact, 0, len(list))
	for _, c := range list {
		if c.ID == updated.ID {
			out = append(out, updated)
			continue
		}
		out = append(out, c)
	}
	return out
}

func removeContact(list []Contact, id string) []Contact {
	out := make([]Contact, 0, len(list))
	for _, c := range list {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
