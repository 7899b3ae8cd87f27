package storage

import "time"

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// normalizeLead makes a lead safe to cache: UTC timestamps, a non-nil private custom fields
// mapping and normalized nested contacts
func normalizeLead(l Lead) Lead {
	l.CreatedAt = normalizeTime(l.CreatedAt)
	l.UpdatedAt = normalizeTime(l.UpdatedAt)
	l.CustomFields = l.CustomFields.Clone()
	if l.Contacts != nil {
		l.Contacts = normalizeContacts(l.Contacts)
	}
	return l
}

func normalizeLeads(leads []Lead) []Lead {
	out := make([]Lead, 0, len(leads))
	for _, l := range leads {
		out = append(out, normalizeLead(l))
	}
	return out
}

func normalizeContact(c Contact) Contact {
	c.CreatedAt = normalizeTime(c.CreatedAt)
	c.UpdatedAt = normalizeTime(c.UpdatedAt)
	return c
}

func normalizeContacts(contacts []Contact) []Contact {
	out := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, normalizeContact(c))
	}
	return out
}

// copyLeads hands out a slice the caller can modify without touching cached data
func copyLeads(leads []Lead) []Lead {
	out := make([]Lead, len(leads))
	for i, l := range leads {
		l.CustomFields = l.CustomFields.Clone()
		if l.Contacts != nil {
			l.Contacts = append(make([]Contact, 0, len(l.Contacts)), l.Contacts...)
		}
		out[i] = l
	}
	return out
}

func copyLead(l *Lead) *Lead {
	if l == nil {
		return nil
	}
	c := copyLeads([]Lead{*l})[0]
	return &c
}
