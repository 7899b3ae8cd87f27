package storage

import (
	"strings"
)

func validStatus(s string) bool {
	_, ok := leadStatuses[s]
	return ok
}

func (in LeadInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("lead name is required")
	}
	if in.Status != "" && !validStatus(in.Status) {
		return invalid("unknown lead status %q", in.Status)
	}
	return nil
}

// withDefaults fills the optional fields a new lead must have
func (in LeadInput) withDefaults() LeadInput {
	if in.Status == "" {
		in.Status = StatusNew
	}
	in.CustomFields = in.CustomFields.Clone()
	return in
}

func (p LeadPatch) validate() error {
	if p.empty() {
		return invalid("no lead fields to update")
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return invalid("lead name cannot be blank")
	}
	if p.Status != nil && !validStatus(*p.Status) {
		return invalid("unknown lead status %q", *p.Status)
	}
	return nil
}

func (p LeadPatch) empty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil && p.Status == nil &&
		p.StageID == nil && p.PipelineID == nil && p.AssignedTo == nil && p.CustomFields == nil
}

func (b BulkPatch) validate() error {
	if b.leadPatch().empty() {
		return invalid("no lead fields to update")
	}
	if b.Status != nil && !validStatus(*b.Status) {
		return invalid("unknown lead status %q", *b.Status)
	}
	return nil
}

func (in ContactInput) validate() error {
	if strings.TrimSpace(in.LeadID) == "" {
		return invalid("missing leadId when adding contact")
	}
	if strings.TrimSpace(in.Name) == "" {
		return invalid("contact name is required")
	}
	return nil
}

func (p ContactPatch) validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return invalid("contact name cannot be blank")
	}
	return nil
}

// apply writes the present fields of p onto l; used to patch published state
func (p LeadPatch) apply(l *Lead) {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Email != nil {
		l.Email = *p.Email
	}
	if p.Phone != nil {
		l.Phone = *p.Phone
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.StageID != nil {
		l.StageID = *p.StageID
	}
	if p.PipelineID != nil {
		l.PipelineID = *p.PipelineID
	}
	if p.AssignedTo != nil {
		l.AssignedTo = *p.AssignedTo
	}
	if p.CustomFields != nil {
		l.CustomFields = p.CustomFields.Clone()
	}
}

func (p ContactPatch) apply(c *Contact) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.Designation != nil {
		c.Designation = *p.Designation
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
}
