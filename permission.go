package storage

/*
	Evaluate decides whether identity may take action on lead. lead may be nil when the
	action has no record context (e.g. create, or a generic "can view leads" check).

	Contacts have no ACL of their own: pass the contact's owning lead.
*/
func Evaluate(identity *Identity, action Action, lead *Lead) bool {
	if identity == nil {
		return false
	}

	switch identity.Role {
	case RoleAdmin:
		return true

	case RoleManager:
		switch action {
		case ActionView, ActionCreate, ActionEdit, ActionDelete:
			return true
		}
		return false

	case RoleSalesRep:
		switch action {
		case ActionView:
			return lead == nil || owns(identity, lead)
		case ActionCreate:
			return true
		case ActionEdit, ActionDelete:
			return lead != nil && owns(identity, lead)
		}
		return false
	}

	return false
}

// owns is true when the lead is assigned to or was created by the identity
func owns(identity *Identity, lead *Lead) bool {
	if identity.ID == "" {
		return false
	}
	return lead.AssignedTo == identity.ID || lead.CreatedBy == identity.ID
}
