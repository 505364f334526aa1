package muc

// AssignableRoles returns the roles the given occupant may assign to
// other occupants. Only moderators may assign roles; the configured
// disable set is subtracted from the full role set.
func AssignableRoles(o *Occupant, disabled RoleSet) []Role {
	if o == nil || o.Role != RoleModerator {
		return nil
	}
	out := make([]Role, 0, len(allRoles))
	for _, r := range allRoles {
		if disabled.Contains(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// AssignableRolesFor applies the service's configured disable set
func (s *Service) AssignableRolesFor(o *Occupant) []Role {
	return AssignableRoles(o, s.settings.DisabledRoles)
}
