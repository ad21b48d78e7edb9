package setlist

// RoleSource resolves the role a user holds on a setlist. Unknown
// pairs must resolve to RoleNone.
type RoleSource func(setlistID, userID string) Role

// Gate evaluates role-based capability checks. It is a pure
// predicate: no side effects, never an error, a denied check simply
// returns false.
type Gate struct {
	Roles RoleSource
}

// CanPerform reports whether userID may perform op on the setlist.
func (g Gate) CanPerform(setlistID, userID string, op Operation) bool {
	role := RoleNone
	if g.Roles != nil {
		role = g.Roles(setlistID, userID)
	}
	return role.Can(op)
}

// Can is the rule table. Owners may do everything including share;
// editors everything except share; commenters only comment.
func (r Role) Can(op Operation) bool {
	switch r {
	case RoleOwner:
		return true
	case RoleEditor:
		return op != OpShare
	case RoleCommenter:
		return op == OpComment
	}
	return false
}
