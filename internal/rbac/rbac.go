// Package rbac collapses the per-route role checks into one capability
// function: every service entry point asks Allowed(actor, action, scope)
// before touching anything else.
package rbac

type Role string
type Action string

const (
	RoleMember     Role = "member"
	RoleTeamLead   Role = "team_lead"
	RoleOrgAdmin   Role = "org_admin"
	RoleSuperAdmin Role = "super_admin"
)

const (
	// ActionConverse covers creating, answering, and completing one's own
	// conversations, and reading one's own history, results, and plans.
	ActionConverse Action = "converse"
	// ActionViewInsight covers reading aggregated org/team insights.
	ActionViewInsight Action = "view_insight"
	// ActionManageOverrides covers changing theme visibility overrides.
	ActionManageOverrides Action = "manage_overrides"
)

// Actor is the authenticated caller.
type Actor struct {
	MemberID string
	OrgID    string
	TeamID   *string
	Role     Role
}

// Scope is what the caller is trying to touch.
type Scope struct {
	OrgID    string
	TeamID   *string
	MemberID string
}

// Normalize maps unknown role strings to the least-privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleTeamLead, RoleOrgAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// Allowed decides whether the actor may perform action on scope, and returns
// a short denial reason when it may not.
func Allowed(actor Actor, action Action, scope Scope) (bool, string) {
	if actor.Role == RoleSuperAdmin {
		return true, ""
	}
	if scope.OrgID != "" && scope.OrgID != actor.OrgID {
		return false, "scope belongs to another organization"
	}

	switch action {
	case ActionConverse:
		if scope.MemberID != "" && scope.MemberID != actor.MemberID {
			return false, "conversations are private to their member"
		}
		return true, ""

	case ActionViewInsight:
		if scope.TeamID == nil {
			// Org-wide aggregates are quorum-gated and anonymized, so any
			// member of the org may read them.
			return true, ""
		}
		if actor.Role == RoleOrgAdmin {
			return true, ""
		}
		if actor.TeamID != nil && *actor.TeamID == *scope.TeamID {
			return true, ""
		}
		return false, "team insight requires membership of that team"

	case ActionManageOverrides:
		if actor.Role == RoleOrgAdmin {
			return true, ""
		}
		return false, "override management requires an org admin"
	}
	return false, "unknown action"
}
