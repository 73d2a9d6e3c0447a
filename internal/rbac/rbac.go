package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleStaff       Role = "staff"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionDraft   Action = "draft"
	ActionComment Action = "comment"
	ActionApprove Action = "approve"
	ActionEndorse Action = "endorse"
	ActionManage  Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return action != ActionManage
	case RoleContributor:
		return action == ActionRead || action == ActionDraft || action == ActionComment || action == ActionApprove
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContributor, RoleStaff, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// IsStaff reports whether the role carries glossary-wide editorial authority.
func IsStaff(role Role) bool {
	return role == RoleStaff || role == RoleAdmin
}
