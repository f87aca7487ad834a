package rbac

type Role string
type Action string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionPost     Action = "post"
	ActionComment  Action = "comment"
	ActionLike     Action = "like"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action != ActionAdmin
	case RoleMember:
		return action == ActionRead || action == ActionPost || action == ActionComment || action == ActionLike
	default:
		return action == ActionRead
	}
}

// CanModifyPost reports whether actorID may edit or delete a post owned by
// authorID. Members only touch their own posts.
func CanModifyPost(role Role, actorID, authorID string) bool {
	if actorID == "" {
		return false
	}
	if actorID == authorID && Can(role, ActionPost) {
		return true
	}
	return Can(role, ActionModerate)
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
