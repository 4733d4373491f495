package permission

import (
	"collab-sync-server/internal/domain"
)

// ResolveRole determines the user's role on a document. Ownership wins over
// any collaborator entry; absent from both means no access. Pure function,
// callers must re-resolve whenever the collaborator list changes.
func ResolveRole(userID uint64, meta *domain.DocumentMetadata) domain.Role {
	if meta == nil {
		return domain.RoleNone
	}
	if meta.OwnerID == userID {
		return domain.RoleOwner
	}
	for _, c := range meta.Collaborators {
		if c.UserID == userID {
			return c.Role
		}
	}
	return domain.RoleNone
}

func CanView(role domain.Role) bool {
	return role == domain.RoleOwner || role == domain.RoleEditor || role == domain.RoleViewer
}

func CanEdit(role domain.Role) bool {
	return role == domain.RoleOwner || role == domain.RoleEditor
}

func CanManage(role domain.Role) bool {
	return role == domain.RoleOwner
}

func CanDelete(role domain.Role) bool {
	return role == domain.RoleOwner
}
