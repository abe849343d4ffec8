package privileges

import (
	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/platform"
)

// Level is an actor's privilege tier, derived once per actor from its role
// set and compared with ordinary operators instead of per-call-site role
// checks.
type Level int

const (
	LevelMember Level = iota
	LevelModerator
	LevelDirector
	LevelOwner
)

func (l Level) String() string {
	switch l {
	case LevelOwner:
		return "owner"
	case LevelDirector:
		return "director"
	case LevelModerator:
		return "moderator"
	default:
		return "member"
	}
}

func Resolve(member platform.Member, roles config.Roles) Level {
	if member.IsOwner || (roles.OwnerID != "" && member.ID == roles.OwnerID) {
		return LevelOwner
	}
	if member.HasAnyRole(roles.DirectorRoleIDs) {
		return LevelDirector
	}
	if member.HasAnyRole(roles.ModeratorRoleIDs) {
		return LevelModerator
	}
	return LevelMember
}

// IsExempt reports whether the actor is outside anti-nuke tracking entirely:
// the configured owner identity or any holder of an exempt role.
func IsExempt(member platform.Member, roles config.Roles) bool {
	if member.IsOwner || (roles.OwnerID != "" && member.ID == roles.OwnerID) {
		return true
	}
	return member.HasAnyRole(roles.ExemptRoleIDs) || member.HasAnyRole(roles.DirectorRoleIDs)
}
