package platform

import (
	"context"
	"time"
)

// Member is a point-in-time snapshot of an actor's standing in a guild,
// captured by the adapter before the core is invoked. The core never fetches
// members itself.
type Member struct {
	ID              string
	Username        string
	RoleIDs         []string
	TopRolePosition int
	IsOwner         bool
	IsBot           bool
}

func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

func (m Member) HasAnyRole(roleIDs []string) bool {
	for _, id := range roleIDs {
		if m.HasRole(id) {
			return true
		}
	}
	return false
}

type Role struct {
	ID       string
	Name     string
	Position int
}

// AuditEntry is one attributed privileged action from the platform audit log,
// used to correlate structural events back to the actor that caused them.
type AuditEntry struct {
	ActorID    string
	ActionType string
	TargetID   string
	CreatedAt  time.Time
}

// StructuralEvent is an unattributed channel/role mutation observed on the
// gateway. The actor is resolved later through the audit log.
type StructuralEvent struct {
	GuildID    string
	ActionType string
	TargetID   string
	OccurredAt time.Time
}

// Actions is the platform mutation surface consumed by the core. All network
// I/O lives behind it; the core only decides whether and what to call.
type Actions interface {
	BanUser(ctx context.Context, guildID, userID, reason string) error
	KickUser(ctx context.Context, guildID, userID, reason string) error
	TimeoutUser(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	GuildRoles(ctx context.Context, guildID string) ([]Role, error)
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	SendMessage(ctx context.Context, channelID, text string) error
}

// AuditLog queries the most recent privileged-action entries of a guild,
// newest first.
type AuditLog interface {
	RecentEntries(ctx context.Context, guildID, actionType string, limit int) ([]AuditEntry, error)
}
