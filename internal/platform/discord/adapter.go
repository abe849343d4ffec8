package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"github.com/warden-labs/warden/internal/platform"
)

// auditActions maps structural action-type names to platform audit-log action
// codes.
var auditActions = map[string]discordgo.AuditLogAction{
	"channel_create": discordgo.AuditLogActionChannelCreate,
	"channel_update": discordgo.AuditLogActionChannelUpdate,
	"channel_delete": discordgo.AuditLogActionChannelDelete,
	"role_create":    discordgo.AuditLogActionRoleCreate,
	"role_update":    discordgo.AuditLogActionRoleUpdate,
	"role_delete":    discordgo.AuditLogActionRoleDelete,
}

// Adapter implements platform.Actions and platform.AuditLog over a gateway
// session and forwards structural gateway events to an injected handler.
type Adapter struct {
	session      *discordgo.Session
	onStructural func(platform.StructuralEvent)
}

func NewAdapter(token string) (*Adapter, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentGuildModeration
	return &Adapter{session: session}, nil
}

// OnStructural registers the structural-event sink. Must be called before
// Start.
func (a *Adapter) OnStructural(handler func(platform.StructuralEvent)) {
	a.onStructural = handler
}

func (a *Adapter) Start(ctx context.Context) error {
	_ = ctx
	a.registerHandlers()
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	_ = ctx
	return a.session.Close()
}

func (a *Adapter) registerHandlers() {
	a.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelCreate) {
		a.forward(e.GuildID, "channel_create", e.ID)
	})
	a.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelUpdate) {
		a.forward(e.GuildID, "channel_update", e.ID)
	})
	a.session.AddHandler(func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
		a.forward(e.GuildID, "channel_delete", e.ID)
	})
	a.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleCreate) {
		a.forward(e.GuildID, "role_create", e.Role.ID)
	})
	a.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleUpdate) {
		a.forward(e.GuildID, "role_update", e.Role.ID)
	})
	a.session.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildRoleDelete) {
		a.forward(e.GuildID, "role_delete", e.RoleID)
	})
}

func (a *Adapter) forward(guildID, actionType, targetID string) {
	if a.onStructural == nil {
		return
	}
	a.onStructural(platform.StructuralEvent{
		GuildID:    guildID,
		ActionType: actionType,
		TargetID:   targetID,
		OccurredAt: time.Now().UTC(),
	})
}

func (a *Adapter) BanUser(ctx context.Context, guildID, userID, reason string) error {
	return a.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (a *Adapter) KickUser(ctx context.Context, guildID, userID, reason string) error {
	return a.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (a *Adapter) TimeoutUser(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	_ = reason // the timeout endpoint carries no reason field
	return a.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx))
}

func (a *Adapter) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return a.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (a *Adapter) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return a.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

func (a *Adapter) GuildRoles(ctx context.Context, guildID string) ([]platform.Role, error) {
	roles, err := a.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch guild roles: %w", err)
	}
	out := make([]platform.Role, 0, len(roles))
	for _, role := range roles {
		out = append(out, platform.Role{ID: role.ID, Name: role.Name, Position: role.Position})
	}
	return out, nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	member, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch member: %w", err)
	}
	guild, err := a.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch guild: %w", err)
	}

	positions := map[string]int{}
	roles, err := a.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		log.WithError(err).Debug("cant fetch roles for position lookup")
	} else {
		for _, role := range roles {
			positions[role.ID] = role.Position
		}
	}

	top := 0
	for _, roleID := range member.Roles {
		if pos, ok := positions[roleID]; ok && pos > top {
			top = pos
		}
	}

	snapshot := &platform.Member{
		ID:              member.User.ID,
		Username:        member.User.Username,
		RoleIDs:         append([]string(nil), member.Roles...),
		TopRolePosition: top,
		IsOwner:         guild.OwnerID == member.User.ID,
		IsBot:           member.User.Bot,
	}
	return snapshot, nil
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, text string) error {
	_, err := a.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) RecentEntries(ctx context.Context, guildID, actionType string, limit int) ([]platform.AuditEntry, error) {
	code, ok := auditActions[actionType]
	if !ok {
		return nil, fmt.Errorf("unknown audit action type %q", actionType)
	}
	auditLog, err := a.session.GuildAuditLog(guildID, "", "", int(code), limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch audit log: %w", err)
	}

	entries := make([]platform.AuditEntry, 0, len(auditLog.AuditLogEntries))
	for _, entry := range auditLog.AuditLogEntries {
		createdAt, tsErr := discordgo.SnowflakeTimestamp(entry.ID)
		if tsErr != nil {
			continue
		}
		entries = append(entries, platform.AuditEntry{
			ActorID:    entry.UserID,
			ActionType: actionType,
			TargetID:   entry.TargetID,
			CreatedAt:  createdAt,
		})
	}
	return entries, nil
}
