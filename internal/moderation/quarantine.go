package moderation

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/db"
	"github.com/warden-labs/warden/internal/observability"
	"github.com/warden-labs/warden/internal/platform"
	"github.com/warden-labs/warden/internal/policy/privileges"
)

const (
	// SystemActorID attributes escalations triggered by warden itself.
	SystemActorID = "warden"

	autoQuarantineReason = "automatic quarantine: exceeded own moderation limits"

	caseKindAutoQuarantine   = "auto_quarantine"
	caseKindManualQuarantine = "manual_quarantine"
	caseKindUnquarantine     = "unquarantine"
)

// RestoreResult reports the outcome of an unquarantine: how many saved roles
// were re-added, how many no longer existed and were skipped, and how many
// still exist but could not be re-added because the platform call failed.
type RestoreResult struct {
	Restored int
	Missing  int
	Failed   int
}

type Escalator interface {
	AutoQuarantine(ctx context.Context, guildID string, actor platform.Member, reason string) error
	ManualQuarantine(ctx context.Context, guildID string, moderator, target platform.Member, reason string) error
	Unquarantine(ctx context.Context, guildID string, moderator platform.Member, targetID string) (*RestoreResult, error)
}

type quarantineStore interface {
	GetQuarantine(ctx context.Context, actorID string) (*db.QuarantineRecord, error)
	PutQuarantine(ctx context.Context, record *db.QuarantineRecord) error
	DeleteQuarantine(ctx context.Context, actorID string) error
	AddAuditCase(ctx context.Context, auditCase *db.AuditCase) error
}

type defaultEscalator struct {
	store   quarantineStore
	actions platform.Actions
	roles   config.Roles
	now     func() time.Time
}

func NewEscalator(store quarantineStore, actions platform.Actions, roles config.Roles) Escalator {
	return &defaultEscalator{
		store:   store,
		actions: actions,
		roles:   roles,
		now:     time.Now,
	}
}

// AutoQuarantine strips the actor's roles and grants the quarantine role,
// persisting the saved-role snapshot before any platform call. An actor that
// is already quarantined is left untouched: the first snapshot stays
// authoritative.
func (e *defaultEscalator) AutoQuarantine(ctx context.Context, guildID string, actor platform.Member, reason string) error {
	if e.roles.QuarantineRoleID == "" {
		return ErrConfigMissing
	}
	existing, err := e.store.GetQuarantine(ctx, actor.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyQuarantined
	}
	if reason == "" {
		reason = autoQuarantineReason
	}
	return e.apply(ctx, guildID, actor, SystemActorID, reason, caseKindAutoQuarantine)
}

func (e *defaultEscalator) ManualQuarantine(ctx context.Context, guildID string, moderator, target platform.Member, reason string) error {
	if e.roles.QuarantineRoleID == "" {
		return ErrConfigMissing
	}
	if moderator.ID == target.ID {
		return ErrSelfTarget
	}
	if !moderator.IsOwner && target.TopRolePosition >= moderator.TopRolePosition {
		return ErrHierarchy
	}
	existing, err := e.store.GetQuarantine(ctx, target.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyQuarantined
	}
	return e.apply(ctx, guildID, target, moderator.ID, reason, caseKindManualQuarantine)
}

func (e *defaultEscalator) apply(ctx context.Context, guildID string, target platform.Member, byID, reason, kind string) error {
	saved := make([]string, 0, len(target.RoleIDs))
	for _, roleID := range target.RoleIDs {
		if roleID == e.roles.BaseRoleID || roleID == e.roles.QuarantineRoleID {
			continue
		}
		saved = append(saved, roleID)
	}

	record := &db.QuarantineRecord{
		ActorID:       target.ID,
		GuildID:       guildID,
		SavedRoleIDs:  saved,
		QuarantinedAt: e.now().UTC(),
		QuarantinedBy: byID,
		Reason:        reason,
	}
	// The record is written before the platform calls: if stripping roles
	// fails halfway, the snapshot of intent must already be durable.
	if err := e.store.PutQuarantine(ctx, record); err != nil {
		return err
	}

	var platformErr error
	for _, roleID := range saved {
		if err := e.actions.RemoveRole(ctx, guildID, target.ID, roleID); err != nil {
			log.WithError(err).WithFields(log.Fields{"target": target.ID, "role": roleID}).
				Error("cant remove role during quarantine")
			platformErr = err
		}
	}
	if err := e.actions.AddRole(ctx, guildID, target.ID, e.roles.QuarantineRoleID); err != nil {
		log.WithError(err).WithField("target", target.ID).Error("cant grant quarantine role")
		platformErr = err
	}

	e.recordCase(ctx, &db.AuditCase{
		ID:        uuid.New(),
		GuildID:   guildID,
		ActorID:   target.ID,
		Kind:      kind,
		Reason:    reason,
		RolesKept: len(saved),
		CreatedAt: e.now().UTC(),
	})
	observability.RecordQuarantine(kind)

	if platformErr != nil {
		// Bookkeeping stays in place; the caller decides whether to retry the
		// platform side.
		return ErrPlatformFailure
	}
	return nil
}

// Unquarantine restores the saved role set. Roles deleted since the snapshot
// are skipped and counted, never fatal.
func (e *defaultEscalator) Unquarantine(ctx context.Context, guildID string, moderator platform.Member, targetID string) (*RestoreResult, error) {
	// Stricter gate than quarantining: release requires director level.
	if privileges.Resolve(moderator, e.roles) < privileges.LevelDirector {
		return nil, ErrPolicyDenied
	}
	record, err := e.store.GetQuarantine(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotQuarantined
	}

	existing, err := e.actions.GuildRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	alive := make(map[string]struct{}, len(existing))
	for _, role := range existing {
		alive[role.ID] = struct{}{}
	}

	if err := e.actions.RemoveRole(ctx, guildID, targetID, e.roles.QuarantineRoleID); err != nil {
		return nil, err
	}

	result := &RestoreResult{}
	for _, roleID := range record.SavedRoleIDs {
		if _, ok := alive[roleID]; !ok {
			result.Missing++
			continue
		}
		if err := e.actions.AddRole(ctx, guildID, targetID, roleID); err != nil {
			log.WithError(err).WithFields(log.Fields{"target": targetID, "role": roleID}).
				Error("cant restore role")
			result.Failed++
			continue
		}
		result.Restored++
	}

	if err := e.store.DeleteQuarantine(ctx, targetID); err != nil {
		return result, err
	}

	e.recordCase(ctx, &db.AuditCase{
		ID:        uuid.New(),
		GuildID:   guildID,
		ActorID:   targetID,
		Kind:      caseKindUnquarantine,
		Reason:    "released by " + moderator.ID,
		RolesKept: result.Restored,
		CreatedAt: e.now().UTC(),
	})
	observability.RecordQuarantine(caseKindUnquarantine)
	return result, nil
}

func (e *defaultEscalator) recordCase(ctx context.Context, auditCase *db.AuditCase) {
	if err := e.store.AddAuditCase(ctx, auditCase); err != nil {
		log.WithError(err).WithField("case", auditCase.Kind).Error("cant record audit case")
	}
}
