package dispatch

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/warden-labs/warden/internal/antinuke"
	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/moderation"
	"github.com/warden-labs/warden/internal/observability"
	"github.com/warden-labs/warden/internal/platform"
	"github.com/warden-labs/warden/internal/policy/privileges"
)

const (
	// How far apart a gateway event and its audit entry may sit and still be
	// treated as the same action.
	attributionTolerance = 90 * time.Second
	attributionAttempts  = 3
	attributionBackoff   = 700 * time.Millisecond
	attributionScanDepth = 25
)

// Command is one inbound moderation request already shape-checked by the
// platform layer.
type Command struct {
	GuildID   string
	Moderator platform.Member
	TargetID  string
	Action    moderation.Action
	Reason    string
	Until     time.Time
}

// Result reports the dispatch outcome back to the command layer.
type Result struct {
	Allowed   bool
	Reason    string
	Escalated bool
}

type Dispatcher struct {
	limiter   moderation.RateLimiter
	escalator moderation.Escalator
	detector  antinuke.Detector
	actions   platform.Actions
	audit     platform.AuditLog
	roles     config.Roles
	now       func() time.Time
	sleep     func(time.Duration)
}

func NewDispatcher(
	limiter moderation.RateLimiter,
	escalator moderation.Escalator,
	detector antinuke.Detector,
	actions platform.Actions,
	audit platform.AuditLog,
	roles config.Roles,
) *Dispatcher {
	return &Dispatcher{
		limiter:   limiter,
		escalator: escalator,
		detector:  detector,
		actions:   actions,
		audit:     audit,
		roles:     roles,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// HandleCommand runs the rate-limit gate and, when allowed, performs the
// platform action. Recording happens before the attempt so a failed attempt
// still counts against the moderator's limit.
func (d *Dispatcher) HandleCommand(ctx context.Context, cmd Command) Result {
	done := observability.StartDispatch()

	// Directors and the owner bypass the limiter entirely: neither check nor
	// record is invoked for them.
	if privileges.Resolve(cmd.Moderator, d.roles) >= privileges.LevelDirector {
		if err := d.perform(ctx, cmd); err != nil {
			done("platform_error")
			return Result{Allowed: true, Reason: err.Error()}
		}
		done("allowed")
		return Result{Allowed: true}
	}

	decision := d.limiter.Check(ctx, cmd.Moderator.ID, cmd.Action)
	if !decision.Allowed {
		observability.Logger.Warn("moderation command denied",
			zap.String("moderator", cmd.Moderator.ID),
			zap.String("action", string(cmd.Action)),
			zap.Bool("escalated", decision.Escalate),
		)
		if decision.Escalate {
			if err := d.escalator.AutoQuarantine(ctx, cmd.GuildID, cmd.Moderator, ""); err != nil &&
				err != moderation.ErrAlreadyQuarantined {
				log.WithError(err).WithField("moderator", cmd.Moderator.ID).
					Error("cant escalate rate-limited moderator")
			}
		}
		done("denied")
		return Result{Allowed: false, Reason: decision.Reason, Escalated: decision.Escalate}
	}

	d.limiter.Record(ctx, cmd.Moderator.ID, cmd.Action)
	if err := d.perform(ctx, cmd); err != nil {
		log.WithError(err).WithFields(log.Fields{"action": cmd.Action, "target": cmd.TargetID}).
			Error("platform action failed")
		done("platform_error")
		return Result{Allowed: true, Reason: err.Error()}
	}
	done("allowed")
	return Result{Allowed: true}
}

func (d *Dispatcher) perform(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case moderation.ActionBan:
		return d.actions.BanUser(ctx, cmd.GuildID, cmd.TargetID, cmd.Reason)
	case moderation.ActionKick:
		return d.actions.KickUser(ctx, cmd.GuildID, cmd.TargetID, cmd.Reason)
	case moderation.ActionTimeout:
		return d.actions.TimeoutUser(ctx, cmd.GuildID, cmd.TargetID, cmd.Until, cmd.Reason)
	case moderation.ActionQuarantine:
		target, err := d.actions.Member(ctx, cmd.GuildID, cmd.TargetID)
		if err != nil {
			return err
		}
		return d.escalator.ManualQuarantine(ctx, cmd.GuildID, cmd.Moderator, *target, cmd.Reason)
	}
	return nil
}

// HandleStructuralEvent attributes a channel/role mutation to an actor via
// the audit log and feeds the detector. Events that cannot be attributed are
// dropped without tracking.
func (d *Dispatcher) HandleStructuralEvent(ctx context.Context, ev platform.StructuralEvent) {
	actorID, ok := d.attribute(ctx, ev)
	if !ok {
		log.WithFields(log.Fields{"type": ev.ActionType, "target": ev.TargetID}).
			Debug("structural event without audit attribution, dropping")
		return
	}

	actor, err := d.actions.Member(ctx, ev.GuildID, actorID)
	if err != nil {
		log.WithError(err).WithField("actor", actorID).Error("cant snapshot structural actor")
		return
	}

	d.detector.Track(ctx, ev.GuildID, *actor, antinuke.ActionType(ev.ActionType), "target "+ev.TargetID)
}

// attribute scans recent audit entries for one matching the event's target,
// retrying briefly while the platform audit log catches up.
func (d *Dispatcher) attribute(ctx context.Context, ev platform.StructuralEvent) (string, bool) {
	for attempt := 0; attempt < attributionAttempts; attempt++ {
		if attempt > 0 {
			d.sleep(attributionBackoff)
		}
		entries, err := d.audit.RecentEntries(ctx, ev.GuildID, ev.ActionType, attributionScanDepth)
		if err != nil {
			log.WithError(err).Debug("audit log fetch failed")
			continue
		}
		for _, entry := range entries {
			if entry.TargetID != ev.TargetID {
				continue
			}
			delta := ev.OccurredAt.Sub(entry.CreatedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= attributionTolerance {
				return entry.ActorID, true
			}
		}
	}
	return "", false
}
