package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/db"
	"github.com/warden-labs/warden/internal/observability"
	"github.com/warden-labs/warden/internal/window"
)

type Action string

const (
	ActionBan        Action = "ban"
	ActionKick       Action = "kick"
	ActionTimeout    Action = "timeout"
	ActionQuarantine Action = "quarantine"

	// categorySevere aggregates ban and kick events under one combined limit.
	categorySevere = "severe"
)

// Decision is the outcome of a rate-limit check. Escalate instructs the caller
// to quarantine the actor: the combined severe limit was exceeded, which is the
// signature of a moderator going rogue rather than ordinary over-use.
type Decision struct {
	Allowed  bool
	Reason   string
	Escalate bool
}

type RateLimiter interface {
	Check(ctx context.Context, actorID string, action Action) Decision
	Record(ctx context.Context, actorID string, action Action)
}

type bucketStore interface {
	GetBucket(ctx context.Context, actorID, category string) (*db.BucketRecord, error)
	SaveBucket(ctx context.Context, record *db.BucketRecord) error
}

type actorBuckets map[string]*window.Bucket

type defaultRateLimiter struct {
	store  bucketStore
	limits config.RateLimits
	now    func() time.Time

	mapMutex sync.Mutex
	actors   map[string]actorBuckets
	locks    map[string]*sync.Mutex
}

func NewRateLimiter(store bucketStore, limits config.RateLimits) RateLimiter {
	return &defaultRateLimiter{
		store:  store,
		limits: limits,
		now:    time.Now,
		actors: map[string]actorBuckets{},
		locks:  map[string]*sync.Mutex{},
	}
}

// lockFor serializes check-then-record per actor, so two concurrent attempts
// by the same moderator cannot both read the last free slot.
func (l *defaultRateLimiter) lockFor(actorID string) *sync.Mutex {
	l.mapMutex.Lock()
	defer l.mapMutex.Unlock()
	mu, ok := l.locks[actorID]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[actorID] = mu
	}
	return mu
}

func (l *defaultRateLimiter) buckets(ctx context.Context, actorID string) actorBuckets {
	l.mapMutex.Lock()
	buckets, ok := l.actors[actorID]
	l.mapMutex.Unlock()
	if ok {
		return buckets
	}

	buckets = actorBuckets{}
	for _, category := range []string{string(ActionBan), string(ActionKick), string(ActionTimeout), categorySevere} {
		bucket := &window.Bucket{}
		record, err := l.store.GetBucket(ctx, actorID, category)
		if err != nil {
			log.WithError(err).WithField("actor", actorID).Error("cant load rate bucket, starting empty")
		} else if record != nil {
			bucket.Hourly = record.Hourly
			bucket.Daily = record.Daily
		}
		buckets[category] = bucket
	}

	l.mapMutex.Lock()
	l.actors[actorID] = buckets
	l.mapMutex.Unlock()
	return buckets
}

func (l *defaultRateLimiter) Check(ctx context.Context, actorID string, action Action) Decision {
	mu := l.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()
	return l.checkLocked(ctx, actorID, action)
}

func (l *defaultRateLimiter) checkLocked(ctx context.Context, actorID string, action Action) Decision {
	now := l.now()
	buckets := l.buckets(ctx, actorID)
	for _, bucket := range buckets {
		bucket.Prune(now)
	}

	severe := buckets[categorySevere]
	// The combined limit is evaluated first: an actor near the severe cap is
	// blocked even when the per-action count alone would pass.
	if severe.CountHourly() >= l.limits.SevereHourly {
		return l.deny(actorID, action, true,
			fmt.Sprintf("severe action hourly limit reached (%d/h)", l.limits.SevereHourly))
	}
	if severe.CountDaily() >= l.limits.SevereDaily {
		return l.deny(actorID, action, true,
			fmt.Sprintf("severe action daily limit reached (%d/24h)", l.limits.SevereDaily))
	}

	switch action {
	case ActionBan:
		bucket := buckets[string(ActionBan)]
		if bucket.CountHourly() >= l.limits.BanHourly {
			return l.deny(actorID, action, false,
				fmt.Sprintf("ban hourly limit reached (%d/h)", l.limits.BanHourly))
		}
		if bucket.CountDaily() >= l.limits.BanDaily {
			return l.deny(actorID, action, false,
				fmt.Sprintf("ban daily limit reached (%d/24h)", l.limits.BanDaily))
		}
	case ActionKick:
		bucket := buckets[string(ActionKick)]
		if bucket.CountHourly() >= l.limits.KickHourly {
			return l.deny(actorID, action, false,
				fmt.Sprintf("kick hourly limit reached (%d/h)", l.limits.KickHourly))
		}
		if bucket.CountDaily() >= l.limits.KickDaily {
			return l.deny(actorID, action, false,
				fmt.Sprintf("kick daily limit reached (%d/24h)", l.limits.KickDaily))
		}
	}

	observability.RecordModerationDecision(string(action), "allowed")
	return Decision{Allowed: true}
}

func (l *defaultRateLimiter) deny(actorID string, action Action, severe bool, reason string) Decision {
	observability.RecordModerationDecision(string(action), "denied")
	log.WithFields(log.Fields{"actor": actorID, "action": action, "reason": reason}).
		Warn("moderation action denied")
	return Decision{Allowed: false, Reason: reason, Escalate: severe}
}

// Record books the action before the platform call is attempted. A partial
// failure still counts against the limit, so a moderator cannot retry-storm
// a flaky action past its cap.
func (l *defaultRateLimiter) Record(ctx context.Context, actorID string, action Action) {
	mu := l.lockFor(actorID)
	mu.Lock()
	defer mu.Unlock()
	l.recordLocked(ctx, actorID, action)
}

func (l *defaultRateLimiter) recordLocked(ctx context.Context, actorID string, action Action) {
	now := l.now()
	buckets := l.buckets(ctx, actorID)

	switch action {
	case ActionBan, ActionKick:
		buckets[categorySevere].Add(now)
		buckets[string(action)].Add(now)
		l.persist(ctx, actorID, categorySevere, buckets[categorySevere])
		l.persist(ctx, actorID, string(action), buckets[string(action)])
	case ActionTimeout:
		// Tracked as escalation input only, no dedicated hard limit.
		buckets[string(ActionTimeout)].Add(now)
		l.persist(ctx, actorID, string(ActionTimeout), buckets[string(ActionTimeout)])
	}
}

func (l *defaultRateLimiter) persist(ctx context.Context, actorID, category string, bucket *window.Bucket) {
	record := &db.BucketRecord{
		ActorID:  actorID,
		Category: category,
		Hourly:   db.TimeList(bucket.Hourly),
		Daily:    db.TimeList(bucket.Daily),
	}
	if err := l.store.SaveBucket(ctx, record); err != nil {
		log.WithError(err).WithFields(log.Fields{"actor": actorID, "category": category}).
			Error("cant persist rate bucket")
	}
}
