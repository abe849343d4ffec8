package sweep

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/warden-labs/warden/internal/antinuke"
	"github.com/warden-labs/warden/internal/platform"
)

const (
	defaultInterval = 2 * time.Minute
	scanDepth       = 50
)

// kvStore remembers the newest audit entry already fed to the detector per
// action type, so restarts and overlapping sweeps do not double-count.
type kvStore interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}

// Sweep periodically re-scans the audit log for structural actions the
// gateway path missed and feeds them to the anti-nuke detector. It shares the
// detector's keyed state with the foreground dispatcher; the detector's own
// locks make the two safe to interleave.
type Sweep struct {
	detector antinuke.Detector
	actions  platform.Actions
	audit    platform.AuditLog
	kv       kvStore
	guildID  string
	interval time.Duration

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func New(detector antinuke.Detector, actions platform.Actions, audit platform.AuditLog, kv kvStore, guildID string) *Sweep {
	return &Sweep{
		detector: detector,
		actions:  actions,
		audit:    audit,
		kv:       kv,
		guildID:  guildID,
		interval: defaultInterval,
	}
}

func (s *Sweep) SetInterval(interval time.Duration) {
	s.interval = interval
}

func (s *Sweep) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.scanOnce(runCtx); err != nil && runCtx.Err() == nil {
					log.WithError(err).Error("audit sweep failed")
				}
			}
		}
	}()

	s.started = true
	return nil
}

func (s *Sweep) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Sweep) scanOnce(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, actionType := range antinuke.TrackedActions {
		actionType := actionType
		group.Go(func() error {
			return s.scanType(groupCtx, actionType)
		})
	}
	return group.Wait()
}

func (s *Sweep) scanType(ctx context.Context, actionType antinuke.ActionType) error {
	entries, err := s.audit.RecentEntries(ctx, s.guildID, string(actionType), scanDepth)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	key := "sweep_last_seen_" + string(actionType)
	lastSeen, err := s.kv.GetKV(ctx, key)
	if err != nil {
		log.WithError(err).WithField("type", actionType).Error("cant load sweep cursor")
	}
	var cursor time.Time
	if lastSeen != "" {
		if parsed, parseErr := time.Parse(time.RFC3339, lastSeen); parseErr == nil {
			cursor = parsed
		}
	}

	newest := cursor
	// Entries arrive newest first; walk oldest first so the cursor only moves
	// past entries that were actually tracked.
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if !entry.CreatedAt.After(cursor) {
			continue
		}
		actor, memberErr := s.actions.Member(ctx, s.guildID, entry.ActorID)
		if memberErr != nil {
			log.WithError(memberErr).WithField("actor", entry.ActorID).
				Debug("cant snapshot audit actor, skipping entry")
			continue
		}
		s.detector.Track(ctx, s.guildID, *actor, actionType, "audit sweep, target "+entry.TargetID)
		if entry.CreatedAt.After(newest) {
			newest = entry.CreatedAt
		}
	}

	if newest.After(cursor) {
		if err := s.kv.SetKV(ctx, key, newest.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}
