package moderation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/db"
)

type memBucketStore struct {
	mu      sync.Mutex
	records map[string]*db.BucketRecord
}

func newMemBucketStore() *memBucketStore {
	return &memBucketStore{records: map[string]*db.BucketRecord{}}
}

func (s *memBucketStore) key(actorID, category string) string {
	return actorID + "/" + category
}

func (s *memBucketStore) GetBucket(_ context.Context, actorID, category string) (*db.BucketRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[s.key(actorID, category)], nil
}

func (s *memBucketStore) SaveBucket(_ context.Context, record *db.BucketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.key(record.ActorID, record.Category)] = record
	return nil
}

func defaultTestLimits() config.RateLimits {
	return config.RateLimits{
		SevereHourly: 4, SevereDaily: 8,
		BanHourly: 2, BanDaily: 4,
		KickHourly: 3, KickDaily: 6,
	}
}

func newTestLimiter(t *testing.T) (*defaultRateLimiter, *time.Time) {
	t.Helper()
	limiter, ok := NewRateLimiter(newMemBucketStore(), defaultTestLimits()).(*defaultRateLimiter)
	if !ok {
		t.Fatalf("unexpected limiter type")
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestCheckAllowsWithinLimits(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	decision := limiter.Check(ctx, "mod", ActionBan)
	if !decision.Allowed {
		t.Fatalf("expected fresh actor to be allowed, got %q", decision.Reason)
	}
}

func TestBanHourlyLimitDenies(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	limiter.Record(ctx, "mod", ActionBan)
	limiter.Record(ctx, "mod", ActionBan)

	decision := limiter.Check(ctx, "mod", ActionBan)
	if decision.Allowed {
		t.Fatalf("expected third ban within the hour to be denied")
	}
	if !strings.Contains(decision.Reason, "ban hourly") {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}
	if decision.Escalate {
		t.Fatalf("per-action denial must not escalate")
	}

	// Kicks are unaffected by the ban limit while severe headroom remains.
	if kick := limiter.Check(ctx, "mod", ActionKick); !kick.Allowed {
		t.Fatalf("expected kick to remain allowed, got %q", kick.Reason)
	}
}

func TestSevereLimitTakesPrecedence(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	// 2 bans + 2 kicks: neither per-action limit is exceeded, but the
	// combined severe count hits 4.
	limiter.Record(ctx, "mod", ActionBan)
	limiter.Record(ctx, "mod", ActionBan)
	limiter.Record(ctx, "mod", ActionKick)
	limiter.Record(ctx, "mod", ActionKick)

	for _, action := range []Action{ActionBan, ActionKick, ActionTimeout} {
		decision := limiter.Check(ctx, "mod", action)
		if decision.Allowed {
			t.Fatalf("expected %s to be denied by the severe limit", action)
		}
		if !strings.Contains(decision.Reason, "severe") {
			t.Fatalf("expected severe reason for %s, got %q", action, decision.Reason)
		}
		if !decision.Escalate {
			t.Fatalf("severe denial must instruct escalation")
		}
	}
}

func TestDenialPersistsUntilWindowClears(t *testing.T) {
	t.Parallel()

	limiter, now := newTestLimiter(t)
	ctx := context.Background()

	limiter.Record(ctx, "mod", ActionBan)
	*now = now.Add(time.Minute)
	limiter.Record(ctx, "mod", ActionBan)

	for _, advance := range []time.Duration{0, 10 * time.Minute, 55 * time.Minute} {
		probe := now.Add(advance)
		limiter.now = func() time.Time { return probe }
		if decision := limiter.Check(ctx, "mod", ActionBan); decision.Allowed {
			t.Fatalf("expected denial to persist at +%s", advance)
		}
	}

	// The oldest entry falls out of the hourly window; daily count is still
	// only 2 of 4.
	probe := now.Add(61 * time.Minute)
	limiter.now = func() time.Time { return probe }
	if decision := limiter.Check(ctx, "mod", ActionBan); !decision.Allowed {
		t.Fatalf("expected denial to clear after the hourly window, got %q", decision.Reason)
	}
}

func TestDailyLimitOutlivesHourlyWindow(t *testing.T) {
	t.Parallel()

	limiter, now := newTestLimiter(t)
	ctx := context.Background()

	// 4 bans spread over a few hours: each hourly window clears, the daily
	// cap of 4 does not.
	base := *now
	for i := 0; i < 4; i++ {
		probe := base.Add(time.Duration(i) * 2 * time.Hour)
		limiter.now = func() time.Time { return probe }
		limiter.Record(ctx, "mod", ActionBan)
	}

	probe := base.Add(9 * time.Hour)
	limiter.now = func() time.Time { return probe }
	decision := limiter.Check(ctx, "mod", ActionBan)
	if decision.Allowed {
		t.Fatalf("expected daily ban limit to deny")
	}
	if !strings.Contains(decision.Reason, "daily") {
		t.Fatalf("unexpected reason: %q", decision.Reason)
	}

	probe = base.Add(25 * time.Hour)
	limiter.now = func() time.Time { return probe }
	if decision := limiter.Check(ctx, "mod", ActionBan); !decision.Allowed {
		t.Fatalf("expected daily denial to clear after 24h, got %q", decision.Reason)
	}
}

func TestTimeoutDoesNotCountTowardSevere(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		limiter.Record(ctx, "mod", ActionTimeout)
	}
	if decision := limiter.Check(ctx, "mod", ActionBan); !decision.Allowed {
		t.Fatalf("timeouts must not consume severe budget, got %q", decision.Reason)
	}
}

func TestBucketsSurviveReload(t *testing.T) {
	t.Parallel()

	store := newMemBucketStore()
	limiter, _ := NewRateLimiter(store, defaultTestLimits()).(*defaultRateLimiter)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	limiter.Record(ctx, "mod", ActionBan)
	limiter.Record(ctx, "mod", ActionBan)

	// Fresh limiter over the same store simulates a process restart.
	reloaded, _ := NewRateLimiter(store, defaultTestLimits()).(*defaultRateLimiter)
	reloaded.now = func() time.Time { return now.Add(time.Minute) }
	if decision := reloaded.Check(ctx, "mod", ActionBan); decision.Allowed {
		t.Fatalf("expected persisted bans to still deny after reload")
	}
}

func TestConcurrentChecksSerializePerActor(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu2 := limiter.lockFor("mod")
			mu2.Lock()
			defer mu2.Unlock()
			decision := limiter.checkLocked(ctx, "mod", ActionBan)
			if decision.Allowed {
				limiter.recordLocked(ctx, "mod", ActionBan)
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 2 {
		t.Fatalf("expected exactly 2 bans to pass the hourly limit, got %d", allowed)
	}
}
