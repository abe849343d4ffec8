package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/db"
	"github.com/warden-labs/warden/internal/platform"
)

type memQuarantineStore struct {
	records map[string]*db.QuarantineRecord
	cases   []db.AuditCase
}

func newMemQuarantineStore() *memQuarantineStore {
	return &memQuarantineStore{records: map[string]*db.QuarantineRecord{}}
}

func (s *memQuarantineStore) GetQuarantine(_ context.Context, actorID string) (*db.QuarantineRecord, error) {
	return s.records[actorID], nil
}

func (s *memQuarantineStore) PutQuarantine(_ context.Context, record *db.QuarantineRecord) error {
	s.records[record.ActorID] = record
	return nil
}

func (s *memQuarantineStore) DeleteQuarantine(_ context.Context, actorID string) error {
	delete(s.records, actorID)
	return nil
}

func (s *memQuarantineStore) AddAuditCase(_ context.Context, auditCase *db.AuditCase) error {
	s.cases = append(s.cases, *auditCase)
	return nil
}

type fakeActions struct {
	roles        []platform.Role
	added        []string
	removed      []string
	failRoleOps  bool
	failAddRoles map[string]bool
}

func (f *fakeActions) BanUser(context.Context, string, string, string) error     { return nil }
func (f *fakeActions) KickUser(context.Context, string, string, string) error    { return nil }
func (f *fakeActions) SendMessage(context.Context, string, string) error         { return nil }
func (f *fakeActions) Member(context.Context, string, string) (*platform.Member, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeActions) TimeoutUser(context.Context, string, string, time.Time, string) error {
	return nil
}

func (f *fakeActions) AddRole(_ context.Context, _, _, roleID string) error {
	if f.failRoleOps || f.failAddRoles[roleID] {
		return errors.New("missing permissions")
	}
	f.added = append(f.added, roleID)
	return nil
}

func (f *fakeActions) RemoveRole(_ context.Context, _, _, roleID string) error {
	if f.failRoleOps {
		return errors.New("missing permissions")
	}
	f.removed = append(f.removed, roleID)
	return nil
}

func (f *fakeActions) GuildRoles(context.Context, string) ([]platform.Role, error) {
	return f.roles, nil
}

func testRoles() config.Roles {
	return config.Roles{
		QuarantineRoleID: "q-role",
		BaseRoleID:       "base",
		DirectorRoleIDs:  []string{"director"},
		OwnerID:          "owner-1",
	}
}

func newTestEscalator(store *memQuarantineStore, actions *fakeActions) *defaultEscalator {
	escalator, _ := NewEscalator(store, actions, testRoles()).(*defaultEscalator)
	escalator.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return escalator
}

func member(id string, top int, roleIDs ...string) platform.Member {
	return platform.Member{ID: id, Username: id, RoleIDs: roleIDs, TopRolePosition: top}
}

func TestAutoQuarantineSnapshotsAndStrips(t *testing.T) {
	t.Parallel()

	store := newMemQuarantineStore()
	actions := &fakeActions{}
	escalator := newTestEscalator(store, actions)

	actor := member("rogue", 3, "base", "mod-role", "color-role")
	if err := escalator.AutoQuarantine(context.Background(), "g1", actor, ""); err != nil {
		t.Fatalf("auto quarantine: %v", err)
	}

	record := store.records["rogue"]
	if record == nil {
		t.Fatalf("expected a quarantine record")
	}
	if len(record.SavedRoleIDs) != 2 {
		t.Fatalf("expected base role excluded from snapshot, got %v", record.SavedRoleIDs)
	}
	if record.QuarantinedBy != SystemActorID {
		t.Fatalf("expected system attribution, got %q", record.QuarantinedBy)
	}
	if len(actions.removed) != 2 {
		t.Fatalf("expected 2 roles stripped, got %v", actions.removed)
	}
	if len(actions.added) != 1 || actions.added[0] != "q-role" {
		t.Fatalf("expected quarantine role granted, got %v", actions.added)
	}
	if len(store.cases) != 1 || store.cases[0].Kind != "auto_quarantine" {
		t.Fatalf("expected one auto_quarantine audit case, got %+v", store.cases)
	}
	if store.cases[0].RolesKept != 2 {
		t.Fatalf("expected audit case to report 2 saved roles, got %d", store.cases[0].RolesKept)
	}
}

func TestAutoQuarantineIsNoOpWhenAlreadyQuarantined(t *testing.T) {
	t.Parallel()

	store := newMemQuarantineStore()
	actions := &fakeActions{}
	escalator := newTestEscalator(store, actions)
	ctx := context.Background()

	actor := member("rogue", 3, "mod-role")
	if err := escalator.AutoQuarantine(ctx, "g1", actor, ""); err != nil {
		t.Fatalf("first quarantine: %v", err)
	}
	first := store.records["rogue"].SavedRoleIDs

	// A second trigger while quarantined must not overwrite the snapshot.
	again := member("rogue", 1, "q-role")
	if err := escalator.AutoQuarantine(ctx, "g1", again, ""); !errors.Is(err, ErrAlreadyQuarantined) {
		t.Fatalf("expected ErrAlreadyQuarantined, got %v", err)
	}
	if got := store.records["rogue"].SavedRoleIDs; len(got) != len(first) || got[0] != first[0] {
		t.Fatalf("first snapshot must stay authoritative, got %v", got)
	}
}

func TestRecordSurvivesPlatformFailure(t *testing.T) {
	t.Parallel()

	store := newMemQuarantineStore()
	actions := &fakeActions{failRoleOps: true}
	escalator := newTestEscalator(store, actions)

	actor := member("rogue", 3, "mod-role")
	err := escalator.AutoQuarantine(context.Background(), "g1", actor, "")
	if !errors.Is(err, ErrPlatformFailure) {
		t.Fatalf("expected ErrPlatformFailure, got %v", err)
	}
	if store.records["rogue"] == nil {
		t.Fatalf("record must persist even when the platform calls fail")
	}
}

func TestManualQuarantineGates(t *testing.T) {
	t.Parallel()

	store := newMemQuarantineStore()
	escalator := newTestEscalator(store, &fakeActions{})
	ctx := context.Background()

	moderator := member("mod", 5, "mod-role")

	if err := escalator.ManualQuarantine(ctx, "g1", moderator, moderator, "r"); !errors.Is(err, ErrSelfTarget) {
		t.Fatalf("expected self-target rejection, got %v", err)
	}

	peer := member("peer", 5, "mod-role")
	if err := escalator.ManualQuarantine(ctx, "g1", moderator, peer, "r"); !errors.Is(err, ErrHierarchy) {
		t.Fatalf("expected hierarchy rejection for equal position, got %v", err)
	}

	// The guild owner bypasses the hierarchy comparison.
	owner := platform.Member{ID: "owner-1", TopRolePosition: 0, IsOwner: true}
	if err := escalator.ManualQuarantine(ctx, "g1", owner, peer, "r"); err != nil {
		t.Fatalf("owner quarantine: %v", err)
	}

	below := member("junior", 2, "junior-role")
	if err := escalator.ManualQuarantine(ctx, "g1", moderator, below, "r"); err != nil {
		t.Fatalf("quarantine below hierarchy: %v", err)
	}
	if err := escalator.ManualQuarantine(ctx, "g1", moderator, below, "r"); !errors.Is(err, ErrAlreadyQuarantined) {
		t.Fatalf("expected already-quarantined rejection, got %v", err)
	}
}

func TestUnquarantineRestoresAndCountsMissing(t *testing.T) {
	t.Parallel()

	store := newMemQuarantineStore()
	store.records["rogue"] = &db.QuarantineRecord{
		ActorID:      "rogue",
		GuildID:      "g1",
		SavedRoleIDs: []string{"r1", "r2", "r3"},
	}
	actions := &fakeActions{roles: []platform.Role{{ID: "r1"}, {ID: "r3"}}}
	escalator := newTestEscalator(store, actions)

	director := member("dir", 9, "director")
	result, err := escalator.Unquarantine(context.Background(), "g1", director, "rogue")
	if err != nil {
		t.Fatalf("unquarantine: %v", err)
	}
	if result.Restored != 2 || result.Missing != 1 {
		t.Fatalf("expected 2 restored / 1 missing, got %+v", result)
	}
	if store.records["rogue"] != nil {
		t.Fatalf("expected quarantine record deleted")
	}
	if actions.removed[0] != "q-role" {
		t.Fatalf("expected quarantine role removed first, got %v", actions.removed)
	}
}

func TestUnquarantineCountsPlatformFailuresSeparately(t *testing.T) {
	t.Parallel()

	store := newMemQuarantineStore()
	store.records["rogue"] = &db.QuarantineRecord{
		ActorID:      "rogue",
		GuildID:      "g1",
		SavedRoleIDs: []string{"r1", "r2", "r3"},
	}
	// r3 was deleted since the snapshot; r2 still exists but the platform
	// refuses to re-add it.
	actions := &fakeActions{
		roles:        []platform.Role{{ID: "r1"}, {ID: "r2"}},
		failAddRoles: map[string]bool{"r2": true},
	}
	escalator := newTestEscalator(store, actions)

	director := member("dir", 9, "director")
	result, err := escalator.Unquarantine(context.Background(), "g1", director, "rogue")
	if err != nil {
		t.Fatalf("unquarantine: %v", err)
	}
	if result.Restored != 1 || result.Missing != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 restored / 1 missing / 1 failed, got %+v", result)
	}
}

func TestUnquarantineRequiresDirector(t *testing.T) {
	t.Parallel()

	store := newMemQuarantineStore()
	store.records["rogue"] = &db.QuarantineRecord{ActorID: "rogue"}
	escalator := newTestEscalator(store, &fakeActions{})

	moderator := member("mod", 5, "mod-role")
	if _, err := escalator.Unquarantine(context.Background(), "g1", moderator, "rogue"); !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected policy denial for non-director, got %v", err)
	}

	if _, err := escalator.Unquarantine(context.Background(), "g1", moderator, "nobody"); !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected gate to run before record lookup, got %v", err)
	}
}
