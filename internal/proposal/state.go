package proposal

import (
	"fmt"
	"sort"
)

// Status is derived from the tag set applied to a proposal thread, never
// stored on its own. The tag collection is the single source of truth.
type Status int

const (
	StatusNone Status = iota
	StatusAccepted
	StatusContested
	StatusDenied
	StatusStandstill
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusContested:
		return "contested"
	case StatusDenied:
		return "denied"
	case StatusStandstill:
		return "standstill"
	default:
		return "none"
	}
}

type Tag string

const (
	TagAccepted   Tag = "accepted"
	TagContested  Tag = "contested"
	TagDenied     Tag = "denied"
	TagStandstill Tag = "standstill"

	TagNeedsRevision       Tag = "needs-revision"
	TagNeedsImplementation Tag = "needs-implementation"
	TagLocked              Tag = "locked"

	TagOwnerAction    Tag = "owner-action"
	TagDirectorAction Tag = "sdirector-action"
)

var statusTags = map[Tag]Status{
	TagAccepted:   StatusAccepted,
	TagContested:  StatusContested,
	TagDenied:     StatusDenied,
	TagStandstill: StatusStandstill,
}

// Reason codes admitted per target status.
const (
	ReasonMajorityFor         = "majority rule for"
	ReasonCommitteeAccepted   = "committee accepted"
	ReasonVeto                = "veto"
	ReasonMajorityAgainst     = "majority rule against"
	ReasonUnimplementable     = "proposand unimplementable"
	ReasonOutOfScope          = "out of scope"
	ReasonStaffVersusStaff    = "staff versus staff"
	ReasonUniqueCircumstances = "unique circumstances"

	// ReasonImplemented is the finalize reason that clears the pending
	// implementation flag as part of locking.
	ReasonImplemented = "implemented"
)

var reasonWhitelist = map[Status]map[string]struct{}{
	StatusAccepted: {
		ReasonMajorityFor:       {},
		ReasonCommitteeAccepted: {},
	},
	StatusDenied: {
		ReasonVeto:            {},
		ReasonMajorityAgainst: {},
		ReasonUnimplementable: {},
		ReasonOutOfScope:      {},
	},
	StatusContested: {
		ReasonStaffVersusStaff: {},
		ReasonUnimplementable:  {},
		ReasonOutOfScope:       {},
	},
	StatusStandstill: {
		ReasonUniqueCircumstances: {},
	},
}

// transitions is the legal status table. Standstill has no exits here: it is
// left only through the dedicated unstandstill operation.
var transitions = map[Status]map[Status]struct{}{
	StatusNone:       {StatusAccepted: {}, StatusContested: {}, StatusDenied: {}, StatusStandstill: {}},
	StatusAccepted:   {StatusContested: {}, StatusDenied: {}, StatusStandstill: {}},
	StatusContested:  {StatusAccepted: {}, StatusDenied: {}, StatusStandstill: {}},
	StatusDenied:     {StatusAccepted: {}, StatusContested: {}, StatusStandstill: {}},
	StatusStandstill: {},
}

type TagSet map[Tag]struct{}

func NewTagSet(tags ...Tag) TagSet {
	set := make(TagSet, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	return set
}

func (t TagSet) Has(tag Tag) bool {
	_, ok := t[tag]
	return ok
}

func (t TagSet) Clone() TagSet {
	out := make(TagSet, len(t))
	for tag := range t {
		out[tag] = struct{}{}
	}
	return out
}

// Sorted returns the tags in a stable order for rendering.
func (t TagSet) Sorted() []Tag {
	out := make([]Tag, 0, len(t))
	for tag := range t {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// State is the full derived view of a proposal's tags.
type State struct {
	Status              Status
	NeedsRevision       bool
	NeedsImplementation bool
	Locked              bool
	OwnerAction         bool
	DirectorAction      bool
}

func DeriveStatus(tags TagSet) Status {
	for tag, status := range statusTags {
		if tags.Has(tag) {
			return status
		}
	}
	return StatusNone
}

func DeriveState(tags TagSet) State {
	return State{
		Status:              DeriveStatus(tags),
		NeedsRevision:       tags.Has(TagNeedsRevision),
		NeedsImplementation: tags.Has(TagNeedsImplementation),
		Locked:              tags.Has(TagLocked),
		OwnerAction:         tags.Has(TagOwnerAction),
		DirectorAction:      tags.Has(TagDirectorAction),
	}
}

// ChangeRequest is one requested status transition with its reason code and
// the process flags the requester wants applied alongside.
type ChangeRequest struct {
	Target              Status
	Reason              string
	NeedsRevision       bool
	NeedsImplementation bool
	Lock                bool
}

// ApplyStatus validates a requested transition against the current tag set
// and, when legal, returns the new tag set. On violations the returned set is
// nil and the input is untouched; every violation is collected, not just the
// first.
func ApplyStatus(tags TagSet, req ChangeRequest) (TagSet, []string) {
	violations := validateStatus(DeriveState(tags), req)
	if len(violations) > 0 {
		return nil, violations
	}

	next := tags.Clone()
	for tag := range statusTags {
		delete(next, tag)
	}
	delete(next, TagNeedsRevision)
	delete(next, TagNeedsImplementation)

	for tag, status := range statusTags {
		if status == req.Target {
			next[tag] = struct{}{}
		}
	}
	if req.NeedsRevision {
		next[TagNeedsRevision] = struct{}{}
	}
	// Accepted work always needs doing unless the request locks it shut.
	if req.NeedsImplementation || (req.Target == StatusAccepted && !req.Lock) {
		next[TagNeedsImplementation] = struct{}{}
	}
	if req.Lock {
		next[TagLocked] = struct{}{}
	}
	return next, nil
}

func validateStatus(cur State, req ChangeRequest) []string {
	var violations []string

	switch {
	case cur.Locked:
		violations = append(violations, "proposal is locked, must unlock first")
	case cur.Status == StatusStandstill:
		violations = append(violations, "proposal is in standstill, must unstandstill first")
	default:
		if _, ok := transitions[cur.Status][req.Target]; !ok {
			violations = append(violations,
				fmt.Sprintf("cannot transition from %s to %s", cur.Status, req.Target))
		}
	}

	if _, ok := reasonWhitelist[req.Target][req.Reason]; !ok {
		violations = append(violations,
			fmt.Sprintf("reason %q is not permitted for status %s", req.Reason, req.Target))
	}

	if req.NeedsRevision && req.NeedsImplementation {
		violations = append(violations, "needs-revision and needs-implementation cannot both be set")
	}
	if req.NeedsRevision && req.Target == StatusAccepted {
		violations = append(violations, "needs-revision is incompatible with an accepted proposal")
	}
	if req.NeedsImplementation && req.Target != StatusAccepted {
		violations = append(violations, "needs-implementation is only legal on an accepted proposal")
	}
	if req.Lock && (req.NeedsRevision || req.NeedsImplementation) {
		violations = append(violations, "cannot lock while requesting process flags")
	}
	if req.Target == StatusDenied && !req.Lock {
		violations = append(violations, "denying a proposal requires locking it")
	}
	if (req.Target == StatusContested || req.Target == StatusStandstill) && req.Lock {
		violations = append(violations, fmt.Sprintf("%s forbids locking", req.Target))
	}
	if req.Target == StatusStandstill && req.NeedsRevision {
		violations = append(violations, "standstill forbids process flags")
	}

	return violations
}

// ApplyTag toggles a single process or action flag independent of any status
// change.
func ApplyTag(tags TagSet, tag Tag, enabled bool) (TagSet, []string) {
	if _, isStatus := statusTags[tag]; isStatus || tag == TagLocked {
		return nil, []string{fmt.Sprintf("tag %q cannot be toggled directly", tag)}
	}

	cur := DeriveState(tags)
	var violations []string
	if enabled {
		if cur.Locked {
			violations = append(violations, "proposal is locked, must unlock first")
		}
		if cur.Status == StatusStandstill {
			violations = append(violations, "proposal is in standstill, must unstandstill first")
		}
		if tag == TagNeedsRevision && cur.Status == StatusAccepted {
			violations = append(violations, "needs-revision is incompatible with an accepted proposal")
		}
		if tag == TagNeedsImplementation && cur.Status != StatusAccepted {
			violations = append(violations, "needs-implementation is only legal on an accepted proposal")
		}
	}
	if len(violations) > 0 {
		return nil, violations
	}

	next := tags.Clone()
	if enabled {
		next[tag] = struct{}{}
	} else {
		delete(next, tag)
	}
	return next, nil
}

// Finalize locks a settled proposal. The "implemented" reason additionally
// clears the pending implementation flag as part of locking.
func Finalize(tags TagSet, reason string) (TagSet, []string) {
	cur := DeriveState(tags)
	var violations []string
	if cur.Status != StatusAccepted && cur.Status != StatusDenied {
		violations = append(violations,
			fmt.Sprintf("only accepted or denied proposals can be finalized, not %s", cur.Status))
	}
	if cur.Locked {
		violations = append(violations, "proposal is already locked")
	}
	if cur.NeedsRevision {
		violations = append(violations, "cannot finalize while revision is needed")
	}
	if cur.NeedsImplementation && reason != ReasonImplemented {
		violations = append(violations, "cannot finalize while implementation is pending")
	}
	if len(violations) > 0 {
		return nil, violations
	}

	next := tags.Clone()
	next[TagLocked] = struct{}{}
	if reason == ReasonImplemented {
		delete(next, TagNeedsImplementation)
	}
	return next, nil
}

// Unlock reopens a finalized proposal for further work.
func Unlock(tags TagSet) (TagSet, []string) {
	if !tags.Has(TagLocked) {
		return nil, []string{"proposal is not locked"}
	}
	next := tags.Clone()
	delete(next, TagLocked)
	return next, nil
}

// Unstandstill is the only exit from standstill. The proposal is left with no
// status until one is explicitly set again.
func Unstandstill(tags TagSet) (TagSet, []string) {
	if !tags.Has(TagStandstill) {
		return nil, []string{"proposal is not in standstill"}
	}
	next := tags.Clone()
	delete(next, TagStandstill)
	return next, nil
}
