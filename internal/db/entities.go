package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type (
	// TimeList is an ordered list of event timestamps persisted as a JSON
	// array of unix seconds.
	TimeList []time.Time

	// StringList is persisted as a JSON array.
	StringList []string

	// BucketRecord is one persisted sliding-window bucket: the hourly and
	// daily entry lists for a single (actor, category) pair.
	BucketRecord struct {
		ActorID  string   `db:"actor_id"`
		Category string   `db:"category"`
		Hourly   TimeList `db:"hourly"`
		Daily    TimeList `db:"daily"`
	}

	QuarantineRecord struct {
		ActorID       string     `db:"actor_id"`
		GuildID       string     `db:"guild_id"`
		SavedRoleIDs  StringList `db:"saved_role_ids"`
		QuarantinedAt time.Time  `db:"quarantined_at"`
		QuarantinedBy string     `db:"quarantined_by"`
		Reason        string     `db:"reason"`
	}

	AuditCase struct {
		ID        string    `db:"id"`
		GuildID   string    `db:"guild_id"`
		ActorID   string    `db:"actor_id"`
		Kind      string    `db:"kind"`
		Reason    string    `db:"reason"`
		RolesKept int       `db:"roles_kept"`
		CreatedAt time.Time `db:"created_at"`
	}

	AntiNukeConfigRecord struct {
		GuildID    string `db:"guild_id"`
		Enabled    bool   `db:"enabled"`
		LogChannel string `db:"log_channel"`
		Limits     string `db:"limits"`
	}
)

func (t TimeList) Value() (driver.Value, error) {
	seconds := make([]int64, 0, len(t))
	for _, ts := range t {
		seconds = append(seconds, ts.Unix())
	}
	return json.Marshal(seconds)
}

// Scan restores a TimeList from its JSON form. A corrupt blob resets the list
// to empty instead of failing the read, so one damaged row cannot wedge an
// actor's bookkeeping.
func (t *TimeList) Scan(v interface{}) error {
	if v == nil {
		*t = nil
		return nil
	}
	var raw []byte
	switch data := v.(type) {
	case string:
		raw = []byte(data)
	case []byte:
		raw = data
	default:
		return fmt.Errorf("cannot scan type %T into TimeList", v)
	}
	var seconds []int64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		log.WithError(err).Warn("corrupt time list blob, resetting to empty")
		*t = nil
		return nil
	}
	out := make(TimeList, 0, len(seconds))
	for _, sec := range seconds {
		out = append(out, time.Unix(sec, 0).UTC())
	}
	*t = out
	return nil
}

func (s StringList) Value() (driver.Value, error) {
	return json.Marshal([]string(s))
}

func (s *StringList) Scan(v interface{}) error {
	if v == nil {
		*s = nil
		return nil
	}
	switch data := v.(type) {
	case string:
		return json.Unmarshal([]byte(data), s)
	case []byte:
		return json.Unmarshal(data, s)
	default:
		return fmt.Errorf("cannot scan type %T into StringList", v)
	}
}

// DecodeLimits unpacks the JSON limits column into per-action-type pairs.
func (r *AntiNukeConfigRecord) DecodeLimits() (map[string][2]int, error) {
	if r.Limits == "" {
		return map[string][2]int{}, nil
	}
	limits := map[string][2]int{}
	if err := json.Unmarshal([]byte(r.Limits), &limits); err != nil {
		return nil, errors.Wrap(err, "decode antinuke limits")
	}
	return limits, nil
}

func (r *AntiNukeConfigRecord) EncodeLimits(limits map[string][2]int) error {
	raw, err := json.Marshal(limits)
	if err != nil {
		return errors.Wrap(err, "encode antinuke limits")
	}
	r.Limits = string(raw)
	return nil
}
