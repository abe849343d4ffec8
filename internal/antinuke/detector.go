package antinuke

import (
	"context"
	"sync"
	"time"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/db"
	"github.com/warden-labs/warden/internal/moderation"
	"github.com/warden-labs/warden/internal/observability"
	"github.com/warden-labs/warden/internal/platform"
	"github.com/warden-labs/warden/internal/policy/privileges"
	"github.com/warden-labs/warden/internal/window"
)

type ActionType string

const (
	ChannelCreate ActionType = "channel_create"
	ChannelDelete ActionType = "channel_delete"
	ChannelUpdate ActionType = "channel_update"
	RoleCreate    ActionType = "role_create"
	RoleDelete    ActionType = "role_delete"
	RoleUpdate    ActionType = "role_update"
)

// TrackedActions lists every structural action type with a default limit.
var TrackedActions = []ActionType{
	ChannelCreate, ChannelDelete, ChannelUpdate,
	RoleCreate, RoleDelete, RoleUpdate,
}

type Limit struct {
	Hourly int
	Daily  int
}

func DefaultLimits() map[ActionType]Limit {
	return map[ActionType]Limit{
		ChannelCreate: {Hourly: 4, Daily: 10},
		ChannelDelete: {Hourly: 3, Daily: 6},
		ChannelUpdate: {Hourly: 8, Daily: 20},
		RoleCreate:    {Hourly: 4, Daily: 10},
		RoleDelete:    {Hourly: 3, Daily: 6},
		RoleUpdate:    {Hourly: 8, Daily: 20},
	}
}

type Detector interface {
	// Track books one structural action and reports whether the actor is
	// still inside its limits. A false return means the actor tripped a limit
	// and was quarantined.
	Track(ctx context.Context, guildID string, actor platform.Member, actionType ActionType, detail string) bool

	Limits() map[ActionType]Limit
	SetLimit(ctx context.Context, actionType ActionType, hourly, daily int) error
	ToggleEnabled(ctx context.Context) (bool, error)
	SetLogChannel(ctx context.Context, channelID string) error
	Enabled() bool
}

type detectorStore interface {
	GetBucket(ctx context.Context, actorID, category string) (*db.BucketRecord, error)
	SaveBucket(ctx context.Context, record *db.BucketRecord) error
	GetAntiNukeConfig(ctx context.Context, guildID string) (*db.AntiNukeConfigRecord, error)
	SaveAntiNukeConfig(ctx context.Context, record *db.AntiNukeConfigRecord) error
}

type defaultDetector struct {
	store     detectorStore
	escalator moderation.Escalator
	actions   platform.Actions
	roles     config.Roles
	guildID   string
	now       func() time.Time

	stateMutex sync.RWMutex
	enabled    bool
	logChannel string
	limits     map[ActionType]Limit

	mapMutex sync.Mutex
	buckets  map[string]*window.Bucket
	locks    map[string]*sync.Mutex
}

func NewDetector(
	ctx context.Context,
	store detectorStore,
	escalator moderation.Escalator,
	actions platform.Actions,
	cfg config.Config,
) (Detector, error) {
	d := &defaultDetector{
		store:      store,
		escalator:  escalator,
		actions:    actions,
		roles:      cfg.Roles,
		guildID:    cfg.GuildID,
		now:        time.Now,
		enabled:    cfg.AntiNuke.Enabled,
		logChannel: cfg.AntiNuke.LogChannelID,
		limits:     DefaultLimits(),
		buckets:    map[string]*window.Bucket{},
		locks:      map[string]*sync.Mutex{},
	}

	overrides, err := config.LoadActionLimits(cfg.AntiNuke.LimitsFile)
	if err != nil {
		return nil, err
	}
	for name, limit := range overrides {
		d.limits[ActionType(name)] = Limit{Hourly: limit.Hourly, Daily: limit.Daily}
	}

	if err := d.restore(ctx); err != nil {
		log.WithError(err).Error("cant restore antinuke config, using defaults")
	}
	return d, nil
}

// restore overlays persisted admin changes on top of the compiled-in and
// file defaults.
func (d *defaultDetector) restore(ctx context.Context) error {
	record, err := d.store.GetAntiNukeConfig(ctx, d.guildID)
	if err != nil || record == nil {
		return err
	}
	limits, err := record.DecodeLimits()
	if err != nil {
		return err
	}
	d.stateMutex.Lock()
	defer d.stateMutex.Unlock()
	d.enabled = record.Enabled
	if record.LogChannel != "" {
		d.logChannel = record.LogChannel
	}
	for name, pair := range limits {
		d.limits[ActionType(name)] = Limit{Hourly: pair[0], Daily: pair[1]}
	}
	return nil
}

func (d *defaultDetector) persistConfig(ctx context.Context) error {
	d.stateMutex.RLock()
	record := &db.AntiNukeConfigRecord{
		GuildID:    d.guildID,
		Enabled:    d.enabled,
		LogChannel: d.logChannel,
	}
	limits := make(map[string][2]int, len(d.limits))
	for name, limit := range d.limits {
		limits[string(name)] = [2]int{limit.Hourly, limit.Daily}
	}
	d.stateMutex.RUnlock()

	if err := record.EncodeLimits(limits); err != nil {
		return err
	}
	return d.store.SaveAntiNukeConfig(ctx, record)
}

func (d *defaultDetector) Enabled() bool {
	d.stateMutex.RLock()
	defer d.stateMutex.RUnlock()
	return d.enabled
}

func (d *defaultDetector) Limits() map[ActionType]Limit {
	d.stateMutex.RLock()
	defer d.stateMutex.RUnlock()
	out := make(map[ActionType]Limit, len(d.limits))
	for name, limit := range d.limits {
		out[name] = limit
	}
	return out
}

func (d *defaultDetector) SetLimit(ctx context.Context, actionType ActionType, hourly, daily int) error {
	d.stateMutex.Lock()
	d.limits[actionType] = Limit{Hourly: hourly, Daily: daily}
	d.stateMutex.Unlock()
	return d.persistConfig(ctx)
}

func (d *defaultDetector) ToggleEnabled(ctx context.Context) (bool, error) {
	d.stateMutex.Lock()
	d.enabled = !d.enabled
	enabled := d.enabled
	d.stateMutex.Unlock()
	return enabled, d.persistConfig(ctx)
}

func (d *defaultDetector) SetLogChannel(ctx context.Context, channelID string) error {
	d.stateMutex.Lock()
	d.logChannel = channelID
	d.stateMutex.Unlock()
	return d.persistConfig(ctx)
}

func trackerKey(actorID string, actionType ActionType) string {
	return actorID + "/" + string(actionType)
}

func (d *defaultDetector) lockFor(key string) *sync.Mutex {
	d.mapMutex.Lock()
	defer d.mapMutex.Unlock()
	mu, ok := d.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		d.locks[key] = mu
	}
	return mu
}

func (d *defaultDetector) bucket(ctx context.Context, key string) *window.Bucket {
	d.mapMutex.Lock()
	bucket, ok := d.buckets[key]
	d.mapMutex.Unlock()
	if ok {
		return bucket
	}

	bucket = &window.Bucket{}
	record, err := d.store.GetBucket(ctx, key, "antinuke")
	if err != nil {
		log.WithError(err).WithField("key", key).Error("cant load antinuke bucket, starting empty")
	} else if record != nil {
		bucket.Hourly = record.Hourly
		bucket.Daily = record.Daily
	}

	d.mapMutex.Lock()
	d.buckets[key] = bucket
	d.mapMutex.Unlock()
	return bucket
}

func (d *defaultDetector) Track(ctx context.Context, guildID string, actor platform.Member, actionType ActionType, detail string) bool {
	if !d.Enabled() {
		return true
	}
	// Exempt actors never accumulate tracking state.
	if privileges.IsExempt(actor, d.roles) {
		return true
	}

	d.stateMutex.RLock()
	limit, configured := d.limits[actionType]
	d.stateMutex.RUnlock()
	if !configured {
		// Fail open for action types nobody configured a limit for.
		return true
	}

	key := trackerKey(actor.ID, actionType)
	mu := d.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := d.now()
	bucket := d.bucket(ctx, key)
	bucket.Prune(now)
	// The event always counts: it is recorded before the limit is evaluated,
	// so the call that trips a limit is itself part of the tally.
	bucket.Add(now)
	d.persistBucket(ctx, key, bucket)

	hourly, daily := bucket.CountHourly(), bucket.CountDaily()
	switch {
	case hourly > limit.Hourly:
		d.trip(ctx, guildID, actor, actionType, detail, "hourly", limit.Hourly)
		return false
	case daily > limit.Daily:
		d.trip(ctx, guildID, actor, actionType, detail, "daily", limit.Daily)
		return false
	case hourly >= limit.Hourly-1 || daily >= limit.Daily-1:
		d.warn(ctx, actor, actionType, hourly, daily)
	}
	return true
}

func (d *defaultDetector) persistBucket(ctx context.Context, key string, bucket *window.Bucket) {
	record := &db.BucketRecord{
		ActorID:  key,
		Category: "antinuke",
		Hourly:   db.TimeList(bucket.Hourly),
		Daily:    db.TimeList(bucket.Daily),
	}
	if err := d.store.SaveBucket(ctx, record); err != nil {
		log.WithError(err).WithField("key", key).Error("cant persist antinuke bucket")
	}
}

func (d *defaultDetector) trip(ctx context.Context, guildID string, actor platform.Member, actionType ActionType, detail, windowName string, limit int) {
	observability.RecordAntiNukeTrip(string(actionType), windowName)
	observability.Logger.Warn("anti-nuke limit tripped",
		zap.String("actor", actor.ID),
		zap.String("action_type", string(actionType)),
		zap.String("window", windowName),
		zap.Int("limit", limit),
	)

	reason := tool.ExecTemplate(
		`anti-nuke: exceeded {{ .window }} limit of {{ .limit }} for {{ .action }}`,
		map[string]any{"window": windowName, "limit": limit, "action": string(actionType)},
	)
	if err := d.escalator.AutoQuarantine(ctx, guildID, actor, reason); err != nil {
		if err == moderation.ErrAlreadyQuarantined {
			log.WithField("actor", actor.ID).Debug("actor already quarantined, keeping first snapshot")
		} else {
			log.WithError(err).WithField("actor", actor.ID).Error("cant quarantine nuking actor")
		}
	}

	d.alert(ctx, tool.ExecTemplate(
		`🚨 Anti-nuke tripped: {{ .actor }} exceeded the {{ .window }} {{ .action }} limit ({{ .limit }}). Actor quarantined. {{ .detail }}`,
		map[string]any{
			"actor":  actor.Username,
			"window": windowName,
			"action": string(actionType),
			"limit":  limit,
			"detail": detail,
		},
	))
}

func (d *defaultDetector) warn(ctx context.Context, actor platform.Member, actionType ActionType, hourly, daily int) {
	d.alert(ctx, tool.ExecTemplate(
		`⚠️ {{ .actor }} is approaching the {{ .action }} limit ({{ .hourly }} this hour, {{ .daily }} today)`,
		map[string]any{
			"actor":  actor.Username,
			"action": string(actionType),
			"hourly": hourly,
			"daily":  daily,
		},
	))
}

func (d *defaultDetector) alert(ctx context.Context, text string) {
	d.stateMutex.RLock()
	channel := d.logChannel
	d.stateMutex.RUnlock()
	if channel == "" {
		log.Debug("antinuke log channel not configured, dropping alert")
		return
	}
	if err := d.actions.SendMessage(ctx, channel, text); err != nil {
		log.WithError(err).Error("cant send antinuke alert")
	}
}
