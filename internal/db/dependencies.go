package db

import "context"

type Client interface {
	Close() error

	GetBucket(ctx context.Context, actorID, category string) (*BucketRecord, error)
	SaveBucket(ctx context.Context, record *BucketRecord) error
	DeleteBucket(ctx context.Context, actorID, category string) error

	GetQuarantine(ctx context.Context, actorID string) (*QuarantineRecord, error)
	PutQuarantine(ctx context.Context, record *QuarantineRecord) error
	DeleteQuarantine(ctx context.Context, actorID string) error

	GetAntiNukeConfig(ctx context.Context, guildID string) (*AntiNukeConfigRecord, error)
	SaveAntiNukeConfig(ctx context.Context, record *AntiNukeConfigRecord) error

	AddAuditCase(ctx context.Context, auditCase *AuditCase) error
	GetAuditCases(ctx context.Context, guildID string, limit int) ([]AuditCase, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key string, value string) error
}
