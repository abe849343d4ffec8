package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warden-labs/warden/internal/antinuke"
	"github.com/warden-labs/warden/internal/config"
	"github.com/warden-labs/warden/internal/db/sqlite"
	"github.com/warden-labs/warden/internal/dispatch"
	"github.com/warden-labs/warden/internal/infra"
	"github.com/warden-labs/warden/internal/lifecycle"
	"github.com/warden-labs/warden/internal/moderation"
	"github.com/warden-labs/warden/internal/observability"
	"github.com/warden-labs/warden/internal/platform"
	"github.com/warden-labs/warden/internal/platform/discord"
	"github.com/warden-labs/warden/internal/sweep"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		QuoteEmptyFields: true,
	})
	log.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatalln("cant load config")
	}
	log.SetLevel(log.Level(cfg.LogLevel + 2))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Fatalln("cant init observability")
	}

	client, err := sqlite.NewSQLiteClient(ctx, cfg.DotPath, cfg.DBName)
	if err != nil {
		log.WithError(err).Fatalln("cant open db")
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Error("cant close db")
		}
	}()

	adapter, err := discord.NewAdapter(cfg.PlatformToken)
	if err != nil {
		log.WithError(err).Fatalln("cant initialize platform adapter")
	}

	limiter := moderation.NewRateLimiter(client, cfg.RateLimits)
	escalator := moderation.NewEscalator(client, adapter, cfg.Roles)
	detector, err := antinuke.NewDetector(ctx, client, escalator, adapter, cfg)
	if err != nil {
		log.WithError(err).Fatalln("cant initialize antinuke detector")
	}
	dispatcher := dispatch.NewDispatcher(limiter, escalator, detector, adapter, adapter, cfg.Roles)
	auditSweep := sweep.New(detector, adapter, adapter, client, cfg.GuildID)

	adapter.OnStructural(func(ev platform.StructuralEvent) {
		infra.GoRecoverable(-1, "structural_event", func() {
			dispatcher.HandleStructuralEvent(ctx, ev)
		})
	})

	runtime := lifecycle.NewRuntime(adapter, auditSweep)
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start runtime")
	}
	log.Info("warden is up")

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := runtime.Stop(stopCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
	}
}
