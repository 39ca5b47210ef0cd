// Command tenderwatch runs the tender matching and delivery pipeline: it
// polls zakupki.gov.ru on behalf of every active subscriber filter, scores
// candidates, verifies borderline matches with a language model, and
// delivers de-duplicated notifications under daily quotas and quiet hours.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/dataparency-dev/tenderwatch/internal/cache"
	"github.com/dataparency-dev/tenderwatch/internal/config"
	"github.com/dataparency-dev/tenderwatch/internal/directory"
	"github.com/dataparency-dev/tenderwatch/internal/feed"
	"github.com/dataparency-dev/tenderwatch/internal/ledger"
	"github.com/dataparency-dev/tenderwatch/internal/model"
	"github.com/dataparency-dev/tenderwatch/internal/notify"
	"github.com/dataparency-dev/tenderwatch/internal/obslog"
	"github.com/dataparency-dev/tenderwatch/internal/oracle"
	"github.com/dataparency-dev/tenderwatch/internal/pipeline"
	"github.com/dataparency-dev/tenderwatch/internal/quota"
)

// CLI is the process's command-line surface — deliberately small, matching
// spec §3's "Configuration surface" note that everything else belongs in
// the YAML file, not on the command line.
type CLI struct {
	Config   string `help:"Path to the YAML configuration file." default:"tenderwatch.yaml"`
	Once     bool   `help:"Run a single cycle and exit, instead of looping on the poll interval."`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)."`
}

func main() {
	var cli CLI
	kong.Parse(&cli, kong.Description("Tender discovery and notification pipeline for zakupki.gov.ru."))

	// ═══════════════════════════════════════════════════════════════
	// STEP 1: Load configuration
	// ═══════════════════════════════════════════════════════════════

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	// ═══════════════════════════════════════════════════════════════
	// STEP 2: Construct the logger every component shares
	// ═══════════════════════════════════════════════════════════════

	log := obslog.New(cfg.LogLevel)

	// ═══════════════════════════════════════════════════════════════
	// STEP 3: Connect to Postgres (quota, ledger, directory) and Redis (cache)
	// ═══════════════════════════════════════════════════════════════

	sqlDB, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.WithError(err).Fatal("failed to open database connection")
	}
	db := sqlx.NewDb(sqlDB, "pgx")
	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("failed to reach database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})

	// ═══════════════════════════════════════════════════════════════
	// STEP 4: Build the Cache used by the oracle (enrichment is not cached)
	// ═══════════════════════════════════════════════════════════════

	c := cache.New(redisClient, cfg.Cache.FrontTTL, cfg.Cache.FrontCleanup,
		cfg.Cache.EnrichmentTTL, cfg.Cache.OracleTTL, log)

	// ═══════════════════════════════════════════════════════════════
	// STEP 5: Build the RelevanceOracle
	// ═══════════════════════════════════════════════════════════════

	anthropicClient := anthropic.NewClient(anthropicoption.WithAPIKey(cfg.Oracle.APIKey))
	orc := oracle.New(&anthropicClient, anthropic.Model(cfg.Oracle.Model), c, log)

	// ═══════════════════════════════════════════════════════════════
	// STEP 6: Build the FeedSource
	// ═══════════════════════════════════════════════════════════════

	fs := feed.NewHTTPFeedSource(cfg.Feed.Endpoint, cfg.Feed.DetailBaseURL,
		cfg.Feed.HTTPTimeout, cfg.Feed.HTTPTimeout/5, log)

	// ═══════════════════════════════════════════════════════════════
	// STEP 7: Build QuotaGate, DeliveryLedger and the filter Directory
	// ═══════════════════════════════════════════════════════════════

	qg := quota.New(db, convertTierCaps(cfg))
	dl := ledger.New(db)
	dir := directory.New(db)

	// ═══════════════════════════════════════════════════════════════
	// STEP 8: Build the NotificationSink
	// ═══════════════════════════════════════════════════════════════

	sink := notify.NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.HTTPTimeout, log)

	// ═══════════════════════════════════════════════════════════════
	// STEP 9: Wire the PipelineEngine
	// ═══════════════════════════════════════════════════════════════

	engine := pipeline.New(dir, fs, orc, qg, dl, sink, log, pipeline.Config{
		PollInterval:            cfg.PollInterval,
		FiltersInFlight:         cfg.Concurrency.FiltersInFlight,
		EnrichmentsPerFilter:    cfg.Concurrency.EnrichmentsPerFilter,
		EnrichmentsGlobal:       cfg.Concurrency.EnrichmentsGlobal,
		MaxCandidatesPerFilter:  cfg.Concurrency.MaxCandidatesPerFilter,
		PreScoreThreshold:       cfg.Scoring.PreScoreThreshold,
		PreNotifyScore:          cfg.Scoring.PreNotifyScore,
		MinScoreForNotification: cfg.Scoring.MinScoreForNotification,
		ArchiveGuardDays:        cfg.Scoring.ArchiveGuardDays,
		NullRegionPolicy:        cfg.Scoring.NullRegionPolicy,
		ReservationMaxAge:       cfg.ReservationMaxAge,
		BreakerFailureThreshold: cfg.Sink.BreakerFailureThreshold,
		BreakerCooldown:         cfg.Sink.BreakerCooldown,
	})

	// ═══════════════════════════════════════════════════════════════
	// STEP 10: Run until interrupted, or once if --once was passed
	// ═══════════════════════════════════════════════════════════════

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cli.Once {
		engine.RunOnce(ctx)
		return
	}
	engine.Run(ctx)
}

func convertTierCaps(cfg config.Config) map[model.Tier]quota.TierCaps {
	caps := make(map[model.Tier]quota.TierCaps, len(cfg.TierCaps))
	for tier, c := range cfg.TierCaps {
		caps[tier] = quota.TierCaps{Notifications: c.Notifications, OracleCalls: c.OracleCalls}
	}
	return caps
}
