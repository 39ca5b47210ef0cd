// Package config loads the process configuration surface of spec §6: feed
// endpoint, sink credentials, oracle endpoint/model, poll interval,
// concurrency caps, quota caps per tier, null-region policy and enrichment
// timeout. Structured the way grafana-tempo's cmd/tempo/app.Config is — a
// tree of nested yaml-tagged structs with a RegisterFlagsAndApplyDefaults
// method — but trimmed to flag.FlagSet-free defaults since this module has
// no distributed-ring bootstrapping concern to justify tempo's flag layer.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/dataparency-dev/tenderwatch/internal/model"
)

// Concurrency holds the resource caps of spec §5.
type Concurrency struct {
	FiltersInFlight        int `yaml:"filters_in_flight"`
	EnrichmentsPerFilter   int `yaml:"enrichments_per_filter"`
	EnrichmentsGlobal      int `yaml:"enrichments_global"`
	MaxCandidatesPerFilter int `yaml:"max_candidates_per_filter"`
}

// TierCaps is the per-tier notification/oracle daily quota cap.
type TierCaps struct {
	Notifications int `yaml:"notifications"`
	OracleCalls   int `yaml:"oracle_calls"`
}

// Scoring holds the tunable thresholds of spec §4.3/§4.9.
type Scoring struct {
	PreScoreThreshold        int              `yaml:"pre_score_threshold"`
	PreNotifyScore           int              `yaml:"pre_notify_score"`
	MinScoreForNotification  int              `yaml:"min_score_for_notification"`
	NullRegionPolicy         model.NullRegionPolicy `yaml:"null_region_policy"`
	ArchiveGuardDays         int              `yaml:"archive_guard_days"`
}

// Feed holds the upstream feed source configuration.
type Feed struct {
	Endpoint       string        `yaml:"endpoint"`
	DetailBaseURL  string        `yaml:"detail_base_url"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
}

// Oracle holds the RelevanceOracle configuration.
type Oracle struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Sink holds the NotificationSink configuration.
type Sink struct {
	Endpoint    string        `yaml:"endpoint"`
	AuthToken   string        `yaml:"auth_token"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// BreakerFailureThreshold/BreakerCooldown govern the per-subscriber
	// circuit breaker that stops retrying a persistently failing delivery
	// endpoint instead of hammering it every cycle.
	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerCooldown         time.Duration `yaml:"breaker_cooldown"`
}

// Cache holds the persistent cache configuration.
type Cache struct {
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	EnrichmentTTL  time.Duration `yaml:"enrichment_ttl"`
	OracleTTL      time.Duration `yaml:"oracle_ttl"`
	FrontTTL       time.Duration `yaml:"front_ttl"`
	FrontCleanup   time.Duration `yaml:"front_cleanup"`
}

// Database holds the Postgres DSN used by QuotaGate and DeliveryLedger.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Config is the root configuration for the tenderwatch pipeline process.
type Config struct {
	PollInterval time.Duration          `yaml:"poll_interval"`
	// ReservationMaxAge is how long a tentative delivery row may sit
	// unconfirmed before the maintenance sweep reclaims it (spec §7
	// "Tentative-row expiry"). Zero means "one cycle interval", applied by
	// pipeline.New.
	ReservationMaxAge time.Duration      `yaml:"reservation_max_age"`
	Concurrency  Concurrency            `yaml:"concurrency"`
	TierCaps     map[model.Tier]TierCaps `yaml:"tier_caps"`
	Scoring      Scoring                `yaml:"scoring"`
	Feed         Feed                   `yaml:"feed"`
	Oracle       Oracle                 `yaml:"oracle"`
	Sink         Sink                   `yaml:"sink"`
	Cache        Cache                  `yaml:"cache"`
	Database     Database               `yaml:"database"`
	LogLevel     string                 `yaml:"log_level"`
}

// Default returns the configuration with every spec-mandated default value
// applied, matching spec §5's "Resource caps (configurable)" table and §4.6's
// tier cap table.
func Default() Config {
	return Config{
		PollInterval: 300 * time.Second,
		Concurrency: Concurrency{
			FiltersInFlight:        4,
			EnrichmentsPerFilter:   8,
			EnrichmentsGlobal:      16,
			MaxCandidatesPerFilter: 50,
		},
		TierCaps: map[model.Tier]TierCaps{
			model.TierTrial:   {Notifications: 20, OracleCalls: 20},
			model.TierBasic:   {Notifications: 50, OracleCalls: 100},
			model.TierPremium: {Notifications: 100, OracleCalls: 10000},
		},
		Scoring: Scoring{
			PreScoreThreshold:       1,
			PreNotifyScore:          30,
			MinScoreForNotification: 35,
			NullRegionPolicy:        model.NullRegionPenalise,
			ArchiveGuardDays:        90,
		},
		Feed: Feed{HTTPTimeout: 10 * time.Second},
		Oracle: Oracle{
			HTTPTimeout: 10 * time.Second,
			CacheTTL:    24 * time.Hour,
		},
		Sink: Sink{
			HTTPTimeout:             10 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         30 * time.Minute,
		},
		Cache: Cache{
			EnrichmentTTL: 7 * 24 * time.Hour,
			OracleTTL:     24 * time.Hour,
			FrontTTL:      10 * time.Minute,
			FrontCleanup:  time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file, expanding ${VAR}-style environment
// references before unmarshalling, so secrets (sink credentials, oracle API
// key, database DSN) never appear in the committed file — spec §6
// "Configuration surface: ... No secrets appear in persisted state."
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded, err := envsubst.EvalEnv(string(raw))
	if err != nil {
		return cfg, fmt.Errorf("expand env vars in config %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
