package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/resolve-cli/internal/match"
	"github.com/sells-group/resolve-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Match      match.Config     `yaml:"match" mapstructure:"match"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Verify     VerifyConfig     `yaml:"verify" mapstructure:"verify"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// EnrichmentConfig configures the third-party profile lookup.
type EnrichmentConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	Retries     int     `yaml:"retries" mapstructure:"retries"`
}

// BatchConfig configures batch resolution.
type BatchConfig struct {
	MaxConcurrentParticipants int `yaml:"max_concurrent_participants" mapstructure:"max_concurrent_participants"`
}

// VerifyConfig configures the verification queue.
type VerifyConfig struct {
	OverdueHours int `yaml:"overdue_hours" mapstructure:"overdue_hours"`

	// RequireNewLeadReview queues unmatched participants for review
	// instead of auto-provisioning leads.
	RequireNewLeadReview bool `yaml:"require_new_lead_review" mapstructure:"require_new_lead_review"`

	// BulkThreshold is the default confidence floor for bulk approval.
	BulkThreshold float64 `yaml:"bulk_threshold" mapstructure:"bulk_threshold"`

	// BulkSkipMethods lists match methods never approved in bulk, e.g.
	// ["fuzzy_name"]. Ambiguous requests and requests without a candidate
	// lead are always skipped.
	BulkSkipMethods []string `yaml:"bulk_skip_methods" mapstructure:"bulk_skip_methods"`
}

// ServerConfig configures the HTTP review API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "resolve.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_participants", 8)
	v.SetDefault("verify.overdue_hours", 48)
	v.SetDefault("verify.require_new_lead_review", false)
	v.SetDefault("verify.bulk_threshold", 0.75)
	v.SetDefault("verify.bulk_skip_methods", []string{})
	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.base_url", "https://api.profileview.io/v1")
	v.SetDefault("enrichment.timeout_secs", 10)
	v.SetDefault("enrichment.rate_per_sec", 5)
	v.SetDefault("enrichment.burst", 5)
	v.SetDefault("enrichment.retries", 3)

	mdef := match.DefaultConfig()
	v.SetDefault("match.auto_match_threshold", mdef.AutoMatchThreshold)
	v.SetDefault("match.review_lower_bound", mdef.ReviewLowerBound)
	v.SetDefault("match.name_similarity_min", mdef.NameSimilarityMin)
	v.SetDefault("match.company_similarity_min", mdef.CompanySimilarityMin)
	v.SetDefault("match.name_weight", mdef.NameWeight)
	v.SetDefault("match.company_weight", mdef.CompanyWeight)
	v.SetDefault("match.name_company_cap", mdef.NameCompanyCap)
	v.SetDefault("match.domain_confidence", mdef.DomainConfidence)
	v.SetDefault("match.domain_ambiguous_confidence", mdef.DomainAmbiguousConfidence)
	v.SetDefault("match.phone_confidence", mdef.PhoneConfidence)
	v.SetDefault("match.fuzzy_name_min", mdef.FuzzyNameMin)
	v.SetDefault("match.fuzzy_name_cap", mdef.FuzzyNameCap)
	v.SetDefault("match.enrichment_bonus", mdef.EnrichmentBonus)
	v.SetDefault("match.enrichment_cap", mdef.EnrichmentCap)
	v.SetDefault("match.enrichment_timeout_secs", mdef.EnrichmentTimeoutSecs)
	v.SetDefault("match.candidate_limit", mdef.CandidateLimit)
	v.SetDefault("match.generic_domains", mdef.GenericDomains)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
