package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	envPrefix                = "STREETTEAM"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "streetteam.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultCookieName        = "streetteam_session"
	defaultIssuer            = "streetteam-identity"
	defaultTokenTTL          = 24 * time.Hour
	defaultPerVenueFee       = "150"
	defaultStreakAnchor      = "grace"
	defaultStreakTimezone    = "UTC"
	defaultRunCompletedXP    = 50
	defaultLeadDemoXP        = 25
	defaultLeadSignedXP      = 100
	defaultLeadLiveXP        = 250
	defaultLeaderboardKey    = "streetteam:leaderboard:xp"
	defaultReconcileInterval = 0
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	DatabaseDriver string
	DatabaseDSN    string

	LogLevel  string
	LogFormat string

	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string
	AuthTokenTTL      time.Duration

	PerVenueFee    decimal.Decimal
	StreakAnchor   string
	StreakLocation *time.Location

	RunCompletedXP    int64
	LeadDemoXP        int64
	LeadSignedXP      int64
	LeadLiveXP        int64
	RedisAddress      string
	RedisPassword     string
	RedisDB           int
	LeaderboardKey    string
	ReconcileInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("earnings.per_venue_fee", defaultPerVenueFee)
	configViper.SetDefault("streak.anchor", defaultStreakAnchor)
	configViper.SetDefault("streak.timezone", defaultStreakTimezone)
	configViper.SetDefault("xp.run_completed", defaultRunCompletedXP)
	configViper.SetDefault("xp.lead_demo", defaultLeadDemoXP)
	configViper.SetDefault("xp.lead_signed_pending", defaultLeadSignedXP)
	configViper.SetDefault("xp.lead_live", defaultLeadLiveXP)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("leaderboard.key", defaultLeaderboardKey)
	configViper.SetDefault("reconcile.interval", defaultReconcileInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	fee, err := decimal.NewFromString(strings.TrimSpace(configViper.GetString("earnings.per_venue_fee")))
	if err != nil {
		return AppConfig{}, fmt.Errorf("earnings.per_venue_fee: %w", err)
	}
	location, err := time.LoadLocation(strings.TrimSpace(configViper.GetString("streak.timezone")))
	if err != nil {
		return AppConfig{}, fmt.Errorf("streak.timezone: %w", err)
	}

	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		AllowedOrigins:    configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		AuthTokenTTL:      configViper.GetDuration("auth.token_ttl"),
		PerVenueFee:       fee,
		StreakAnchor:      strings.ToLower(strings.TrimSpace(configViper.GetString("streak.anchor"))),
		StreakLocation:    location,
		RunCompletedXP:    configViper.GetInt64("xp.run_completed"),
		LeadDemoXP:        configViper.GetInt64("xp.lead_demo"),
		LeadSignedXP:      configViper.GetInt64("xp.lead_signed_pending"),
		LeadLiveXP:        configViper.GetInt64("xp.lead_live"),
		RedisAddress:      strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:     configViper.GetString("redis.password"),
		RedisDB:           configViper.GetInt("redis.db"),
		LeaderboardKey:    configViper.GetString("leaderboard.key"),
		ReconcileInterval: configViper.GetDuration("reconcile.interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LeaderboardEnabled reports whether a redis address was configured.
func (c AppConfig) LeaderboardEnabled() bool {
	return c.RedisAddress != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.PerVenueFee.IsNegative() {
		return fmt.Errorf("earnings.per_venue_fee must not be negative")
	}
	if c.StreakAnchor != "today" && c.StreakAnchor != "grace" {
		return fmt.Errorf("streak.anchor must be today or grace, got %q", c.StreakAnchor)
	}
	if c.RunCompletedXP < 0 || c.LeadDemoXP < 0 || c.LeadSignedXP < 0 || c.LeadLiveXP < 0 {
		return fmt.Errorf("xp rewards must not be negative")
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile.interval must not be negative")
	}
	return nil
}
