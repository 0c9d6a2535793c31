package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabaseDriver != "sqlite" || cfg.DatabaseDSN != defaultDatabaseDSN {
		t.Fatalf("unexpected server defaults %+v", cfg)
	}
	if cfg.PerVenueFee.String() != "150" {
		t.Fatalf("expected default fee 150, got %s", cfg.PerVenueFee)
	}
	if cfg.StreakAnchor != "grace" || cfg.StreakLocation != time.UTC {
		t.Fatalf("unexpected streak defaults anchor=%s location=%v", cfg.StreakAnchor, cfg.StreakLocation)
	}
	if cfg.RunCompletedXP != 50 || cfg.LeadDemoXP != 25 || cfg.LeadSignedXP != 100 || cfg.LeadLiveXP != 250 {
		t.Fatalf("unexpected xp defaults %+v", cfg)
	}
	if cfg.LeaderboardEnabled() || cfg.ReconcileInterval != 0 {
		t.Fatalf("expected optional components disabled by default")
	}
	if cfg.AuthTokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.AuthTokenTTL)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STREETTEAM_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("STREETTEAM_REDIS_ADDRESS", "localhost:6379")
	t.Setenv("STREETTEAM_RECONCILE_INTERVAL", "15m")
	t.Setenv("STREETTEAM_STREAK_TIMEZONE", "America/Chicago")
	t.Setenv("STREETTEAM_EARNINGS_PER_VENUE_FEE", "199.50")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.AuthSigningSecret != "from-env" || !cfg.LeaderboardEnabled() {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.ReconcileInterval != 15*time.Minute {
		t.Fatalf("expected 15m interval, got %s", cfg.ReconcileInterval)
	}
	if cfg.StreakLocation.String() != "America/Chicago" {
		t.Fatalf("expected Chicago location, got %s", cfg.StreakLocation)
	}
	if cfg.PerVenueFee.StringFixed(2) != "199.50" {
		t.Fatalf("expected fee 199.50, got %s", cfg.PerVenueFee)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name    string
		key     string
		value   interface{}
		wantErr string
	}{
		{name: "missing secret", key: "auth.signing_secret", value: "", wantErr: "auth.signing_secret"},
		{name: "bad driver", key: "database.driver", value: "mysql", wantErr: "database.driver"},
		{name: "bad anchor", key: "streak.anchor", value: "weekly", wantErr: "streak.anchor"},
		{name: "bad timezone", key: "streak.timezone", value: "Mars/Olympus", wantErr: "streak.timezone"},
		{name: "bad fee", key: "earnings.per_venue_fee", value: "lots", wantErr: "earnings.per_venue_fee"},
		{name: "negative xp", key: "xp.run_completed", value: -5, wantErr: "xp rewards"},
		{name: "blank cookie", key: "auth.cookie_name", value: " ", wantErr: "auth.cookie_name"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set("auth.signing_secret", "secret")
			configViper.Set(testCase.key, testCase.value)
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestLoadKeepsExplicitZeroFee(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("earnings.per_venue_fee", "0")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.PerVenueFee.IsZero() {
		t.Fatalf("expected zero fee, got %s", cfg.PerVenueFee)
	}
}
