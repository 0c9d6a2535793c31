package ranks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestDeriveRankDefaultLadder(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		totalXP int64
		want    string
	}{
		{totalXP: 0, want: "Bronze"},
		{totalXP: 500, want: "Bronze"},
		{totalXP: 999, want: "Bronze"},
		{totalXP: 1000, want: "Silver"},
		{totalXP: 1100, want: "Silver"},
		{totalXP: 2500, want: "Gold"},
		{totalXP: 24999, want: "Diamond"},
		{totalXP: 25000, want: "Black Key"},
		{totalXP: 1 << 40, want: "Black Key"},
	}

	for _, tt := range tests {
		if got := table.DeriveRank(tt.totalXP).Name; got != tt.want {
			t.Fatalf("DeriveRank(%d): want %s got %s", tt.totalXP, tt.want, got)
		}
	}
}

func TestDeriveRankIsMonotonicAndDeterministic(t *testing.T) {
	table := DefaultTable()
	previous := table.DeriveRank(0)
	for total := int64(0); total <= 30000; total += 37 {
		first := table.DeriveRank(total)
		second := table.DeriveRank(total)
		if first != second {
			t.Fatalf("DeriveRank(%d) not deterministic: %v vs %v", total, first, second)
		}
		if first.MinXP < previous.MinXP {
			t.Fatalf("rank decreased at %d: %s after %s", total, first.Name, previous.Name)
		}
		previous = first
	}
}

func TestDeriveRankDuplicateThresholdsPickLowestOrderIndex(t *testing.T) {
	table, err := NewTable([]Tier{
		{Name: "Rookie", MinXP: 0, CommissionRate: decimal.RequireFromString("0.10"), OrderIndex: 0},
		{Name: "Closer", MinXP: 500, CommissionRate: decimal.RequireFromString("0.20"), OrderIndex: 2},
		{Name: "Hustler", MinXP: 500, CommissionRate: decimal.RequireFromString("0.15"), OrderIndex: 1},
	})
	if err != nil {
		t.Fatalf("unexpected table error: %v", err)
	}

	for i := 0; i < 10; i++ {
		if got := table.DeriveRank(750).Name; got != "Hustler" {
			t.Fatalf("expected Hustler for tied threshold, got %s", got)
		}
	}
}

func TestDeriveRankBelowLowestThresholdDefaultsToLowest(t *testing.T) {
	table, err := NewTable([]Tier{
		{Name: "Starter", MinXP: 100, CommissionRate: decimal.RequireFromString("0.05")},
		{Name: "Pro", MinXP: 1000, CommissionRate: decimal.RequireFromString("0.10"), OrderIndex: 1},
	})
	if err != nil {
		t.Fatalf("unexpected table error: %v", err)
	}
	if got := table.DeriveRank(10).Name; got != "Starter" {
		t.Fatalf("expected lowest tier, got %s", got)
	}
}

func TestCommissionRateForRankFallsBackToLowest(t *testing.T) {
	table := DefaultTable()

	if got := table.CommissionRateForRank("NonexistentRank"); !got.Equal(table.Lowest().CommissionRate) {
		t.Fatalf("expected fallback rate %s, got %s", table.Lowest().CommissionRate, got)
	}
	if got := table.CommissionRateForRank(""); !got.Equal(decimal.RequireFromString("0.15")) {
		t.Fatalf("expected fallback for blank rank, got %s", got)
	}
	if got := table.CommissionRateForRank("gold"); !got.Equal(decimal.RequireFromString("0.20")) {
		t.Fatalf("expected case-insensitive lookup, got %s", got)
	}
	if got := table.CommissionRateForRank("black-key"); !got.Equal(decimal.RequireFromString("0.35")) {
		t.Fatalf("expected code lookup, got %s", got)
	}
}

func TestXPToNextRank(t *testing.T) {
	table := DefaultTable()

	progress := table.XPToNextRank(1100)
	if progress.Current.Name != "Silver" {
		t.Fatalf("expected Silver, got %s", progress.Current.Name)
	}
	if progress.Next == nil || progress.Next.Name != "Gold" {
		t.Fatalf("expected Gold as next rank, got %#v", progress.Next)
	}
	if progress.Remaining != 1400 {
		t.Fatalf("expected 1400 remaining, got %d", progress.Remaining)
	}

	top := table.XPToNextRank(30000)
	if top.Next != nil || top.Remaining != 0 {
		t.Fatalf("expected no next rank at the top, got %#v", top)
	}
}

func TestNewTableValidation(t *testing.T) {
	if _, err := NewTable(nil); !errors.Is(err, ErrEmptyTable) {
		t.Fatalf("expected empty table error, got %v", err)
	}
	if _, err := NewTable([]Tier{{Name: "Bad", MinXP: -1}}); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected invalid tier for negative threshold, got %v", err)
	}
	if _, err := NewTable([]Tier{{Name: "Greedy", CommissionRate: decimal.RequireFromString("1.5")}}); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected invalid tier for rate above one, got %v", err)
	}
	if _, err := NewTable([]Tier{{Name: "Twin"}, {Name: "twin", MinXP: 10}}); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("expected duplicate name rejection, got %v", err)
	}
}

func TestLoadTableFallsBackToDefaults(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ranks.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Tier{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	table, err := LoadTable(context.Background(), db)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(table.Tiers()) != len(DefaultTiers()) {
		t.Fatalf("expected default ladder, got %d tiers", len(table.Tiers()))
	}

	custom := []Tier{
		{Code: "cadet", Name: "Cadet", MinXP: 0, CommissionRate: decimal.RequireFromString("0.12"), OrderIndex: 0},
		{Code: "captain", Name: "Captain", MinXP: 300, CommissionRate: decimal.RequireFromString("0.18"), OrderIndex: 1},
	}
	if err := db.Create(&custom).Error; err != nil {
		t.Fatalf("failed to insert tiers: %v", err)
	}

	table, err = LoadTable(context.Background(), db)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := table.DeriveRank(301).Name; got != "Captain" {
		t.Fatalf("expected stored ladder to be used, got %s", got)
	}
	if got := table.CommissionRateForRank("Captain"); !got.Equal(decimal.RequireFromString("0.18")) {
		t.Fatalf("expected stored rate to round-trip, got %s", got)
	}
}
