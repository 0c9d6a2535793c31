package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestOpenSeedsReferenceDataOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "streetteam.db")

	for attempt := 0; attempt < 2; attempt++ {
		db, err := Open(DriverSQLite, databasePath, zap.NewNop())
		if err != nil {
			testContext.Fatalf("attempt %d: failed to open database: %v", attempt, err)
		}

		var tierCount int64
		if err := db.Model(&ranks.Tier{}).Count(&tierCount).Error; err != nil {
			testContext.Fatalf("failed to count tiers: %v", err)
		}
		if tierCount != int64(len(ranks.DefaultTiers())) {
			testContext.Fatalf("attempt %d: expected %d tiers, got %d", attempt, len(ranks.DefaultTiers()), tierCount)
		}

		var missionCount int64
		if err := db.Model(&missions.Mission{}).Count(&missionCount).Error; err != nil {
			testContext.Fatalf("failed to count missions: %v", err)
		}
		if missionCount != 3 {
			testContext.Fatalf("attempt %d: expected 3 starter missions, got %d", attempt, missionCount)
		}

		var records []migrationRecord
		if err := db.Find(&records).Error; err != nil {
			testContext.Fatalf("failed to load migration records: %v", err)
		}
		if len(records) != 3 {
			testContext.Fatalf("attempt %d: expected 3 migration records, got %d", attempt, len(records))
		}

		sqlDB, err := db.DB()
		if err != nil {
			testContext.Fatalf("failed to access sql db: %v", err)
		}
		if err := sqlDB.Close(); err != nil {
			testContext.Fatalf("failed to close database: %v", err)
		}
	}
}

func TestSeededTiersLoadAsTable(testContext *testing.T) {
	db, err := Open(DriverSQLite, filepath.Join(testContext.TempDir(), "tiers.db"), nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	table, err := ranks.LoadTable(context.Background(), db)
	if err != nil {
		testContext.Fatalf("failed to load table: %v", err)
	}
	if table.DeriveRank(2500).Name != "Gold" {
		testContext.Fatalf("expected Gold at 2500, got %s", table.DeriveRank(2500).Name)
	}
	if !table.CommissionRateForRank("Gold").Equal(decimal.RequireFromString("0.20")) {
		testContext.Fatalf("expected gold rate 0.20, got %s", table.CommissionRateForRank("Gold"))
	}
}

func TestSeedRankTiersKeepsOperatorLadder(testContext *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "custom.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	custom := ranks.Tier{Code: "rookie", Name: "Rookie", MinXP: 0, CommissionRate: decimal.RequireFromString("0.10"), OrderIndex: 0}
	if err := db.Create(&custom).Error; err != nil {
		testContext.Fatalf("failed to insert custom tier: %v", err)
	}

	if err := applyMigrations(db, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var tiers []ranks.Tier
	if err := db.Find(&tiers).Error; err != nil {
		testContext.Fatalf("failed to load tiers: %v", err)
	}
	if len(tiers) != 1 || tiers[0].Name != "Rookie" {
		testContext.Fatalf("expected operator ladder to survive, got %+v", tiers)
	}

	var record migrationRecord
	if err := db.Where("name = ?", migrationSeedRankTiers).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestBackfillMarksCurrentLeadStage(testContext *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "leads.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	legacy := []field.Lead{
		{ID: "lead-1", UserID: "agent-1", VenueName: "Mohawk", Stage: field.StageLive, CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
		{ID: "lead-2", UserID: "agent-1", VenueName: "Parish", Stage: field.StageDemo, CreatedAtSeconds: 1, UpdatedAtSeconds: 1},
	}
	if err := db.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert leads: %v", err)
	}

	if err := applyMigrations(db, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var leads []field.Lead
	if err := db.Order("id ASC").Find(&leads).Error; err != nil {
		testContext.Fatalf("failed to load leads: %v", err)
	}
	if !leads[0].HasReached(field.StageLive) || leads[0].HasReached(field.StageDemo) {
		testContext.Fatalf("expected lead-1 to have reached only live, got mask %d", leads[0].ReachedStages)
	}
	if !leads[1].HasReached(field.StageDemo) || leads[1].HasReached(field.StageLive) {
		testContext.Fatalf("expected lead-2 to have reached only demo, got mask %d", leads[1].ReachedStages)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open("oracle", "dsn", zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for unsupported driver")
	}
	if _, err := Open(DriverSQLite, "  ", zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for blank dsn")
	}
}
