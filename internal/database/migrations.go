package database

import (
	"errors"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationSeedRankTiers       = "2025-06-01_seed_rank_tiers"
	migrationSeedStarterMissions = "2025-06-08_seed_starter_missions"
	migrationBackfillLeadStages  = "2025-06-15_backfill_lead_reached_stages"

	starterMissionSpan = 10 * 365 * 24 * time.Hour
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, time.Time) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedRankTiers, apply: seedRankTiers},
		{name: migrationSeedStarterMissions, apply: seedStarterMissions},
		{name: migrationBackfillLeadStages, apply: backfillLeadReachedStages},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now().UTC()
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, now); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: now.Unix()}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// seedRankTiers installs the default ladder unless an operator already loaded one.
func seedRankTiers(db *gorm.DB, _ time.Time) error {
	var count int64
	if err := db.Model(&ranks.Tier{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	tiers := ranks.DefaultTable().Tiers()
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&tiers).Error
}

func starterMissions(now time.Time) []missions.Mission {
	seeded := []missions.Mission{
		{
			ID:            "starter-first-lead",
			Title:         "First lead",
			Description:   "Add your first venue to the pipeline.",
			Trigger:       missions.TriggerLeadAdded,
			XPReward:      50,
			RequiredCount: 1,
		},
		{
			ID:            "starter-first-run",
			Title:         "First run",
			Description:   "Complete your first run.",
			Trigger:       missions.TriggerRunCompleted,
			XPReward:      50,
			RequiredCount: 1,
		},
		{
			ID:            "starter-first-live",
			Title:         "First live venue",
			Description:   "Take a venue all the way to live.",
			Trigger:       missions.TriggerLeadLive,
			XPReward:      200,
			PointReward:   20,
			RequiredCount: 1,
		},
	}
	for index := range seeded {
		seeded[index].Type = missions.TypeOneOff
		seeded[index].Scope = missions.ScopeGlobal
		seeded[index].ValidFromSeconds = now.Unix()
		seeded[index].ValidToSeconds = now.Add(starterMissionSpan).Unix()
		seeded[index].CreatedBy = "system"
		seeded[index].CreatedAtSeconds = now.Unix()
	}
	return seeded
}

func seedStarterMissions(db *gorm.DB, now time.Time) error {
	seeded := starterMissions(now)
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seeded).Error
}

// backfillLeadReachedStages marks each existing lead's current stage as visited so
// leads created before stage tracking cannot collect that stage's XP again.
func backfillLeadReachedStages(db *gorm.DB, _ time.Time) error {
	var stages []field.Stage
	if err := db.Model(&field.Lead{}).Where("reached_stages = 0").Distinct().Pluck("stage", &stages).Error; err != nil {
		return err
	}
	for _, stage := range stages {
		err := db.Model(&field.Lead{}).
			Where("reached_stages = 0 AND stage = ?", stage).
			Update("reached_stages", field.ReachedMask(field.StageNew, stage)).Error
		if err != nil {
			return err
		}
	}
	return nil
}
