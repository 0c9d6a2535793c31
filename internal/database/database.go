package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/notifications"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&ranks.Tier{},
		&agents.Agent{},
		&agents.Identity{},
		&ledger.XPEvent{},
		&missions.Mission{},
		&missions.Progress{},
		&field.Run{},
		&field.Lead{},
		&notifications.Notification{},
		&migrationRecord{},
	}
}

// Open connects to the configured store and brings the schema up to date.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(30)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", driverName(driver)))
	return db, nil
}

func driverName(driver string) string {
	if strings.TrimSpace(driver) == "" {
		return DriverSQLite
	}
	return strings.ToLower(strings.TrimSpace(driver))
}
