// Package app assembles the services behind the API and the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/auth"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/config"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/earnings"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/events"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/leaderboard"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/notifications"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/scheduler"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/server"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/streaks"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("app: database handle is required")

type Options struct {
	Config   config.AppConfig
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// LeaderboardStore replaces the redis client built from Config.RedisAddress.
	LeaderboardStore leaderboard.SortedSetStore
}

// App holds the wired services for one process.
type App struct {
	Config        config.AppConfig
	Ranks         *ranks.Table
	Agents        *agents.Service
	Ledger        *ledger.Service
	Missions      *missions.Service
	Field         *field.Service
	Streaks       *streaks.Calculator
	Earnings      *earnings.Estimator
	Notifications *notifications.Service
	Events        *events.Dispatcher
	Leaderboard   *leaderboard.Mirror
	Sessions      *auth.SessionValidator
	Tokens        *auth.TokenIssuer
	// Reconcile is nil when no reconcile interval is configured.
	Reconcile *scheduler.ReconcileJob

	logger       *zap.Logger
	redisClient  *redis.Client
	stopActivity context.CancelFunc
	activityDone chan struct{}
}

func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Database == nil {
		return nil, errMissingDatabase
	}
	cfg := opts.Config
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	db := opts.Database
	ids := domain.NewUUIDProvider()
	application := &App{Config: cfg, logger: logger}

	table, err := ranks.LoadTable(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load rank table: %w", err)
	}
	application.Ranks = table

	anchor, err := streaks.ParseAnchor(cfg.StreakAnchor)
	if err != nil {
		return nil, err
	}

	store := opts.LeaderboardStore
	if store == nil && cfg.LeaderboardEnabled() {
		client, clientErr := leaderboard.NewRedisClient(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		if clientErr != nil {
			return nil, clientErr
		}
		application.redisClient = client
		store = client
	}
	if store != nil {
		mirror, mirrorErr := leaderboard.NewMirror(leaderboard.Config{
			Store:  store,
			Key:    cfg.LeaderboardKey,
			Logger: logger.Named("leaderboard"),
		})
		if mirrorErr != nil {
			return nil, mirrorErr
		}
		application.Leaderboard = mirror
	}

	application.Events = events.NewDispatcher()

	application.Notifications, err = notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids,
		Logger:     logger.Named("notifications"),
	})
	if err != nil {
		return nil, err
	}

	application.Agents, err = agents.NewService(agents.ServiceConfig{
		Database: db,
		Clock:    clock,
		Ranks:    table,
		Logger:   logger.Named("agents"),
	})
	if err != nil {
		return nil, err
	}

	ledgerConfig := ledger.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids,
		Ranks:      table,
		Publisher:  application.Events,
		Notifier:   application.Notifications,
		Logger:     logger.Named("ledger"),
	}
	if application.Leaderboard != nil {
		ledgerConfig.Mirror = application.Leaderboard
	}
	application.Ledger, err = ledger.NewService(ledgerConfig)
	if err != nil {
		return nil, err
	}

	application.Missions, err = missions.NewService(missions.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids,
		Awarder:    application.Ledger,
		Publisher:  application.Events,
		Notifier:   application.Notifications,
		Logger:     logger.Named("missions"),
	})
	if err != nil {
		return nil, err
	}

	application.Field, err = field.NewService(field.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids,
		Awarder:    application.Ledger,
		Tracker:    application.Missions,
		Rewards: field.Rewards{
			RunCompletedXP: cfg.RunCompletedXP,
			StageXP: map[field.Stage]int64{
				field.StageDemo:          cfg.LeadDemoXP,
				field.StageSignedPending: cfg.LeadSignedXP,
				field.StageLive:          cfg.LeadLiveXP,
			},
		},
		Logger: logger.Named("field"),
	})
	if err != nil {
		return nil, err
	}

	application.Streaks, err = streaks.NewCalculator(streaks.Config{
		Database: db,
		Clock:    clock,
		Location: cfg.StreakLocation,
		Anchor:   anchor,
		Logger:   logger.Named("streaks"),
	})
	if err != nil {
		return nil, err
	}

	application.Earnings, err = earnings.NewEstimator(earnings.Config{
		Ranks:       table,
		Agents:      application.Agents,
		Venues:      application.Field,
		PerVenueFee: cfg.PerVenueFee,
		Logger:      logger.Named("earnings"),
	})
	if err != nil {
		return nil, err
	}

	application.Sessions, err = auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(cfg.AuthSigningSecret),
		Issuer:        cfg.AuthIssuer,
		CookieName:    cfg.AuthCookieName,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}
	application.Tokens, err = auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(cfg.AuthSigningSecret),
		Issuer:        application.Sessions.Issuer(),
		TokenTTL:      cfg.AuthTokenTTL,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}

	if cfg.ReconcileInterval > 0 {
		application.Reconcile, err = scheduler.NewReconcileJob(scheduler.Config{
			Reconciler: application.Ledger,
			Interval:   cfg.ReconcileInterval,
			Logger:     logger.Named("scheduler"),
		})
		if err != nil {
			return nil, err
		}
	}

	activityCtx, stopActivity := context.WithCancel(context.Background())
	application.stopActivity = stopActivity
	application.activityDone = make(chan struct{})
	activity, _ := application.Events.SubscribeAll(activityCtx)
	go func() {
		defer close(application.activityDone)
		events.LogActivity(activityCtx, activity, logger.Named("activity"))
	}()

	return application, nil
}

// Handler builds the HTTP API over the wired services.
func (a *App) Handler() (http.Handler, error) {
	return server.NewHTTPHandler(server.Dependencies{
		Sessions:       a.Sessions,
		Agents:         a.Agents,
		Ledger:         a.Ledger,
		Missions:       a.Missions,
		Field:          a.Field,
		Streaks:        a.Streaks,
		Earnings:       a.Earnings,
		Notifications:  a.Notifications,
		Leaderboard:    a.Leaderboard,
		Events:         a.Events,
		AllowedOrigins: a.Config.AllowedOrigins,
		Logger:         a.logger.Named("http"),
	})
}

// Close stops the reconcile job and the activity log, then releases the redis connection.
func (a *App) Close() error {
	if a.stopActivity != nil {
		a.stopActivity()
		<-a.activityDone
	}
	var errs []error
	if a.Reconcile != nil {
		errs = append(errs, a.Reconcile.Shutdown())
	}
	if a.redisClient != nil {
		errs = append(errs, a.redisClient.Close())
	}
	return errors.Join(errs...)
}
