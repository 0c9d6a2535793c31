package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/auth"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/earnings"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/events"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/leaderboard"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/notifications"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/streaks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "streetteam_user_id"
	claimsContextKey = "streetteam_claims"

	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAgentService     = errors.New("agent service dependency required")
	errMissingLedgerService    = errors.New("ledger service dependency required")
	errMissingMissionService   = errors.New("mission service dependency required")
	errMissingFieldService     = errors.New("field service dependency required")
	errMissingStreaks          = errors.New("streak calculator dependency required")
	errMissingEarnings         = errors.New("earnings estimator dependency required")
	errMissingNotifications    = errors.New("notification service dependency required")
)

// SessionValidator authenticates a request from its bearer token or session cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Sessions      SessionValidator
	Agents        *agents.Service
	Ledger        *ledger.Service
	Missions      *missions.Service
	Field         *field.Service
	Streaks       *streaks.Calculator
	Earnings      *earnings.Estimator
	Notifications *notifications.Service
	// Leaderboard is nil when redis is not configured.
	Leaderboard *leaderboard.Mirror
	// Events is nil when live streaming is disabled.
	Events            *events.Dispatcher
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessionValidator
	case deps.Agents == nil:
		return nil, errMissingAgentService
	case deps.Ledger == nil:
		return nil, errMissingLedgerService
	case deps.Missions == nil:
		return nil, errMissingMissionService
	case deps.Field == nil:
		return nil, errMissingFieldService
	case deps.Streaks == nil:
		return nil, errMissingStreaks
	case deps.Earnings == nil:
		return nil, errMissingEarnings
	case deps.Notifications == nil:
		return nil, errMissingNotifications
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:          deps.Sessions,
		agents:            deps.Agents,
		ledger:            deps.Ledger,
		missions:          deps.Missions,
		field:             deps.Field,
		streaks:           deps.Streaks,
		earnings:          deps.Earnings,
		notifications:     deps.Notifications,
		leaderboard:       deps.Leaderboard,
		events:            deps.Events,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ranks", handler.handleRanks)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/me", handler.handleMe)
	protected.PUT("/me/profile", handler.handleUpdateProfile)
	protected.GET("/me/progression", handler.handleProgression)
	protected.GET("/me/xp-events", handler.handleXPEvents)
	protected.GET("/me/streak", handler.handleStreak)
	protected.GET("/me/earnings", handler.handleEarnings)
	protected.GET("/me/notifications", handler.handleNotifications)
	protected.POST("/me/notifications/:id/read", handler.handleMarkNotificationRead)

	protected.GET("/missions", handler.handleListMissions)
	protected.POST("/missions/:id/claim", handler.handleClaimMission)

	protected.GET("/runs", handler.handleListRuns)
	protected.POST("/runs", handler.handleStartRun)
	protected.POST("/runs/:id/complete", handler.handleCompleteRun)
	protected.GET("/leads", handler.handleListLeads)
	protected.POST("/leads", handler.handleAddLead)
	protected.POST("/leads/:id/stage", handler.handleAdvanceLead)

	protected.GET("/leaderboard", handler.handleLeaderboard)
	protected.GET("/events/stream", handler.handleEventStream)

	admin := protected.Group("/")
	admin.Use(handler.requireRole(auth.RoleAdmin))
	admin.POST("/missions", handler.handleCreateMission)
	admin.POST("/admin/xp", handler.handleManualAward)
	admin.POST("/admin/reconcile", handler.handleReconcile)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	allowAny := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAny = true
		}
	}
	if allowAny {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	sessions          SessionValidator
	agents            *agents.Service
	ledger            *ledger.Service
	missions          *missions.Service
	field             *field.Service
	streaks           *streaks.Calculator
	earnings          *earnings.Estimator
	notifications     *notifications.Service
	leaderboard       *leaderboard.Mirror
	events            *events.Dispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{"status": "ok"})
}
