package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/earnings"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/leaderboard"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/streaks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleRanks(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{"ranks": h.ledger.Ranks().Tiers()})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	agent, err := h.agents.Get(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "server.me", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"agent": agent})
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var update agents.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		respondFailure(c, http.StatusBadRequest, errorInvalidRequest)
		return
	}
	agent, err := h.agents.UpdateProfile(c.Request.Context(), currentUserID(c), update)
	if err != nil {
		h.respondError(c, "server.update_profile", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"agent": agent})
}

func (h *httpHandler) handleProgression(c *gin.Context) {
	progression, err := h.ledger.Progression(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "server.progression", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"progression": progression})
}

func (h *httpHandler) handleXPEvents(c *gin.Context) {
	history, err := h.ledger.History(c.Request.Context(), currentUserID(c), queryLimit(c))
	if err != nil {
		h.respondError(c, "server.xp_events", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"events": history})
}

// handleStreak degrades to an all-zero streak when the calculation fails.
func (h *httpHandler) handleStreak(c *gin.Context) {
	summary, err := h.streaks.CalculateStreak(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.logger.Warn("streak degraded to zero", zap.String("user_id", currentUserID(c).String()), zap.Error(err))
		respondOK(c, http.StatusOK, gin.H{"streak": streaks.Summary{}, "degraded": true})
		return
	}
	respondOK(c, http.StatusOK, gin.H{"streak": summary})
}

// handleEarnings degrades to a zero estimate when the calculation fails.
func (h *httpHandler) handleEarnings(c *gin.Context) {
	estimate, err := h.earnings.EstimateForAgent(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.logger.Warn("earnings degraded to zero", zap.String("user_id", currentUserID(c).String()), zap.Error(err))
		respondOK(c, http.StatusOK, gin.H{"earnings": earnings.Estimate{MonthlyEstimate: "0.00"}, "degraded": true})
		return
	}
	respondOK(c, http.StatusOK, gin.H{"earnings": estimate})
}

func (h *httpHandler) handleNotifications(c *gin.Context) {
	items, err := h.notifications.List(c.Request.Context(), currentUserID(c), queryLimit(c))
	if err != nil {
		h.respondError(c, "server.notifications", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"notifications": items})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.respondError(c, "server.mark_notification_read", err)
		return
	}
	respondOK(c, http.StatusOK, nil)
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	if h.leaderboard == nil {
		respondFailure(c, http.StatusNotFound, errorNotFound)
		return
	}
	top, err := h.leaderboard.Top(c.Request.Context(), queryLimit(c))
	if err != nil {
		if errors.Is(err, leaderboard.ErrDisabled) {
			respondFailure(c, http.StatusNotFound, errorNotFound)
			return
		}
		h.logger.Warn("leaderboard unavailable", zap.Error(err))
		respondFailure(c, http.StatusServiceUnavailable, "leaderboard_unavailable")
		return
	}
	fields := gin.H{"entries": top}
	if standing, ok, err := h.leaderboard.Standing(c.Request.Context(), currentUserID(c).String()); err == nil && ok {
		fields["me"] = standing
	}
	respondOK(c, http.StatusOK, fields)
}

type manualAwardPayload struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"gte=0"`
	Points int64  `json:"points" binding:"gte=0"`
}

func (h *httpHandler) handleManualAward(c *gin.Context) {
	var payload manualAwardPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondFailure(c, http.StatusBadRequest, errorInvalidRequest)
		return
	}
	userID, err := domain.NewUserID(payload.UserID)
	if err != nil {
		respondFailure(c, http.StatusBadRequest, errorInvalidRequest)
		return
	}
	outcome, err := h.ledger.AwardXP(c.Request.Context(), ledger.AwardRequest{
		UserID:   userID,
		Amount:   payload.Amount,
		Points:   payload.Points,
		Source:   ledger.SourceManualBonus,
		SourceID: currentUserID(c).String(),
	})
	if err != nil {
		h.respondError(c, "server.manual_award", err)
		return
	}
	h.logger.Info("manual xp awarded",
		zap.String("granted_by", currentUserID(c).String()),
		zap.String("user_id", userID.String()),
		zap.Int64("amount", payload.Amount))
	respondOK(c, http.StatusCreated, gin.H{"award": outcome})
}

func (h *httpHandler) handleReconcile(c *gin.Context) {
	repaired, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		h.respondError(c, "server.reconcile", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"repaired": repaired})
}

// queryLimit reads ?limit=; missing or malformed values defer to the service default.
func queryLimit(c *gin.Context) int {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
