package server

import (
	"errors"
	"net/http"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/auth"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// authorizeRequest validates the session and resolves the calling agent.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		respondFailure(c, http.StatusUnauthorized, errorUnauthorized)
		return
	}

	agent, err := h.agents.ResolveAgent(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, "server.resolve_agent", err)
		return
	}

	c.Set(userIDContextKey, agent.UserID)
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := sessionClaims(c)
		if !ok || !claims.HasRole(role) {
			respondFailure(c, http.StatusForbidden, string(domain.KindForbidden))
			return
		}
		c.Next()
	}
}

func currentUserID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(userIDContextKey))
}

func sessionClaims(c *gin.Context) (auth.SessionClaims, bool) {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := value.(auth.SessionClaims)
	return claims, ok
}
