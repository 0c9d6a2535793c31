package server

import (
	"errors"
	"net/http"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorUnauthorized   = "unauthorized"
	errorInvalidRequest = "invalid_request"
	errorNotFound       = "not_found"
)

// statusForKind maps a service error kind to its HTTP status.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUserNotFound, domain.KindMissionOrProgressNotFound:
		return http.StatusNotFound
	case domain.KindMissionNotCompleted, domain.KindRewardAlreadyClaimed:
		return http.StatusConflict
	case domain.KindInvalidAmount, domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// respondOK writes a success envelope with fields merged in.
func respondOK(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"success": true}
	for key, value := range fields {
		body[key] = value
	}
	c.JSON(status, body)
}

func respondFailure(c *gin.Context, status int, kind string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": kind})
}

// respondError converts a service error into the failure envelope.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	body := gin.H{"success": false, "error": string(kind)}
	var serviceErr *domain.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("operation", operation),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
