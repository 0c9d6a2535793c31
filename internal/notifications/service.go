package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TypeRankUp           = "rank_up"
	TypeMissionCompleted = "mission_completed"

	defaultListLimit = 50
	maxListLimit     = 200

	opNotify   = "notifications.notify"
	opList     = "notifications.list"
	opMarkRead = "notifications.mark_read"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// Notification is an in-app message for one agent.
type Notification struct {
	ID               string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID           string         `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Title            string         `gorm:"column:title;size:255;not null" json:"title"`
	Body             string         `gorm:"column:body;type:text" json:"body"`
	Type             string         `gorm:"column:type;size:64;not null" json:"type"`
	Payload          datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`
	Read             bool           `gorm:"column:is_read;not null;default:false" json:"read"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null;index" json:"created_at_s"`
}

func (Notification) TableName() string {
	return "notifications"
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider domain.IDProvider
	Logger     *zap.Logger
}

// Service records notifications. Writes are best-effort: failures are logged and swallowed.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider domain.IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, domain.NewServiceError("notifications.service.new", "missing_database", domain.KindUnexpected, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, domain.NewServiceError("notifications.service.new", "missing_id_provider", domain.KindUnexpected, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Notify inserts a notification. It never fails the caller.
func (s *Service) Notify(ctx context.Context, userID domain.UserID, notificationType, title, body string, payload any) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opNotify, "id_generation_failed", err, zap.String("user_id", userID.String()))
		return
	}

	record := Notification{
		ID:               id,
		UserID:           userID.String(),
		Title:            title,
		Body:             body,
		Type:             notificationType,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			s.logError(opNotify, "payload_encode_failed", err, zap.String("user_id", userID.String()))
		} else {
			record.Payload = datatypes.JSON(encoded)
		}
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opNotify, "insert_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("type", notificationType))
	}
}

// List returns the agent's notifications, newest first.
func (s *Service) List(ctx context.Context, userID domain.UserID, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var records []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at_s DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, domain.NewServiceError(opList, "query_failed", domain.KindUnexpected, err)
	}
	return records, nil
}

// MarkRead flags one of the agent's notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID domain.UserID, notificationID string) error {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID.String()).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkRead, "update_failed", result.Error, zap.String("user_id", userID.String()))
		return domain.NewServiceError(opMarkRead, "update_failed", domain.KindUnexpected, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewServiceError(opMarkRead, "not_found", domain.KindInvalidInput, nil)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notifications service error", attrs...)
}
