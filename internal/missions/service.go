package missions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/events"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/notifications"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew      = "missions.service.new"
	opUpdateProgress  = "missions.update_progress"
	opClaimReward     = "missions.claim_reward"
	opCreateMission   = "missions.create"
	opListActive      = "missions.list_active"
	validationTrigger = "mission_trigger"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAwarder    = errors.New("xp awarder is required")
)

// Awarder grants XP through the ledger.
type Awarder interface {
	AwardXPGuarded(ctx context.Context, request ledger.AwardRequest, guard ledger.Guard) (ledger.AwardOutcome, error)
}

// Publisher receives mission-completed events.
type Publisher interface {
	Publish(event events.Event)
}

// Notifier records user-facing notifications.
type Notifier interface {
	Notify(ctx context.Context, userID domain.UserID, notificationType, title, body string, payload any)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider domain.IDProvider
	Awarder    Awarder
	Publisher  Publisher
	Notifier   Notifier
	Logger     *zap.Logger
}

// Service tracks mission progress and gates one-time reward claims.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider domain.IDProvider
	awarder    Awarder
	publisher  Publisher
	notifier   Notifier
	logger     *zap.Logger
	validate   *validator.Validate
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_database", domain.KindUnexpected, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_id_provider", domain.KindUnexpected, errMissingIDProvider)
	}
	if cfg.Awarder == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_awarder", domain.KindUnexpected, errMissingAwarder)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation(validationTrigger, func(fl validator.FieldLevel) bool {
		return Trigger(fl.Field().String()).Valid()
	}); err != nil {
		return nil, domain.NewServiceError(opServiceNew, "validator_setup_failed", domain.KindUnexpected, err)
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		awarder:    cfg.Awarder,
		publisher:  cfg.Publisher,
		notifier:   cfg.Notifier,
		logger:     logger,
		validate:   validate,
	}, nil
}

// ProgressUpdate reports the effect of a trigger on one mission.
type ProgressUpdate struct {
	MissionID     string `json:"mission_id"`
	Title         string `json:"title"`
	NewCount      int64  `json:"new_count"`
	Completed     bool   `json:"completed"`
	JustCompleted bool   `json:"just_completed"`
}

// UpdateMissionProgress advances every active mission matching trigger for the agent.
// Completed-and-claimed missions are left untouched.
func (s *Service) UpdateMissionProgress(ctx context.Context, userID domain.UserID, trigger Trigger, incrementBy int64) ([]ProgressUpdate, error) {
	if incrementBy < 1 {
		return nil, domain.NewServiceError(opUpdateProgress, "invalid_increment", domain.KindInvalidInput,
			fmt.Errorf("increment %d", incrementBy))
	}
	if !trigger.Valid() {
		return nil, domain.NewServiceError(opUpdateProgress, "unknown_trigger", domain.KindInvalidInput,
			fmt.Errorf("trigger %q", trigger))
	}

	city, err := s.agentCity(ctx, userID, opUpdateProgress)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	candidates, err := s.activeMissions(ctx, city, now, trigger)
	if err != nil {
		s.logError(opUpdateProgress, "mission_query_failed", err, zap.String("user_id", userID.String()))
		return nil, domain.NewServiceError(opUpdateProgress, "mission_query_failed", domain.KindUnexpected, err)
	}

	updates := make([]ProgressUpdate, 0, len(candidates))
	for _, mission := range candidates {
		update, changed, err := s.advance(ctx, userID, mission, incrementBy, now)
		if err != nil {
			s.logError(opUpdateProgress, "progress_write_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("mission_id", mission.ID))
			return updates, domain.NewServiceError(opUpdateProgress, "progress_write_failed", domain.KindUnexpected, err)
		}
		if !changed {
			continue
		}
		updates = append(updates, update)
		if update.JustCompleted {
			s.announceCompletion(ctx, userID, mission)
		}
	}
	return updates, nil
}

func (s *Service) advance(ctx context.Context, userID domain.UserID, mission Mission, incrementBy int64, now time.Time) (ProgressUpdate, bool, error) {
	var (
		update  ProgressUpdate
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		progress, err := s.lockProgress(tx, userID, mission.ID, now)
		if err != nil {
			return err
		}
		if progress.IsCompleted && progress.XPAwarded {
			return nil
		}

		newCount := progress.CurrentCount + incrementBy
		completed := newCount >= mission.RequiredCount
		justCompleted := completed && !progress.IsCompleted

		fields := map[string]interface{}{
			"current_count": newCount,
			"is_completed":  completed,
			"updated_at_s":  now.Unix(),
		}
		if justCompleted {
			fields["completed_at_s"] = now.Unix()
		}
		if err := tx.Model(&Progress{}).Where("id = ?", progress.ID).Updates(fields).Error; err != nil {
			return err
		}

		changed = true
		update = ProgressUpdate{
			MissionID:     mission.ID,
			Title:         mission.Title,
			NewCount:      newCount,
			Completed:     completed,
			JustCompleted: justCompleted,
		}
		return nil
	})
	return update, changed, err
}

// lockProgress returns the agent's progress row for the mission, creating it on first use.
func (s *Service) lockProgress(tx *gorm.DB, userID domain.UserID, missionID string, now time.Time) (Progress, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Progress{}, err
	}
	fresh := Progress{
		ID:               id,
		MissionID:        missionID,
		UserID:           userID.String(),
		UpdatedAtSeconds: now.Unix(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return Progress{}, err
	}
	var progress Progress
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("mission_id = ? AND user_id = ?", missionID, userID.String()).
		Take(&progress).Error
	return progress, err
}

// ClaimOutcome reports a successful claim.
type ClaimOutcome struct {
	MissionID     string              `json:"mission_id"`
	XPAwarded     int64               `json:"xp_awarded"`
	PointsAwarded int64               `json:"points_awarded"`
	Award         ledger.AwardOutcome `json:"award"`
}

// ClaimMissionReward awards a completed mission's reward exactly once. The claimed
// flag is set inside the ledger transaction, so a failed award leaves the reward
// claimable and concurrent claims cannot both succeed.
func (s *Service) ClaimMissionReward(ctx context.Context, userID domain.UserID, missionID string) (ClaimOutcome, error) {
	missionID, err := domain.NewEntityID(missionID)
	if err != nil {
		return ClaimOutcome{}, domain.NewServiceError(opClaimReward, "invalid_mission_id", domain.KindMissionOrProgressNotFound, err)
	}

	var mission Mission
	err = s.db.WithContext(ctx).Where("id = ?", missionID).Take(&mission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClaimOutcome{}, domain.NewServiceError(opClaimReward, "mission_missing", domain.KindMissionOrProgressNotFound, err)
	}
	if err != nil {
		s.logError(opClaimReward, "mission_select_failed", err, zap.String("mission_id", missionID))
		return ClaimOutcome{}, domain.NewServiceError(opClaimReward, "mission_select_failed", domain.KindUnexpected, err)
	}

	var progress Progress
	err = s.db.WithContext(ctx).Where("mission_id = ? AND user_id = ?", missionID, userID.String()).Take(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClaimOutcome{}, domain.NewServiceError(opClaimReward, "progress_missing", domain.KindMissionOrProgressNotFound, err)
	}
	if err != nil {
		s.logError(opClaimReward, "progress_select_failed", err, zap.String("mission_id", missionID))
		return ClaimOutcome{}, domain.NewServiceError(opClaimReward, "progress_select_failed", domain.KindUnexpected, err)
	}
	if !progress.IsCompleted {
		return ClaimOutcome{}, domain.NewServiceError(opClaimReward, "not_completed", domain.KindMissionNotCompleted, nil)
	}
	if progress.XPAwarded {
		return ClaimOutcome{}, domain.NewServiceError(opClaimReward, "already_claimed", domain.KindRewardAlreadyClaimed, nil)
	}

	claimedAt := s.clock().UTC().Unix()
	markClaimed := func(tx *gorm.DB) error {
		result := tx.Model(&Progress{}).
			Where("id = ? AND is_completed = ? AND xp_awarded = ?", progress.ID, true, false).
			Updates(map[string]interface{}{
				"xp_awarded":   true,
				"claimed_at_s": claimedAt,
				"updated_at_s": claimedAt,
			})
		if result.Error != nil {
			return domain.NewServiceError(opClaimReward, "claim_flag_failed", domain.KindLedgerWriteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.NewServiceError(opClaimReward, "already_claimed", domain.KindRewardAlreadyClaimed, nil)
		}
		return nil
	}

	award, err := s.awarder.AwardXPGuarded(ctx, ledger.AwardRequest{
		UserID:   userID,
		Amount:   mission.XPReward,
		Source:   ledger.SourceMission,
		SourceID: mission.ID,
		Points:   mission.PointReward,
	}, markClaimed)
	if err != nil {
		if !errors.Is(err, domain.KindRewardAlreadyClaimed) {
			s.logError(opClaimReward, "award_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("mission_id", missionID))
		}
		return ClaimOutcome{}, err
	}

	return ClaimOutcome{
		MissionID:     mission.ID,
		XPAwarded:     mission.XPReward,
		PointsAwarded: mission.PointReward,
		Award:         award,
	}, nil
}

// MissionDefinition is the input for creating a mission.
type MissionDefinition struct {
	Title         string      `json:"title" validate:"required,max=200"`
	Description   string      `json:"description" validate:"max=4000"`
	Type          MissionType `json:"type" validate:"required,oneof=daily weekly one_off"`
	Scope         Scope       `json:"scope" validate:"required,oneof=global city"`
	City          string      `json:"city" validate:"required_if=Scope city,max=120"`
	Trigger       Trigger     `json:"trigger" validate:"required,mission_trigger"`
	XPReward      int64       `json:"xp_reward" validate:"gte=0"`
	PointReward   int64       `json:"point_reward" validate:"gte=0"`
	RequiredCount int64       `json:"required_count" validate:"gte=1"`
	ValidFrom     time.Time   `json:"valid_from" validate:"required"`
	ValidTo       time.Time   `json:"valid_to" validate:"required,gtfield=ValidFrom"`
	CreatedBy     string      `json:"-"`
}

// CreateMission validates and stores a mission.
func (s *Service) CreateMission(ctx context.Context, definition MissionDefinition) (Mission, error) {
	definition.Title = strings.TrimSpace(definition.Title)
	definition.City = strings.TrimSpace(definition.City)
	if err := s.validate.Struct(definition); err != nil {
		return Mission{}, domain.NewServiceError(opCreateMission, "invalid_definition", domain.KindInvalidInput, err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateMission, "id_generation_failed", err)
		return Mission{}, domain.NewServiceError(opCreateMission, "id_generation_failed", domain.KindUnexpected, err)
	}

	mission := Mission{
		ID:               id,
		Title:            definition.Title,
		Description:      definition.Description,
		Type:             definition.Type,
		Scope:            definition.Scope,
		Trigger:          definition.Trigger,
		XPReward:         definition.XPReward,
		PointReward:      definition.PointReward,
		RequiredCount:    definition.RequiredCount,
		ValidFromSeconds: definition.ValidFrom.UTC().Unix(),
		ValidToSeconds:   definition.ValidTo.UTC().Unix(),
		CreatedBy:        definition.CreatedBy,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if definition.Scope == ScopeCity {
		mission.City = definition.City
	}
	if err := s.db.WithContext(ctx).Create(&mission).Error; err != nil {
		s.logError(opCreateMission, "insert_failed", err, zap.String("title", mission.Title))
		return Mission{}, domain.NewServiceError(opCreateMission, "insert_failed", domain.KindUnexpected, err)
	}
	return mission, nil
}

// MissionView pairs an active mission with the agent's progress, if any.
type MissionView struct {
	Mission  Mission   `json:"mission"`
	Progress *Progress `json:"progress,omitempty"`
}

// ListActiveMissions returns the missions currently available to the agent.
func (s *Service) ListActiveMissions(ctx context.Context, userID domain.UserID) ([]MissionView, error) {
	city, err := s.agentCity(ctx, userID, opListActive)
	if err != nil {
		return nil, err
	}
	missionsList, err := s.activeMissions(ctx, city, s.clock().UTC(), "")
	if err != nil {
		s.logError(opListActive, "mission_query_failed", err, zap.String("user_id", userID.String()))
		return nil, domain.NewServiceError(opListActive, "mission_query_failed", domain.KindUnexpected, err)
	}
	if len(missionsList) == 0 {
		return []MissionView{}, nil
	}

	ids := make([]string, 0, len(missionsList))
	for _, mission := range missionsList {
		ids = append(ids, mission.ID)
	}
	var progressRows []Progress
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND mission_id IN ?", userID.String(), ids).
		Find(&progressRows).Error; err != nil {
		s.logError(opListActive, "progress_query_failed", err, zap.String("user_id", userID.String()))
		return nil, domain.NewServiceError(opListActive, "progress_query_failed", domain.KindUnexpected, err)
	}
	byMission := make(map[string]Progress, len(progressRows))
	for _, row := range progressRows {
		byMission[row.MissionID] = row
	}

	views := make([]MissionView, 0, len(missionsList))
	for _, mission := range missionsList {
		view := MissionView{Mission: mission}
		if row, ok := byMission[mission.ID]; ok {
			view.Progress = &row
		}
		views = append(views, view)
	}
	return views, nil
}

// activeMissions selects missions inside their window and in scope for city.
// An empty trigger matches every trigger.
func (s *Service) activeMissions(ctx context.Context, city string, now time.Time, trigger Trigger) ([]Mission, error) {
	nowSeconds := now.Unix()
	query := s.db.WithContext(ctx).
		Where("valid_from_s <= ? AND valid_to_s >= ?", nowSeconds, nowSeconds)
	if trigger != "" {
		query = query.Where("trigger_key = ?", string(trigger))
	}
	if city == "" {
		query = query.Where("scope = ?", string(ScopeGlobal))
	} else {
		query = query.Where("(scope = ? OR (scope = ? AND LOWER(city) = ?))", string(ScopeGlobal), string(ScopeCity), strings.ToLower(city))
	}

	var found []Mission
	err := query.Order("valid_to_s ASC").Order("id ASC").Find(&found).Error
	return found, err
}

func (s *Service) agentCity(ctx context.Context, userID domain.UserID, operation string) (string, error) {
	var agent agents.Agent
	err := s.db.WithContext(ctx).Select("user_id", "city").Where("user_id = ?", userID.String()).Take(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.NewServiceError(operation, "user_missing", domain.KindUserNotFound, err)
	}
	if err != nil {
		s.logError(operation, "user_select_failed", err, zap.String("user_id", userID.String()))
		return "", domain.NewServiceError(operation, "user_select_failed", domain.KindUnexpected, err)
	}
	return strings.TrimSpace(agent.City), nil
}

func (s *Service) announceCompletion(ctx context.Context, userID domain.UserID, mission Mission) {
	if s.publisher != nil {
		s.publisher.Publish(events.Event{
			UserID:           userID.String(),
			Kind:             events.KindMissionCompleted,
			MissionCompleted: &events.MissionCompleted{MissionID: mission.ID, Title: mission.Title},
			Timestamp:        s.clock().UTC(),
		})
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, notifications.TypeMissionCompleted,
			"Mission complete",
			fmt.Sprintf("%s is ready to claim for %d XP", mission.Title, mission.XPReward),
			map[string]any{"mission_id": mission.ID, "xp_reward": mission.XPReward})
	}
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
	s.logger.Error("missions service error", attrs...)
}
