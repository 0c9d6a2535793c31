package field

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew  = "field.service.new"
	opStartRun    = "field.start_run"
	opCompleteRun = "field.complete_run"
	opAddLead     = "field.add_lead"
	opAdvanceLead = "field.advance_lead"
	opList        = "field.list"
	opCountLive   = "field.count_live"

	DefaultRunCompletedXP = 50
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingAwarder    = errors.New("xp awarder is required")
	errMissingTracker    = errors.New("mission tracker is required")
)

// DefaultStageXP is the XP granted when a lead enters each stage.
func DefaultStageXP() map[Stage]int64 {
	return map[Stage]int64{
		StageDemo:          25,
		StageSignedPending: 100,
		StageLive:          250,
	}
}

// Awarder grants XP through the ledger.
type Awarder interface {
	AwardXPGuarded(ctx context.Context, request ledger.AwardRequest, guard ledger.Guard) (ledger.AwardOutcome, error)
}

// ProgressTracker advances missions for triggered actions.
type ProgressTracker interface {
	UpdateMissionProgress(ctx context.Context, userID domain.UserID, trigger missions.Trigger, incrementBy int64) ([]missions.ProgressUpdate, error)
}

// Rewards configures the XP granted for field activity.
type Rewards struct {
	RunCompletedXP int64
	StageXP        map[Stage]int64
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider domain.IDProvider
	Awarder    Awarder
	Tracker    ProgressTracker
	Rewards    Rewards
	Logger     *zap.Logger
}

// Service records runs and leads and turns them into XP and mission progress.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider domain.IDProvider
	awarder    Awarder
	tracker    ProgressTracker
	rewards    Rewards
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
	if cfg.Tracker == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_tracker", domain.KindUnexpected, errMissingTracker)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rewards := cfg.Rewards
	if rewards.RunCompletedXP < 0 {
		rewards.RunCompletedXP = 0
	}
	if rewards.StageXP == nil {
		rewards.StageXP = DefaultStageXP()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		awarder:    cfg.Awarder,
		tracker:    cfg.Tracker,
		rewards:    rewards,
		logger:     logger,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// RunInput describes a new run.
type RunInput struct {
	VenueName string `json:"venue_name" validate:"required,max=200"`
	City      string `json:"city" validate:"max=120"`
}

// LeadInput describes a new lead.
type LeadInput struct {
	VenueName   string `json:"venue_name" validate:"required,max=200"`
	ContactName string `json:"contact_name" validate:"max=200"`
}

// ActivityResult is what a field action produced.
type ActivityResult struct {
	Run      *Run                      `json:"run,omitempty"`
	Lead     *Lead                     `json:"lead,omitempty"`
	Award    *ledger.AwardOutcome      `json:"award,omitempty"`
	Missions []missions.ProgressUpdate `json:"missions"`
}

func (s *Service) StartRun(ctx context.Context, userID domain.UserID, input RunInput) (Run, error) {
	input.VenueName = strings.TrimSpace(input.VenueName)
	input.City = strings.TrimSpace(input.City)
	if err := s.validate.Struct(input); err != nil {
		return Run{}, domain.NewServiceError(opStartRun, "invalid_input", domain.KindInvalidInput, err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opStartRun, "id_generation_failed", err)
		return Run{}, domain.NewServiceError(opStartRun, "id_generation_failed", domain.KindUnexpected, err)
	}
	run := Run{
		ID:               id,
		UserID:           userID.String(),
		VenueName:        input.VenueName,
		City:             input.City,
		Status:           RunStarted,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.logError(opStartRun, "insert_failed", err, zap.String("user_id", userID.String()))
		return Run{}, domain.NewServiceError(opStartRun, "insert_failed", domain.KindUnexpected, err)
	}
	return run, nil
}

// CompleteRun marks the run completed and grants the run XP in one ledger
// transaction, then fires the run_completed trigger.
func (s *Service) CompleteRun(ctx context.Context, userID domain.UserID, runID string) (ActivityResult, error) {
	run, err := s.ownedRun(ctx, userID, runID)
	if err != nil {
		return ActivityResult{}, err
	}
	if run.Status == RunCompleted {
		return ActivityResult{}, domain.NewServiceError(opCompleteRun, "already_completed", domain.KindInvalidInput, nil)
	}

	completedAt := s.clock().UTC().Unix()
	markCompleted := func(tx *gorm.DB) error {
		result := tx.Model(&Run{}).
			Where("id = ? AND user_id = ? AND status = ?", run.ID, run.UserID, RunStarted).
			Updates(map[string]interface{}{"status": RunCompleted, "completed_at_s": completedAt})
		if result.Error != nil {
			return domain.NewServiceError(opCompleteRun, "update_failed", domain.KindLedgerWriteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.NewServiceError(opCompleteRun, "already_completed", domain.KindInvalidInput, nil)
		}
		return nil
	}

	award, err := s.awarder.AwardXPGuarded(ctx, ledger.AwardRequest{
		UserID:   userID,
		Amount:   s.rewards.RunCompletedXP,
		Source:   ledger.SourceRunCompleted,
		SourceID: run.ID,
	}, markCompleted)
	if err != nil {
		return ActivityResult{}, err
	}
	run.Status = RunCompleted
	run.CompletedAtSeconds = &completedAt

	return ActivityResult{
		Run:      &run,
		Award:    &award,
		Missions: s.fire(ctx, userID, missions.TriggerRunCompleted),
	}, nil
}

func (s *Service) AddLead(ctx context.Context, userID domain.UserID, input LeadInput) (ActivityResult, error) {
	input.VenueName = strings.TrimSpace(input.VenueName)
	input.ContactName = strings.TrimSpace(input.ContactName)
	if err := s.validate.Struct(input); err != nil {
		return ActivityResult{}, domain.NewServiceError(opAddLead, "invalid_input", domain.KindInvalidInput, err)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddLead, "id_generation_failed", err)
		return ActivityResult{}, domain.NewServiceError(opAddLead, "id_generation_failed", domain.KindUnexpected, err)
	}
	now := s.clock().UTC().Unix()
	lead := Lead{
		ID:               id,
		UserID:           userID.String(),
		VenueName:        input.VenueName,
		ContactName:      input.ContactName,
		Stage:            StageNew,
		ReachedStages:    StageNew.bit(),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&lead).Error; err != nil {
		s.logError(opAddLead, "insert_failed", err, zap.String("user_id", userID.String()))
		return ActivityResult{}, domain.NewServiceError(opAddLead, "insert_failed", domain.KindUnexpected, err)
	}
	return ActivityResult{
		Lead:     &lead,
		Missions: s.fire(ctx, userID, missions.TriggerLeadAdded),
	}, nil
}

// AdvanceLead moves a lead to stage. The first visit to a stage with an XP value is
// recorded inside the ledger transaction so the stage change and its XP commit
// together. Revisiting a stage moves the lead without XP or mission progress.
func (s *Service) AdvanceLead(ctx context.Context, userID domain.UserID, leadID string, stage Stage) (ActivityResult, error) {
	if !stage.Valid() {
		return ActivityResult{}, domain.NewServiceError(opAdvanceLead, "unknown_stage", domain.KindInvalidInput, nil)
	}
	lead, err := s.ownedLead(ctx, userID, leadID)
	if err != nil {
		return ActivityResult{}, err
	}
	if lead.Stage == stage {
		return ActivityResult{}, domain.NewServiceError(opAdvanceLead, "stage_unchanged", domain.KindInvalidInput, nil)
	}

	previous := lead.Stage
	previousReached := lead.ReachedStages
	firstVisit := !lead.HasReached(stage)
	reached := previousReached | stage.bit()
	now := s.clock().UTC().Unix()
	moveStage := func(tx *gorm.DB) error {
		result := tx.Model(&Lead{}).
			Where("id = ? AND user_id = ? AND stage = ? AND reached_stages = ?", lead.ID, lead.UserID, previous, previousReached).
			Updates(map[string]interface{}{"stage": stage, "reached_stages": reached, "updated_at_s": now})
		if result.Error != nil {
			return domain.NewServiceError(opAdvanceLead, "update_failed", domain.KindUnexpected, result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.NewServiceError(opAdvanceLead, "stage_changed_concurrently", domain.KindInvalidInput, nil)
		}
		return nil
	}

	var result ActivityResult
	if xp := s.rewards.StageXP[stage]; xp > 0 && firstVisit {
		award, err := s.awarder.AwardXPGuarded(ctx, ledger.AwardRequest{
			UserID:   userID,
			Amount:   xp,
			Source:   ledger.SourceVenueStatusChange,
			SourceID: lead.ID,
		}, moveStage)
		if err != nil {
			return ActivityResult{}, err
		}
		result.Award = &award
	} else {
		if err := s.db.WithContext(ctx).Transaction(moveStage); err != nil {
			return ActivityResult{}, err
		}
	}

	lead.Stage = stage
	lead.ReachedStages = reached
	lead.UpdatedAtSeconds = now
	result.Lead = &lead
	if trigger, ok := stage.Trigger(); ok && firstVisit {
		result.Missions = s.fire(ctx, userID, trigger)
	}
	if result.Missions == nil {
		result.Missions = []missions.ProgressUpdate{}
	}
	return result, nil
}

// ListRuns returns the agent's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, userID domain.UserID) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Order("created_at_s DESC").Find(&runs).Error; err != nil {
		s.logError(opList, "run_query_failed", err, zap.String("user_id", userID.String()))
		return nil, domain.NewServiceError(opList, "run_query_failed", domain.KindUnexpected, err)
	}
	return runs, nil
}

// ListLeads returns the agent's leads, most recently updated first.
func (s *Service) ListLeads(ctx context.Context, userID domain.UserID) ([]Lead, error) {
	var leads []Lead
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Order("updated_at_s DESC").Find(&leads).Error; err != nil {
		s.logError(opList, "lead_query_failed", err, zap.String("user_id", userID.String()))
		return nil, domain.NewServiceError(opList, "lead_query_failed", domain.KindUnexpected, err)
	}
	return leads, nil
}

// CountLiveVenues counts the agent's leads in the live stage.
func (s *Service) CountLiveVenues(ctx context.Context, userID domain.UserID) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Lead{}).
		Where("user_id = ? AND stage = ?", userID.String(), StageLive).
		Count(&count).Error
	if err != nil {
		s.logError(opCountLive, "count_failed", err, zap.String("user_id", userID.String()))
		return 0, domain.NewServiceError(opCountLive, "count_failed", domain.KindUnexpected, err)
	}
	return count, nil
}

// fire advances missions for trigger. Failures are logged; the field action has
// already been recorded.
func (s *Service) fire(ctx context.Context, userID domain.UserID, trigger missions.Trigger) []missions.ProgressUpdate {
	updates, err := s.tracker.UpdateMissionProgress(ctx, userID, trigger, 1)
	if err != nil {
		s.logError("field.fire_trigger", "mission_update_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("trigger", string(trigger)))
	}
	if updates == nil {
		updates = []missions.ProgressUpdate{}
	}
	return updates
}

func (s *Service) ownedRun(ctx context.Context, userID domain.UserID, runID string) (Run, error) {
	id, err := domain.NewEntityID(runID)
	if err != nil {
		return Run{}, domain.NewServiceError(opCompleteRun, "invalid_run_id", domain.KindInvalidInput, err)
	}
	var run Run
	err = s.db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, domain.NewServiceError(opCompleteRun, "run_missing", domain.KindInvalidInput, err)
	}
	if err != nil {
		s.logError(opCompleteRun, "run_select_failed", err, zap.String("run_id", id))
		return Run{}, domain.NewServiceError(opCompleteRun, "run_select_failed", domain.KindUnexpected, err)
	}
	if run.UserID != userID.String() {
		return Run{}, domain.NewServiceError(opCompleteRun, "not_owner", domain.KindForbidden, nil)
	}
	return run, nil
}

func (s *Service) ownedLead(ctx context.Context, userID domain.UserID, leadID string) (Lead, error) {
	id, err := domain.NewEntityID(leadID)
	if err != nil {
		return Lead{}, domain.NewServiceError(opAdvanceLead, "invalid_lead_id", domain.KindInvalidInput, err)
	}
	var lead Lead
	err = s.db.WithContext(ctx).Where("id = ?", id).Take(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lead{}, domain.NewServiceError(opAdvanceLead, "lead_missing", domain.KindInvalidInput, err)
	}
	if err != nil {
		s.logError(opAdvanceLead, "lead_select_failed", err, zap.String("lead_id", id))
		return Lead{}, domain.NewServiceError(opAdvanceLead, "lead_select_failed", domain.KindUnexpected, err)
	}
	if lead.UserID != userID.String() {
		return Lead{}, domain.NewServiceError(opAdvanceLead, "not_owner", domain.KindForbidden, nil)
	}
	return lead, nil
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
	s.logger.Error("field service error", attrs...)
}
