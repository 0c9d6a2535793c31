package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/events"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/notifications"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew  = "ledger.service.new"
	opAwardXP     = "ledger.award_xp"
	opReconcile   = "ledger.reconcile"
	opHistory     = "ledger.history"
	opProgression = "ledger.progression"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRankTable  = errors.New("rank table is required")
)

// Publisher receives rank-up events after a successful award.
type Publisher interface {
	Publish(event events.Event)
}

// Notifier records user-facing notifications. Implementations must not block on failure.
type Notifier interface {
	Notify(ctx context.Context, userID domain.UserID, notificationType, title, body string, payload any)
}

// TotalsMirror mirrors an agent's total XP into a secondary store.
type TotalsMirror interface {
	RecordTotal(ctx context.Context, userID string, totalXP int64) error
}

// Guard runs inside the award transaction after the agent row is locked and before
// the event is appended. A non-nil error aborts the award and rolls back every write
// made through tx.
type Guard func(tx *gorm.DB) error

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider domain.IDProvider
	Ranks      *ranks.Table
	Publisher  Publisher
	Notifier   Notifier
	Mirror     TotalsMirror
	Logger     *zap.Logger
}

// Service is the XP ledger. The event log is the source of truth; the progression
// columns on the agent row are a cache recomputed from it on every award.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider domain.IDProvider
	ranks      *ranks.Table
	publisher  Publisher
	notifier   Notifier
	mirror     TotalsMirror
	logger     *zap.Logger
	locks      userLocks
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_database", domain.KindUnexpected, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_id_provider", domain.KindUnexpected, errMissingIDProvider)
	}
	if cfg.Ranks == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_rank_table", domain.KindUnexpected, errMissingRankTable)
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
		ranks:      cfg.Ranks,
		publisher:  cfg.Publisher,
		notifier:   cfg.Notifier,
		mirror:     cfg.Mirror,
		logger:     logger,
	}, nil
}

// Ranks exposes the rank table the ledger derives ranks from.
func (s *Service) Ranks() *ranks.Table {
	return s.ranks
}

// AwardRequest describes a single XP grant.
type AwardRequest struct {
	UserID   domain.UserID
	Amount   int64
	Source   Source
	SourceID string
	Points   int64
}

// AwardOutcome is the agent's progression state after an award.
type AwardOutcome struct {
	EventID      string `json:"event_id"`
	NewTotalXP   int64  `json:"new_total_xp"`
	TotalPoints  int64  `json:"total_points"`
	PreviousRank string `json:"previous_rank"`
	NewRank      string `json:"new_rank"`
	RankUp       bool   `json:"rank_up"`
}

// AwardXP appends an XP event and refreshes the agent's cached total and rank.
func (s *Service) AwardXP(ctx context.Context, request AwardRequest) (AwardOutcome, error) {
	return s.AwardXPGuarded(ctx, request, nil)
}

// AwardXPGuarded is AwardXP with a guard evaluated in the same transaction.
// Writes the guard makes through tx commit only if the award commits.
func (s *Service) AwardXPGuarded(ctx context.Context, request AwardRequest, guard Guard) (AwardOutcome, error) {
	if err := s.validateRequest(request); err != nil {
		return AwardOutcome{}, err
	}
	userID := request.UserID.String()

	unlock := s.locks.lock(userID)
	defer unlock()

	eventID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAwardXP, "id_generation_failed", err, zap.String("user_id", userID))
		return AwardOutcome{}, domain.NewServiceError(opAwardXP, "id_generation_failed", domain.KindLedgerWriteFailed, err)
	}

	var outcome AwardOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent agents.Agent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Take(&agent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewServiceError(opAwardXP, "user_missing", domain.KindUserNotFound, err)
		}
		if err != nil {
			s.logError(opAwardXP, "user_select_failed", err, zap.String("user_id", userID))
			return domain.NewServiceError(opAwardXP, "user_select_failed", domain.KindUnexpected, err)
		}

		if guard != nil {
			if err := guard(tx); err != nil {
				return err
			}
		}

		event := XPEvent{
			ID:               eventID,
			UserID:           userID,
			Source:           request.Source,
			XPAmount:         request.Amount,
			PointsAmount:     request.Points,
			CreatedAtSeconds: s.clock().UTC().Unix(),
		}
		if sourceID := strings.TrimSpace(request.SourceID); sourceID != "" {
			event.SourceID = &sourceID
		}
		if err := tx.Create(&event).Error; err != nil {
			s.logError(opAwardXP, "event_insert_failed", err, zap.String("user_id", userID))
			return domain.NewServiceError(opAwardXP, "event_insert_failed", domain.KindLedgerWriteFailed, err)
		}

		sums, err := sumEvents(tx, userID)
		if err != nil {
			s.logError(opAwardXP, "total_recompute_failed", err, zap.String("user_id", userID))
			return domain.NewServiceError(opAwardXP, "total_recompute_failed", domain.KindTotalRecomputeFailed, err)
		}

		previousRank := s.cachedRank(agent)
		newRank := s.ranks.DeriveRank(sums.TotalXP).Name

		if err := s.writeCache(tx, userID, sums, newRank); err != nil {
			s.logError(opAwardXP, "user_update_failed", err, zap.String("user_id", userID))
			return domain.NewServiceError(opAwardXP, "user_update_failed", domain.KindUserUpdateFailed, err)
		}

		outcome = AwardOutcome{
			EventID:      eventID,
			NewTotalXP:   sums.TotalXP,
			TotalPoints:  sums.TotalPoints,
			PreviousRank: previousRank,
			NewRank:      newRank,
			RankUp:       previousRank != newRank,
		}
		return nil
	})
	if txErr != nil {
		var serviceErr *domain.ServiceError
		if errors.As(txErr, &serviceErr) {
			return AwardOutcome{}, txErr
		}
		s.logError(opAwardXP, "transaction_failed", txErr, zap.String("user_id", userID))
		return AwardOutcome{}, domain.NewServiceError(opAwardXP, "transaction_failed", domain.KindLedgerWriteFailed, txErr)
	}

	s.afterAward(ctx, request.UserID, outcome)
	return outcome, nil
}

// ReconcileAgent recomputes one agent's cached progression from the event log and
// reports whether the cache had drifted.
func (s *Service) ReconcileAgent(ctx context.Context, userID domain.UserID) (bool, error) {
	unlock := s.locks.lock(userID.String())
	defer unlock()

	var (
		drifted bool
		total   int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent agents.Agent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID.String()).
			Take(&agent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewServiceError(opReconcile, "user_missing", domain.KindUserNotFound, err)
		}
		if err != nil {
			return domain.NewServiceError(opReconcile, "user_select_failed", domain.KindUnexpected, err)
		}

		sums, err := sumEvents(tx, agent.UserID)
		if err != nil {
			return domain.NewServiceError(opReconcile, "total_recompute_failed", domain.KindTotalRecomputeFailed, err)
		}
		total = sums.TotalXP
		rank := s.ranks.DeriveRank(sums.TotalXP).Name
		if agent.TotalXP == sums.TotalXP && agent.TotalPoints == sums.TotalPoints && agent.CurrentRank == rank {
			return nil
		}
		drifted = true
		if err := s.writeCache(tx, agent.UserID, sums, rank); err != nil {
			return domain.NewServiceError(opReconcile, "user_update_failed", domain.KindUserUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		s.logError(opReconcile, "agent_reconcile_failed", err, zap.String("user_id", userID.String()))
		return false, err
	}
	s.mirrorTotal(ctx, userID.String(), total)
	if drifted {
		s.logger.Info("agent progression reconciled", zap.String("user_id", userID.String()), zap.Int64("total_xp", total))
	}
	return drifted, nil
}

// Reconcile recomputes every agent's cached progression and returns how many rows
// had drifted from the event log.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	var userIDs []string
	if err := s.db.WithContext(ctx).Model(&agents.Agent{}).Order("user_id ASC").Pluck("user_id", &userIDs).Error; err != nil {
		s.logError(opReconcile, "agent_list_failed", err)
		return 0, domain.NewServiceError(opReconcile, "agent_list_failed", domain.KindUnexpected, err)
	}

	drifted := 0
	var failures []error
	for _, raw := range userIDs {
		if err := ctx.Err(); err != nil {
			return drifted, err
		}
		userID, err := domain.NewUserID(raw)
		if err != nil {
			continue
		}
		changed, err := s.ReconcileAgent(ctx, userID)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", raw, err))
			continue
		}
		if changed {
			drifted++
		}
	}
	if len(failures) > 0 {
		return drifted, domain.NewServiceError(opReconcile, "partial_failure", domain.KindUnexpected, errors.Join(failures...))
	}
	return drifted, nil
}

// History lists the agent's most recent XP events, newest first.
func (s *Service) History(ctx context.Context, userID domain.UserID, limit int) ([]XPEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var records []XPEvent
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at_s DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.logError(opHistory, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, domain.NewServiceError(opHistory, "query_failed", domain.KindUnexpected, err)
	}
	return records, nil
}

// Progression is the read model behind the agent's progression screen.
type Progression struct {
	UserID         string          `json:"user_id"`
	TotalXP        int64           `json:"total_xp"`
	TotalPoints    int64           `json:"total_points"`
	CurrentRank    string          `json:"current_rank"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	NextRank       string          `json:"next_rank,omitempty"`
	XPToNextRank   int64           `json:"xp_to_next_rank"`
}

// Progression reads the cached progression and the distance to the next tier.
func (s *Service) Progression(ctx context.Context, userID domain.UserID) (Progression, error) {
	var agent agents.Agent
	err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Progression{}, domain.NewServiceError(opProgression, "user_missing", domain.KindUserNotFound, err)
	}
	if err != nil {
		s.logError(opProgression, "user_select_failed", err, zap.String("user_id", userID.String()))
		return Progression{}, domain.NewServiceError(opProgression, "user_select_failed", domain.KindUnexpected, err)
	}

	rank := s.cachedRank(agent)
	next := s.ranks.XPToNextRank(agent.TotalXP)
	progression := Progression{
		UserID:         agent.UserID,
		TotalXP:        agent.TotalXP,
		TotalPoints:    agent.TotalPoints,
		CurrentRank:    rank,
		CommissionRate: s.ranks.CommissionRateForRank(rank),
		XPToNextRank:   next.Remaining,
	}
	if next.Next != nil {
		progression.NextRank = next.Next.Name
	}
	return progression, nil
}

func (s *Service) validateRequest(request AwardRequest) error {
	if _, err := domain.NewUserID(request.UserID.String()); err != nil {
		return domain.NewServiceError(opAwardXP, "invalid_user_id", domain.KindUserNotFound, err)
	}
	if request.Amount < 0 || request.Points < 0 {
		return domain.NewServiceError(opAwardXP, "negative_amount", domain.KindInvalidAmount,
			fmt.Errorf("xp %d, points %d", request.Amount, request.Points))
	}
	if !request.Source.Valid() {
		return domain.NewServiceError(opAwardXP, "unknown_source", domain.KindInvalidInput,
			fmt.Errorf("source %q", request.Source))
	}
	return nil
}

func (s *Service) cachedRank(agent agents.Agent) string {
	if agent.CurrentRank != "" {
		return agent.CurrentRank
	}
	return s.ranks.DeriveRank(agent.TotalXP).Name
}

func (s *Service) writeCache(tx *gorm.DB, userID string, sums totals, rank string) error {
	result := tx.Model(&agents.Agent{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"total_xp":     sums.TotalXP,
			"total_points": sums.TotalPoints,
			"current_rank": rank,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Service) afterAward(ctx context.Context, userID domain.UserID, outcome AwardOutcome) {
	s.mirrorTotal(ctx, userID.String(), outcome.NewTotalXP)
	if !outcome.RankUp {
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(events.Event{
			UserID: userID.String(),
			Kind:   events.KindRankUp,
			RankUp: &events.RankUp{
				PreviousRank: outcome.PreviousRank,
				NewRank:      outcome.NewRank,
				TotalXP:      outcome.NewTotalXP,
			},
			Timestamp: s.clock().UTC(),
		})
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, notifications.TypeRankUp,
			"Rank up!",
			fmt.Sprintf("You reached %s", outcome.NewRank),
			map[string]any{
				"previous_rank": outcome.PreviousRank,
				"new_rank":      outcome.NewRank,
				"total_xp":      outcome.NewTotalXP,
			})
	}
}

func (s *Service) mirrorTotal(ctx context.Context, userID string, totalXP int64) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.RecordTotal(ctx, userID, totalXP); err != nil {
		s.logger.Warn("leaderboard mirror update failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func sumEvents(tx *gorm.DB, userID string) (totals, error) {
	var sums totals
	err := tx.Model(&XPEvent{}).
		Select("COALESCE(SUM(xp_amount), 0) AS total_xp, COALESCE(SUM(points_amount), 0) AS total_points").
		Where("user_id = ?", userID).
		Scan(&sums).Error
	return sums, err
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
	s.logger.Error("ledger service error", attrs...)
}

// userLocks serialises ledger writes per agent within the process.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
