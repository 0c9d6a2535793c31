package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/auth"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew     = "agents.service.new"
	opResolve        = "agents.resolve"
	opRegister       = "agents.register"
	opGet            = "agents.get"
	opUpdateProfile  = "agents.update_profile"
	defaultProvider  = "default"
	providerSplitter = ":"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("agents: invalid identity")

	errMissingDatabase  = errors.New("database handle is required")
	errMissingRankTable = errors.New("rank table is required")
)

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Ranks    *ranks.Table
	Logger   *zap.Logger
}

// Service manages agent records and maps login identities onto them.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	ranks    *ranks.Table
	logger   *zap.Logger
	validate *validator.Validate
	cache    sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, domain.NewServiceError(opServiceNew, "missing_database", domain.KindUnexpected, errMissingDatabase)
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
		db:       cfg.Database,
		now:      clock,
		ranks:    cfg.Ranks,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Profile carries the fields used when registering an agent.
type Profile struct {
	UserID      domain.UserID
	DisplayName string `validate:"max=190"`
	Email       string `validate:"omitempty,email,max=320"`
	City        string `validate:"max=120"`
}

// ProfileUpdate changes the mutable profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name" validate:"omitnil,min=1,max=190"`
	City        *string `json:"city" validate:"omitnil,max=120"`
}

// ResolveAgent maps session claims to an agent, registering the agent on first sight.
func (s *Service) ResolveAgent(ctx context.Context, claims auth.SessionClaims) (Agent, error) {
	userID, err := s.resolveCanonicalUserID(ctx, claims)
	if err != nil {
		return Agent{}, err
	}
	return s.Register(ctx, Profile{
		UserID:      userID,
		DisplayName: normalize(claims.UserDisplayName),
		Email:       normalize(claims.UserEmail),
		City:        normalize(claims.UserCity),
	})
}

// Register creates the agent row if it does not exist and returns the stored agent.
// Existing agents are returned unchanged.
func (s *Service) Register(ctx context.Context, profile Profile) (Agent, error) {
	if _, err := domain.NewUserID(profile.UserID.String()); err != nil {
		return Agent{}, domain.NewServiceError(opRegister, "invalid_user_id", domain.KindInvalidInput, err)
	}
	if err := s.validate.Struct(profile); err != nil {
		return Agent{}, domain.NewServiceError(opRegister, "invalid_profile", domain.KindInvalidInput, err)
	}

	nowSeconds := s.now().UTC().Unix()
	candidate := Agent{
		UserID:           profile.UserID.String(),
		DisplayName:      profile.DisplayName,
		Email:            profile.Email,
		City:             profile.City,
		CurrentRank:      s.ranks.Lowest().Name,
		CreatedAtSeconds: nowSeconds,
		UpdatedAtSeconds: nowSeconds,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("user_id", candidate.UserID))
		return Agent{}, domain.NewServiceError(opRegister, "insert_failed", domain.KindUnexpected, err)
	}
	return s.Get(ctx, profile.UserID)
}

// Get loads an agent by id.
func (s *Service) Get(ctx context.Context, userID domain.UserID) (Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Agent{}, domain.NewServiceError(opGet, "not_found", domain.KindUserNotFound, err)
	}
	if err != nil {
		s.logError(opGet, "select_failed", err, zap.String("user_id", userID.String()))
		return Agent{}, domain.NewServiceError(opGet, "select_failed", domain.KindUnexpected, err)
	}
	return agent, nil
}

// UpdateProfile applies the provided profile changes.
func (s *Service) UpdateProfile(ctx context.Context, userID domain.UserID, update ProfileUpdate) (Agent, error) {
	if err := s.validate.Struct(update); err != nil {
		return Agent{}, domain.NewServiceError(opUpdateProfile, "invalid_profile", domain.KindInvalidInput, err)
	}

	updates := map[string]interface{}{}
	if update.DisplayName != nil {
		displayName := normalize(*update.DisplayName)
		if displayName == "" {
			return Agent{}, domain.NewServiceError(opUpdateProfile, "blank_display_name", domain.KindInvalidInput, nil)
		}
		updates["display_name"] = displayName
	}
	if update.City != nil {
		updates["city"] = normalize(*update.City)
	}
	if len(updates) == 0 {
		return s.Get(ctx, userID)
	}
	updates["updated_at_s"] = s.now().UTC().Unix()

	result := s.db.WithContext(ctx).Model(&Agent{}).Where("user_id = ?", userID.String()).Updates(updates)
	if result.Error != nil {
		s.logError(opUpdateProfile, "update_failed", result.Error, zap.String("user_id", userID.String()))
		return Agent{}, domain.NewServiceError(opUpdateProfile, "update_failed", domain.KindUserUpdateFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return Agent{}, domain.NewServiceError(opUpdateProfile, "not_found", domain.KindUserNotFound, nil)
	}
	return s.Get(ctx, userID)
}

func (s *Service) resolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (domain.UserID, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", domain.NewServiceError(opResolve, "missing_subject", domain.KindInvalidInput, ErrInvalidIdentity)
	}

	cacheKey := provider + providerSplitter + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cached.(domain.UserID); ok {
			return userID, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&identity).Error; err != nil {
			s.logError(opResolve, "identity_insert_failed", err, zap.String("subject", subject))
			return "", domain.NewServiceError(opResolve, "identity_insert_failed", domain.KindUnexpected, err)
		}
	case err != nil:
		s.logError(opResolve, "identity_select_failed", err, zap.String("subject", subject))
		return "", domain.NewServiceError(opResolve, "identity_select_failed", domain.KindUnexpected, err)
	default:
		if err := s.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Update("last_seen_at", s.now().UTC()).Error; err != nil {
			s.logger.Warn("identity touch failed", zap.String("subject", subject), zap.Error(err))
		}
	}

	userID, err := domain.NewUserID(identity.UserID)
	if err != nil {
		return "", domain.NewServiceError(opResolve, "invalid_user_id", domain.KindInvalidInput, err)
	}
	s.cache.Store(cacheKey, userID)
	return userID, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, providerSplitter) {
			segments := strings.SplitN(raw, providerSplitter, 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}
	return provider, subject
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
	s.logger.Error("agents service error", attrs...)
}
