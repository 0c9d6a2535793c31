package earnings

import (
	"context"
	"errors"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const opEstimate = "earnings.estimate"

var (
	errMissingRanks  = errors.New("rank table is required")
	errMissingAgents = errors.New("agent directory is required")
	errMissingVenues = errors.New("venue counter is required")
	errNegativeFee   = errors.New("per venue fee must not be negative")
)

// AgentDirectory returns an agent's cached progression.
type AgentDirectory interface {
	Get(ctx context.Context, userID domain.UserID) (agents.Agent, error)
}

// VenueCounter counts an agent's live venues.
type VenueCounter interface {
	CountLiveVenues(ctx context.Context, userID domain.UserID) (int64, error)
}

type Config struct {
	Ranks       *ranks.Table
	Agents      AgentDirectory
	Venues      VenueCounter
	PerVenueFee decimal.Decimal
	Logger      *zap.Logger
}

// Estimate is an approximation of recurring commission, not authoritative revenue.
type Estimate struct {
	Rank            string          `json:"rank"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	LiveVenueCount  int64           `json:"live_venue_count"`
	PerVenueFee     decimal.Decimal `json:"per_venue_fee"`
	MonthlyEstimate string          `json:"monthly_estimate"`
}

type Estimator struct {
	ranks       *ranks.Table
	agents      AgentDirectory
	venues      VenueCounter
	perVenueFee decimal.Decimal
	logger      *zap.Logger
}

func NewEstimator(cfg Config) (*Estimator, error) {
	if cfg.Ranks == nil {
		return nil, domain.NewServiceError("earnings.new", "missing_ranks", domain.KindUnexpected, errMissingRanks)
	}
	if cfg.Agents == nil {
		return nil, domain.NewServiceError("earnings.new", "missing_agents", domain.KindUnexpected, errMissingAgents)
	}
	if cfg.Venues == nil {
		return nil, domain.NewServiceError("earnings.new", "missing_venues", domain.KindUnexpected, errMissingVenues)
	}
	// Zero is a valid fee; the configured default lives in config.
	fee := cfg.PerVenueFee
	if fee.IsNegative() {
		return nil, domain.NewServiceError("earnings.new", "negative_fee", domain.KindInvalidInput, errNegativeFee)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{ranks: cfg.Ranks, agents: cfg.Agents, venues: cfg.Venues, perVenueFee: fee, logger: logger}, nil
}

// EstimateMonthlyEarnings returns liveVenueCount × perVenueFee × the rank's commission rate.
// Unknown ranks use the lowest tier's rate.
func EstimateMonthlyEarnings(table *ranks.Table, rankName string, liveVenueCount int64, perVenueFee decimal.Decimal) decimal.Decimal {
	rate := table.CommissionRateForRank(rankName)
	return decimal.NewFromInt(liveVenueCount).Mul(perVenueFee).Mul(rate)
}

// EstimateForAgent prices the agent's live venues at its cached rank.
func (e *Estimator) EstimateForAgent(ctx context.Context, userID domain.UserID) (Estimate, error) {
	agent, err := e.agents.Get(ctx, userID)
	if err != nil {
		return Estimate{}, err
	}
	count, err := e.venues.CountLiveVenues(ctx, userID)
	if err != nil {
		e.logger.Error("earnings estimate failed",
			zap.String("operation", opEstimate),
			zap.String("reason", "venue_count_failed"),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return Estimate{}, err
	}
	rank := e.ranks.Lowest().Name
	if tier, ok := e.ranks.Lookup(agent.CurrentRank); ok {
		rank = tier.Name
	}
	return Estimate{
		Rank:            rank,
		CommissionRate:  e.ranks.CommissionRateForRank(rank),
		LiveVenueCount:  count,
		PerVenueFee:     e.perVenueFee,
		MonthlyEstimate: EstimateMonthlyEarnings(e.ranks, rank, count, e.perVenueFee).StringFixed(2),
	}, nil
}
