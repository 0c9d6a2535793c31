package earnings

import (
	"context"
	"errors"
	"testing"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/agents"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ranks"
	"github.com/shopspring/decimal"
)

type stubAgents struct {
	agent agents.Agent
	err   error
}

func (s stubAgents) Get(context.Context, domain.UserID) (agents.Agent, error) {
	return s.agent, s.err
}

type stubVenues struct {
	count int64
	err   error
}

func (s stubVenues) CountLiveVenues(context.Context, domain.UserID) (int64, error) {
	return s.count, s.err
}

func TestEstimateMonthlyEarnings(t *testing.T) {
	table := ranks.DefaultTable()
	testCases := []struct {
		name  string
		rank  string
		count int64
		fee   decimal.Decimal
		want  string
	}{
		{name: "gold with four venues", rank: "Gold", count: 4, fee: decimal.NewFromInt(150), want: "120.00"},
		{name: "bronze rate", rank: "Bronze", count: 3, fee: decimal.NewFromInt(99), want: "44.55"},
		{name: "unknown rank falls back", rank: "Legend", count: 2, fee: decimal.NewFromInt(100), want: "30.00"},
		{name: "no venues", rank: "Diamond", count: 0, fee: decimal.NewFromInt(150), want: "0.00"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got := EstimateMonthlyEarnings(table, testCase.rank, testCase.count, testCase.fee).StringFixed(2)
			if got != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}

func TestEstimateForAgent(t *testing.T) {
	estimator, err := NewEstimator(Config{
		Ranks:       ranks.DefaultTable(),
		Agents:      stubAgents{agent: agents.Agent{UserID: "agent-1", CurrentRank: "gold"}},
		Venues:      stubVenues{count: 4},
		PerVenueFee: decimal.NewFromInt(150),
	})
	if err != nil {
		t.Fatalf("NewEstimator failed: %v", err)
	}
	estimate, err := estimator.EstimateForAgent(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("EstimateForAgent failed: %v", err)
	}
	if estimate.Rank != "Gold" || estimate.MonthlyEstimate != "120.00" || estimate.LiveVenueCount != 4 {
		t.Fatalf("unexpected estimate %+v", estimate)
	}
	if estimate.PerVenueFee.String() != "150" {
		t.Fatalf("expected configured fee, got %s", estimate.PerVenueFee)
	}
}

func TestEstimateForAgentKeepsZeroFee(t *testing.T) {
	estimator, err := NewEstimator(Config{
		Ranks:       ranks.DefaultTable(),
		Agents:      stubAgents{agent: agents.Agent{UserID: "agent-1", CurrentRank: "Gold"}},
		Venues:      stubVenues{count: 4},
		PerVenueFee: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("NewEstimator failed: %v", err)
	}
	estimate, err := estimator.EstimateForAgent(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("EstimateForAgent failed: %v", err)
	}
	if !estimate.PerVenueFee.IsZero() || estimate.MonthlyEstimate != "0.00" {
		t.Fatalf("expected a zero fee to estimate 0.00, got %+v", estimate)
	}
}

func TestEstimateForAgentPropagatesFailures(t *testing.T) {
	missing := domain.NewServiceError("agents.get", "user_missing", domain.KindUserNotFound, nil)
	estimator, err := NewEstimator(Config{
		Ranks:  ranks.DefaultTable(),
		Agents: stubAgents{err: missing},
		Venues: stubVenues{},
	})
	if err != nil {
		t.Fatalf("NewEstimator failed: %v", err)
	}
	if _, err := estimator.EstimateForAgent(context.Background(), "ghost"); !errors.Is(err, domain.KindUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}

	estimator, err = NewEstimator(Config{
		Ranks:  ranks.DefaultTable(),
		Agents: stubAgents{agent: agents.Agent{CurrentRank: "Stale"}},
		Venues: stubVenues{err: errors.New("count failed")},
	})
	if err != nil {
		t.Fatalf("NewEstimator failed: %v", err)
	}
	if _, err := estimator.EstimateForAgent(context.Background(), "agent-2"); err == nil {
		t.Fatalf("expected venue count failure")
	}
}

func TestNewEstimatorValidation(t *testing.T) {
	if _, err := NewEstimator(Config{}); err == nil {
		t.Fatalf("expected error for missing rank table")
	}
	_, err := NewEstimator(Config{
		Ranks:       ranks.DefaultTable(),
		Agents:      stubAgents{},
		Venues:      stubVenues{},
		PerVenueFee: decimal.NewFromInt(-1),
	})
	if !errors.Is(err, domain.KindInvalidInput) {
		t.Fatalf("expected invalid input for negative fee, got %v", err)
	}
}
