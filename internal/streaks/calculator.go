package streaks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/domain"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opCalculate = "streaks.calculate"

// Anchor selects where the current streak starts counting.
type Anchor string

const (
	// AnchorToday counts back from today only; a quiet today means a zero streak.
	AnchorToday Anchor = "today"
	// AnchorGrace lets a chain ending yesterday stay alive until midnight.
	AnchorGrace Anchor = "grace"
)

var (
	ErrUnknownAnchor   = errors.New("streaks: unknown anchor")
	errMissingDatabase = errors.New("database handle is required")
)

// ParseAnchor accepts "today" or "grace"; blank means grace.
func ParseAnchor(raw string) (Anchor, error) {
	switch Anchor(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AnchorGrace:
		return AnchorGrace, nil
	case AnchorToday:
		return AnchorToday, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAnchor, raw)
	}
}

// Summary is the derived streak state for one agent.
type Summary struct {
	CurrentStreak    int        `json:"current_streak"`
	LongestStreak    int        `json:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date"`
	IsActiveToday    bool       `json:"is_active_today"`
}

type Config struct {
	Database *gorm.DB
	Clock    func() time.Time
	Location *time.Location
	Anchor   Anchor
	Logger   *zap.Logger
}

// Calculator derives streaks from runs, leads and XP events. Nothing is persisted.
type Calculator struct {
	db       *gorm.DB
	clock    func() time.Time
	location *time.Location
	anchor   Anchor
	logger   *zap.Logger
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if cfg.Database == nil {
		return nil, domain.NewServiceError("streaks.new", "missing_database", domain.KindUnexpected, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	anchor := cfg.Anchor
	if anchor == "" {
		anchor = AnchorGrace
	}
	if anchor != AnchorGrace && anchor != AnchorToday {
		return nil, domain.NewServiceError("streaks.new", "unknown_anchor", domain.KindInvalidInput, ErrUnknownAnchor)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{db: cfg.Database, clock: clock, location: location, anchor: anchor, logger: logger}, nil
}

// CalculateStreak gathers the agent's activity days and summarizes them.
func (c *Calculator) CalculateStreak(ctx context.Context, userID domain.UserID) (Summary, error) {
	days, err := c.activityDays(ctx, userID)
	if err != nil {
		c.logger.Error("streak calculation failed",
			zap.String("operation", opCalculate),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return Summary{}, domain.NewServiceError(opCalculate, "activity_query_failed", domain.KindUnexpected, err)
	}
	return Summarize(days, c.clock().In(c.location), c.anchor), nil
}

func (c *Calculator) activityDays(ctx context.Context, userID domain.UserID) ([]time.Time, error) {
	sources := []interface{}{&field.Run{}, &field.Lead{}, &ledger.XPEvent{}}
	seen := make(map[time.Time]struct{})
	for _, model := range sources {
		var stamps []int64
		err := c.db.WithContext(ctx).Model(model).
			Where("user_id = ?", userID.String()).
			Distinct().
			Pluck("created_at_s", &stamps).Error
		if err != nil {
			return nil, err
		}
		for _, stamp := range stamps {
			seen[startOfDay(time.Unix(stamp, 0).In(c.location))] = struct{}{}
		}
	}
	days := make([]time.Time, 0, len(seen))
	for day := range seen {
		days = append(days, day)
	}
	return days, nil
}

// Summarize computes streaks over activity timestamps as seen from now. Timestamps are
// bucketed into calendar days in now's location; duplicates collapse.
func Summarize(activity []time.Time, now time.Time, anchor Anchor) Summary {
	location := now.Location()
	unique := make(map[time.Time]struct{}, len(activity))
	for _, at := range activity {
		unique[startOfDay(at.In(location))] = struct{}{}
	}
	if len(unique) == 0 {
		return Summary{}
	}
	days := make([]time.Time, 0, len(unique))
	for day := range unique {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	today := startOfDay(now)
	_, activeToday := unique[today]

	cursor := today
	if !activeToday && anchor == AnchorGrace {
		cursor = previousDay(today)
	}
	current := 0
	for {
		if _, ok := unique[cursor]; !ok {
			break
		}
		current++
		cursor = previousDay(cursor)
	}

	longest, running := 1, 1
	for i := 1; i < len(days); i++ {
		if previousDay(days[i-1]).Equal(days[i]) {
			running++
		} else {
			running = 1
		}
		if running > longest {
			longest = running
		}
	}
	if current > longest {
		longest = current
	}

	last := days[0]
	return Summary{
		CurrentStreak:    current,
		LongestStreak:    longest,
		LastActivityDate: &last,
		IsActiveToday:    activeToday,
	}
}

func startOfDay(at time.Time) time.Time {
	year, month, day := at.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, at.Location())
}

func previousDay(day time.Time) time.Time {
	return startOfDay(day.AddDate(0, 0, -1))
}
