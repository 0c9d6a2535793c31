package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultKey is the sorted set holding each agent's total XP.
	DefaultKey = "streetteam:leaderboard:xp"

	defaultTopLimit = 10
	maxTopLimit     = 100
)

var (
	// ErrDisabled is returned by a nil Mirror, which is what the server holds when redis is not configured.
	ErrDisabled       = errors.New("leaderboard: mirror disabled")
	errMissingStore   = errors.New("leaderboard: sorted set store is required")
	errMissingAddress = errors.New("leaderboard: redis address is required")
)

// SortedSetStore is the subset of the redis client the mirror uses.
type SortedSetStore interface {
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd
	ZRevRank(ctx context.Context, key, member string) *redis.IntCmd
	ZScore(ctx context.Context, key, member string) *redis.FloatCmd
}

type Config struct {
	Store  SortedSetStore
	Key    string
	Logger *zap.Logger
}

// Entry is one leaderboard row. Position is 1-based.
type Entry struct {
	Position int64  `json:"position"`
	UserID   string `json:"user_id"`
	TotalXP  int64  `json:"total_xp"`
}

// Mirror keeps a redis sorted set of agent totals. The relational ledger stays
// authoritative; the mirror is only for ranking reads.
type Mirror struct {
	store  SortedSetStore
	key    string
	logger *zap.Logger
}

func NewMirror(cfg Config) (*Mirror, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = DefaultKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{store: cfg.Store, key: key, logger: logger}, nil
}

// NewRedisClient builds a client for address. Connections open on first use.
func NewRedisClient(address, password string, db int) (*redis.Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errMissingAddress
	}
	return redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), nil
}

// RecordTotal overwrites the agent's score with totalXP.
func (m *Mirror) RecordTotal(ctx context.Context, userID string, totalXP int64) error {
	if m == nil {
		return ErrDisabled
	}
	err := m.store.ZAdd(ctx, m.key, redis.Z{Score: float64(totalXP), Member: userID}).Err()
	if err != nil {
		return fmt.Errorf("leaderboard: record total for %s: %w", userID, err)
	}
	return nil
}

// Top returns the n highest totals, highest first.
func (m *Mirror) Top(ctx context.Context, n int) ([]Entry, error) {
	if m == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		n = defaultTopLimit
	}
	if n > maxTopLimit {
		n = maxTopLimit
	}
	members, err := m.store.ZRevRangeWithScores(ctx, m.key, 0, int64(n-1)).Result()
	if err != nil {
		m.logger.Warn("leaderboard read failed", zap.String("key", m.key), zap.Error(err))
		return nil, fmt.Errorf("leaderboard: top %d: %w", n, err)
	}
	entries := make([]Entry, 0, len(members))
	for index, member := range members {
		userID, ok := member.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Position: int64(index) + 1,
			UserID:   userID,
			TotalXP:  int64(member.Score),
		})
	}
	return entries, nil
}

// Standing returns the agent's own row. ok is false when the agent has no score yet.
func (m *Mirror) Standing(ctx context.Context, userID string) (Entry, bool, error) {
	if m == nil {
		return Entry{}, false, ErrDisabled
	}
	rank, err := m.store.ZRevRank(ctx, m.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("leaderboard: rank for %s: %w", userID, err)
	}
	score, err := m.store.ZScore(ctx, m.key, userID).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("leaderboard: score for %s: %w", userID, err)
	}
	return Entry{Position: rank + 1, UserID: userID, TotalXP: int64(score)}, true, nil
}
