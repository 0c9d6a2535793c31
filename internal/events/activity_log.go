package events

import (
	"context"

	"go.uber.org/zap"
)

// LogActivity writes rank-ups and mission completions from stream to logger
// until ctx is cancelled. Pass a stream from SubscribeAll.
func LogActivity(ctx context.Context, stream <-chan Event, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-stream:
			logEvent(logger, event)
		}
	}
}

func logEvent(logger *zap.Logger, event Event) {
	switch {
	case event.RankUp != nil:
		logger.Info("rank up",
			zap.String("user_id", event.UserID),
			zap.String("previous_rank", event.RankUp.PreviousRank),
			zap.String("new_rank", event.RankUp.NewRank),
			zap.Int64("total_xp", event.RankUp.TotalXP),
		)
	case event.MissionCompleted != nil:
		logger.Info("mission completed",
			zap.String("user_id", event.UserID),
			zap.String("mission_id", event.MissionCompleted.MissionID),
		)
	default:
		logger.Debug("progression event", zap.String("user_id", event.UserID), zap.String("kind", event.Kind))
	}
}
