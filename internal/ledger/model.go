package ledger

// Source identifies what produced an XP event.
type Source string

const (
	SourceMission           Source = "mission"
	SourceRunCompleted      Source = "run_completed"
	SourceVenueStatusChange Source = "venue_status_change"
	SourceManualBonus       Source = "manual_bonus"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceMission, SourceRunCompleted, SourceVenueStatusChange, SourceManualBonus:
		return true
	default:
		return false
	}
}

// XPEvent is one immutable ledger entry. Rows are only ever inserted.
type XPEvent struct {
	ID               string  `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index:idx_xp_events_user_created,priority:1" json:"user_id"`
	Source           Source  `gorm:"column:source;size:32;not null" json:"source"`
	SourceID         *string `gorm:"column:source_id;size:190" json:"source_id,omitempty"`
	XPAmount         int64   `gorm:"column:xp_amount;not null" json:"xp_amount"`
	PointsAmount     int64   `gorm:"column:points_amount;not null;default:0" json:"points_amount"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_xp_events_user_created,priority:2" json:"created_at_s"`
}

func (XPEvent) TableName() string {
	return "xp_events"
}

type totals struct {
	TotalXP     int64 `gorm:"column:total_xp"`
	TotalPoints int64 `gorm:"column:total_points"`
}
