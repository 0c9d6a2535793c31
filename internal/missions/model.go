package missions

// Trigger is the action that advances a mission counter.
type Trigger string

const (
	TriggerLeadAdded         Trigger = "lead_added"
	TriggerRunCompleted      Trigger = "run_completed"
	TriggerLeadContacted     Trigger = "lead_contacted"
	TriggerLeadFollowUp      Trigger = "lead_follow_up"
	TriggerLeadDemo          Trigger = "lead_demo"
	TriggerLeadVerbalYes     Trigger = "lead_verbal_yes"
	TriggerLeadSignedPending Trigger = "lead_signed_pending"
	TriggerLeadLive          Trigger = "lead_live"
)

var knownTriggers = map[Trigger]struct{}{
	TriggerLeadAdded:         {},
	TriggerRunCompleted:      {},
	TriggerLeadContacted:     {},
	TriggerLeadFollowUp:      {},
	TriggerLeadDemo:          {},
	TriggerLeadVerbalYes:     {},
	TriggerLeadSignedPending: {},
	TriggerLeadLive:          {},
}

// Valid reports whether t belongs to the trigger taxonomy.
func (t Trigger) Valid() bool {
	_, ok := knownTriggers[t]
	return ok
}

// MissionType is descriptive; activity is governed by the validity window.
type MissionType string

const (
	TypeDaily  MissionType = "daily"
	TypeWeekly MissionType = "weekly"
	TypeOneOff MissionType = "one_off"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeCity   Scope = "city"
)

type Mission struct {
	ID               string      `gorm:"column:id;primaryKey;size:64" json:"id"`
	Title            string      `gorm:"column:title;size:200;not null" json:"title"`
	Description      string      `gorm:"column:description;type:text" json:"description"`
	Type             MissionType `gorm:"column:type;size:16;not null" json:"type"`
	Scope            Scope       `gorm:"column:scope;size:16;not null" json:"scope"`
	City             string      `gorm:"column:city;size:120" json:"city,omitempty"`
	Trigger          Trigger     `gorm:"column:trigger_key;size:32;not null;index" json:"trigger"`
	XPReward         int64       `gorm:"column:xp_reward;not null" json:"xp_reward"`
	PointReward      int64       `gorm:"column:point_reward;not null;default:0" json:"point_reward"`
	RequiredCount    int64       `gorm:"column:required_count;not null" json:"required_count"`
	ValidFromSeconds int64       `gorm:"column:valid_from_s;not null;index" json:"valid_from_s"`
	ValidToSeconds   int64       `gorm:"column:valid_to_s;not null;index" json:"valid_to_s"`
	CreatedBy        string      `gorm:"column:created_by;size:190" json:"created_by,omitempty"`
	CreatedAtSeconds int64       `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

func (Mission) TableName() string {
	return "missions"
}

// Progress tracks one agent's counter for one mission.
type Progress struct {
	ID                 string `gorm:"column:id;primaryKey;size:64" json:"id"`
	MissionID          string `gorm:"column:mission_id;size:64;not null;uniqueIndex:idx_mission_progress_mission_user,priority:1" json:"mission_id"`
	UserID             string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_mission_progress_mission_user,priority:2;index" json:"user_id"`
	CurrentCount       int64  `gorm:"column:current_count;not null;default:0" json:"current_count"`
	IsCompleted        bool   `gorm:"column:is_completed;not null;default:false" json:"is_completed"`
	CompletedAtSeconds *int64 `gorm:"column:completed_at_s" json:"completed_at_s,omitempty"`
	XPAwarded          bool   `gorm:"column:xp_awarded;not null;default:false" json:"xp_awarded"`
	ClaimedAtSeconds   *int64 `gorm:"column:claimed_at_s" json:"claimed_at_s,omitempty"`
	UpdatedAtSeconds   int64  `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

func (Progress) TableName() string {
	return "mission_progress"
}
