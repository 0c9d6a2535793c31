package field

import "github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"

type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
)

// Run is one venue-visiting session.
type Run struct {
	ID                 string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID             string    `gorm:"column:user_id;size:190;not null;index:idx_runs_user_created,priority:1" json:"user_id"`
	VenueName          string    `gorm:"column:venue_name;size:200;not null" json:"venue_name"`
	City               string    `gorm:"column:city;size:120" json:"city"`
	Status             RunStatus `gorm:"column:status;size:16;not null" json:"status"`
	CreatedAtSeconds   int64     `gorm:"column:created_at_s;not null;index:idx_runs_user_created,priority:2" json:"created_at_s"`
	CompletedAtSeconds *int64    `gorm:"column:completed_at_s" json:"completed_at_s,omitempty"`
}

func (Run) TableName() string {
	return "runs"
}

// Stage is a lead's position in the sales pipeline.
type Stage string

const (
	StageNew           Stage = "new"
	StageContacted     Stage = "contacted"
	StageFollowUp      Stage = "follow_up"
	StageDemo          Stage = "demo"
	StageVerbalYes     Stage = "verbal_yes"
	StageSignedPending Stage = "signed_pending"
	StageLive          Stage = "live"
	StageLost          Stage = "lost"
)

var stageTriggers = map[Stage]missions.Trigger{
	StageContacted:     missions.TriggerLeadContacted,
	StageFollowUp:      missions.TriggerLeadFollowUp,
	StageDemo:          missions.TriggerLeadDemo,
	StageVerbalYes:     missions.TriggerLeadVerbalYes,
	StageSignedPending: missions.TriggerLeadSignedPending,
	StageLive:          missions.TriggerLeadLive,
}

// stageOrder fixes each stage's bit in Lead.ReachedStages. Append only.
var stageOrder = []Stage{
	StageNew,
	StageContacted,
	StageFollowUp,
	StageDemo,
	StageVerbalYes,
	StageSignedPending,
	StageLive,
	StageLost,
}

func (s Stage) bit() int64 {
	for index, candidate := range stageOrder {
		if candidate == s {
			return 1 << index
		}
	}
	return 0
}

// ReachedMask builds a Lead.ReachedStages value marking stages as visited.
func ReachedMask(stages ...Stage) int64 {
	var mask int64
	for _, stage := range stages {
		mask |= stage.bit()
	}
	return mask
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageLost:
		return true
	default:
		_, ok := stageTriggers[s]
		return ok
	}
}

// Trigger returns the mission trigger fired when a lead enters s.
func (s Stage) Trigger() (missions.Trigger, bool) {
	trigger, ok := stageTriggers[s]
	return trigger, ok
}

// Lead is a venue in the agent's pipeline.
type Lead struct {
	ID               string `gorm:"column:id;primaryKey;size:64" json:"id"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_leads_user_stage,priority:1" json:"user_id"`
	VenueName        string `gorm:"column:venue_name;size:200;not null" json:"venue_name"`
	ContactName      string `gorm:"column:contact_name;size:200" json:"contact_name"`
	Stage            Stage  `gorm:"column:stage;size:32;not null;index:idx_leads_user_stage,priority:2" json:"stage"`
	ReachedStages    int64  `gorm:"column:reached_stages;not null;default:0" json:"-"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

func (Lead) TableName() string {
	return "leads"
}

// HasReached reports whether the lead has ever been in stage. Stage XP and
// stage triggers are granted only on the first visit.
func (l Lead) HasReached(stage Stage) bool {
	return l.ReachedStages&stage.bit() != 0
}
