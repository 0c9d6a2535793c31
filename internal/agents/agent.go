package agents

import (
	"strings"
	"time"
)

// Agent is a street-team member. The progression columns are a cache of the XP
// ledger and are only written by the ledger and the reconciler.
type Agent struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null" json:"user_id"`
	DisplayName      string `gorm:"column:display_name;size:190" json:"display_name"`
	Email            string `gorm:"column:email;size:320" json:"email"`
	City             string `gorm:"column:city;size:120;index" json:"city"`
	TotalXP          int64  `gorm:"column:total_xp;not null;default:0" json:"total_xp"`
	CurrentRank      string `gorm:"column:current_rank;size:64;not null" json:"current_rank"`
	TotalPoints      int64  `gorm:"column:total_points;not null;default:0" json:"total_points"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

func (Agent) TableName() string {
	return "agents"
}

// Identity maps a login provider subject to the canonical agent id.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Identity) TableName() string {
	return "agent_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
