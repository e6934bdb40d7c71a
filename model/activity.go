package model

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog records player and system actions for the activity feed.
type ActivityLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"index:idx_activity_trace;size:36" json:"trace_id"`
	Actor      string         `gorm:"index:idx_activity_actor;size:66" json:"actor"`
	Action     string         `gorm:"size:64;not null" json:"action"`
	Payload    datatypes.JSON `json:"payload"`
	Error      string         `gorm:"type:text" json:"error"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index:idx_activity_created;autoCreateTime:milli" json:"created_at"`
}
