package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ExhaustedEvent is a dead-lettered event the DLQ worker gave up on. Rows are
// kept for manual inspection; Resolved marks the ones an operator handled.
type ExhaustedEvent struct {
	ID              uint `gorm:"primaryKey"`
	CreatedAt       time.Time
	TenantID        int64  `gorm:"index;not null"`
	SourceSubject   string `gorm:"index;not null"`
	EventType       string `gorm:"index"`
	ErrorType       string `gorm:"type:varchar(16)"`
	LastError       string
	RetryCount      int
	EventTimestamp  time.Time      `gorm:"index"`
	DLQPayload      datatypes.JSON `gorm:"type:jsonb;not null"`
	OriginalPayload datatypes.JSON `gorm:"type:jsonb"`
	Resolved        bool           `gorm:"index;default:false"`
	ResolvedAt      *time.Time
	Notes           string `gorm:"type:text"`
}

func (ExhaustedEvent) TableName(namer schema.Namer) string {
	return namer.TableName("exhausted_events")
}
