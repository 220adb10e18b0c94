package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/eduflow-sync/pkg/enums"
)

// OutboxDLQ holds quarantined outbox events for inspection, requeue or discard.
type OutboxDLQ struct {
	ID             string                     `gorm:"column:id;type:text;primaryKey" json:"id"`
	EventID        string                     `gorm:"column:event_id;type:text;not null;uniqueIndex" json:"eventId"`
	Seq            int64                      `gorm:"column:seq;not null" json:"seq"`
	Collection     enums.Collection           `gorm:"column:collection;type:text;not null" json:"collection"`
	Action         enums.OutboxAction         `gorm:"column:action;type:text;not null" json:"action"`
	DocID          string                     `gorm:"column:doc_id;type:text;not null" json:"docId"`
	OrganizationID string                     `gorm:"column:organization_id;type:text;not null" json:"organizationId"`
	Payload        json.RawMessage            `gorm:"column:payload;type:text;not null" json:"payload"`
	ErrorReason    enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:text;not null" json:"errorReason"`
	ErrorMessage   *string                    `gorm:"column:error_message" json:"errorMessage,omitempty"`
	AttemptCount   int                        `gorm:"column:attempt_count;not null;default:0" json:"attemptCount"`
	FailedAt       time.Time                  `gorm:"column:failed_at" json:"failedAt"`
	CreatedAt      time.Time                  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
