package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/eduflow-sync/pkg/enums"
)

// OutboxEvent is a queued local mutation waiting to be replayed against the
// remote store. Seq is the replay order.
type OutboxEvent struct {
	Seq            int64              `gorm:"column:seq;primaryKey;autoIncrement" json:"seq"`
	ID             string             `gorm:"column:id;type:text;not null;uniqueIndex" json:"id"`
	Collection     enums.Collection   `gorm:"column:collection;type:text;not null" json:"collection"`
	Action         enums.OutboxAction `gorm:"column:action;type:text;not null" json:"action"`
	DocID          string             `gorm:"column:doc_id;type:text;not null;index" json:"docId"`
	OrganizationID string             `gorm:"column:organization_id;type:text;not null" json:"organizationId"`
	Payload        json.RawMessage    `gorm:"column:payload;type:text;not null" json:"payload"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	Status         enums.OutboxStatus `gorm:"column:status;type:text;not null;default:PENDING" json:"status"`
	AttemptCount   int                `gorm:"column:attempt_count;not null;default:0" json:"attemptCount"`
	LastError      *string            `gorm:"column:last_error" json:"lastError,omitempty"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
