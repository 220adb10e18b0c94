package models

import "time"

// SystemMetadata is a small key/value table for agent bookkeeping such as the
// last sync time per organization.
type SystemMetadata struct {
	Key       string    `gorm:"column:key;type:text;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SystemMetadata) TableName() string { return "system_metadata" }
