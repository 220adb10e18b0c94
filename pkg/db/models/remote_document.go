package models

import (
	"time"

	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
)

// RemoteDocument is a row of the authoritative document store.
type RemoteDocument struct {
	Collection     string               `gorm:"column:collection;type:text;primaryKey"`
	ID             string               `gorm:"column:id;type:text;primaryKey"`
	OrganizationID string               `gorm:"column:organization_id;type:text;not null;index"`
	Data           dbtypes.JSONDocument `gorm:"column:data;type:text;not null"`
	UpdatedAt      time.Time            `gorm:"column:updated_at"`
}

func (RemoteDocument) TableName() string { return "remote_documents" }
