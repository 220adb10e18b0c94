package models

import (
	"time"

	dbtypes "github.com/angelmondragon/eduflow-sync/pkg/db/types"
	"github.com/angelmondragon/eduflow-sync/pkg/enums"
)

// Record is a locally cached document. Every collection table shares this
// shape; the table is chosen per query.
type Record struct {
	ID             string               `gorm:"column:id;type:text;primaryKey" json:"id"`
	OrganizationID string               `gorm:"column:organization_id;type:text;not null;index" json:"organizationId"`
	FirstName      *string              `gorm:"column:first_name" json:"firstName,omitempty"`
	LastName       *string              `gorm:"column:last_name" json:"lastName,omitempty"`
	Email          *string              `gorm:"column:email" json:"email,omitempty"`
	Name           *string              `gorm:"column:name" json:"name,omitempty"`
	Status         *string              `gorm:"column:status" json:"status,omitempty"`
	Data           dbtypes.JSONDocument `gorm:"column:data;type:text;not null" json:"data"`
	UpdatedAt      time.Time            `gorm:"column:updated_at" json:"updatedAt"`
	SyncState      enums.SyncState      `gorm:"column:sync_state;type:text;not null;default:clean" json:"syncState"`
	LastSyncError  *string              `gorm:"column:last_sync_error" json:"lastSyncError,omitempty"`
}

// IsDirty reports whether the record has local changes not yet confirmed
// by the remote store.
func (r Record) IsDirty() bool {
	return r.SyncState.IsDirty()
}
