package enums

import "fmt"

// SyncState is the reconciliation state of a locally cached record.
type SyncState string

const (
	SyncStateClean       SyncState = "clean"
	SyncStatePendingPush SyncState = "pending_push"
	SyncStatePushFailed  SyncState = "push_failed"
)

var validSyncStates = []SyncState{
	SyncStateClean,
	SyncStatePendingPush,
	SyncStatePushFailed,
}

// IsDirty reports whether the record carries local changes the remote has not
// confirmed. Dirty rows are never replaced by a pull.
func (s SyncState) IsDirty() bool {
	return s != SyncStateClean
}

func (s SyncState) IsValid() bool {
	for _, candidate := range validSyncStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSyncState converts raw input into SyncState.
func ParseSyncState(value string) (SyncState, error) {
	for _, candidate := range validSyncStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync state %q", value)
}
