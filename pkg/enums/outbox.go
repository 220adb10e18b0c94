package enums

import "fmt"

// OutboxAction is the mutation recorded by an outbox event.
type OutboxAction string

const (
	OutboxActionCreate OutboxAction = "CREATE"
	OutboxActionUpdate OutboxAction = "UPDATE"
	OutboxActionDelete OutboxAction = "DELETE"
)

var validOutboxActions = []OutboxAction{
	OutboxActionCreate,
	OutboxActionUpdate,
	OutboxActionDelete,
}

// IsValid reports whether the value matches a known outbox action.
func (a OutboxAction) IsValid() bool {
	for _, candidate := range validOutboxActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAction converts raw input into OutboxAction.
func ParseOutboxAction(value string) (OutboxAction, error) {
	for _, candidate := range validOutboxActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox action %q", value)
}

// OutboxStatus tracks whether an event has failed a push attempt. Sent events
// are removed from the outbox, so there is no terminal "sent" state.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusFailed  OutboxStatus = "FAILED"
)

func (s OutboxStatus) IsValid() bool {
	return s == OutboxStatusPending || s == OutboxStatusFailed
}
