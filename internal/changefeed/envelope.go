package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eduflow-sync/pkg/enums"
)

const envelopeVersion = 1

// ChangeEnvelope announces one write committed to the remote store. Collection
// is the remote collection name, so users fan out to students and teachers on
// the receiving side.
type ChangeEnvelope struct {
	Version        int                `json:"version"`
	EventID        string             `json:"eventId"`
	OccurredAt     time.Time          `json:"occurredAt"`
	Collection     string             `json:"collection"`
	Action         enums.OutboxAction `json:"action"`
	DocID          string             `json:"docId"`
	OrganizationID string             `json:"organizationId"`
	Data           json.RawMessage    `json:"data,omitempty"`
}

// NewEnvelope stamps a fresh event id and timestamp. data may be nil for deletes.
func NewEnvelope(collection string, action enums.OutboxAction, orgID, docID string, data any) (ChangeEnvelope, error) {
	env := ChangeEnvelope{
		Version:        envelopeVersion,
		EventID:        uuid.NewString(),
		OccurredAt:     time.Now().UTC(),
		Collection:     collection,
		Action:         action,
		DocID:          docID,
		OrganizationID: orgID,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ChangeEnvelope{}, fmt.Errorf("marshal change data: %w", err)
		}
		env.Data = raw
	}
	return env, env.Validate()
}

// Validate rejects envelopes a receiver could not route.
func (e ChangeEnvelope) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("change envelope: event id missing")
	case strings.TrimSpace(e.Collection) == "":
		return errors.New("change envelope: collection missing")
	case strings.TrimSpace(e.DocID) == "":
		return errors.New("change envelope: doc id missing")
	case strings.TrimSpace(e.OrganizationID) == "":
		return errors.New("change envelope: organization id missing")
	case !e.Action.IsValid():
		return fmt.Errorf("change envelope: invalid action %q", e.Action)
	}
	return nil
}

// Deleted reports whether the change removed the document.
func (e ChangeEnvelope) Deleted() bool {
	return e.Action == enums.OutboxActionDelete
}

// Document decodes the data blob. Deletes yield an empty map.
func (e ChangeEnvelope) Document() (map[string]any, error) {
	doc := map[string]any{}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return doc, nil
	}
	if err := json.Unmarshal(e.Data, &doc); err != nil {
		return nil, fmt.Errorf("decode change data: %w", err)
	}
	return doc, nil
}

// Attributes are copied onto transport headers so consumers can filter
// without decoding the body.
func (e ChangeEnvelope) Attributes() map[string]string {
	return map[string]string{
		"event_id":        e.EventID,
		"collection":      e.Collection,
		"action":          string(e.Action),
		"organization_id": e.OrganizationID,
		"occurred_at":     e.OccurredAt.Format(time.RFC3339Nano),
	}
}

// RoutingKey is the broker topic for the change: changes.<org>.<collection>.
func RoutingKey(orgID, collection string) string {
	return "changes." + orgID + "." + collection
}

// Encode marshals the envelope after validating it.
func Encode(env ChangeEnvelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses and validates a wire payload.
func Decode(raw []byte) (ChangeEnvelope, error) {
	var env ChangeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ChangeEnvelope{}, fmt.Errorf("decode change envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return ChangeEnvelope{}, err
	}
	return env, nil
}
