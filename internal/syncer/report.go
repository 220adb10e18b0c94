package syncer

import (
	"encoding/json"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/eduflow-sync/pkg/enums"
)

// SkipReason explains why SyncAll did nothing.
type SkipReason string

const (
	SkipNone    SkipReason = ""
	SkipBusy    SkipReason = "busy"
	SkipOffline SkipReason = "offline"
)

// Report summarizes one SyncAll call. Remote failures are carried here instead
// of being returned.
type Report struct {
	OrganizationID string
	Skipped        SkipReason
	StartedAt      time.Time
	FinishedAt     time.Time

	Pushed      int
	Replayed    int
	Quarantined int
	PushError   error

	Pulled     map[enums.Collection]int
	PullErrors map[enums.Collection]error
}

func newReport(orgID string, started time.Time) Report {
	return Report{
		OrganizationID: orgID,
		StartedAt:      started,
		Pulled:         map[enums.Collection]int{},
		PullErrors:     map[enums.Collection]error{},
	}
}

// Failed reports whether any remote step failed.
func (r Report) Failed() bool {
	return r.PushError != nil || len(r.PullErrors) > 0
}

// Err joins every remote failure of the pass.
func (r Report) Err() error {
	errs := r.PushError
	for _, c := range enums.Collections() {
		if err, ok := r.PullErrors[c]; ok {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r Report) result() string {
	switch {
	case r.Skipped == SkipBusy:
		return resultSkippedBusy
	case r.Skipped == SkipOffline:
		return resultSkippedOffline
	case r.Failed():
		return resultFailed
	default:
		return resultOK
	}
}

type reportJSON struct {
	OrganizationID string            `json:"organizationId"`
	Skipped        SkipReason        `json:"skipped,omitempty"`
	Result         string            `json:"result"`
	StartedAt      time.Time         `json:"startedAt"`
	FinishedAt     time.Time         `json:"finishedAt"`
	Pushed         int               `json:"pushed"`
	Replayed       int               `json:"replayed"`
	Quarantined    int               `json:"quarantined"`
	PushError      string            `json:"pushError,omitempty"`
	Pulled         map[string]int    `json:"pulled,omitempty"`
	PullErrors     map[string]string `json:"pullErrors,omitempty"`
}

func (r Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		OrganizationID: r.OrganizationID,
		Skipped:        r.Skipped,
		Result:         r.result(),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Pushed:         r.Pushed,
		Replayed:       r.Replayed,
		Quarantined:    r.Quarantined,
	}
	if r.PushError != nil {
		out.PushError = r.PushError.Error()
	}
	if len(r.Pulled) > 0 {
		out.Pulled = make(map[string]int, len(r.Pulled))
		for c, n := range r.Pulled {
			out.Pulled[c.String()] = n
		}
	}
	if len(r.PullErrors) > 0 {
		out.PullErrors = make(map[string]string, len(r.PullErrors))
		for c, err := range r.PullErrors {
			out.PullErrors[c.String()] = err.Error()
		}
	}
	return json.Marshal(out)
}
