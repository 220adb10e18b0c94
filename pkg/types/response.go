// Package types holds the JSON envelopes the agent's local API writes.
package types

// SuccessEnvelope wraps records, sync status and listings as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError carries a pkg/errors code such as OFFLINE or NOT_FOUND. Details
// holds per-field validation messages when a document is rejected.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
