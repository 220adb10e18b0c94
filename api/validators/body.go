package validators

import (
	"encoding/json"
	"io"
	"net/http"

	pkgerrors "github.com/angelmondragon/eduflow-sync/pkg/errors"
)

// DecodeJSONObject reads a free-form JSON object and trims its top-level
// string fields. Collection documents are opaque here; their contract is
// checked by the collection catalog.
func DecodeJSONObject(r *http.Request) (map[string]any, error) {
	defer func() {
		io.Copy(io.Discard, r.Body)
	}()
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").WithDetails(map[string]any{"error": err.Error()})
	}
	if len(doc) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request body must be a non-empty JSON object")
	}
	return SanitizeDocument(doc), nil
}
