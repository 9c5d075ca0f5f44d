package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DecodeJSON decodes a request body strictly: unknown fields are rejected
// so payloads cannot smuggle extra state past validation.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
