// Package source fetches raw submissions from the two upstream
// collaborators: a paginated form API (primary, PDF-derived) and an
// export-and-poll survey API (secondary, web). Both yield Records with
// canonical field names; pagination and polling mechanics stay inside this
// package.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kidscreen/internal/model"
)

// SubmissionSource yields all raw records a pipeline currently holds.
type SubmissionSource interface {
	Kind() model.SourceKind
	FetchAll(ctx context.Context) ([]model.Record, error)
}

// stringify coerces a decoded JSON answer value to its string form. Form
// APIs deliver answers as strings, numbers or string arrays depending on the
// question type.
func stringify(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ", ")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return trimFloat(n)
	}
	return strings.Trim(string(raw), `"`)
}

func trimFloat(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
