package checklist

import "strings"

// Status is the canonical review state of a checklist item.
type Status string

const (
	// StatusPending marks an item not yet reviewed or explicitly reopened.
	StatusPending Status = "pending"
	// StatusComplete marks an item that passed review.
	StatusComplete Status = "complete"
	// StatusFail marks an item with confirmed issues.
	StatusFail Status = "fail"
	// StatusWarning marks an item needing attention without failing outright.
	StatusWarning Status = "warning"
)

// statusAliases maps the free-text values models and users actually produce
// onto canonical statuses. "pass" and friends canonicalize to complete.
var statusAliases = map[string]Status{
	"pending":     StatusPending,
	"complete":    StatusComplete,
	"fail":        StatusFail,
	"warning":     StatusWarning,
	"pass":        StatusComplete,
	"passed":      StatusComplete,
	"completed":   StatusComplete,
	"done":        StatusComplete,
	"finished":    StatusComplete,
	"resolved":    StatusComplete,
	"yes":         StatusComplete,
	"y":           StatusComplete,
	"affirmative": StatusComplete,
	"ok":          StatusComplete,
	"okay":        StatusComplete,
	"good":        StatusComplete,
	"success":     StatusComplete,
	"successful":  StatusComplete,
	"no":          StatusPending,
	"not yet":     StatusPending,
	"notyet":      StatusPending,
	"incomplete":  StatusPending,
	"todo":        StatusPending,
	"to-do":       StatusPending,
	"caution":     StatusWarning,
	"attention":   StatusWarning,
	"failed":      StatusFail,
	"issue":       StatusFail,
	"problem":     StatusFail,
}

// NormalizeStatus canonicalizes a status value. Exact aliases are tried
// first, then prefix and substring heuristics. The second return value is
// false when the input cannot be mapped to any canonical status.
func NormalizeStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "", false
	}
	if status, ok := statusAliases[normalized]; ok {
		return status, true
	}
	switch {
	case strings.HasPrefix(normalized, "complete"):
		return StatusComplete, true
	case strings.HasPrefix(normalized, "fail"):
		return StatusFail, true
	case strings.Contains(normalized, "warn"):
		return StatusWarning, true
	case strings.Contains(normalized, "pend"):
		return StatusPending, true
	}
	return "", false
}
