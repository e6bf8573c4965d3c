package api

import (
	"regexp"
	"strings"
)

type (
	// ExecutionID is a unique identifier for an execution
	ExecutionID string

	// FlowID is a unique identifier for a flow definition
	FlowID string

	// OrchestrationID is a unique identifier for an orchestration definition
	OrchestrationID string

	// NodeID is a unique identifier for a node within a flow definition
	NodeID string
)

// InvalidIDChars matches characters not permitted in definition IDs. Valid
// characters are: letters, digits, underscore, dot, hyphen, plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}
