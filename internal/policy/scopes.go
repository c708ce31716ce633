package policy

import (
	"fmt"
	"slices"
	"strings"
)

// AdminScope grants every required OAuth scope.
const AdminScope = "admin"

// MissingScopesError is returned when a caller's OAuth scopes do not cover
// the scopes a catalogue entry declares.
type MissingScopesError struct {
	Tool    string
	Missing []string
	Granted []string
}

func (e *MissingScopesError) Error() string {
	tool := strings.TrimSpace(e.Tool)
	if tool == "" {
		tool = "unknown"
	}
	granted := "none"
	if len(e.Granted) > 0 {
		granted = strings.Join(e.Granted, ", ")
	}
	return fmt.Sprintf("tool %s missing required scope(s): %s (granted: %s)", tool, strings.Join(e.Missing, ", "), granted)
}

// RequireScopes checks token scopes such as "write:artists" against what a
// catalogue entry declares. These are unrelated to the per-request tool
// allow-lists. The error is a *MissingScopesError.
func RequireScopes(toolName string, required, granted []string) error {
	missing := MissingScopes(required, granted)
	if len(missing) == 0 {
		return nil
	}
	return &MissingScopesError{Tool: toolName, Missing: missing, Granted: NormalizeList(granted)}
}

// MissingScopes returns the required scopes that granted lacks, in declared
// order. AdminScope covers everything.
func MissingScopes(required, granted []string) []string {
	have := NormalizeList(granted)
	if slices.Contains(have, AdminScope) {
		return nil
	}
	return slices.DeleteFunc(NormalizeList(required), func(s string) bool {
		return slices.Contains(have, s)
	})
}

// NormalizeList trims entries and drops blanks and repeats, keeping the
// first occurrence.
func NormalizeList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" && !slices.Contains(result, v) {
			result = append(result, v)
		}
	}
	return result
}
