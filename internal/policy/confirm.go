package policy

import (
	"fmt"
	"strings"
)

// RequireConfirmation enforces explicit confirm=true for destructive tools.
//
// A tool is destructive when its catalogue entry says so or when its name
// starts with "delete_".
func RequireConfirmation(toolName string, confirmationRequired bool, args map[string]any) error {
	name := strings.TrimSpace(toolName)
	if name == "" {
		return nil
	}
	if !confirmationRequired && !strings.HasPrefix(name, "delete_") {
		return nil
	}
	if hasConfirmTrue(args) {
		return nil
	}
	return fmt.Errorf("tool %s requires confirm=true for destructive operations", name)
}

// StripConfirm returns args without the confirm flag, which is consumed by
// the policy layer and never forwarded to the execution engine.
func StripConfirm(args map[string]any) map[string]any {
	if _, ok := args["confirm"]; !ok {
		return args
	}
	out := make(map[string]any, len(args)-1)
	for key, value := range args {
		if key == "confirm" {
			continue
		}
		out[key] = value
	}
	return out
}

func hasConfirmTrue(args map[string]any) bool {
	if args == nil {
		return false
	}
	value, ok := args["confirm"]
	if !ok {
		return false
	}
	confirm, ok := value.(bool)
	return ok && confirm
}
