// Package scope resolves which catalogue tools a single request may see and call.
//
// A scope layer is either unrestricted or restricted to an explicit, possibly
// empty, list of tool names. The two states are kept apart by the Spec type so
// that an empty allow-list can never be mistaken for "no restriction".
package scope

import (
	"fmt"
	"strings"
)

// Spec is one scope layer.
//
// The zero value is Unrestricted, which also stands for "layer not configured".
// A Spec built with Restrict is restricted even when it names no tools.
type Spec struct {
	restricted bool
	names      []string
}

// Unrestricted returns a Spec that places no restriction on the catalogue.
func Unrestricted() Spec {
	return Spec{}
}

// Restrict returns a Spec limited to the given tool names.
//
// Restrict() with no names allows nothing. Names are kept verbatim; duplicates
// and names unknown to the catalogue are handled during resolution.
func Restrict(names ...string) Spec {
	copied := make([]string, len(names))
	copy(copied, names)
	return Spec{restricted: true, names: copied}
}

// ParseList builds a restricted Spec from a comma separated list.
// Blank entries are skipped, so an empty string restricts to nothing.
func ParseList(raw string) Spec {
	parts := strings.Split(raw, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		names = append(names, trimmed)
	}
	return Restrict(names...)
}

// Restricted reports whether the Spec carries an explicit allow-list.
func (s Spec) Restricted() bool {
	return s.restricted
}

// Names returns a copy of the explicit allow-list. It is nil for Unrestricted.
func (s Spec) Names() []string {
	if !s.restricted {
		return nil
	}
	copied := make([]string, len(s.names))
	copy(copied, s.names)
	return copied
}

// Narrow returns the names of other that s also allows, as a restricted Spec.
// When s is unrestricted, other is returned unchanged.
func (s Spec) Narrow(other Spec) Spec {
	if !s.restricted {
		return other
	}
	if !other.restricted {
		return s
	}
	allowed := make(map[string]struct{}, len(s.names))
	for _, name := range s.names {
		allowed[name] = struct{}{}
	}
	kept := make([]string, 0, len(other.names))
	for _, name := range other.names {
		if _, ok := allowed[name]; ok {
			kept = append(kept, name)
		}
	}
	return Restrict(kept...)
}

// String renders the Spec for logs.
func (s Spec) String() string {
	if !s.restricted {
		return "unrestricted"
	}
	return fmt.Sprintf("restricted[%s]", strings.Join(s.names, ","))
}
