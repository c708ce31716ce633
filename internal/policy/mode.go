// Package policy defines execution guardrails applied to tool calls after
// scope authorization has admitted the tool.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ModeReadOnly allows only read capability tools.
	ModeReadOnly = "read-only"
	// ModeReadWrite allows read and write capability tools.
	ModeReadWrite = "read-write"
)

// Capability is the kind of access a catalogue entry needs.
type Capability string

const (
	CapabilityRead  Capability = "read"
	CapabilityWrite Capability = "write"
)

var (
	// ErrWriteDisabled is returned by NewGuard when read-write mode is
	// requested without the enable flag.
	ErrWriteDisabled = errors.New("read-write mode requires CHAMICORE_TOOLGATE_ENABLE_WRITE=true")
	// ErrWriteDenied wraps a write tool refused in read-only mode.
	ErrWriteDenied = errors.New("requires read-write mode")
	// ErrUnknownCapability wraps a catalogue entry with an unsupported capability.
	ErrUnknownCapability = errors.New("unknown capability")
)

// ParseCapability normalizes a catalogue capability string.
func ParseCapability(raw string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(raw))); c {
	case CapabilityRead, CapabilityWrite:
		return c, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownCapability, strings.TrimSpace(raw))
	}
}

// Guard decides which capabilities the gateway executes. Writes need both
// the read-write mode and the explicit enable flag.
type Guard struct {
	mode string
}

// NewGuard validates the mode pair. An empty mode means read-only.
func NewGuard(mode string, enableWrite bool) (*Guard, error) {
	g := &Guard{mode: strings.ToLower(strings.TrimSpace(mode))}
	if g.mode == "" {
		g.mode = ModeReadOnly
	}
	switch {
	case g.mode == ModeReadOnly:
	case g.mode == ModeReadWrite && !enableWrite:
		return nil, ErrWriteDisabled
	case g.mode == ModeReadWrite:
	default:
		return nil, fmt.Errorf("invalid mode %q (allowed: %s|%s)", g.mode, ModeReadOnly, ModeReadWrite)
	}
	return g, nil
}

// Mode returns the resolved mode. A nil Guard is read-only.
func (g *Guard) Mode() string {
	if g == nil {
		return ModeReadOnly
	}
	return g.mode
}

// AuthorizeTool reports whether a tool with the given capability may run.
func (g *Guard) AuthorizeTool(name, capability string) error {
	toolName := strings.TrimSpace(name)
	if toolName == "" {
		toolName = "unknown"
	}
	c, err := ParseCapability(capability)
	if err != nil {
		return fmt.Errorf("tool %s has %w", toolName, err)
	}
	if c == CapabilityWrite && g.Mode() != ModeReadWrite {
		return fmt.Errorf("tool %s %w", toolName, ErrWriteDenied)
	}
	return nil
}
