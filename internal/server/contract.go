package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
)

const (
	defaultProtocolVersion = "2024-11-05"
	defaultServerName      = "chamicore-toolgate"
)

// ToolSpec represents a single MCP tool contract entry.
type ToolSpec struct {
	Name                 string         `yaml:"name" json:"name"`
	Capability           string         `yaml:"capability" json:"capability"`
	Description          string         `yaml:"description,omitempty" json:"description,omitempty"`
	RequiredScopes       []string       `yaml:"requiredScopes,omitempty" json:"requiredScopes,omitempty"`
	ConfirmationRequired bool           `yaml:"confirmationRequired,omitempty" json:"confirmationRequired,omitempty"`
	InputSchema          map[string]any `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
	OutputSchema         map[string]any `yaml:"outputSchema,omitempty" json:"outputSchema,omitempty"`
}

type toolContract struct {
	Version    string     `yaml:"version"`
	Service    string     `yaml:"service"`
	APIVersion string     `yaml:"apiVersion"`
	Tools      []ToolSpec `yaml:"tools"`
}

// ToolRegistry is the immutable tool catalogue. It is safe for concurrent use.
type ToolRegistry struct {
	contract   toolContract
	byName     map[string]ToolSpec
	names      []string
	validators map[string]*jsonschema.Resolved
}

// NewToolRegistry parses tools contract YAML, validates minimal invariants and
// compiles every input schema.
func NewToolRegistry(contractYAML []byte) (*ToolRegistry, error) {
	var parsed toolContract
	if err := yaml.Unmarshal(contractYAML, &parsed); err != nil {
		return nil, fmt.Errorf("decoding tool contract: %w", err)
	}
	if len(parsed.Tools) == 0 {
		return nil, fmt.Errorf("tool contract has no tools")
	}

	byName := make(map[string]ToolSpec, len(parsed.Tools))
	names := make([]string, 0, len(parsed.Tools))
	validators := make(map[string]*jsonschema.Resolved, len(parsed.Tools))
	for i, tool := range parsed.Tools {
		name := strings.TrimSpace(tool.Name)
		if name == "" {
			return nil, fmt.Errorf("tool contract contains empty tool name")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("tool contract contains duplicate tool %q", name)
		}
		tool.Name = name
		capability, err := policy.ParseCapability(tool.Capability)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		tool.Capability = string(capability)
		if len(tool.InputSchema) > 0 {
			resolved, err := compileSchema(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %q has invalid inputSchema: %w", name, err)
			}
			validators[name] = resolved
		}
		parsed.Tools[i] = tool
		byName[name] = tool
		names = append(names, name)
	}

	return &ToolRegistry{
		contract:   parsed,
		byName:     byName,
		names:      names,
		validators: validators,
	}, nil
}

// List returns all registered tools in contract order.
func (r *ToolRegistry) List() []ToolSpec {
	items := make([]ToolSpec, 0, len(r.contract.Tools))
	items = append(items, r.contract.Tools...)
	return items
}

// ContractYAML renders the contract header around tools, which is normally
// a filtered listing rather than the whole catalogue.
func (r *ToolRegistry) ContractYAML(tools []ToolSpec) ([]byte, error) {
	doc := r.contract
	doc.Tools = tools
	if doc.Tools == nil {
		doc.Tools = []ToolSpec{}
	}
	return yaml.Marshal(doc)
}

// Names returns the catalogue tool names in contract order.
func (r *ToolRegistry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Lookup returns a tool by exact, case-sensitive name.
func (r *ToolRegistry) Lookup(name string) (ToolSpec, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}

// ValidateArguments checks args against the tool's input schema. Tools
// without a schema accept any arguments.
func (r *ToolRegistry) ValidateArguments(name string, args map[string]any) error {
	resolved, ok := r.validators[name]
	if !ok {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	// Round-trip through JSON so numbers and nested values have the shapes
	// the validator expects regardless of how args were built.
	instance, err := normalizeJSON(args)
	if err != nil {
		return fmt.Errorf("invalid arguments for tool %s: %w", name, err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("invalid arguments for tool %s: %w", name, err)
	}
	return nil
}

func compileSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(encoded, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}

func normalizeJSON(v map[string]any) (any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
