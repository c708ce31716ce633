package grants

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/policy"
	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

// ScopeFile is the parsed form of the YAML scope file:
//
//	allowedTools: [list_artists, get_artist]   # static scope, optional
//	subjects:
//	  reporting-bot:
//	    allowedTools: [list_artists]
//	  frozen-bot:
//	    allowedTools: []                        # allowed nothing
//	  trusted-bot:
//	    allowedTools: null                      # no request scope
//
// A missing or null allowedTools key leaves that layer unrestricted.
type ScopeFile struct {
	AllowedTools scope.Spec
	Subjects     Static
}

type scopeFileDocument struct {
	AllowedTools *[]string                      `yaml:"allowedTools"`
	Subjects     map[string]scopeFileSubjectDoc `yaml:"subjects"`
}

type scopeFileSubjectDoc struct {
	AllowedTools *[]string `yaml:"allowedTools"`
}

// LoadScopeFile reads and parses the scope file at path.
func LoadScopeFile(path string) (ScopeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScopeFile{}, fmt.Errorf("reading scope file: %w", err)
	}
	return ParseScopeFile(data)
}

// ParseScopeFile decodes scope file YAML.
func ParseScopeFile(data []byte) (ScopeFile, error) {
	var doc scopeFileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ScopeFile{}, fmt.Errorf("decoding scope file: %w", err)
	}

	parsed := ScopeFile{
		AllowedTools: specFromList(doc.AllowedTools),
		Subjects:     make(Static, len(doc.Subjects)),
	}
	for subject, entry := range doc.Subjects {
		name := strings.TrimSpace(subject)
		if name == "" {
			return ScopeFile{}, fmt.Errorf("scope file contains empty subject")
		}
		if _, exists := parsed.Subjects[name]; exists {
			return ScopeFile{}, fmt.Errorf("scope file contains duplicate subject %q", name)
		}
		parsed.Subjects[name] = specFromList(entry.AllowedTools)
	}
	return parsed, nil
}

func specFromList(list *[]string) scope.Spec {
	if list == nil {
		return scope.Unrestricted()
	}
	return scope.Restrict(policy.NormalizeList(*list)...)
}
