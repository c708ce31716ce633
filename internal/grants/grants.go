// Package grants looks up the tool allow-list attached to an authenticated
// caller. The result becomes the request scope of every call that caller makes.
package grants

import (
	"context"
	"strings"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

// Source returns the request scope granted to subject.
//
// A subject without a grant yields scope.Unrestricted; a grant with an empty
// list yields a restricted Spec that allows nothing.
type Source interface {
	Lookup(ctx context.Context, subject string) (scope.Spec, error)
}

// Static is an in-memory Source keyed by subject.
type Static map[string]scope.Spec

// Lookup implements Source.
func (s Static) Lookup(_ context.Context, subject string) (scope.Spec, error) {
	spec, ok := s[strings.TrimSpace(subject)]
	if !ok {
		return scope.Unrestricted(), nil
	}
	return spec, nil
}

// None is a Source that never grants a request scope.
type None struct{}

// Lookup implements Source.
func (None) Lookup(context.Context, string) (scope.Spec, error) {
	return scope.Unrestricted(), nil
}
