package scope

import "context"

type requestScopeKey struct{}

// WithRequest attaches a request-scoped Spec to ctx. Attaching again on the
// derived context replaces the earlier value for everything downstream.
func WithRequest(ctx context.Context, s Spec) context.Context {
	return context.WithValue(ctx, requestScopeKey{}, s)
}

// FromContext returns the request-scoped Spec attached to ctx, or Unrestricted
// when nothing was attached.
func FromContext(ctx context.Context) Spec {
	if ctx == nil {
		return Unrestricted()
	}
	s, ok := ctx.Value(requestScopeKey{}).(Spec)
	if !ok {
		return Unrestricted()
	}
	return s
}
