package scope

// Source names the layer that produced an Effective scope.
type Source string

const (
	// SourceStatic means the server-wide configured list won.
	SourceStatic Source = "static"
	// SourceRequest means the list attached to the request won.
	SourceRequest Source = "request"
	// SourceCatalogue means no layer was restricted and the full catalogue applies.
	SourceCatalogue Source = "catalogue"
)

// Effective is the resolved set of tools for one request.
type Effective struct {
	source Source
	names  []string
	index  map[string]struct{}
}

// Resolve combines the static and request layers against the catalogue.
//
// A restricted static layer replaces the request layer entirely, even when it
// is empty. Otherwise a restricted request layer applies. With neither, the
// whole catalogue is allowed. Names outside the catalogue are dropped and the
// result always follows catalogue order.
func Resolve(static, request Spec, catalogue []string) Effective {
	switch {
	case static.restricted:
		return intersect(SourceStatic, static.names, catalogue)
	case request.restricted:
		return intersect(SourceRequest, request.names, catalogue)
	default:
		return collect(SourceCatalogue, catalogue, nil)
	}
}

func intersect(source Source, allowed, catalogue []string) Effective {
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	return collect(source, catalogue, set)
}

func collect(source Source, catalogue []string, allowed map[string]struct{}) Effective {
	eff := Effective{
		source: source,
		names:  make([]string, 0, len(catalogue)),
		index:  make(map[string]struct{}, len(catalogue)),
	}
	for _, name := range catalogue {
		if allowed != nil {
			if _, ok := allowed[name]; !ok {
				continue
			}
		}
		if _, seen := eff.index[name]; seen {
			continue
		}
		eff.index[name] = struct{}{}
		eff.names = append(eff.names, name)
	}
	return eff
}

// Contains reports whether name is allowed. Matching is exact and case-sensitive.
func (e Effective) Contains(name string) bool {
	_, ok := e.index[name]
	return ok
}

// Names returns the allowed tool names in catalogue order.
func (e Effective) Names() []string {
	copied := make([]string, len(e.names))
	copy(copied, e.names)
	return copied
}

// Len returns the number of allowed tools.
func (e Effective) Len() int {
	return len(e.names)
}

// Source returns the layer that decided this scope.
func (e Effective) Source() Source {
	if e.source == "" {
		return SourceCatalogue
	}
	return e.source
}

// Unknown returns the names in s that the catalogue does not define, in the
// order they appear in s. It is used to warn about stale configuration.
func Unknown(s Spec, catalogue []string) []string {
	if !s.restricted {
		return nil
	}
	known := make(map[string]struct{}, len(catalogue))
	for _, name := range catalogue {
		known[name] = struct{}{}
	}
	var missing []string
	seen := make(map[string]struct{}, len(s.names))
	for _, name := range s.names {
		if _, ok := known[name]; ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		missing = append(missing, name)
	}
	return missing
}
