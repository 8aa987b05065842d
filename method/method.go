// Package method implements regex-based API method matching: each
// registered method carries a pattern matched against an incoming request's
// method name (first match wins, not anchored), plus an expected parameter
// count. Resolved lookups are cached so steady-state dispatch never
// re-scans the pattern list.
package method

import (
	"regexp"
	"sync"

	"github.com/opensrf-go/opensrf/errs"
	"github.com/opensrf-go/opensrf/middleware"
)

// CountKind enumerates the parameter-count validation modes.
type CountKind int

const (
	Any CountKind = iota
	Zero
	Exactly
	AtLeast
	RangeCount
)

// ParamCount validates the number of parameters supplied to a call.
type ParamCount struct {
	Kind CountKind
	N    int // used by Exactly and AtLeast
	Lo   int // used by RangeCount
	Hi   int // used by RangeCount
}

// Matches reports whether count parameters satisfy the constraint.
func (p ParamCount) Matches(count int) bool {
	switch p.Kind {
	case Any:
		return true
	case Zero:
		return count == 0
	case Exactly:
		return count == p.N
	case AtLeast:
		return count >= p.N
	case RangeCount:
		return count >= p.Lo && count <= p.Hi
	default:
		return false
	}
}

// Method describes one callable API endpoint.
type Method struct {
	APISpec    string
	ParamCount ParamCount
	Handler    middleware.HandlerFunc

	re *regexp.Regexp
}

// Registry holds the methods a service exposes, resolving method names to
// handlers by regex and caching the resolution.
type Registry struct {
	mu      sync.RWMutex
	methods []*Method
	known   map[string]*Method
}

// NewRegistry compiles every method's api_spec once at construction.
func NewRegistry(methods []*Method) (*Registry, error) {
	r := &Registry{
		methods: methods,
		known:   make(map[string]*Method),
	}
	for _, m := range methods {
		re, err := regexp.Compile(m.APISpec)
		if err != nil {
			return nil, errs.Wrapf(errs.ErrConfig, "compiling api_spec %q: %v", m.APISpec, err)
		}
		m.re = re
	}
	return r, nil
}

// Lookup resolves a method name to a registered Method, first match wins,
// not anchored. Results are cached.
func (r *Registry) Lookup(name string) (*Method, bool) {
	r.mu.RLock()
	if m, ok := r.known[name]; ok {
		r.mu.RUnlock()
		return m, true
	}
	r.mu.RUnlock()

	for _, m := range r.methods {
		if m.re.MatchString(name) {
			r.mu.Lock()
			r.known[name] = m
			r.mu.Unlock()
			return m, true
		}
	}
	return nil, false
}
