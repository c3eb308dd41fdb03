// Package capabilities implements the capability grants that gate what an
// extension (§4.7) or a guest host call (§4.5) may touch: filesystem paths,
// outbound network destinations, and environment variables. This is not the
// hostile-host sandbox disclaimed in spec.md §1 — it is a defense-in-depth
// allow-list layered on top of the interpreter's own guarantees.
package capabilities

import "strings"

// Capability is a single granted permission: a kind ("fs", "network", "env")
// paired with a glob-like pattern scoped to that kind.
type Capability struct {
	Kind    string
	Pattern string
}

// Equals reports whether two capabilities are identical.
func (c Capability) Equals(other Capability) bool {
	return c.Kind == other.Kind && c.Pattern == other.Pattern
}

// Grant is the set of capabilities held by one extension or bundle.
type Grant []Capability

// NewGrant returns an empty Grant.
func NewGrant() Grant {
	return make(Grant, 0)
}

// Add appends cap to the grant unless already present.
func (g *Grant) Add(cap Capability) {
	for _, existing := range *g {
		if existing.Equals(cap) {
			return
		}
	}
	*g = append(*g, cap)
}

// Contains reports whether cap is already present in the grant.
func (g Grant) Contains(cap Capability) bool {
	for _, existing := range g {
		if existing.Equals(cap) {
			return true
		}
	}
	return false
}

// Policy decides whether a requested capability is covered by a grant.
type Policy struct{}

// NewPolicy returns the default capability policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// IsGranted reports whether request is covered by any capability in granted.
// Patterns ending in "*" match by prefix; any other pattern must match
// exactly.
func (p *Policy) IsGranted(request Capability, granted []Capability) bool {
	for _, grant := range granted {
		if grant.Kind != request.Kind {
			continue
		}
		if matchPattern(request.Pattern, grant.Pattern) {
			return true
		}
	}
	return false
}

func matchPattern(request, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(request, prefix)
	}
	return request == pattern
}
