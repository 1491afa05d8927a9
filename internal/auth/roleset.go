package auth

import (
	"sort"
	"strings"
)

// RoleSource records where a RoleSet came from.
type RoleSource int

const (
	// RolesFromToken is the informational snapshot embedded in a token.
	RolesFromToken RoleSource = iota + 1
	// RolesFromStore is resolved from current role ids and may be trusted.
	RolesFromStore
)

// RoleSet is a normalized, deduplicated set of role names tagged with its origin.
type RoleSet struct {
	source RoleSource
	names  map[string]struct{}
}

// NewRoleSet normalizes names (trimmed, lower-cased, deduplicated).
func NewRoleSet(source RoleSource, names ...string) RoleSet {
	set := RoleSet{source: source, names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = normalizeName(name)
		if name == "" {
			continue
		}
		set.names[name] = struct{}{}
	}
	return set
}

func roleSetFromRoles(roles []Role) RoleSet {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return NewRoleSet(RolesFromStore, names...)
}

// Source reports the origin of the set.
func (s RoleSet) Source() RoleSource { return s.source }

// Trusted reports whether the set may be used for access decisions.
func (s RoleSet) Trusted() bool { return s.source == RolesFromStore }

// Len returns the number of distinct names.
func (s RoleSet) Len() int { return len(s.names) }

// Has reports whether name is in the set.
func (s RoleSet) Has(name string) bool {
	_, ok := s.names[normalizeName(name)]
	return ok
}

// IsAdmin reports whether the reserved admin role is present.
func (s RoleSet) IsAdmin() bool { return s.Has(RoleAdmin) }

// Intersect returns the names present in both s and names.
func (s RoleSet) Intersect(names []string) []string {
	var matched []string
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = normalizeName(n)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if s.Has(n) {
			matched = append(matched, n)
		}
	}
	return matched
}

// Names returns the names in lexical order.
func (s RoleSet) Names() []string {
	if len(s.names) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s RoleSet) String() string {
	return strings.Join(s.Names(), ",")
}
