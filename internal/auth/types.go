package auth

import (
	"sort"
	"strings"
	"time"
)

// RoleAdmin is the reserved superuser role name.
const RoleAdmin = "admin"

// User is an identity record in the credential store.
type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email,omitempty"`
	FullName        string    `json:"full_name,omitempty"`
	PasswordHash    string    `json:"-"`
	RoleIDs         []string  `json:"role_ids"`
	ReportingUserID string    `json:"reporting_user_id,omitempty"`
	Active          bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Role bundles permission codes under a unique name.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission grants a set of actions on one resource. Code is the join key used by roles.
type Permission struct {
	Code        string    `json:"code"`
	Name        string    `json:"name,omitempty"`
	Resource    string    `json:"resource"`
	Actions     []string  `json:"actions"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HierarchyEdge is a user's reporting line. ManagerID is empty for roots.
type HierarchyEdge struct {
	UserID    string    `json:"user_id"`
	ManagerID string    `json:"reporting_user_id,omitempty"`
	Level     int       `json:"level"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlacklistEntry marks a revoked token. TokenHash is the hex SHA-256 of the raw token.
type BlacklistEntry struct {
	ID            string    `json:"id"`
	TokenHash     string    `json:"token_hash"`
	SubjectID     string    `json:"subject_id"`
	BlacklistedAt time.Time `json:"blacklisted_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ActionSet is a set of action verbs.
type ActionSet map[string]struct{}

// NewActionSet builds a set from verbs, normalizing case and whitespace.
func NewActionSet(actions ...string) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		a = normalizeName(a)
		if a == "" {
			continue
		}
		set[a] = struct{}{}
	}
	return set
}

// Has reports whether the verb is present.
func (s ActionSet) Has(action string) bool {
	_, ok := s[normalizeName(action)]
	return ok
}

// ContainsAll reports whether every verb in actions is present.
func (s ActionSet) ContainsAll(actions []string) bool {
	for _, a := range actions {
		if !s.Has(a) {
			return false
		}
	}
	return true
}

// Sorted returns the verbs in lexical order.
func (s ActionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Grants maps a resource to the actions allowed on it.
type Grants map[string]ActionSet

// Allows reports whether the resource grant is a superset of actions.
func (g Grants) Allows(resource string, actions []string) bool {
	set, ok := g[normalizeName(resource)]
	if !ok {
		return false
	}
	return set.ContainsAll(actions)
}

// Missing returns the requested actions the grant does not cover.
func (g Grants) Missing(resource string, actions []string) []string {
	set := g[normalizeName(resource)]
	var missing []string
	for _, a := range actions {
		if !set.Has(a) {
			missing = append(missing, normalizeName(a))
		}
	}
	return missing
}

// Map renders grants as sorted slices, suitable for JSON.
func (g Grants) Map() map[string][]string {
	out := make(map[string][]string, len(g))
	for res, set := range g {
		out[res] = set.Sorted()
	}
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
