package auth

import (
	"context"
	"time"
)

// UserStore looks up identity records.
type UserStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
}

// RoleStore looks up roles. GetRolesByIDs omits ids that do not exist.
type RoleStore interface {
	GetRolesByIDs(ctx context.Context, ids []string) ([]Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
}

// PermissionStore looks up permissions. GetPermissionsByCodes omits unknown codes.
type PermissionStore interface {
	GetPermissionsByCodes(ctx context.Context, codes []string) ([]Permission, error)
}

// HierarchyPlan computes the edges to write from the current edge set.
type HierarchyPlan func(current []HierarchyEdge) ([]HierarchyEdge, error)

// HierarchyStore persists reporting edges. UpsertHierarchyEdges applies all edges
// atomically. UpdateHierarchy reads the edges, runs plan and writes its result as
// one step that excludes every other UpdateHierarchy call, across processes.
// An error from plan is returned unchanged and nothing is written.
type HierarchyStore interface {
	GetAllHierarchyEdges(ctx context.Context) ([]HierarchyEdge, error)
	UpsertHierarchyEdges(ctx context.Context, edges ...HierarchyEdge) error
	UpdateHierarchy(ctx context.Context, plan HierarchyPlan) error
}

// BlacklistStore records revoked tokens. Inserting an existing entry is not an error;
// InsertBlacklistEntry reports false when the token hash was already present.
type BlacklistStore interface {
	InsertBlacklistEntry(ctx context.Context, entry BlacklistEntry) (bool, error)
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)
}

// BlacklistPruner drops entries whose token has naturally expired.
type BlacklistPruner interface {
	PruneBlacklist(ctx context.Context, now time.Time) (int, error)
}

// CredentialStore is the full set of lookups the authorization core consumes.
type CredentialStore interface {
	UserStore
	RoleStore
	PermissionStore
	HierarchyStore
}

// AdminStore holds the write paths used when seeding and managing the catalog.
// CreateUser returns ErrConflict when the username is taken; SetUserRoles returns
// ErrNotFound for an unknown user.
type AdminStore interface {
	NextRoleID(ctx context.Context) (string, error)
	UpsertPermission(ctx context.Context, perm Permission) error
	UpsertRole(ctx context.Context, role Role) error
	ListRoles(ctx context.Context) ([]Role, error)
	CreateUser(ctx context.Context, user User) error
	SetUserRoles(ctx context.Context, userID string, roleIDs []string) error
	SetUserActive(ctx context.Context, userID string, active bool) error
}

// DirectoryStore is everything Directory needs.
type DirectoryStore interface {
	CredentialStore
	AdminStore
}
