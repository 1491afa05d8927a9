// Package memory provides an in-process credential store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"worknest.io/internal/auth"
)

var (
	_ auth.DirectoryStore = (*Store)(nil)
	_ auth.BlacklistStore = (*Store)(nil)
)

// Store implements the auth store interfaces with in-process concurrency safety.
type Store struct {
	mu          sync.RWMutex
	users       map[string]auth.User
	usernames   map[string]string
	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	edges       map[string]auth.HierarchyEdge
	blacklist   map[string]auth.BlacklistEntry
	roleSeq     int
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]auth.User),
		usernames:   make(map[string]string),
		roles:       make(map[string]auth.Role),
		permissions: make(map[string]auth.Permission),
		edges:       make(map[string]auth.HierarchyEdge),
		blacklist:   make(map[string]auth.BlacklistEntry),
		now:         time.Now,
	}
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return copyUser(u), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[strings.ToLower(username)]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return copyUser(s.users[id]), nil
}

func (s *Store) CreateUser(ctx context.Context, user auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Username)
	if _, taken := s.usernames[key]; taken {
		return fmt.Errorf("%w: username %s", auth.ErrConflict, user.Username)
	}
	if _, taken := s.users[user.ID]; taken {
		return fmt.Errorf("%w: user %s", auth.ErrConflict, user.ID)
	}
	s.users[user.ID] = copyUser(user)
	s.usernames[key] = user.ID
	return nil
}

func (s *Store) SetUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.RoleIDs = append([]string(nil), roleIDs...)
	u.UpdatedAt = s.now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = s.now().UTC()
	s.users[userID] = u
	return nil
}

func (s *Store) GetRolesByIDs(ctx context.Context, ids []string) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.roles[id]; ok {
			out = append(out, copyRole(r))
		}
	}
	return out, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range s.roles {
		if r.Name == name {
			return copyRole(r), nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, copyRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) NextRoleID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleSeq++
	return fmt.Sprintf("Ro-%03d", s.roleSeq), nil
}

func (s *Store) UpsertRole(ctx context.Context, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role.Name = strings.ToLower(strings.TrimSpace(role.Name))
	for id, r := range s.roles {
		if r.Name == role.Name && id != role.ID {
			return fmt.Errorf("%w: role name %s", auth.ErrConflict, role.Name)
		}
	}
	s.roles[role.ID] = copyRole(role)
	return nil
}

func (s *Store) GetPermissionsByCodes(ctx context.Context, codes []string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(codes))
	for _, code := range codes {
		if p, ok := s.permissions[code]; ok {
			p.Actions = append([]string(nil), p.Actions...)
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) UpsertPermission(ctx context.Context, perm auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm.Actions = append([]string(nil), perm.Actions...)
	s.permissions[perm.Code] = perm
	return nil
}

// DeletePermission removes a permission code; roles referencing it keep the dangling code.
func (s *Store) DeletePermission(ctx context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.permissions, code)
}

func (s *Store) GetAllHierarchyEdges(ctx context.Context) ([]auth.HierarchyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked(), nil
}

func (s *Store) edgesLocked() []auth.HierarchyEdge {
	out := make([]auth.HierarchyEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// UpsertHierarchyEdges applies all edges under one lock and mirrors the manager onto the user.
func (s *Store) UpsertHierarchyEdges(ctx context.Context, edges ...auth.HierarchyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertEdgesLocked(edges)
}

// UpdateHierarchy holds the write lock across plan and the upsert.
func (s *Store) UpdateHierarchy(ctx context.Context, plan auth.HierarchyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	edges, err := plan(s.edgesLocked())
	if err != nil {
		return err
	}
	return s.upsertEdgesLocked(edges)
}

func (s *Store) upsertEdgesLocked(edges []auth.HierarchyEdge) error {
	for _, e := range edges {
		if _, ok := s.users[e.UserID]; !ok {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, e.UserID)
		}
	}
	for _, e := range edges {
		s.edges[e.UserID] = e
		u := s.users[e.UserID]
		u.ReportingUserID = e.ManagerID
		s.users[e.UserID] = u
	}
	return nil
}

func (s *Store) InsertBlacklistEntry(ctx context.Context, entry auth.BlacklistEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blacklist[entry.TokenHash]; exists {
		return false, nil
	}
	s.blacklist[entry.TokenHash] = entry
	return true, nil
}

func (s *Store) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blacklist[tokenHash]
	return ok, nil
}

// PruneBlacklist drops entries whose token has expired and returns how many were removed.
func (s *Store) PruneBlacklist(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for hash, e := range s.blacklist {
		if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			delete(s.blacklist, hash)
			removed++
		}
	}
	return removed, nil
}

func copyUser(u auth.User) auth.User {
	u.RoleIDs = append([]string(nil), u.RoleIDs...)
	return u
}

func copyRole(r auth.Role) auth.Role {
	r.Permissions = append([]string(nil), r.Permissions...)
	return r
}
