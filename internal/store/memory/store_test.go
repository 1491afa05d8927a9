package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worknest.io/internal/auth"
)

func TestUsersAreCaseInsensitiveByUsername(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, auth.User{ID: "u1", Username: "Alice", RoleIDs: []string{"Ro-001"}}))
	require.ErrorIs(t, s.CreateUser(ctx, auth.User{ID: "u2", Username: "alice"}), auth.ErrConflict)

	u, err := s.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	u.RoleIDs[0] = "mutated"
	again, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ro-001"}, again.RoleIDs)

	_, err = s.GetUser(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrNotFound)
	require.ErrorIs(t, s.SetUserActive(ctx, "missing", false), auth.ErrNotFound)
}

func TestRolesOmitMissingIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	id, err := s.NextRoleID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ro-001", id)
	require.NoError(t, s.UpsertRole(ctx, auth.Role{ID: id, Name: "HR"}))
	require.ErrorIs(t, s.UpsertRole(ctx, auth.Role{ID: "Ro-002", Name: "hr"}), auth.ErrConflict)

	roles, err := s.GetRolesByIDs(ctx, []string{"Ro-404", id})
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "hr", roles[0].Name)

	r, err := s.GetRoleByName(ctx, " HR ")
	require.NoError(t, err)
	assert.Equal(t, id, r.ID)
}

func TestHierarchyEdgesAreAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, auth.User{ID: "a", Username: "a"}))
	require.NoError(t, s.CreateUser(ctx, auth.User{ID: "b", Username: "b"}))

	err := s.UpsertHierarchyEdges(ctx,
		auth.HierarchyEdge{UserID: "a", ManagerID: "b", Level: 1},
		auth.HierarchyEdge{UserID: "ghost", ManagerID: "b"},
	)
	require.ErrorIs(t, err, auth.ErrNotFound)
	edges, err := s.GetAllHierarchyEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)

	require.NoError(t, s.UpsertHierarchyEdges(ctx, auth.HierarchyEdge{UserID: "a", ManagerID: "b", Level: 1}))
	u, err := s.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "b", u.ReportingUserID)
}

func TestBlacklist(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		hash    string
		expires time.Time
		created bool
	}{
		{"h1", now.Add(time.Minute), true},
		{"h1", now.Add(time.Hour), false},
		{"h2", now.Add(time.Hour), true},
	} {
		created, err := s.InsertBlacklistEntry(ctx, auth.BlacklistEntry{TokenHash: tc.hash, ExpiresAt: tc.expires})
		require.NoError(t, err)
		assert.Equal(t, tc.created, created, tc.hash)
	}

	ok, err := s.IsBlacklisted(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := s.PruneBlacklist(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	ok, err = s.IsBlacklisted(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.IsBlacklisted(ctx, "h2")
	require.NoError(t, err)
	assert.True(t, ok)
}
