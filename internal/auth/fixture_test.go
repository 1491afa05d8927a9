package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worknest.io/internal/auth"
	"worknest.io/internal/store/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	store     *memory.Store
	dir       *auth.Directory
	hierarchy *auth.HierarchyIndex
	tokens    *auth.TokenService
	engine    *auth.Engine
	now       time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	f.hierarchy = auth.NewHierarchyIndex(f.store, f.store)
	dir, err := auth.NewDirectory(f.store, f.hierarchy)
	require.NoError(t, err)
	f.dir = dir
	require.NoError(t, f.dir.EnsureBuiltins(ctx))

	tokens, err := auth.NewTokenService(testSecret, f.store, f.store,
		auth.WithClock(f.clock),
		auth.WithBlacklist(f.store),
		auth.WithIssuer("worknest-test"))
	require.NoError(t, err)
	f.tokens = tokens
	f.engine = auth.NewEngine(f.tokens, f.store, f.hierarchy)
	return f
}

func (f *fixture) roleID(t *testing.T, name string) string {
	t.Helper()
	role, err := f.store.GetRoleByName(context.Background(), name)
	require.NoError(t, err)
	return role.ID
}

func (f *fixture) user(t *testing.T, username string, roles ...string) auth.User {
	t.Helper()
	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, f.roleID(t, r))
	}
	u, err := f.dir.CreateUser(context.Background(), auth.NewUser{
		Username: username,
		Password: "s3cret-" + username,
		RoleIDs:  ids,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) caller(t *testing.T, u auth.User) auth.Caller {
	t.Helper()
	roles, err := f.store.GetRolesByIDs(context.Background(), u.RoleIDs)
	require.NoError(t, err)
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	token, _, err := f.tokens.IssueAccessToken(u.ID, u.Username, names)
	require.NoError(t, err)
	caller, err := f.engine.Authenticate(context.Background(), token)
	require.NoError(t, err)
	return caller
}
