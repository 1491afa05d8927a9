package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worknest.io/internal/auth"
	"worknest.io/internal/store/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testEnv struct {
	store     *memory.Store
	directory *auth.Directory
	hierarchy *auth.HierarchyIndex
	tokens    *auth.TokenService
	api       *API
	handler   http.Handler
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store := memory.New()
	hierarchy := auth.NewHierarchyIndex(store, store)
	dir, err := auth.NewDirectory(store, hierarchy)
	require.NoError(t, err)
	require.NoError(t, dir.EnsureBuiltins(context.Background()))
	tokens, err := auth.NewTokenService(testSecret, store, store, auth.WithBlacklist(store))
	require.NoError(t, err)
	engine := auth.NewEngine(tokens, store, hierarchy)
	api := New(engine, dir, hierarchy, opts...)
	return &testEnv{
		store:     store,
		directory: dir,
		hierarchy: hierarchy,
		tokens:    tokens,
		api:       api,
		handler:   api.Handler(),
	}
}

func (e *testEnv) user(t *testing.T, username string, roles ...string) auth.User {
	t.Helper()
	ids := make([]string, 0, len(roles))
	for _, name := range roles {
		role, err := e.store.GetRoleByName(context.Background(), name)
		require.NoError(t, err)
		ids = append(ids, role.ID)
	}
	u, err := e.directory.CreateUser(context.Background(), auth.NewUser{
		Username: username,
		Password: "pw-" + username,
		RoleIDs:  ids,
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:5000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(t *testing.T, username string) auth.TokenPair {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": username,
		"password": "pw-" + username,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var pair auth.TokenPair
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pair))
	return pair
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, WithVersion("1.2.3"))
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, WithReadyCheck("db", pingFunc(func(context.Context) error { return nil })))
	rr := env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	env = newTestEnv(t,
		WithReadyCheck("db", pingFunc(func(context.Context) error { return nil })),
		WithReadyCheck("redis", pingFunc(func(context.Context) error { return errors.New("connection refused") })))
	rr = env.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, map[string]any{"redis": "connection refused"}, body["errors"])
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "alice", "hr")

	pair := env.login(t, "alice")
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	rr := env.do(t, http.MethodGet, "/v1/auth/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	assert.Equal(t, u.ID, me.ID)
	assert.Equal(t, []string{"hr"}, me.Roles)
	assert.Equal(t, []string{"access"}, me.Grants["tasks"])
	assert.Contains(t, me.Grants["users"], "update")
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "bob", "employee")
	inactive := env.user(t, "carol", "employee")
	require.NoError(t, env.directory.Deactivate(context.Background(), inactive.ID))

	cases := map[string]map[string]string{
		"wrong password": {"username": "bob", "password": "nope"},
		"unknown user":   {"username": "nobody", "password": "pw-nobody"},
		"inactive":       {"username": "carol", "password": "pw-carol"},
		"empty":          {"username": "", "password": ""},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/auth/login", "", body)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "not authenticated", decodeBody(t, rr)["error"])
			assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
		})
	}

	rr := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]any{"username": "bob", "extra": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, WithRateLimit(2, 1))
	body := map[string]string{"username": "x", "password": "y"}
	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodPost, "/v1/auth/login", "", body).Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func TestAuthenticationFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "dave", "employee")
	pair := env.login(t, "dave")

	other, err := auth.NewTokenService([]byte("ffffffffffffffffffffffffffffffff"), env.store, env.store)
	require.NoError(t, err)
	forged, _, err := other.IssueAccessToken(u.ID, u.Username, []string{"admin"})
	require.NoError(t, err)

	cases := map[string]string{
		"missing":       "",
		"garbage":       "not-a-jwt",
		"forged":        forged,
		"refresh token": pair.RefreshToken,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "not authenticated", decodeBody(t, rr)["error"])
			assert.Equal(t, `Bearer realm="worknest"`, rr.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestInactiveCallerIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "erin", "employee")
	pair := env.login(t, "erin")
	require.NoError(t, env.directory.Deactivate(context.Background(), u.ID))

	rr := env.do(t, http.MethodGet, "/v1/auth/me", pair.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", decodeBody(t, rr)["error"])
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "frank", "employee")
	pair := env.login(t, "frank")

	for _, token := range []string{pair.AccessToken, pair.AccessToken, "garbage", ""} {
		rr := env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Successfully logged out", decodeBody(t, rr)["message"])
	}

	rr := env.do(t, http.MethodGet, "/v1/auth/me", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/auth/logout", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutIgnoresUnverifiableTokens(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"garbage-a", "garbage-b", "garbage-c"} {
		rr := env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	n, err := env.store.PruneBlacklist(context.Background(), time.Now().Add(100*365*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefreshRotatesAndReResolvesRoles(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "gina", "employee")
	pair := env.login(t, "gina")

	hr, err := env.store.GetRoleByName(context.Background(), "hr")
	require.NoError(t, err)
	require.NoError(t, env.directory.AssignRoles(context.Background(), u.ID, []string{hr.ID}))

	rr := env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var next auth.TokenPair
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &next))

	claims, err := env.tokens.VerifyAccess(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"hr"}, claims.Roles)

	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": next.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": " "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestManagerActsOnSubordinateOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.user(t, "manager-m", "hr")
	u := env.user(t, "employee-u", "employee")
	peer := env.user(t, "employee-p", "employee")
	outsider := env.user(t, "outsider", "employee")
	_, err := env.hierarchy.CreateEdge(ctx, u.ID, m.ID)
	require.NoError(t, err)
	_, err = env.hierarchy.CreateEdge(ctx, peer.ID, m.ID)
	require.NoError(t, err)

	mToken := env.login(t, "manager-m").AccessToken
	uToken := env.login(t, "employee-u").AccessToken

	rr := env.do(t, http.MethodPost, "/v1/authz/check", mToken, map[string]any{
		"resource":        "tasks",
		"actions":         []string{"update"},
		"target_owner_id": u.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, "hierarchy", body["grant"])

	rr = env.do(t, http.MethodPost, "/v1/authz/check", mToken, map[string]any{
		"resource": "tasks",
		"actions":  []string{"update"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "insufficient_permission", body["reason"])

	rr = env.do(t, http.MethodPost, "/v1/authz/check", uToken, map[string]any{
		"resource":        "tasks",
		"actions":         []string{"update"},
		"target_owner_id": m.ID,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeBody(t, rr)["allowed"])

	rr = env.do(t, http.MethodGet, "/v1/users/"+u.ID, uToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code, "self access")
	rr = env.do(t, http.MethodGet, "/v1/users/"+outsider.ID, uToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/users/"+m.ID+"/team", mToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var team auth.Team
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &team))
	assert.Empty(t, team.Seniors)
	assert.Len(t, team.Subordinates, 2)

	rr = env.do(t, http.MethodGet, "/v1/users/"+u.ID+"/team", uToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &team))
	require.Len(t, team.Seniors, 1)
	assert.Equal(t, m.ID, team.Seniors[0].UserID)
	require.Len(t, team.Peers, 1)
	assert.Equal(t, peer.ID, team.Peers[0].UserID)
}

func TestSetManagerEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "root", "admin")
	lead := env.user(t, "lead", "employee")
	dev := env.user(t, "dev", "employee")
	token := env.login(t, "root").AccessToken

	rr := env.do(t, http.MethodPut, "/v1/users/"+dev.ID+"/manager", token, map[string]any{"manager_id": lead.ID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var edge auth.HierarchyEdge
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &edge))
	assert.Equal(t, lead.ID, edge.ManagerID)
	assert.Equal(t, 1, edge.Level)

	rr = env.do(t, http.MethodPut, "/v1/users/"+lead.ID+"/manager", token, map[string]any{"manager_id": dev.ID})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "cycle")
	rr = env.do(t, http.MethodPut, "/v1/users/"+dev.ID+"/manager", token, map[string]any{"manager_id": dev.ID})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "self")
	rr = env.do(t, http.MethodPut, "/v1/users/"+dev.ID+"/manager", token, map[string]any{"manager_id": "ghost"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "missing manager")

	rr = env.do(t, http.MethodGet, "/v1/users/"+lead.ID+"/subordinates", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var subs struct {
		Subordinates []auth.TeamMember `json:"subordinates"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &subs))
	require.Len(t, subs.Subordinates, 1)
	assert.Equal(t, dev.ID, subs.Subordinates[0].UserID)

	rr = env.do(t, http.MethodPut, "/v1/users/"+dev.ID+"/manager", token, map[string]any{"manager_id": nil})
	require.Equal(t, http.StatusOK, rr.Code)
	edge = auth.HierarchyEdge{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &edge))
	assert.Empty(t, edge.ManagerID)
	assert.Equal(t, 0, edge.Level)
}

func TestEmployeeCannotManageHierarchy(t *testing.T) {
	env := newTestEnv(t)
	a := env.user(t, "emp-a", "employee")
	b := env.user(t, "emp-b", "employee")
	token := env.login(t, "emp-a").AccessToken

	rr := env.do(t, http.MethodPut, "/v1/users/"+b.ID+"/manager", token, map[string]any{"manager_id": a.ID})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", decodeBody(t, rr)["error"])
}

func TestEmployeeCannotDetachFromManager(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	lead := env.user(t, "lead", "manager")
	emp := env.user(t, "emp", "employee")
	other := env.user(t, "other", "employee")
	_, err := env.hierarchy.SetManager(ctx, emp.ID, lead.ID)
	require.NoError(t, err)
	token := env.login(t, "emp").AccessToken

	rr := env.do(t, http.MethodPut, "/v1/users/"+emp.ID+"/manager", token, map[string]any{"manager_id": nil})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPut, "/v1/users/"+emp.ID+"/manager", token, map[string]any{"manager_id": other.ID})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	below, err := env.hierarchy.IsSubordinate(ctx, lead.ID, emp.ID)
	require.NoError(t, err)
	assert.True(t, below)

	// The manager above still moves the report through delegation.
	leadToken := env.login(t, "lead").AccessToken
	rr = env.do(t, http.MethodPut, "/v1/users/"+emp.ID+"/manager", leadToken, map[string]any{"manager_id": nil})
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestOnlyAdminGrantsAdminRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	hr := env.user(t, "hr1", "hr")
	emp := env.user(t, "emp", "employee")
	root := env.user(t, "root", "admin")
	adminRole, err := env.store.GetRoleByName(ctx, auth.RoleAdmin)
	require.NoError(t, err)
	hrRole, err := env.store.GetRoleByName(ctx, auth.RoleHR)
	require.NoError(t, err)
	hrToken := env.login(t, "hr1").AccessToken

	for _, target := range []string{hr.ID, emp.ID} {
		rr := env.do(t, http.MethodPut, "/v1/users/"+target+"/roles", hrToken,
			map[string]any{"role_ids": []string{hrRole.ID, adminRole.ID}})
		assert.Equal(t, http.StatusForbidden, rr.Code, target)
		assert.Equal(t, "forbidden", decodeBody(t, rr)["error"])
	}
	rr := env.do(t, http.MethodPut, "/v1/users/"+root.ID+"/roles", hrToken,
		map[string]any{"role_ids": []string{hrRole.ID}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(t, http.MethodPost, "/v1/users", hrToken, map[string]any{
		"username": "sneaky",
		"password": "pw-sneaky",
		"role_ids": []string{adminRole.ID},
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	_, err = env.store.GetUserByUsername(ctx, "sneaky")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	got, err := env.store.GetUser(ctx, hr.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{hrRole.ID}, got.RoleIDs)

	// Ordinary grants by HR still go through.
	rr = env.do(t, http.MethodPut, "/v1/users/"+emp.ID+"/roles", hrToken,
		map[string]any{"role_ids": []string{hrRole.ID}})
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	rootToken := env.login(t, "root").AccessToken
	rr = env.do(t, http.MethodPut, "/v1/users/"+emp.ID+"/roles", rootToken,
		map[string]any{"role_ids": []string{adminRole.ID}})
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v2/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodDelete, "/healthz", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestExpiredTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	u := env.user(t, "henry", "employee")
	past := time.Now().Add(-2 * time.Hour)
	old, err := auth.NewTokenService(testSecret, env.store, env.store,
		auth.WithClock(func() time.Time { return past }))
	require.NoError(t, err)
	token, _, err := old.IssueAccessToken(u.ID, u.Username, []string{"employee"})
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginBodyValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/auth/login", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "request body is required", decodeBody(t, rr)["error"])

	rr = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "a", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	huge := string(bytes.Repeat([]byte("a"), maxBodyBytes))
	rr = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": huge, "password": "x"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}
