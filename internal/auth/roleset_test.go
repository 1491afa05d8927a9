package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleSetNormalizes(t *testing.T) {
	set := NewRoleSet(RolesFromToken, " Admin", "hr", "HR", "")
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, []string{"admin", "hr"}, set.Names())
	assert.True(t, set.IsAdmin())
	assert.False(t, set.Trusted())
	assert.Equal(t, "admin,hr", set.String())

	assert.Equal(t, []string{"hr"}, set.Intersect([]string{"Manager", "hr", "HR"}))
	assert.Nil(t, set.Intersect([]string{"customer"}))
	assert.Nil(t, NewRoleSet(RolesFromStore).Names())
}

func TestRoleSetFromRolesIsTrusted(t *testing.T) {
	set := roleSetFromRoles([]Role{{ID: "Ro-001", Name: "Admin"}, {ID: "Ro-002", Name: "employee"}})
	assert.True(t, set.Trusted())
	assert.Equal(t, RolesFromStore, set.Source())
	assert.True(t, set.Has("ADMIN"))
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError(KindExpired, "", nil))
	require.ErrorIs(t, err, ErrExpired)
	assert.False(t, errors.Is(err, ErrMalformed))
	assert.Equal(t, KindExpired, KindOf(err))
	assert.True(t, IsAuthentication(err))
	assert.False(t, IsAuthorization(err))
	assert.Equal(t, "auth: expired", newError(KindExpired, "", nil).Error())

	cause := errors.New("boom")
	inner := newError(KindMalformed, "decode", cause)
	assert.ErrorIs(t, inner, cause)
	assert.Equal(t, "auth: malformed: decode: boom", inner.Error())

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "insufficient_permission", KindInsufficientPermission.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.False(t, IsAuthentication(ErrCyclicHierarchy))
	assert.False(t, IsAuthorization(ErrInvalidHierarchy))
}

func TestGrants(t *testing.T) {
	g := Grants{"tasks": NewActionSet("Read", "update")}
	assert.True(t, g.Allows("TASKS", []string{"read"}))
	assert.True(t, g.Allows("tasks", nil))
	assert.False(t, g.Allows("users", nil))
	assert.Equal(t, []string{"delete"}, g.Missing("tasks", []string{"read", "Delete"}))
	assert.Equal(t, map[string][]string{"tasks": {"read", "update"}}, g.Map())

	req := RequirePermission(" Tasks ", "update", "READ", "read")
	assert.Equal(t, "tasks", req.Resource)
	assert.Equal(t, []string{"read", "update"}, req.Actions)
	assert.Equal(t, "tasks:read,update", req.String())
	assert.True(t, RequireRoles("HR").IsRoleRequirement())
}
