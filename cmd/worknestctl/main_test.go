package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("WORKNEST_AUTH_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("WORKNEST_STORE", "memory")
	t.Setenv("WORKNEST_LOG_LEVEL", "error")
	t.Setenv("WORKNEST_ADMIN_USERNAME", "root")
	t.Setenv("WORKNEST_ADMIN_PASSWORD", "changeme")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedListsDefaultRoles(t *testing.T) {
	out, err := execute(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Ro-001\tadmin")
	assert.Contains(t, out, "Ro-003\thr")
}

func TestTokenIssueRequiresUsername(t *testing.T) {
	_, err := execute(t, "token", "issue")
	require.Error(t, err)
}

func TestTokenIssueUnknownUser(t *testing.T) {
	_, err := execute(t, "token", "issue", "--username", "ghost")
	require.Error(t, err)
}

func TestSetManagerRejectsUnknownUser(t *testing.T) {
	_, err := execute(t, "hierarchy", "set-manager", "--user", "ghost", "--manager", "other")
	require.Error(t, err)
}

func TestMigrateRequiresDSN(t *testing.T) {
	t.Setenv("WORKNEST_PG_DSN", "")
	_, err := execute(t, "migrate", "status", "--dsn", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing DSN")
}
