package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worknest.io/internal/auth"
)

func TestTokenRoundTrip(t *testing.T) {
	f := newFixture(t)

	token, exp, err := f.tokens.IssueAccessToken("USR-42", "alice", []string{"HR", "employee", "hr"})
	require.NoError(t, err)
	assert.True(t, exp.Equal(f.now.Add(15*time.Minute)), "exp = %v", exp)

	claims, err := f.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "USR-42", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "worknest-test", claims.Issuer)
	assert.Equal(t, auth.TokenTypeAccess, claims.TokenType)
	assert.Equal(t, []string{"employee", "hr"}, claims.Roles)
	assert.False(t, claims.RoleSet().Trusted())
	assert.NotEmpty(t, claims.ID)
}

func TestTokenExpired(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.tokens.IssueAccessToken("USR-1", "bob", nil)
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)
	_, err = f.tokens.Verify(token)
	require.ErrorIs(t, err, auth.ErrExpired)
	assert.True(t, auth.IsAuthentication(err))
}

func TestTokenVerifyFailures(t *testing.T) {
	f := newFixture(t)
	good, _, err := f.tokens.IssueAccessToken("USR-1", "bob", []string{"employee"})
	require.NoError(t, err)
	other, _, err := f.tokens.IssueAccessToken("USR-2", "eve", []string{"admin"})
	require.NoError(t, err)

	goodParts := strings.Split(good, ".")
	otherParts := strings.Split(other, ".")
	spliced := goodParts[0] + "." + otherParts[1] + "." + goodParts[2]

	signWith := func(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub":      "USR-1",
			"username": "bob",
			"roles":    []string{"employee"},
			"typ":      auth.TokenTypeAccess,
			"iss":      "worknest-test",
			"iat":      f.now.Unix(),
			"exp":      f.now.Add(time.Hour).Unix(),
		}
	}
	without := func(key string) jwt.MapClaims {
		c := base()
		delete(c, key)
		return c
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", auth.ErrMalformed},
		{"garbage", "not-a-token", auth.ErrMalformed},
		{"spliced payload", spliced, auth.ErrInvalidSignature},
		{"wrong secret", signWith(jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), base()), auth.ErrInvalidSignature},
		{"hs512 downgrade", signWith(jwt.SigningMethodHS512, testSecret, base()), auth.ErrInvalidSignature},
		{"alg none", signWith(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base()), auth.ErrInvalidSignature},
		{"missing iat", signWith(jwt.SigningMethodHS256, testSecret, without("iat")), auth.ErrMalformed},
		{"missing exp", signWith(jwt.SigningMethodHS256, testSecret, without("exp")), auth.ErrMalformed},
		{"missing sub", signWith(jwt.SigningMethodHS256, testSecret, without("sub")), auth.ErrMalformed},
		{"missing username", signWith(jwt.SigningMethodHS256, testSecret, without("username")), auth.ErrMalformed},
		{"foreign issuer", signWith(jwt.SigningMethodHS256, testSecret, func() jwt.MapClaims {
			c := base()
			c["iss"] = "someone-else"
			return c
		}()), auth.ErrMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.tokens.Verify(tc.token)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	f := newFixture(t)
	refresh, _, err := f.tokens.IssueRefreshToken("USR-1", "bob", nil)
	require.NoError(t, err)

	_, err = f.tokens.VerifyAccess(refresh)
	require.ErrorIs(t, err, auth.ErrMalformed)

	access, _, err := f.tokens.IssueAccessToken("USR-1", "bob", nil)
	require.NoError(t, err)
	_, err = f.tokens.Refresh(context.Background(), access)
	require.ErrorIs(t, err, auth.ErrMalformed)
}

func TestRefreshReResolvesRolesAndRotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "carol", auth.RoleEmployee)

	refresh, _, err := f.tokens.IssueRefreshToken(u.ID, u.Username, []string{"admin"})
	require.NoError(t, err)
	require.NoError(t, f.dir.AssignRoles(ctx, u.ID, []string{f.roleID(t, auth.RoleHR)}))

	pair, err := f.tokens.Refresh(ctx, refresh)
	require.NoError(t, err)
	claims, err := f.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleHR}, claims.Roles)

	_, err = f.tokens.Refresh(ctx, refresh)
	require.ErrorIs(t, err, auth.ErrBlacklisted)

	_, err = f.tokens.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshUnknownSubject(t *testing.T) {
	f := newFixture(t)
	refresh, _, err := f.tokens.IssueRefreshToken("USR-404", "ghost", nil)
	require.NoError(t, err)

	_, err = f.tokens.Refresh(context.Background(), refresh)
	require.ErrorIs(t, err, auth.ErrSubjectNotFound)
}

func TestRefreshExpired(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "dave")
	refresh, _, err := f.tokens.IssueRefreshToken(u.ID, u.Username, nil)
	require.NoError(t, err)

	f.now = f.now.Add(31 * 24 * time.Hour)
	_, err = f.tokens.Refresh(context.Background(), refresh)
	require.ErrorIs(t, err, auth.ErrExpired)
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token, _, err := f.tokens.IssueAccessToken("USR-1", "bob", nil)
	require.NoError(t, err)

	f.tokens.Revoke(ctx, token, "USR-1")
	f.tokens.Revoke(ctx, token, "USR-1")
	f.tokens.Revoke(ctx, "garbage", "")
	f.tokens.Revoke(ctx, "", "")

	revoked, err := f.tokens.IsRevoked(ctx, token)
	require.NoError(t, err)
	assert.True(t, revoked)

	claims, err := f.tokens.Verify(token)
	require.NoError(t, err, "verify does not consult the blacklist")
	assert.Equal(t, "USR-1", claims.Subject)
}

func TestRevokeStoresOnlyLiveTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "USR-9",
		"username": "mallory",
		"typ":      auth.TokenTypeAccess,
		"iss":      "worknest-test",
		"iat":      f.now.Unix(),
		"exp":      f.now.Add(100 * 365 * 24 * time.Hour).Unix(),
	}).SignedString([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)
	stale, _, err := f.tokens.IssueAccessToken("USR-1", "bob", nil)
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour)

	for _, token := range []string{"garbage-a", "garbage-b", forged, stale} {
		f.tokens.Revoke(ctx, token, "")
	}

	n, err := f.store.PruneBlacklist(ctx, f.now.Add(200*365*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRevokeCapsEntryLifetime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens, err := auth.NewTokenService(testSecret, f.store, f.store,
		auth.WithClock(f.clock),
		auth.WithBlacklist(f.store),
		auth.WithIssuer("worknest-test"),
		auth.WithAccessTTL(48*time.Hour),
		auth.WithRefreshTTL(time.Hour))
	require.NoError(t, err)

	token, _, err := tokens.IssueAccessToken("USR-1", "bob", nil)
	require.NoError(t, err)
	tokens.Revoke(ctx, token, "")

	n, err := f.store.PruneBlacklist(ctx, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "hal", auth.RoleEmployee)
	refresh, _, err := f.tokens.IssueRefreshToken(u.ID, u.Username, nil)
	require.NoError(t, err)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		refused int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tokens.Refresh(ctx, refresh)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if errors.Is(err, auth.ErrBlacklisted) {
				refused++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	assert.Equal(t, racers-1, refused)
}

func TestRefreshLosesInsertRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "ida", auth.RoleEmployee)
	tokens, err := auth.NewTokenService(testSecret, f.store, f.store,
		auth.WithClock(f.clock),
		auth.WithBlacklist(staleReads{f.store}),
		auth.WithIssuer("worknest-test"))
	require.NoError(t, err)
	refresh, _, err := tokens.IssueRefreshToken(u.ID, u.Username, nil)
	require.NoError(t, err)

	_, err = tokens.Refresh(ctx, refresh)
	require.NoError(t, err)
	_, err = tokens.Refresh(ctx, refresh)
	require.ErrorIs(t, err, auth.ErrBlacklisted)
}

// staleReads never sees existing entries, as a replica reading before a
// concurrent insert commits would.
type staleReads struct{ auth.BlacklistStore }

func (staleReads) IsBlacklisted(context.Context, string) (bool, error) { return false, nil }

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "erin", auth.RoleEmployee)

	pair, got, err := f.tokens.Login(ctx, "erin", "s3cret-erin")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "bearer", pair.TokenType)
	claims, err := f.tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.RoleEmployee}, claims.Roles)

	_, _, err = f.tokens.Login(ctx, "erin", "wrong")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = f.tokens.Login(ctx, "nobody", "x")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	require.NoError(t, f.dir.Deactivate(ctx, u.ID))
	_, _, err = f.tokens.Login(ctx, "erin", "s3cret-erin")
	require.ErrorIs(t, err, auth.ErrInactiveUser)
}

func TestNewTokenServiceRejectsShortSecret(t *testing.T) {
	f := newFixture(t)
	_, err := auth.NewTokenService([]byte("short"), f.store, f.store)
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}
