package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"worknest.io/internal/ids"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	defaultIssuer     = "worknest"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour
	clockSkew         = 5 * time.Second

	// MinSecretLength is the shortest accepted HMAC secret in bytes.
	MinSecretLength = 32
)

// ErrInvalidCredentials is returned by Login for any username/password mismatch.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Claims is the signed token payload. Roles is a display snapshot only.
type Claims struct {
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"typ"`
	jwt.RegisteredClaims
}

// RoleSet returns the snapshot as an untrusted RoleSet.
func (c *Claims) RoleSet() RoleSet {
	return NewRoleSet(RolesFromToken, c.Roles...)
}

// TokenPair is an access token and its matching refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenService issues, verifies, refreshes and revokes tokens.
type TokenService struct {
	secret     []byte
	users      UserStore
	roles      RoleStore
	blacklist  BlacklistStore
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the iss claim written and required.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithBlacklist enables revocation bookkeeping.
func WithBlacklist(bl BlacklistStore) TokenOption {
	return func(s *TokenService) error {
		s.blacklist = bl
		return nil
	}
}

// WithTokenLogger sets the logger used for best-effort failures.
func WithTokenLogger(l *zap.Logger) TokenOption {
	return func(s *TokenService) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewTokenService constructs a TokenService signing with secret (HS256).
func NewTokenService(secret []byte, users UserStore, roles RoleStore, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: token secret must be at least %d bytes", ErrInvalidInput, MinSecretLength)
	}
	if users == nil || roles == nil {
		return nil, fmt.Errorf("%w: user and role stores are required", ErrInvalidInput)
	}
	s := &TokenService{
		secret:     append([]byte(nil), secret...),
		users:      users,
		roles:      roles,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IssueAccessToken signs a short-lived access token.
func (s *TokenService) IssueAccessToken(subjectID, username string, roles []string) (string, time.Time, error) {
	return s.issue(TokenTypeAccess, subjectID, username, roles, s.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token.
func (s *TokenService) IssueRefreshToken(subjectID, username string, roles []string) (string, time.Time, error) {
	return s.issue(TokenTypeRefresh, subjectID, username, roles, s.refreshTTL)
}

// IssuePair issues an access and refresh token for the same subject.
func (s *TokenService) IssuePair(subjectID, username string, roles []string) (TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(subjectID, username, roles)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(subjectID, username, roles)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) issue(typ, subjectID, username string, roles []string, ttl time.Duration) (string, time.Time, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims := Claims{
		Username:  username,
		Roles:     NewRoleSet(RolesFromToken, roles...).Names(),
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if claims.Roles == nil {
		claims.Roles = []string{}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature and required claims of any token type. It does not consult the blacklist.
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(KindMalformed, "empty token", nil)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, newError(KindMalformed, "decode", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, newError(KindInvalidSignature, "", err)
		default:
			return nil, newError(KindMalformed, "parse", err)
		}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, newError(KindMalformed, "unexpected claims", nil)
	}
	if err := s.validateClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyAccess verifies token and requires it to be an access token.
func (s *TokenService) VerifyAccess(token string) (*Claims, error) {
	return s.verifyType(token, TokenTypeAccess)
}

func (s *TokenService) verifyType(token, typ string) (*Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != typ {
		return nil, newError(KindMalformed, fmt.Sprintf("token type %q, want %q", claims.TokenType, typ), nil)
	}
	return claims, nil
}

func (s *TokenService) validateClaims(claims *Claims) error {
	if claims.Issuer != s.issuer {
		return newError(KindMalformed, fmt.Sprintf("unexpected issuer %q", claims.Issuer), nil)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return newError(KindMalformed, "subject missing", nil)
	}
	if strings.TrimSpace(claims.Username) == "" {
		return newError(KindMalformed, "username missing", nil)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return newError(KindMalformed, "timestamps missing", nil)
	}
	if claims.TokenType == "" {
		return newError(KindMalformed, "token type missing", nil)
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return newError(KindMalformed, "expiry precedes issued-at", nil)
	}
	now := s.now().UTC()
	if !now.Before(claims.ExpiresAt.Time) {
		return newError(KindExpired, "", nil)
	}
	if claims.IssuedAt.Time.After(now.Add(clockSkew)) {
		return newError(KindMalformed, "issued in the future", nil)
	}
	if claims.NotBefore != nil && now.Add(clockSkew).Before(claims.NotBefore.Time) {
		return newError(KindMalformed, "not yet valid", nil)
	}
	return nil
}

// Refresh exchanges a refresh token for a new pair carrying the subject's current role names.
// A refresh token is single use: the presented token is blacklisted before the new
// pair is issued, and a concurrent refresh that loses the insert gets Blacklisted.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.verifyType(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	revoked, err := s.IsRevoked(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if revoked {
		return TokenPair{}, newError(KindBlacklisted, "", nil)
	}
	user, err := s.users.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, newError(KindSubjectNotFound, claims.Subject, nil)
		}
		return TokenPair{}, fmt.Errorf("load subject: %w", err)
	}
	if !user.Active {
		return TokenPair{}, newError(KindInactiveUser, user.ID, nil)
	}
	roles, err := s.roles.GetRolesByIDs(ctx, user.RoleIDs)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load roles: %w", err)
	}
	if s.blacklist != nil {
		claimed, err := s.blacklistToken(ctx, refreshToken, claims, user.ID)
		if err != nil {
			return TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
		}
		if !claimed {
			return TokenPair{}, newError(KindBlacklisted, "refresh token already used", nil)
		}
	}
	return s.IssuePair(user.ID, user.Username, roleSetFromRoles(roles).Names())
}

// Login checks credentials and issues a token pair.
func (s *TokenService) Login(ctx context.Context, username, password string) (TokenPair, User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return TokenPair{}, User{}, ErrInvalidCredentials
		}
		return TokenPair{}, User{}, fmt.Errorf("load user: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			s.logger.Warn("unusable password hash", zap.String("user_id", user.ID), zap.Error(err))
		}
		return TokenPair{}, User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return TokenPair{}, User{}, newError(KindInactiveUser, user.ID, nil)
	}
	roles, err := s.roles.GetRolesByIDs(ctx, user.RoleIDs)
	if err != nil {
		return TokenPair{}, User{}, fmt.Errorf("load roles: %w", err)
	}
	pair, err := s.IssuePair(user.ID, user.Username, roleSetFromRoles(roles).Names())
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, user, nil
}

// Revoke blacklists token. It never fails: problems are logged and swallowed.
// Only tokens this service signed and that are still live get an entry; anything
// else cannot authenticate anyway. An empty subjectID is taken from the token.
func (s *TokenService) Revoke(ctx context.Context, token, subjectID string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	if s.blacklist == nil {
		s.logger.Warn("revoke skipped: no blacklist configured")
		return
	}
	claims, err := s.Verify(token)
	if err != nil {
		s.logger.Debug("revoke skipped: token not live", zap.Stringer("kind", KindOf(err)))
		return
	}
	if _, err := s.blacklistToken(ctx, token, claims, subjectID); err != nil {
		s.logger.Error("revoke token failed",
			zap.String("subject_id", claims.Subject),
			zap.Error(err))
	}
}

// blacklistToken stores the entry for a verified token and reports whether this
// call created it. The entry lives no longer than the refresh TTL.
func (s *TokenService) blacklistToken(ctx context.Context, token string, claims *Claims, subjectID string) (bool, error) {
	now := s.now().UTC()
	expiresAt := claims.ExpiresAt.Time
	if limit := now.Add(s.refreshTTL); expiresAt.After(limit) {
		expiresAt = limit
	}
	if strings.TrimSpace(subjectID) == "" {
		subjectID = claims.Subject
	}
	return s.blacklist.InsertBlacklistEntry(ctx, BlacklistEntry{
		ID:            ids.NewAt(now),
		TokenHash:     HashToken(token),
		SubjectID:     subjectID,
		BlacklistedAt: now,
		ExpiresAt:     expiresAt,
	})
}

// IsRevoked reports whether token has been blacklisted.
func (s *TokenService) IsRevoked(ctx context.Context, token string) (bool, error) {
	if s.blacklist == nil {
		return false, nil
	}
	revoked, err := s.blacklist.IsBlacklisted(ctx, HashToken(token))
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return revoked, nil
}

// HashToken returns the hex SHA-256 of a raw token, the blacklist key.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
