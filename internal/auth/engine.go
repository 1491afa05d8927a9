package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Requirement is what a guarded operation demands of its caller:
// either membership in one of Roles, or Actions on Resource.
type Requirement struct {
	Roles    []string
	Resource string
	Actions  []string
}

// RequireRoles demands at least one of the named roles.
func RequireRoles(names ...string) Requirement {
	return Requirement{Roles: NewRoleSet(RolesFromStore, names...).Names()}
}

// RequirePermission demands every action on resource.
func RequirePermission(resource string, actions ...string) Requirement {
	return Requirement{Resource: normalizeName(resource), Actions: NewActionSet(actions...).Sorted()}
}

// IsRoleRequirement reports whether r is a role-set requirement.
func (r Requirement) IsRoleRequirement() bool { return r.Resource == "" }

func (r Requirement) String() string {
	if r.IsRoleRequirement() {
		return "roles:" + strings.Join(r.Roles, "|")
	}
	return r.Resource + ":" + strings.Join(r.Actions, ",")
}

// Caller is an authenticated identity. Roles is resolved from the store at authentication;
// TokenRoles is the token's display snapshot.
type Caller struct {
	UserID     string
	Username   string
	RoleIDs    []string
	Roles      RoleSet
	TokenRoles RoleSet
	TokenID    string
	ExpiresAt  time.Time
}

// Grant names the rule that allowed a request.
type Grant string

const (
	GrantAdmin      Grant = "admin"
	GrantRole       Grant = "role"
	GrantPermission Grant = "permission"
	GrantSelf       Grant = "self"
	GrantHierarchy  Grant = "hierarchy"
)

// Decision describes the outcome of Authorize.
type Decision struct {
	Allowed      bool
	Grant        Grant
	Kind         Kind
	CallerID     string
	Requirement  Requirement
	TargetID     string
	MatchedRoles []string
	Missing      []string
}

// SubordinateChecker answers hierarchy reachability.
type SubordinateChecker interface {
	IsSubordinate(ctx context.Context, managerID, targetID string) (bool, error)
}

// Observer is notified of authentication failures and authorization decisions.
type Observer interface {
	AuthenticationFailed(kind Kind)
	Decided(d Decision)
}

// Engine authenticates bearer tokens and makes allow/deny decisions.
type Engine struct {
	tokens    *TokenService
	users     UserStore
	roles     RoleStore
	resolver  Resolver
	hierarchy SubordinateChecker
	observer  Observer
	logger    *zap.Logger
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger used for denials and integrity errors.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithResolver replaces the default store-backed resolver.
func WithResolver(r Resolver) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.resolver = r
		}
	}
}

// NewEngine wires the decision point to its collaborators.
func NewEngine(tokens *TokenService, store CredentialStore, hierarchy SubordinateChecker, opts ...EngineOption) *Engine {
	e := &Engine{
		tokens:    tokens,
		users:     store,
		roles:     store,
		resolver:  NewPermissionResolver(store, store),
		hierarchy: hierarchy,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tokens exposes the token service used by the engine.
func (e *Engine) Tokens() *TokenService { return e.tokens }

// Authenticate verifies an access token and loads the caller's current identity.
func (e *Engine) Authenticate(ctx context.Context, token string) (Caller, error) {
	caller, err := e.authenticate(ctx, token)
	if err != nil {
		if kind := KindOf(err); kind != KindUnknown && e.observer != nil {
			e.observer.AuthenticationFailed(kind)
		}
		return Caller{}, err
	}
	return caller, nil
}

func (e *Engine) authenticate(ctx context.Context, token string) (Caller, error) {
	claims, err := e.tokens.VerifyAccess(token)
	if err != nil {
		return Caller{}, err
	}
	revoked, err := e.tokens.IsRevoked(ctx, token)
	if err != nil {
		return Caller{}, err
	}
	if revoked {
		return Caller{}, newError(KindBlacklisted, claims.Subject, nil)
	}
	user, err := e.users.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Caller{}, newError(KindSubjectNotFound, claims.Subject, nil)
		}
		return Caller{}, fmt.Errorf("load subject: %w", err)
	}
	if !user.Active {
		return Caller{}, newError(KindInactiveUser, user.ID, nil)
	}
	roles, err := e.currentRoles(ctx, user.RoleIDs)
	if err != nil {
		return Caller{}, err
	}
	return Caller{
		UserID:     user.ID,
		Username:   user.Username,
		RoleIDs:    dedupeStrings(user.RoleIDs),
		Roles:      roles,
		TokenRoles: claims.RoleSet(),
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

func (e *Engine) currentRoles(ctx context.Context, roleIDs []string) (RoleSet, error) {
	roleIDs = dedupeStrings(roleIDs)
	if len(roleIDs) == 0 {
		return NewRoleSet(RolesFromStore), nil
	}
	roles, err := e.roles.GetRolesByIDs(ctx, roleIDs)
	if err != nil {
		return RoleSet{}, fmt.Errorf("load roles: %w", err)
	}
	return roleSetFromRoles(roles), nil
}

// Grants resolves the caller's current permission map.
func (e *Engine) Grants(ctx context.Context, caller Caller) (Grants, error) {
	return e.resolver.Resolve(ctx, caller.RoleIDs)
}

// Authorize decides whether caller satisfies req. targetOwnerID is optional and enables
// self-access and downward hierarchy delegation for capability requirements.
// A denial is returned as an *Error alongside the Decision.
func (e *Engine) Authorize(ctx context.Context, caller Caller, req Requirement, targetOwnerID string) (Decision, error) {
	d := Decision{CallerID: caller.UserID, Requirement: req, TargetID: strings.TrimSpace(targetOwnerID)}
	d, err := e.decide(ctx, caller, d)
	if err != nil && KindOf(err) == KindUnknown {
		return d, err
	}
	if e.observer != nil {
		e.observer.Decided(d)
	}
	if !d.Allowed {
		e.logger.Info("authorization denied",
			zap.String("caller_id", caller.UserID),
			zap.String("requirement", req.String()),
			zap.String("target_id", d.TargetID),
			zap.Stringer("kind", d.Kind),
			zap.Strings("missing", d.Missing))
	}
	return d, err
}

func (e *Engine) decide(ctx context.Context, caller Caller, d Decision) (Decision, error) {
	req := d.Requirement
	if len(dedupeStrings(caller.RoleIDs)) == 0 {
		return deny(d, KindNoRolesAssigned, nil, "caller has no roles")
	}

	roles := caller.Roles
	if !roles.Trusted() {
		var err error
		if roles, err = e.currentRoles(ctx, caller.RoleIDs); err != nil {
			return d, err
		}
	}
	if roles.IsAdmin() {
		return allow(d, GrantAdmin, []string{RoleAdmin})
	}

	if req.IsRoleRequirement() {
		if matched := roles.Intersect(req.Roles); len(matched) > 0 {
			return allow(d, GrantRole, matched)
		}
		return deny(d, KindInsufficientRole, req.Roles, "required one of "+strings.Join(req.Roles, ","))
	}

	grants, err := e.resolver.Resolve(ctx, caller.RoleIDs)
	if err != nil {
		return d, err
	}
	if grants.Allows(req.Resource, req.Actions) {
		return allow(d, GrantPermission, nil)
	}
	missing := grants.Missing(req.Resource, req.Actions)
	if len(missing) == 0 {
		missing = []string{req.Resource}
	}

	if d.TargetID != "" {
		if d.TargetID == caller.UserID {
			return allow(d, GrantSelf, nil)
		}
		if e.hierarchy != nil {
			below, err := e.hierarchy.IsSubordinate(ctx, caller.UserID, d.TargetID)
			if err != nil {
				e.logger.Warn("hierarchy check failed; denying",
					zap.String("caller_id", caller.UserID),
					zap.String("target_id", d.TargetID),
					zap.Error(err))
			} else if below {
				return allow(d, GrantHierarchy, nil)
			}
		}
	}
	return deny(d, KindInsufficientPermission, missing, "missing "+req.Resource+":"+strings.Join(missing, ","))
}

func allow(d Decision, g Grant, matched []string) (Decision, error) {
	d.Allowed = true
	d.Grant = g
	d.MatchedRoles = matched
	return d, nil
}

func deny(d Decision, kind Kind, missing []string, detail string) (Decision, error) {
	d.Allowed = false
	d.Kind = kind
	d.Missing = missing
	return d, newError(kind, detail, nil)
}
