package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"worknest.io/internal/ids"
)

// NewUser is the input to Directory.CreateUser.
type NewUser struct {
	Username        string
	Email           string
	FullName        string
	Password        string
	RoleIDs         []string
	ReportingUserID string
}

// Directory manages users, roles and the permission catalog.
type Directory struct {
	store     DirectoryStore
	hierarchy *HierarchyIndex
	now       func() time.Time
}

// NewDirectory constructs a Directory. hierarchy may be nil when reporting lines are not managed.
func NewDirectory(store DirectoryStore, hierarchy *HierarchyIndex) (*Directory, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	return &Directory{store: store, hierarchy: hierarchy, now: time.Now}, nil
}

// EnsureBuiltins upserts the default permission catalog and default roles.
// Existing roles keep their ids; their permission lists are reset to the defaults.
func (d *Directory) EnsureBuiltins(ctx context.Context) error {
	now := d.now().UTC()
	for _, p := range BuiltinPermissions {
		p.CreatedAt = now
		if err := d.store.UpsertPermission(ctx, p); err != nil {
			return fmt.Errorf("ensure permission %s: %w", p.Code, err)
		}
	}
	for _, br := range BuiltinRoles {
		role, err := d.store.GetRoleByName(ctx, br.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			id, err := d.store.NextRoleID(ctx)
			if err != nil {
				return fmt.Errorf("allocate role id: %w", err)
			}
			role = Role{ID: id, Name: br.Name, Description: br.Description, CreatedAt: now}
		case err != nil:
			return fmt.Errorf("lookup role %s: %w", br.Name, err)
		}
		role.Permissions = append([]string(nil), br.Permissions...)
		role.UpdatedAt = now
		if err := d.store.UpsertRole(ctx, role); err != nil {
			return fmt.Errorf("ensure role %s: %w", br.Name, err)
		}
	}
	return nil
}

// EnsureAdmin creates an admin account unless the username already exists.
func (d *Directory) EnsureAdmin(ctx context.Context, username, email, password string) (User, error) {
	existing, err := d.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	admin, err := d.store.GetRoleByName(ctx, RoleAdmin)
	if err != nil {
		return User{}, fmt.Errorf("admin role: %w", err)
	}
	return d.CreateUser(ctx, NewUser{
		Username: username,
		Email:    email,
		FullName: "System Administrator",
		Password: password,
		RoleIDs:  []string{admin.ID},
	})
}

// CreateUser registers an active user. Without role ids the "user" role is assigned.
func (d *Directory) CreateUser(ctx context.Context, in NewUser) (User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email != "" && !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Password) == "" {
		return User{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	roleIDs := dedupeStrings(in.RoleIDs)
	if len(roleIDs) == 0 {
		def, err := d.store.GetRoleByName(ctx, RoleUser)
		if err != nil {
			return User{}, fmt.Errorf("default role: %w", err)
		}
		roleIDs = []string{def.ID}
	}
	manager := strings.TrimSpace(in.ReportingUserID)
	if manager != "" && d.hierarchy != nil {
		if err := d.hierarchy.ValidateManager(ctx, manager); err != nil {
			return User{}, err
		}
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	now := d.now().UTC()
	user := User{
		ID:           ids.NewAt(now),
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		RoleIDs:      roleIDs,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.CreateUser(ctx, user); err != nil {
		return User{}, err
	}
	if manager != "" && d.hierarchy != nil {
		edge, err := d.hierarchy.CreateEdge(ctx, user.ID, manager)
		if err != nil {
			return user, err
		}
		user.ReportingUserID = edge.ManagerID
	}
	return user, nil
}

// CreateRole allocates the next role id and stores a new role.
func (d *Directory) CreateRole(ctx context.Context, name, description string, permissions []string) (Role, error) {
	name = normalizeName(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := d.store.GetRoleByName(ctx, name); err == nil {
		return Role{}, fmt.Errorf("%w: role %s already exists", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, err
	}
	id, err := d.store.NextRoleID(ctx)
	if err != nil {
		return Role{}, fmt.Errorf("allocate role id: %w", err)
	}
	now := d.now().UTC()
	role := Role{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: dedupeStrings(permissions),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	if err := d.store.UpsertRole(ctx, role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns every role.
func (d *Directory) ListRoles(ctx context.Context) ([]Role, error) {
	return d.store.ListRoles(ctx)
}

// SetRolePermissions replaces a role's permission codes wholesale. Codes are not validated
// against the catalog; unknown codes simply grant nothing.
func (d *Directory) SetRolePermissions(ctx context.Context, roleID string, permissions []string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	roles, err := d.store.GetRolesByIDs(ctx, []string{roleID})
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	role := roles[0]
	role.Permissions = dedupeStrings(permissions)
	if role.Permissions == nil {
		role.Permissions = []string{}
	}
	role.UpdatedAt = d.now().UTC()
	if err := d.store.UpsertRole(ctx, role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// AssignRoles replaces the role ids held by a user.
func (d *Directory) AssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return d.store.SetUserRoles(ctx, userID, dedupeStrings(roleIDs))
}

// GuardAdminRole returns ErrAdminGrant when a non-admin actor would grant the
// admin role or change the roles of a user who holds it. userID is empty for a
// user that does not exist yet.
func (d *Directory) GuardAdminRole(ctx context.Context, actor RoleSet, userID string, roleIDs []string) error {
	if actor.Trusted() && actor.IsAdmin() {
		return nil
	}
	if ids := dedupeStrings(roleIDs); len(ids) > 0 {
		roles, err := d.store.GetRolesByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("load roles: %w", err)
		}
		if roleSetFromRoles(roles).IsAdmin() {
			return ErrAdminGrant
		}
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	user, err := d.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if len(user.RoleIDs) == 0 {
		return nil
	}
	held, err := d.store.GetRolesByIDs(ctx, user.RoleIDs)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	if roleSetFromRoles(held).IsAdmin() {
		return ErrAdminGrant
	}
	return nil
}

// Deactivate soft-deletes a user; reporting edges that reference them stay intact.
func (d *Directory) Deactivate(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return d.store.SetUserActive(ctx, userID, false)
}

// GetUser returns a user by id.
func (d *Directory) GetUser(ctx context.Context, userID string) (User, error) {
	return d.store.GetUser(ctx, strings.TrimSpace(userID))
}
