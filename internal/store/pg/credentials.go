package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"worknest.io/internal/auth"
)

const userColumns = `id, username, email, full_name, password_hash, role_ids, reporting_user_id, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		user     auth.User
		email    sql.NullString
		fullName sql.NullString
		manager  sql.NullString
		rawRoles []byte
	)
	if err := row.Scan(&user.ID, &user.Username, &email, &fullName, &user.PasswordHash, &rawRoles,
		&manager, &user.Active, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	roles, err := decodeList(rawRoles)
	if err != nil {
		return auth.User{}, err
	}
	user.Email = email.String
	user.FullName = fullName.String
	user.ReportingUserID = manager.String
	user.RoleIDs = roles
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return user, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where lower(username) = lower($1)
	`, strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return user, err
}

func (s *Store) CreateUser(ctx context.Context, user auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	roles, err := encodeList(user.RoleIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, username, email, full_name, password_hash, role_ids, reporting_user_id, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, user.ID, user.Username, nullIfEmpty(user.Email), nullIfEmpty(user.FullName), user.PasswordHash, roles,
		nullIfEmpty(user.ReportingUserID), user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: username %s", auth.ErrConflict, user.Username)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: reporting user %s", auth.ErrNotFound, user.ReportingUserID)
			}
		}
		return err
	}
	return nil
}

func (s *Store) SetUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	roles, err := encodeList(roleIDs)
	if err != nil {
		return err
	}
	return s.updateUser(ctx, `update users set role_ids = $2, updated_at = now() where id = $1`, userID, roles)
}

func (s *Store) SetUserActive(ctx context.Context, userID string, active bool) error {
	return s.updateUser(ctx, `update users set is_active = $2, updated_at = now() where id = $1`, userID, active)
}

func (s *Store) updateUser(ctx context.Context, query, userID string, value any) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, userID, value)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

const roleColumns = `id, name, description, permissions, created_at, updated_at`

func scanRole(row rowScanner) (auth.Role, error) {
	var (
		role    auth.Role
		desc    sql.NullString
		rawPerm []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &desc, &rawPerm, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return auth.Role{}, err
	}
	perms, err := decodeList(rawPerm)
	if err != nil {
		return auth.Role{}, err
	}
	role.Description = desc.String
	role.Permissions = perms
	return role, nil
}

func (s *Store) queryRoles(ctx context.Context, query string, args ...any) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []auth.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRolesByIDs returns the roles that exist among ids.
func (s *Store) GetRolesByIDs(ctx context.Context, ids []string) ([]auth.Role, error) {
	if len(ids) == 0 {
		return []auth.Role{}, nil
	}
	return s.queryRoles(ctx, `
		select `+roleColumns+`
		from roles
		where id in (`+placeholders(1, len(ids))+`)
		order by id
	`, stringArgs(ids)...)
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errNoDB
	}
	role, err := scanRole(s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where name = $1
	`, strings.ToLower(strings.TrimSpace(name))))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	return role, err
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	return s.queryRoles(ctx, `
		select `+roleColumns+`
		from roles
		order by id
	`)
}

// NextRoleID draws from role_id_seq and formats it as Ro-NNN.
func (s *Store) NextRoleID(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", errNoDB
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `select nextval('role_id_seq')`).Scan(&n); err != nil {
		return "", err
	}
	return fmt.Sprintf("Ro-%03d", n), nil
}

func (s *Store) UpsertRole(ctx context.Context, role auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	perms, err := encodeList(role.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (id, name, description, permissions, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (id) do update
		set name = excluded.name,
		    description = excluded.description,
		    permissions = excluded.permissions,
		    updated_at = excluded.updated_at
	`, role.ID, strings.ToLower(strings.TrimSpace(role.Name)), nullIfEmpty(role.Description), perms, role.CreatedAt, role.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: role name %s", auth.ErrConflict, role.Name)
	}
	return err
}

func (s *Store) GetPermissionsByCodes(ctx context.Context, codes []string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	if len(codes) == 0 {
		return []auth.Permission{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select code, name, resource, actions, description, created_at
		from permissions
		where code in (`+placeholders(1, len(codes))+`)
		order by code
	`, stringArgs(codes)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []auth.Permission{}
	for rows.Next() {
		var (
			p          auth.Permission
			name, desc sql.NullString
			rawActions []byte
		)
		if err := rows.Scan(&p.Code, &name, &p.Resource, &rawActions, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Actions, err = decodeList(rawActions); err != nil {
			return nil, err
		}
		p.Name = name.String
		p.Description = desc.String
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) UpsertPermission(ctx context.Context, perm auth.Permission) error {
	if s.db == nil {
		return errNoDB
	}
	actions, err := encodeList(perm.Actions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into permissions (code, name, resource, actions, description, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (code) do update
		set name = excluded.name,
		    resource = excluded.resource,
		    actions = excluded.actions,
		    description = excluded.description
	`, perm.Code, nullIfEmpty(perm.Name), perm.Resource, actions, nullIfEmpty(perm.Description), perm.CreatedAt)
	return err
}

// hierarchyLockKey identifies the transaction-scoped advisory lock every
// hierarchy mutation takes before reading the edge set.
const hierarchyLockKey int64 = 0x776e6869

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) GetAllHierarchyEdges(ctx context.Context) ([]auth.HierarchyEdge, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	return queryEdges(ctx, s.db)
}

func queryEdges(ctx context.Context, q queryer) ([]auth.HierarchyEdge, error) {
	rows, err := q.QueryContext(ctx, `
		select user_id, reporting_user_id, level, updated_at
		from hierarchy_edges
		order by user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges := []auth.HierarchyEdge{}
	for rows.Next() {
		var (
			e       auth.HierarchyEdge
			manager sql.NullString
		)
		if err := rows.Scan(&e.UserID, &manager, &e.Level, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.ManagerID = manager.String
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return edges, nil
}

// UpsertHierarchyEdges writes every edge and mirrors the manager onto users in one transaction.
func (s *Store) UpsertHierarchyEdges(ctx context.Context, edges ...auth.HierarchyEdge) error {
	if s.db == nil {
		return errNoDB
	}
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertEdges(ctx, tx, edges); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateHierarchy takes the hierarchy advisory lock, then reads, plans and writes
// inside one transaction. Concurrent mutations from any replica queue on the lock.
func (s *Store) UpdateHierarchy(ctx context.Context, plan auth.HierarchyPlan) error {
	if s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, hierarchyLockKey); err != nil {
		return fmt.Errorf("lock hierarchy: %w", err)
	}
	current, err := queryEdges(ctx, tx)
	if err != nil {
		return err
	}
	edges, err := plan(current)
	if err != nil {
		return err
	}
	if err := upsertEdges(ctx, tx, edges); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertEdges(ctx context.Context, tx *sql.Tx, edges []auth.HierarchyEdge) error {
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, `
			insert into hierarchy_edges (user_id, reporting_user_id, level, updated_at)
			values ($1, $2, $3, $4)
			on conflict (user_id) do update
			set reporting_user_id = excluded.reporting_user_id,
			    level = excluded.level,
			    updated_at = excluded.updated_at
		`, e.UserID, nullIfEmpty(e.ManagerID), e.Level, e.UpdatedAt); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: hierarchy edge %s", auth.ErrNotFound, e.UserID)
			}
			return err
		}
		res, err := tx.ExecContext(ctx, `
			update users set reporting_user_id = $2, updated_at = now() where id = $1
		`, e.UserID, nullIfEmpty(e.ManagerID))
		if err != nil {
			return err
		}
		if aff, err := res.RowsAffected(); err != nil {
			return err
		} else if aff == 0 {
			return fmt.Errorf("%w: user %s", auth.ErrNotFound, e.UserID)
		}
	}
	return nil
}
