package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotwise.org/internal/auth"
	"slotwise.org/internal/ids"
)

const userColumns = `id, email, password_hash, first_name, last_name, account_status, is_email_verified, is_mfa_enabled, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.AccountStatus, &u.IsEmailVerified, &u.IsMFAEnabled, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, first_name, last_name, account_status, is_email_verified)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+userColumns+`
	`, ids.New(), nu.Email, nu.PasswordHash, nu.FirstName, nu.LastName, nu.AccountStatus, nu.IsEmailVerified)
	user, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users where email = $1
	`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, f auth.UserFilter) ([]auth.User, int64, error) {
	if s.db == nil {
		return nil, 0, errors.New("database connection unavailable")
	}
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.Search != "" {
		where = append(where, fmt.Sprintf("(email ilike $%d or first_name ilike $%d or last_name ilike $%d)", idx, idx, idx))
		args = append(args, searchPattern(f.Search))
		idx++
	}
	if f.AccountStatus != "" {
		where = append(where, fmt.Sprintf("account_status = $%d", idx))
		args = append(args, f.AccountStatus)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := limitOffset(f.Page, f.PageSize)
	query := fmt.Sprintf(`select %s from users%s order by email limit $%d offset $%d`, userColumns, clause, idx, idx+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.FirstName != nil {
		sets = append(sets, fmt.Sprintf("first_name = $%d", idx))
		args = append(args, *upd.FirstName)
		idx++
	}
	if upd.LastName != nil {
		sets = append(sets, fmt.Sprintf("last_name = $%d", idx))
		args = append(args, *upd.LastName)
		idx++
	}
	if upd.AccountStatus != nil {
		sets = append(sets, fmt.Sprintf("account_status = $%d", idx))
		args = append(args, *upd.AccountStatus)
		idx++
	}
	if upd.IsMFAEnabled != nil {
		sets = append(sets, fmt.Sprintf("is_mfa_enabled = $%d", idx))
		args = append(args, *upd.IsMFAEnabled)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return auth.User{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
			}
			return auth.User{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.User{}, err
		}
		if aff == 0 {
			return auth.User{}, auth.ErrNotFound
		}
	}
	return s.GetUser(ctx, id)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
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

func (s *Store) SetUserPassword(ctx context.Context, id, passwordHash string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now() where id = $1
	`, id, passwordHash)
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

func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set is_email_verified = true,
		    account_status = case when account_status = $2 then $3 else account_status end,
		    updated_at = now()
		where id = $1
	`, id, auth.StatusPending, auth.StatusActive)
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

func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) RemoveRole(ctx context.Context, userID, roleID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles where user_id = $1 and role_id = $2
	`, userID, roleID)
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

func (s *Store) UserRoles(ctx context.Context, userID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.codename, r.category, r.description, r.parent_id, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (s *Store) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.codename
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var codename string
		if err := rows.Scan(&codename); err != nil {
			return nil, err
		}
		perms = append(perms, codename)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// --- roles ---

func scanRole(row interface{ Scan(...any) error }) (auth.Role, error) {
	var (
		role           auth.Role
		category, desc sql.NullString
		parent         sql.NullString
	)
	err := row.Scan(&role.ID, &role.Name, &role.Codename, &category, &desc, &parent, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, err
	}
	if category.Valid {
		role.Category = category.String
	}
	if desc.Valid {
		role.Description = desc.String
	}
	if parent.Valid {
		role.Parent = parent.String
	}
	return role, nil
}

func collectRoles(rows *sql.Rows) ([]auth.Role, error) {
	var roles []auth.Role
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

func (s *Store) CreateRole(ctx context.Context, nr auth.NewRole) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, codename, category, description, parent_id)
		values ($1, $2, $3, $4, $5, $6)
		returning id, name, codename, category, description, parent_id, created_at, updated_at
	`, ids.New(), nr.Name, nr.Codename, nullIfEmpty(nr.Category), nullIfEmpty(nr.Description), nullIfEmpty(nr.Parent))
	role, err := scanRole(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.Role{}, fmt.Errorf("%w: codename already in use", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return auth.Role{}, auth.ErrNotFound
			}
		}
		return auth.Role{}, err
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errors.New("database connection unavailable")
	}
	role, err := scanRole(s.db.QueryRowContext(ctx, `
		select id, name, codename, category, description, parent_id, created_at, updated_at
		from roles
		where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, f auth.RoleFilter) ([]auth.Role, int64, error) {
	if s.db == nil {
		return nil, 0, errors.New("database connection unavailable")
	}
	var (
		clause string
		args   []any
		idx    = 1
	)
	if f.Search != "" {
		clause = fmt.Sprintf(" where (name ilike $%d or codename ilike $%d)", idx, idx)
		args = append(args, searchPattern(f.Search))
		idx++
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from roles`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := limitOffset(f.Page, f.PageSize)
	query := fmt.Sprintf(`
		select id, name, codename, category, description, parent_id, created_at, updated_at
		from roles%s
		order by name limit $%d offset $%d
	`, clause, idx, idx+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	roles, err := collectRoles(rows)
	if err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errors.New("database connection unavailable")
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Category != nil {
		sets = append(sets, fmt.Sprintf("category = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Category))
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if upd.Parent != nil {
		sets = append(sets, fmt.Sprintf("parent_id = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Parent))
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, id)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok {
				switch pgErr.Code {
				case pgErrUniqueViolation:
					return auth.Role{}, fmt.Errorf("%w: codename already in use", auth.ErrConflict)
				case pgErrForeignKeyViolation:
					return auth.Role{}, auth.ErrNotFound
				}
			}
			return auth.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return auth.Role{}, err
		}
		if aff == 0 {
			return auth.Role{}, auth.ErrNotFound
		}
	}
	return s.GetRole(ctx, id)
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
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

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, codenames []string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, codename := range codenames {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where codename = $1`, codename).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s not found", auth.ErrNotFound, codename)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.codename, p.category, p.description, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.codename
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// --- permissions ---

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	var perms []auth.Permission
	for rows.Next() {
		var (
			p              auth.Permission
			category, desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Codename, &category, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		if category.Valid {
			p.Category = category.String
		}
		if desc.Valid {
			p.Description = desc.String
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, name, codename, category, description)
			values ($1, $2, $3, $4, $5)
			on conflict (codename) do update
			set name = excluded.name, category = excluded.category, description = excluded.description
		`, ids.New(), p.Name, p.Codename, nullIfEmpty(p.Category), nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, codename, category, description, created_at
		from permissions
		order by codename
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// --- invitations ---

const invitationColumns = `id, invited_email, role_id, message, status, token_hash, invited_by, expires_at, created_at, updated_at`

func scanInvitation(row interface{ Scan(...any) error }) (auth.Invitation, error) {
	var (
		inv                auth.Invitation
		message, invitedBy sql.NullString
	)
	err := row.Scan(&inv.ID, &inv.InvitedEmail, &inv.RoleID, &message, &inv.Status,
		&inv.TokenHash, &invitedBy, &inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return auth.Invitation{}, err
	}
	if message.Valid {
		inv.Message = message.String
	}
	if invitedBy.Valid {
		inv.InvitedBy = invitedBy.String
	}
	return inv, nil
}

func (s *Store) CreateInvitation(ctx context.Context, inv *auth.Invitation) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into invitations (id, invited_email, role_id, message, status, token_hash, invited_by, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning created_at, updated_at
	`, inv.ID, inv.InvitedEmail, inv.RoleID, nullIfEmpty(inv.Message), inv.Status,
		inv.TokenHash, nullIfEmpty(inv.InvitedBy), inv.ExpiresAt)
	if err := row.Scan(&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: invitation already exists", auth.ErrConflict)
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, id string) (auth.Invitation, error) {
	if s.db == nil {
		return auth.Invitation{}, errors.New("database connection unavailable")
	}
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, `
		select `+invitationColumns+` from invitations where id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Invitation{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Invitation{}, err
	}
	return inv, nil
}

func (s *Store) FindInvitationByTokenHash(ctx context.Context, tokenHash string) (auth.Invitation, error) {
	if s.db == nil {
		return auth.Invitation{}, errors.New("database connection unavailable")
	}
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, `
		select `+invitationColumns+` from invitations where token_hash = $1
	`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Invitation{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Invitation{}, err
	}
	return inv, nil
}

func (s *Store) ListInvitations(ctx context.Context, f auth.InvitationFilter) ([]auth.Invitation, int64, error) {
	if s.db == nil {
		return nil, 0, errors.New("database connection unavailable")
	}
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.Search != "" {
		where = append(where, fmt.Sprintf("invited_email ilike $%d", idx))
		args = append(args, searchPattern(f.Search))
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " where " + strings.Join(where, " and ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `select count(*) from invitations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := limitOffset(f.Page, f.PageSize)
	query := fmt.Sprintf(`select %s from invitations%s order by created_at desc limit $%d offset $%d`,
		invitationColumns, clause, idx, idx+1)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var invs []auth.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, 0, err
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return invs, total, nil
}

func (s *Store) UpdateInvitationStatus(ctx context.Context, id, status string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update invitations set status = $2, updated_at = now() where id = $1
	`, id, status)
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

func (s *Store) DeleteInvitation(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from invitations where id = $1`, id)
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

func (s *Store) ExpireOverdueInvitations(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update invitations
		set status = $1, updated_at = now()
		where status = $2 and expires_at < $3
	`, auth.InvitationExpired, auth.InvitationPending, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
