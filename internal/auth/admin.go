package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
	maxMessageLen     = 1000

	// DefaultPageSize applies when a listing omits page_size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size on every listing.
	MaxPageSize = 100

	defaultInvitationTTL = 7 * 24 * time.Hour
)

var codenameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{1,63}$`)

// ChangeEvent describes a directory mutation, published to stream listeners.
type ChangeEvent struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	ID       string `json:"id"`
}

// Directory wraps the store with input validation, pagination clamping and
// the invitation lifecycle. All admin handlers go through it.
type Directory struct {
	store         DirectoryStore
	mailer        Mailer
	now           func() time.Time
	invitationTTL time.Duration
	onChange      func(ChangeEvent)
}

// DirectoryOption configures Directory behavior.
type DirectoryOption func(*Directory)

// WithInvitationTTL configures invitation lifetime.
func WithInvitationTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) {
		if ttl > 0 {
			d.invitationTTL = ttl
		}
	}
}

// WithDirectoryMailer replaces the outbound mailer.
func WithDirectoryMailer(m Mailer) DirectoryOption {
	return func(d *Directory) {
		if m != nil {
			d.mailer = m
		}
	}
}

// WithDirectoryClock overrides the time source.
func WithDirectoryClock(fn func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if fn != nil {
			d.now = fn
		}
	}
}

// WithChangeListener registers a callback invoked after every successful
// mutation. The callback must not block.
func WithChangeListener(fn func(ChangeEvent)) DirectoryOption {
	return func(d *Directory) { d.onChange = fn }
}

// NewDirectory constructs the directory service.
func NewDirectory(store DirectoryStore, opts ...DirectoryOption) (*Directory, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	d := &Directory{
		store:         store,
		mailer:        NopMailer{},
		now:           time.Now,
		invitationTTL: defaultInvitationTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Directory) changed(resource, action, id string) {
	if d.onChange != nil {
		d.onChange(ChangeEvent{Resource: resource, Action: action, ID: id})
	}
}

// --- users ---

// CreateUserInput carries the admin user-creation payload.
type CreateUserInput struct {
	Email         string
	Password      string
	FirstName     string
	LastName      string
	AccountStatus string
	RoleIDs       []string
}

// CreateUser creates an account from the admin surface. Unlike self-service
// registration the account lands in the requested status directly.
func (d *Directory) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := checkPasswordStrength(in.Password); err != nil {
		return User{}, err
	}
	status := in.AccountStatus
	if status == "" {
		status = StatusActive
	}
	if !validAccountStatus(status) {
		return User{}, fmt.Errorf("%w: unknown account_status %q", ErrInvalidInput, status)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	user, err := d.store.CreateUser(ctx, NewUser{
		Email:         email,
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		AccountStatus: status,
	})
	if err != nil {
		return User{}, err
	}
	for _, roleID := range in.RoleIDs {
		if err := d.store.AssignRole(ctx, user.ID, strings.TrimSpace(roleID)); err != nil {
			return User{}, err
		}
	}
	user, err = d.GetUser(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	d.changed("users", "created", user.ID)
	return user, nil
}

// GetUser loads a user with their roles attached.
func (d *Directory) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, err := d.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	roles, err := d.store.UserRoles(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.Roles = roles
	return user, nil
}

// ListUsers returns a page of users with roles attached plus the total count.
func (d *Directory) ListUsers(ctx context.Context, f UserFilter) ([]User, int64, error) {
	f.Page, f.PageSize = clampPaging(f.Page, f.PageSize)
	if f.AccountStatus != "" && !validAccountStatus(f.AccountStatus) {
		return nil, 0, fmt.Errorf("%w: unknown account_status %q", ErrInvalidInput, f.AccountStatus)
	}
	users, total, err := d.store.ListUsers(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	for i := range users {
		roles, err := d.store.UserRoles(ctx, users[i].ID)
		if err != nil {
			return nil, 0, err
		}
		users[i].Roles = roles
	}
	return users, total, nil
}

// UpdateUser applies a partial update.
func (d *Directory) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.AccountStatus != nil && !validAccountStatus(*upd.AccountStatus) {
		return User{}, fmt.Errorf("%w: unknown account_status %q", ErrInvalidInput, *upd.AccountStatus)
	}
	user, err := d.store.UpdateUser(ctx, id, upd)
	if err != nil {
		return User{}, err
	}
	roles, err := d.store.UserRoles(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.Roles = roles
	d.changed("users", "updated", id)
	return user, nil
}

// DeleteUser removes the account.
func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := d.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	d.changed("users", "deleted", id)
	return nil
}

// AssignRole attaches a role to a user. Assigning an already held role is
// a no-op success.
func (d *Directory) AssignRole(ctx context.Context, userID, roleID string) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if _, err := d.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := d.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	d.changed("users", "updated", userID)
	return nil
}

// RemoveRole detaches a role from a user.
func (d *Directory) RemoveRole(ctx context.Context, userID, roleID string) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user id and role id are required", ErrInvalidInput)
	}
	if err := d.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	d.changed("users", "updated", userID)
	return nil
}

// --- roles ---

// CreateRole validates and inserts a role.
func (d *Directory) CreateRole(ctx context.Context, nr NewRole) (Role, error) {
	nr.Name = strings.TrimSpace(nr.Name)
	nr.Codename = strings.TrimSpace(nr.Codename)
	nr.Category = strings.TrimSpace(nr.Category)
	nr.Description = strings.TrimSpace(nr.Description)
	nr.Parent = strings.TrimSpace(nr.Parent)
	if nr.Name == "" || len(nr.Name) > maxNameLen {
		return Role{}, fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidInput, maxNameLen)
	}
	if !codenameRe.MatchString(nr.Codename) {
		return Role{}, fmt.Errorf("%w: codename must match %s", ErrInvalidInput, codenameRe.String())
	}
	if len(nr.Description) > maxDescriptionLen {
		return Role{}, fmt.Errorf("%w: description must be at most %d characters", ErrInvalidInput, maxDescriptionLen)
	}
	if nr.Parent != "" {
		if _, err := d.store.GetRole(ctx, nr.Parent); err != nil {
			return Role{}, err
		}
	}
	role, err := d.store.CreateRole(ctx, nr)
	if err != nil {
		return Role{}, err
	}
	d.changed("roles", "created", role.ID)
	return role, nil
}

// GetRole loads a single role.
func (d *Directory) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return d.store.GetRole(ctx, id)
}

// ListRoles returns a page of roles plus the total count.
func (d *Directory) ListRoles(ctx context.Context, f RoleFilter) ([]Role, int64, error) {
	f.Page, f.PageSize = clampPaging(f.Page, f.PageSize)
	return d.store.ListRoles(ctx, f)
}

// UpdateRole applies a partial update. A role can never be its own parent.
func (d *Directory) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || len(name) > maxNameLen {
			return Role{}, fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidInput, maxNameLen)
		}
		upd.Name = &name
	}
	if upd.Description != nil && len(*upd.Description) > maxDescriptionLen {
		return Role{}, fmt.Errorf("%w: description must be at most %d characters", ErrInvalidInput, maxDescriptionLen)
	}
	if upd.Parent != nil {
		parent := strings.TrimSpace(*upd.Parent)
		if parent == id {
			return Role{}, fmt.Errorf("%w: role cannot be its own parent", ErrInvalidInput)
		}
		if parent != "" {
			if _, err := d.store.GetRole(ctx, parent); err != nil {
				return Role{}, err
			}
		}
		upd.Parent = &parent
	}
	role, err := d.store.UpdateRole(ctx, id, upd)
	if err != nil {
		return Role{}, err
	}
	d.changed("roles", "updated", id)
	return role, nil
}

// DeleteRole removes the role and its assignments.
func (d *Directory) DeleteRole(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if err := d.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	d.changed("roles", "deleted", id)
	return nil
}

// SetRolePermissions replaces the role's permission set. Every codename must
// exist in the catalog.
func (d *Directory) SetRolePermissions(ctx context.Context, roleID string, codenames []string) ([]Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if _, err := d.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	catalog, err := d.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(catalog))
	for _, p := range catalog {
		known[p.Codename] = struct{}{}
	}
	cleaned := make([]string, 0, len(codenames))
	seen := make(map[string]struct{}, len(codenames))
	for _, c := range codenames {
		c = strings.TrimSpace(c)
		if _, ok := known[c]; !ok {
			return nil, fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, c)
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		cleaned = append(cleaned, c)
	}
	if err := d.store.SetRolePermissions(ctx, roleID, cleaned); err != nil {
		return nil, err
	}
	d.changed("roles", "updated", roleID)
	return d.store.RolePermissions(ctx, roleID)
}

// RolePermissions returns the permissions attached to a role.
func (d *Directory) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if _, err := d.store.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return d.store.RolePermissions(ctx, roleID)
}

// ListPermissions returns the full catalog. The catalog is small and fixed,
// so there is no pagination here.
func (d *Directory) ListPermissions(ctx context.Context) ([]Permission, error) {
	return d.store.ListPermissions(ctx)
}

// --- invitations ---

// CreateInvitation issues an invitation and mails the raw token to the
// invitee. The raw token is also returned so callers can surface it once.
func (d *Directory) CreateInvitation(ctx context.Context, invitedBy, email, roleID, message string) (Invitation, string, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Invitation{}, "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Invitation{}, "", fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if len(message) > maxMessageLen {
		return Invitation{}, "", fmt.Errorf("%w: message must be at most %d characters", ErrInvalidInput, maxMessageLen)
	}
	if _, err := d.store.GetRole(ctx, roleID); err != nil {
		return Invitation{}, "", err
	}
	if _, err := d.store.FindUserByEmail(ctx, email); err == nil {
		return Invitation{}, "", fmt.Errorf("%w: email already has an account", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Invitation{}, "", err
	}

	tokenID, secret, hash, err := newOpaque()
	if err != nil {
		return Invitation{}, "", err
	}
	inv := Invitation{
		ID:           tokenID,
		InvitedEmail: email,
		RoleID:       roleID,
		Message:      strings.TrimSpace(message),
		Status:       InvitationPending,
		TokenHash:    hash,
		InvitedBy:    strings.TrimSpace(invitedBy),
		ExpiresAt:    d.now().Add(d.invitationTTL),
	}
	if err := d.store.CreateInvitation(ctx, &inv); err != nil {
		return Invitation{}, "", err
	}
	raw := tokenID + "." + secret
	if err := d.mailer.Send(ctx, email, mailInviteTemplate, map[string]string{"token": raw}); err != nil {
		return Invitation{}, "", err
	}
	d.changed("invitations", "created", inv.ID)
	return inv, raw, nil
}

// GetInvitation loads a single invitation.
func (d *Directory) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Invitation{}, fmt.Errorf("%w: invitation id is required", ErrInvalidInput)
	}
	return d.store.GetInvitation(ctx, id)
}

// ListInvitations returns a page of invitations plus the total count.
func (d *Directory) ListInvitations(ctx context.Context, f InvitationFilter) ([]Invitation, int64, error) {
	f.Page, f.PageSize = clampPaging(f.Page, f.PageSize)
	if f.Status != "" && !validInvitationStatus(f.Status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	// Flip overdue pending rows before reading so listings never show a
	// pending invitation that can no longer be redeemed.
	if _, err := d.store.ExpireOverdueInvitations(ctx, d.now().UTC()); err != nil {
		return nil, 0, err
	}
	return d.store.ListInvitations(ctx, f)
}

// DeleteInvitation revokes an invitation.
func (d *Directory) DeleteInvitation(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: invitation id is required", ErrInvalidInput)
	}
	if err := d.store.DeleteInvitation(ctx, id); err != nil {
		return err
	}
	d.changed("invitations", "deleted", id)
	return nil
}

// AcceptInvitation redeems an invitation token: creates an active, verified
// account with the invited role and marks the invitation accepted.
func (d *Directory) AcceptInvitation(ctx context.Context, token, password, firstName, lastName string) (User, error) {
	if err := checkPasswordStrength(password); err != nil {
		return User{}, err
	}
	inv, err := d.redeemable(ctx, token)
	if err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user, err := d.store.CreateUser(ctx, NewUser{
		Email:           inv.InvitedEmail,
		PasswordHash:    hash,
		FirstName:       strings.TrimSpace(firstName),
		LastName:        strings.TrimSpace(lastName),
		AccountStatus:   StatusActive,
		IsEmailVerified: true,
	})
	if err != nil {
		return User{}, err
	}
	if err := d.store.AssignRole(ctx, user.ID, inv.RoleID); err != nil {
		return User{}, err
	}
	if err := d.store.UpdateInvitationStatus(ctx, inv.ID, InvitationAccepted); err != nil {
		return User{}, err
	}
	user, err = d.GetUser(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	d.changed("invitations", "updated", inv.ID)
	d.changed("users", "created", user.ID)
	return user, nil
}

// DeclineInvitation marks a pending invitation declined.
func (d *Directory) DeclineInvitation(ctx context.Context, token string) error {
	inv, err := d.redeemable(ctx, token)
	if err != nil {
		return err
	}
	if err := d.store.UpdateInvitationStatus(ctx, inv.ID, InvitationDeclined); err != nil {
		return err
	}
	d.changed("invitations", "updated", inv.ID)
	return nil
}

// ExpireOverdueInvitations flips pending invitations past their deadline to
// expired. Intended to run periodically.
func (d *Directory) ExpireOverdueInvitations(ctx context.Context) (int64, error) {
	n, err := d.store.ExpireOverdueInvitations(ctx, d.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.changed("invitations", "expired", "")
	}
	return n, nil
}

func (d *Directory) redeemable(ctx context.Context, token string) (Invitation, error) {
	_, secret, err := splitOpaque(token)
	if err != nil {
		return Invitation{}, ErrInvalidToken
	}
	sum := sha256.Sum256([]byte(secret))
	inv, err := d.store.FindInvitationByTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Invitation{}, ErrInvalidToken
		}
		return Invitation{}, err
	}
	if inv.Status != InvitationPending || d.now().After(inv.ExpiresAt) {
		return Invitation{}, ErrInvalidToken
	}
	return inv, nil
}

func clampPaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func validAccountStatus(s string) bool {
	switch s {
	case StatusActive, StatusPending, StatusSuspended, StatusDisabled:
		return true
	}
	return false
}

func validInvitationStatus(s string) bool {
	switch s {
	case InvitationPending, InvitationAccepted, InvitationDeclined, InvitationExpired:
		return true
	}
	return false
}
