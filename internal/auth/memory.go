package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"slotwise.org/internal/ids"
)

// InMemory implements DirectoryStore and TokenStore with in-process
// concurrency safety. It backs tests and runs the server without a
// database when no DSN is configured.
type InMemory struct {
	mu sync.Mutex

	users       map[string]User
	roles       map[string]Role
	perms       map[string]Permission
	userRoles   map[string]map[string]struct{}
	rolePerms   map[string]map[string]struct{}
	invitations map[string]Invitation

	refresh map[string]RefreshToken
	oneTime map[string]OneTimeToken
}

// NewInMemory creates an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{
		users:       map[string]User{},
		roles:       map[string]Role{},
		perms:       map[string]Permission{},
		userRoles:   map[string]map[string]struct{}{},
		rolePerms:   map[string]map[string]struct{}{},
		invitations: map[string]Invitation{},
		refresh:     map[string]RefreshToken{},
		oneTime:     map[string]OneTimeToken{},
	}
}

func (m *InMemory) CreateUser(_ context.Context, nu NewUser) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == nu.Email {
			return User{}, fmt.Errorf("%w: email taken", ErrConflict)
		}
	}
	now := time.Now().UTC()
	u := User{
		ID:              ids.New(),
		Email:           nu.Email,
		PasswordHash:    nu.PasswordHash,
		FirstName:       nu.FirstName,
		LastName:        nu.LastName,
		AccountStatus:   nu.AccountStatus,
		IsEmailVerified: nu.IsEmailVerified,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *InMemory) GetUser(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *InMemory) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *InMemory) ListUsers(_ context.Context, f UserFilter) ([]User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []User
	for _, u := range m.users {
		if f.AccountStatus != "" && u.AccountStatus != f.AccountStatus {
			continue
		}
		if f.Search != "" && !userMatchesSearch(u, f.Search) {
			continue
		}
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := int64(len(all))
	return pageOf(all, f.Page, f.PageSize), total, nil
}

// userMatchesSearch mirrors the ilike match of the Postgres store: email,
// first name or last name, case insensitive.
func userMatchesSearch(u User, search string) bool {
	s := strings.ToLower(search)
	return strings.Contains(strings.ToLower(u.Email), s) ||
		strings.Contains(strings.ToLower(u.FirstName), s) ||
		strings.Contains(strings.ToLower(u.LastName), s)
}

func (m *InMemory) UpdateUser(_ context.Context, id string, upd UserUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.AccountStatus != nil {
		u.AccountStatus = *upd.AccountStatus
	}
	if upd.IsMFAEnabled != nil {
		u.IsMFAEnabled = *upd.IsMFAEnabled
	}
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return u, nil
}

func (m *InMemory) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.userRoles, id)
	return nil
}

func (m *InMemory) SetUserPassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

func (m *InMemory) MarkEmailVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsEmailVerified = true
	if u.AccountStatus == StatusPending {
		u.AccountStatus = StatusActive
	}
	m.users[id] = u
	return nil
}

func (m *InMemory) AssignRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = map[string]struct{}{}
	}
	m.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (m *InMemory) RemoveRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userRoles[userID], roleID)
	return nil
}

func (m *InMemory) UserRoles(_ context.Context, userID string) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Role
	for roleID := range m.userRoles[userID] {
		out = append(out, m.roles[roleID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) UserPermissions(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for roleID := range m.userRoles[userID] {
		for c := range m.rolePerms[roleID] {
			set[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (m *InMemory) CreateRole(_ context.Context, nr NewRole) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Codename == nr.Codename {
			return Role{}, fmt.Errorf("%w: codename taken", ErrConflict)
		}
	}
	now := time.Now().UTC()
	r := Role{
		ID:          ids.New(),
		Name:        nr.Name,
		Codename:    nr.Codename,
		Category:    nr.Category,
		Description: nr.Description,
		Parent:      nr.Parent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.roles[r.ID] = r
	return r, nil
}

func (m *InMemory) GetRole(_ context.Context, id string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *InMemory) ListRoles(_ context.Context, f RoleFilter) ([]Role, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Role
	for _, r := range m.roles {
		if f.Search != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := int64(len(all))
	return pageOf(all, f.Page, f.PageSize), total, nil
}

func (m *InMemory) UpdateRole(_ context.Context, id string, upd RoleUpdate) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Category != nil {
		r.Category = *upd.Category
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Parent != nil {
		r.Parent = *upd.Parent
	}
	r.UpdatedAt = time.Now().UTC()
	m.roles[id] = r
	return r, nil
}

func (m *InMemory) DeleteRole(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	delete(m.rolePerms, id)
	for _, assigned := range m.userRoles {
		delete(assigned, id)
	}
	return nil
}

func (m *InMemory) SetRolePermissions(_ context.Context, roleID string, codenames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	set := map[string]struct{}{}
	for _, c := range codenames {
		set[c] = struct{}{}
	}
	m.rolePerms[roleID] = set
	return nil
}

func (m *InMemory) RolePermissions(_ context.Context, roleID string) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for c := range m.rolePerms[roleID] {
		out = append(out, m.perms[c])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Codename < out[j].Codename })
	return out, nil
}

func (m *InMemory) EnsurePermissions(_ context.Context, perms []Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if _, ok := m.perms[p.Codename]; ok {
			continue
		}
		p.ID = ids.New()
		p.CreatedAt = time.Now().UTC()
		m.perms[p.Codename] = p
	}
	return nil
}

func (m *InMemory) ListPermissions(_ context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Codename < out[j].Codename })
	return out, nil
}

func (m *InMemory) CreateInvitation(_ context.Context, inv *Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	m.invitations[inv.ID] = *inv
	return nil
}

func (m *InMemory) GetInvitation(_ context.Context, id string) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (m *InMemory) FindInvitationByTokenHash(_ context.Context, hash string) (Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invitations {
		if inv.TokenHash == hash {
			return inv, nil
		}
	}
	return Invitation{}, ErrNotFound
}

func (m *InMemory) ListInvitations(_ context.Context, f InvitationFilter) ([]Invitation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Invitation
	for _, inv := range m.invitations {
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(inv.InvitedEmail, strings.ToLower(f.Search)) {
			continue
		}
		all = append(all, inv)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := int64(len(all))
	return pageOf(all, f.Page, f.PageSize), total, nil
}

func (m *InMemory) UpdateInvitationStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	inv.UpdatedAt = time.Now().UTC()
	m.invitations[id] = inv
	return nil
}

func (m *InMemory) DeleteInvitation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invitations[id]; !ok {
		return ErrNotFound
	}
	delete(m.invitations, id)
	return nil
}

func (m *InMemory) ExpireOverdueInvitations(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, inv := range m.invitations {
		if inv.Status == InvitationPending && now.After(inv.ExpiresAt) {
			inv.Status = InvitationExpired
			m.invitations[id] = inv
			n++
		}
	}
	return n, nil
}

func (m *InMemory) CreateRefreshToken(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok.CreatedAt = time.Now().UTC()
	m.refresh[tok.ID] = *tok
	return nil
}

func (m *InMemory) FindRefreshToken(_ context.Context, id string) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	return tok, nil
}

func (m *InMemory) RevokeRefreshToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.refresh[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	m.refresh[id] = tok
	return nil
}

func (m *InMemory) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.refresh {
		if tok.UserID == userID {
			tok.Revoked = true
			m.refresh[id] = tok
		}
	}
	return nil
}

func (m *InMemory) CreateOneTimeToken(_ context.Context, tok *OneTimeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok.CreatedAt = time.Now().UTC()
	m.oneTime[tok.ID] = *tok
	return nil
}

func (m *InMemory) FindOneTimeToken(_ context.Context, id string) (OneTimeToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.oneTime[id]
	if !ok {
		return OneTimeToken{}, ErrNotFound
	}
	return tok, nil
}

func (m *InMemory) ConsumeOneTimeToken(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.oneTime[id]
	if !ok {
		return ErrNotFound
	}
	tok.ConsumedAt = &at
	m.oneTime[id] = tok
	return nil
}

func pageOf[T any](all []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = len(all)
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

var (
	_ DirectoryStore = (*InMemory)(nil)
	_ TokenStore     = (*InMemory)(nil)
)
