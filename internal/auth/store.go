package auth

import (
	"context"
	"time"
)

// UserFilter narrows and paginates user listings.
type UserFilter struct {
	Search        string
	AccountStatus string
	Page          int
	PageSize      int
}

// RoleFilter narrows and paginates role listings.
type RoleFilter struct {
	Search   string
	Page     int
	PageSize int
}

// InvitationFilter narrows and paginates invitation listings.
type InvitationFilter struct {
	Search   string
	Status   string
	Page     int
	PageSize int
}

// DirectoryStore persists users, roles, permissions and invitations.
// List methods return the page of items plus the unfiltered-by-page total.
type DirectoryStore interface {
	CreateUser(ctx context.Context, nu NewUser) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, int64, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, id string) error
	SetUserPassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	AssignRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	UserRoles(ctx context.Context, userID string) ([]Role, error)
	UserPermissions(ctx context.Context, userID string) ([]string, error)

	CreateRole(ctx context.Context, nr NewRole) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context, f RoleFilter) ([]Role, int64, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error
	SetRolePermissions(ctx context.Context, roleID string, codenames []string) error
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	EnsurePermissions(ctx context.Context, perms []Permission) error
	ListPermissions(ctx context.Context) ([]Permission, error)

	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id string) (Invitation, error)
	FindInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error)
	ListInvitations(ctx context.Context, f InvitationFilter) ([]Invitation, int64, error)
	UpdateInvitationStatus(ctx context.Context, id, status string) error
	DeleteInvitation(ctx context.Context, id string) error
	ExpireOverdueInvitations(ctx context.Context, now time.Time) (int64, error)
}

// TokenStore persists refresh tokens and one-time tokens.
type TokenStore interface {
	CreateRefreshToken(ctx context.Context, tok *RefreshToken) error
	FindRefreshToken(ctx context.Context, id string) (RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string) error

	CreateOneTimeToken(ctx context.Context, tok *OneTimeToken) error
	FindOneTimeToken(ctx context.Context, id string) (OneTimeToken, error)
	ConsumeOneTimeToken(ctx context.Context, id string, at time.Time) error
}
