package auth

import "time"

// Account statuses. Suspended and disabled accounts can never authenticate;
// pending accounts are waiting on email verification.
const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusSuspended = "suspended"
	StatusDisabled  = "disabled"
)

// Invitation statuses. Accepted, declined and expired are terminal.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

// One-time token purposes.
const (
	PurposeEmailVerify   = "email_verify"
	PurposePasswordReset = "password_reset"
)

// User is an account in the directory. PasswordHash never crosses the API
// boundary.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	FirstName       string    `json:"first_name,omitempty"`
	LastName        string    `json:"last_name,omitempty"`
	AccountStatus   string    `json:"account_status"`
	IsEmailVerified bool      `json:"is_email_verified"`
	IsMFAEnabled    bool      `json:"is_mfa_enabled"`
	Roles           []Role    `json:"roles,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Role groups permissions under a stable codename. Parent is an optional
// role id used for client-side grouping; it is stored verbatim and only
// self-references are rejected.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Codename    string    `json:"codename"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Parent      string    `json:"parent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission is a fine-grained capability identified by codename.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Codename    string    `json:"codename"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Invitation is a short-lived offer to join the platform with a given role.
// TokenHash holds the sha256 of the invite secret; the raw token is only
// ever returned once, at creation time.
type Invitation struct {
	ID           string    `json:"id"`
	InvitedEmail string    `json:"invited_email"`
	RoleID       string    `json:"role_id"`
	Message      string    `json:"message,omitempty"`
	Status       string    `json:"status"`
	TokenHash    string    `json:"-"`
	InvitedBy    string    `json:"invited_by,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RefreshToken is the persisted half of an opaque "id.secret" refresh token.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// OneTimeToken backs email verification and password reset links.
type OneTimeToken struct {
	ID         string
	UserID     string
	Purpose    string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// NewUser carries the fields needed to insert a user.
type NewUser struct {
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	AccountStatus   string
	IsEmailVerified bool
}

// UserUpdate applies a partial update; nil fields are left untouched.
type UserUpdate struct {
	Email         *string
	FirstName     *string
	LastName      *string
	AccountStatus *string
	IsMFAEnabled  *bool
}

// NewRole carries the fields needed to insert a role.
type NewRole struct {
	Name        string
	Codename    string
	Category    string
	Description string
	Parent      string
}

// RoleUpdate applies a partial update; nil fields are left untouched.
type RoleUpdate struct {
	Name        *string
	Category    *string
	Description *string
	Parent      *string
}
