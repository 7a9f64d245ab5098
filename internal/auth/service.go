package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotwise.org/internal/ids"
)

const (
	defaultRefreshTTL  = 14 * 24 * time.Hour
	defaultResetTTL    = 1 * time.Hour
	defaultVerifyTTL   = 48 * time.Hour
	opaqueSecretBytes  = 32
	mailVerifyTemplate = "verify_email"
	mailResetTemplate  = "password_reset"
	mailInviteTemplate = "invitation"
)

// Service implements the authentication flows: registration, login, token
// refresh, email verification and password management.
type Service struct {
	dir    DirectoryStore
	tokens TokenStore
	signer *TokenSigner
	mailer Mailer
	now    func() time.Time

	refreshTTL time.Duration
	resetTTL   time.Duration
	verifyTTL  time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithResetTTL configures password reset token lifetime.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithMailer replaces the outbound mailer.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the auth service.
func NewService(dir DirectoryStore, tokens TokenStore, signer *TokenSigner, opts ...ServiceOption) (*Service, error) {
	if dir == nil {
		return nil, errors.New("directory store is required")
	}
	if tokens == nil {
		return nil, errors.New("token store is required")
	}
	if signer == nil {
		return nil, errors.New("token signer is required")
	}
	s := &Service{
		dir:        dir,
		tokens:     tokens,
		signer:     signer,
		mailer:     NopMailer{},
		now:        time.Now,
		refreshTTL: defaultRefreshTTL,
		resetTTL:   defaultResetTTL,
		verifyTTL:  defaultVerifyTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins makes sure the predefined permission catalog exists.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.dir.EnsurePermissions(ctx, BuiltinPermissions)
}

// TokenPair bundles access and refresh tokens with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Register creates a pending account and issues an email verification token.
func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := checkPasswordStrength(password); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	user, err := s.dir.CreateUser(ctx, NewUser{
		Email:         email,
		PasswordHash:  hash,
		FirstName:     strings.TrimSpace(firstName),
		LastName:      strings.TrimSpace(lastName),
		AccountStatus: StatusPending,
	})
	if err != nil {
		return User{}, err
	}
	if err := s.sendVerification(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Login authenticates credentials and issues a fresh token pair. Unknown
// email, wrong password and blocked accounts all collapse into
// ErrUnauthorized so responses don't leak which check failed.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, Principal{}, ErrUnauthorized
	}
	user, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, Principal{}, ErrUnauthorized
	}
	if !canAuthenticate(user) {
		return TokenPair{}, Principal{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, Principal{}, ErrUnauthorized
	}
	principal, err := s.Principal(ctx, user.ID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.mintTokens(ctx, principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// Refresh rotates the refresh token and issues new access credentials.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, Principal, error) {
	tokenID, secret, err := splitOpaque(refreshToken)
	if err != nil {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	record, err := s.tokens.FindRefreshToken(ctx, tokenID)
	if err != nil {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	if record.Revoked {
		// Replay of a rotated token. The bearer once held a valid token, so
		// the chain must be treated as stolen and cut off entirely.
		if secureCompareHash(record.TokenHash, secret) {
			_ = s.tokens.RevokeUserRefreshTokens(ctx, record.UserID)
		}
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	if s.now().After(record.ExpiresAt) {
		return TokenPair{}, Principal{}, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		// Presented secret does not match a live record: assume the chain
		// is compromised and revoke everything for the user.
		_ = s.tokens.RevokeUserRefreshTokens(ctx, record.UserID)
		return TokenPair{}, Principal{}, ErrInvalidToken
	}

	principal, err := s.Principal(ctx, record.UserID)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	if !canAuthenticate(*principal.User) {
		return TokenPair{}, Principal{}, ErrUnauthorized
	}

	if err := s.tokens.RevokeRefreshToken(ctx, record.ID); err != nil {
		return TokenPair{}, Principal{}, err
	}
	pair, err := s.mintTokens(ctx, principal)
	if err != nil {
		return TokenPair{}, Principal{}, err
	}
	return pair, principal, nil
}

// AuthenticateToken validates an access token and loads the principal.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	claims, err := s.signer.ParseAndValidate(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	principal, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if !canAuthenticate(*principal.User) {
		return Principal{}, ErrInvalidToken
	}
	return principal, nil
}

// Principal loads a user with their resolved permissions.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Principal{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	perms, err := s.dir.UserPermissions(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(&user, perms), nil
}

// VerifyEmail consumes a verification token, marks the email verified and
// promotes pending accounts to active.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	record, err := s.consumeOneTimeToken(ctx, token, PurposeEmailVerify)
	if err != nil {
		return err
	}
	return s.dir.MarkEmailVerified(ctx, record.UserID)
}

// ResendVerification reissues the verification mail. Unknown or already
// verified emails return success so the endpoint can't be used to probe
// which addresses have accounts.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	user, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if user.IsEmailVerified {
		return nil
	}
	return s.sendVerification(ctx, user)
}

// RequestPasswordReset issues a reset token. Same non-enumeration policy as
// ResendVerification.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	user, err := s.dir.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	raw, rec, err := s.mintOneTimeToken(user.ID, PurposePasswordReset, s.resetTTL)
	if err != nil {
		return err
	}
	if err := s.tokens.CreateOneTimeToken(ctx, rec); err != nil {
		return err
	}
	return s.mailer.Send(ctx, user.Email, mailResetTemplate, map[string]string{"token": raw})
}

// ConfirmPasswordReset sets a new password from a reset token. An expired or
// consumed token fails with ErrInvalidToken and changes nothing.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := checkPasswordStrength(newPassword); err != nil {
		return err
	}
	record, err := s.consumeOneTimeToken(ctx, token, PurposePasswordReset)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.dir.SetUserPassword(ctx, record.UserID, hash); err != nil {
		return err
	}
	return s.tokens.RevokeUserRefreshTokens(ctx, record.UserID)
}

// ChangePassword verifies the current password and replaces it. All refresh
// tokens are revoked so other sessions must log in again.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := checkPasswordStrength(newPassword); err != nil {
		return err
	}
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.dir.SetUserPassword(ctx, userID, hash); err != nil {
		return err
	}
	return s.tokens.RevokeUserRefreshTokens(ctx, userID)
}

// --- internals ---

func (s *Service) mintTokens(ctx context.Context, principal Principal) (TokenPair, error) {
	accessToken, accessExp, err := s.signer.Generate(principal.User.ID, principal.PermissionList())
	if err != nil {
		return TokenPair{}, err
	}
	raw, rec, err := s.mintRefreshToken(principal.User.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.CreateRefreshToken(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     raw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) mintRefreshToken(userID string) (string, *RefreshToken, error) {
	tokenID, secret, hash, err := newOpaque()
	if err != nil {
		return "", nil, err
	}
	rec := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	return tokenID + "." + secret, rec, nil
}

func (s *Service) mintOneTimeToken(userID, purpose string, ttl time.Duration) (string, *OneTimeToken, error) {
	tokenID, secret, hash, err := newOpaque()
	if err != nil {
		return "", nil, err
	}
	rec := &OneTimeToken{
		ID:        tokenID,
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hash,
		ExpiresAt: s.now().Add(ttl),
	}
	return tokenID + "." + secret, rec, nil
}

func (s *Service) consumeOneTimeToken(ctx context.Context, token, purpose string) (OneTimeToken, error) {
	tokenID, secret, err := splitOpaque(token)
	if err != nil {
		return OneTimeToken{}, ErrInvalidToken
	}
	record, err := s.tokens.FindOneTimeToken(ctx, tokenID)
	if err != nil {
		return OneTimeToken{}, ErrInvalidToken
	}
	if record.Purpose != purpose || record.ConsumedAt != nil || s.now().After(record.ExpiresAt) {
		return OneTimeToken{}, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		return OneTimeToken{}, ErrInvalidToken
	}
	if err := s.tokens.ConsumeOneTimeToken(ctx, record.ID, s.now().UTC()); err != nil {
		return OneTimeToken{}, err
	}
	return record, nil
}

func (s *Service) sendVerification(ctx context.Context, user User) error {
	raw, rec, err := s.mintOneTimeToken(user.ID, PurposeEmailVerify, s.verifyTTL)
	if err != nil {
		return err
	}
	if err := s.tokens.CreateOneTimeToken(ctx, rec); err != nil {
		return err
	}
	return s.mailer.Send(ctx, user.Email, mailVerifyTemplate, map[string]string{"token": raw})
}

func canAuthenticate(user User) bool {
	switch user.AccountStatus {
	case StatusSuspended, StatusDisabled:
		return false
	case StatusActive:
		return true
	case StatusPending:
		return user.IsEmailVerified
	default:
		return false
	}
}

func checkPasswordStrength(password string) error {
	strength := PasswordStrength(password)
	if strength.Score < MinRegistrationScore {
		return fmt.Errorf("%w: password too weak: %s", ErrInvalidInput, strings.Join(strength.Feedback, ", "))
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// newOpaque mints an opaque token: ULID id, random secret, sha256 hash of
// the secret for storage.
func newOpaque() (tokenID, secret, hash string, err error) {
	secretBytes := make([]byte, opaqueSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", "", err
	}
	secret = base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	return ids.New(), secret, hex.EncodeToString(sum[:]), nil
}

func splitOpaque(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
