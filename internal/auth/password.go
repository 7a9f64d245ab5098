package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with the stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Strength bands. Thresholds: weak <= 1, medium <= 3, strong > 3.
const (
	BandWeak   = "weak"
	BandMedium = "medium"
	BandStrong = "strong"
)

// Strength is password-strength feedback: a score plus the requirements the
// password is still missing.
type Strength struct {
	Score    int      `json:"score"`
	Feedback []string `json:"feedback"`
}

// MinRegistrationScore is the lowest score accepted when setting a password.
const MinRegistrationScore = 3

// PasswordStrength scores a password by the character classes it contains.
// Each satisfied requirement adds one point, so adding a required class can
// never lower the score.
func PasswordStrength(password string) Strength {
	var (
		hasUpper, hasLower, hasDigit, hasSpecial bool
	)
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	s := Strength{Feedback: []string{}}
	checks := []struct {
		ok      bool
		missing string
	}{
		{len(password) >= 8, "use at least 8 characters"},
		{hasLower, "add a lowercase letter"},
		{hasUpper, "add an uppercase letter"},
		{hasDigit, "add a number"},
		{hasSpecial, "add a symbol"},
	}
	for _, c := range checks {
		if c.ok {
			s.Score++
		} else {
			s.Feedback = append(s.Feedback, c.missing)
		}
	}
	// Length bonus; no feedback line, long passphrases are optional.
	if len(password) >= 12 {
		s.Score++
	}
	return s
}

// Band maps a score onto the label rendered by strength meters.
func (s Strength) Band() string {
	switch {
	case s.Score <= 1:
		return BandWeak
	case s.Score <= 3:
		return BandMedium
	default:
		return BandStrong
	}
}
