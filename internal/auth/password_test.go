package auth

import "testing"

func TestPasswordStrengthScores(t *testing.T) {
	cases := []struct {
		password string
		score    int
		band     string
	}{
		{"", 0, BandWeak},
		{"abc", 1, BandWeak},
		{"abcdefgh", 2, BandMedium},
		{"Abcdefgh", 3, BandMedium},
		{"Abcdefg1", 4, BandStrong},
		{"Abcdef1!", 5, BandStrong},
		{"Abcdefgh1234!", 6, BandStrong},
		{"UPPERONLY", 2, BandMedium},
		{"12345678", 2, BandMedium},
		{"!!!", 1, BandWeak},
	}
	for _, c := range cases {
		got := PasswordStrength(c.password)
		if got.Score != c.score {
			t.Errorf("%q: score = %d, want %d", c.password, got.Score, c.score)
		}
		if got.Band() != c.band {
			t.Errorf("%q: band = %q, want %q", c.password, got.Band(), c.band)
		}
	}
}

func TestPasswordStrengthFeedback(t *testing.T) {
	got := PasswordStrength("abc")
	want := []string{
		"use at least 8 characters",
		"add an uppercase letter",
		"add a number",
		"add a symbol",
	}
	if len(got.Feedback) != len(want) {
		t.Fatalf("feedback = %v, want %v", got.Feedback, want)
	}
	for i := range want {
		if got.Feedback[i] != want[i] {
			t.Errorf("feedback[%d] = %q, want %q", i, got.Feedback[i], want[i])
		}
	}

	// A fully satisfying password has no feedback but keeps the empty slice.
	full := PasswordStrength("Abcdef1!")
	if full.Feedback == nil || len(full.Feedback) != 0 {
		t.Fatalf("expected empty non-nil feedback, got %#v", full.Feedback)
	}
}

func TestAddingClassNeverLowersScore(t *testing.T) {
	base := PasswordStrength("abcdefgh").Score
	for _, stronger := range []string{"Abcdefgh", "abcdefgh1", "abcdefgh!"} {
		if s := PasswordStrength(stronger).Score; s < base {
			t.Errorf("%q: score %d dropped below base %d", stronger, s, base)
		}
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sup3r-secret!")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "Sup3r-secret!" {
		t.Fatal("hash must not equal the plaintext")
	}
	if err := VerifyPassword(hash, "Sup3r-secret!"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}
