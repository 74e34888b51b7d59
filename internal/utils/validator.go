package utils

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailRe    = regexp.MustCompile(`^[a-z0-9._+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	nameRe     = regexp.MustCompile(`^[A-Za-zÀ-ÖØ-öø-ÿ]+([ '-][A-Za-zÀ-ÖØ-öø-ÿ]+)*$`)
	passwordRe = regexp.MustCompile(`^[A-Za-z0-9!@#$%^&*()_+\-=\[\]{}|;:,.<>?]+$`)
	upperRe    = regexp.MustCompile(`[A-Z]`)
	lowerRe    = regexp.MustCompile(`[a-z]`)
	digitRe    = regexp.MustCompile(`[0-9]`)
)

// NormalizeEmail lowercases and trims an address before validation or
// lookup. Every email entering the system passes through here first.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks a normalized address. Length 5-100, local part at
// most 64 characters, no leading, trailing or doubled dots.
func ValidateEmail(email string) error {
	if len(email) < 5 || len(email) > 100 {
		return errors.New("email must be between 5 and 100 characters")
	}
	if !emailRe.MatchString(email) {
		return errors.New("invalid email format")
	}
	local := email[:strings.Index(email, "@")]
	if len(local) > 64 {
		return errors.New("invalid email format")
	}
	if strings.HasPrefix(email, ".") || strings.HasSuffix(local, ".") || strings.Contains(email, "..") {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidateName checks a display name. Letters including Latin-1
// accents, single spaces, hyphens or apostrophes between words, 2-100
// characters.
func ValidateName(name string) error {
	if n := utf8.RuneCountInString(name); n < 2 || n > 100 {
		return errors.New("name must be between 2 and 100 characters")
	}
	if strings.Contains(name, "  ") || !nameRe.MatchString(name) {
		return errors.New("name contains invalid characters")
	}
	return nil
}

// ValidatePassword checks length 8-128, the allowed character set and
// the presence of an uppercase letter, a lowercase letter and a digit.
func ValidatePassword(password string) error {
	if len(password) < 8 || len(password) > 128 {
		return errors.New("password must be between 8 and 128 characters")
	}
	if !passwordRe.MatchString(password) {
		return errors.New("password contains invalid characters")
	}
	if !upperRe.MatchString(password) || !lowerRe.MatchString(password) || !digitRe.MatchString(password) {
		return errors.New("password must contain an uppercase letter, a lowercase letter and a digit")
	}
	return nil
}
