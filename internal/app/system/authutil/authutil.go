// Package authutil holds password hashing and the validation rules applied
// to new passwords and email addresses.
package authutil

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the minimum number of characters in a password.
const MinPasswordLength = 8

// MaxUsernameLength is the maximum number of characters in a username.
const MaxUsernameLength = 150

// BcryptCost for password hashes.
const BcryptCost = 10

// Validation errors. The messages are returned to API clients as-is.
var (
	ErrPasswordTooShort = errors.New("This password is too short. It must contain at least 8 characters.")
	ErrPasswordNumeric  = errors.New("This password is entirely numeric.")
	ErrPasswordCommon   = errors.New("This password is too common.")
	ErrPasswordSimilar  = errors.New("The password is too similar to the username or email.")
	ErrPasswordMismatch = errors.New("The two password fields didn't match.")

	ErrUsernameInvalid = errors.New("Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	ErrUsernameTooLong = errors.New("Ensure this field has no more than 150 characters.")
)

// commonPasswords is a short deny-list of the most frequently leaked passwords.
var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "12345678": {}, "123456789": {}, "1234567890": {},
	"qwertyuiop": {}, "qwerty123": {}, "iloveyou": {}, "11111111": {}, "00000000": {},
	"abc12345": {}, "letmein1": {}, "sunshine": {}, "princess": {}, "football": {},
	"baseball": {}, "welcome1": {}, "admin123": {}, "passw0rd": {}, "trustno1": {},
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether password matches hash.
// An empty hash never matches.
func CheckPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword returns every rule violation for password. The username
// and email are used for the similarity check and may be empty.
func ValidatePassword(password, username, email string) []error {
	var errs []error

	if len([]rune(password)) < MinPasswordLength {
		errs = append(errs, ErrPasswordTooShort)
	}
	if password != "" && isAllDigits(password) {
		errs = append(errs, ErrPasswordNumeric)
	}
	if _, common := commonPasswords[strings.ToLower(password)]; common {
		errs = append(errs, ErrPasswordCommon)
	}
	if tooSimilar(password, username, email) {
		errs = append(errs, ErrPasswordSimilar)
	}
	return errs
}

// ValidatePasswordPair checks that the two entries match and then applies
// ValidatePassword.
func ValidatePasswordPair(password1, password2, username, email string) []error {
	if password1 != password2 {
		return []error{ErrPasswordMismatch}
	}
	return ValidatePassword(password1, username, email)
}

// IsValidEmail performs a structural check: one @, non-empty local part,
// a dotted domain without leading or trailing dots.
func IsValidEmail(email string) bool {
	if strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.Count(email, "@")
	if at != 1 {
		return false
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return true
}

// ValidateUsername checks length and the allowed character set: letters,
// digits and @ . + - _. The empty string is left to required-field checks.
func ValidateUsername(username string) error {
	if len([]rune(username)) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("@.+-_", r) {
			continue
		}
		return ErrUsernameInvalid
	}
	return nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// tooSimilar flags passwords that contain the username or the email's local
// part (or are contained by them), ignoring case. Attributes shorter than
// three characters are skipped.
func tooSimilar(password, username, email string) bool {
	p := strings.ToLower(password)
	if p == "" {
		return false
	}
	local, _, _ := strings.Cut(email, "@")
	for _, attr := range []string{username, local} {
		a := strings.ToLower(strings.TrimSpace(attr))
		if len(a) < 3 {
			continue
		}
		if strings.Contains(p, a) || strings.Contains(a, p) {
			return true
		}
	}
	return false
}
