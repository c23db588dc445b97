package utils

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MinPasswordLen = 6

// HasLetter reports whether s contains a letter.
func HasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

// HasNumber reports whether s contains a decimal digit.
func HasNumber(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// PasswordProblem returns a user-facing reason pw is unacceptable, or "".
func PasswordProblem(pw string) string {
	switch {
	case utf8.RuneCountInString(pw) < MinPasswordLen:
		return "Password must be at least 6 characters"
	case !HasLetter(pw) || !HasNumber(pw):
		return "Password must contain at least one letter and one number"
	}
	return ""
}

// NormalizeEmail lowercases and trims addr and reports whether it parses as
// a bare address.
func NormalizeEmail(addr string) (string, bool) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return addr, false
	}
	return addr, true
}
