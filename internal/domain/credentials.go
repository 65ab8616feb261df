package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

const (
	minSecretLength = 12
	maxSecretLength = 128
	maxNameLength   = 100
)

var weakSecretFragments = []string{"password", "qwerty", "123456", "letmein", "welcome"}

// ValidateSecret enforces the account password policy.
func ValidateSecret(secret string) error {
	switch {
	case len(secret) < minSecretLength:
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minSecretLength)
	case len(secret) > maxSecretLength:
		return fmt.Errorf("%w: password must be <= %d characters", ErrInvalidInput, maxSecretLength)
	}

	var classes int
	var upper, lower, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	for _, ok := range []bool{upper, lower, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 4 {
		return fmt.Errorf("%w: password must include upper, lower, digit and symbol", ErrInvalidInput)
	}

	lowered := strings.ToLower(secret)
	for _, weak := range weakSecretFragments {
		if strings.Contains(lowered, weak) {
			return fmt.Errorf("%w: password includes weak pattern", ErrInvalidInput)
		}
	}
	return nil
}

// NormalizeEmail lowercases and validates an address used as the account username.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return trimmed, nil
}

func normalizeName(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > maxNameLength {
		return "", fmt.Errorf("%w: %s must be <= %d characters", ErrInvalidInput, field, maxNameLength)
	}
	return trimmed, nil
}
