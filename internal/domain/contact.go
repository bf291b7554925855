package domain

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("phone number must have 10 digits")

// NormalizePhone strips everything but digits and drops a single leading
// country code digit from 11-digit numbers.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch len(digits) {
	case 10:
		return digits, nil
	case 11:
		return digits[1:], nil
	default:
		return "", ErrInvalidPhone
	}
}

func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func IsEmailContact(contact string) bool {
	return strings.Contains(contact, "@")
}
