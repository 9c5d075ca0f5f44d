package auth

import (
	"strings"

	"github.com/clavis-id/clavis/internal/apperr"
)

const (
	passwordMinLength = 8
	passwordMaxLength = 128
	passwordSpecials  = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// commonSequences are rejected anywhere inside a candidate password,
// case-insensitively.
var commonSequences = []string{"123456", "abcdef", "qwerty", "password", "admin", "user"}

// CheckPasswordPolicy validates a candidate password on every
// password-accepting transition (register, change, reset). Failures are
// Validation-kind errors with a stable code per rule.
func CheckPasswordPolicy(password string) error {
	n := len(password)
	if n < passwordMinLength {
		return apperr.E(apperr.KindValidation, "password_too_short", "password must be at least 8 characters")
	}
	if n > passwordMaxLength {
		return apperr.E(apperr.KindValidation, "password_too_long", "password must be at most 128 characters")
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	switch {
	case !upper:
		return apperr.E(apperr.KindValidation, "password_no_upper", "password must contain an uppercase letter")
	case !lower:
		return apperr.E(apperr.KindValidation, "password_no_lower", "password must contain a lowercase letter")
	case !digit:
		return apperr.E(apperr.KindValidation, "password_no_digit", "password must contain a digit")
	case !special:
		return apperr.E(apperr.KindValidation, "password_no_special", "password must contain a special character")
	}

	lowered := strings.ToLower(password)
	for _, seq := range commonSequences {
		if strings.Contains(lowered, seq) {
			return apperr.E(apperr.KindValidation, "password_common_sequence", "password contains a common sequence")
		}
	}

	run := 1
	for i := 1; i < n; i++ {
		if password[i] == password[i-1] {
			run++
			if run > 2 {
				return apperr.E(apperr.KindValidation, "password_repeated_run", "password contains a repeated character run")
			}
		} else {
			run = 1
		}
	}

	return nil
}
