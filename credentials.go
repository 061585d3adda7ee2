package easyauth

import (
	"fmt"
	"regexp"
	"strings"
)

// StrictEmailPattern requires a dotted domain. It allows any non-space local
// part so addresses like o'brien@example.com pass.
var StrictEmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)

// SignupPolicy validates the email and password given to Register and the new
// password given to ResetPassword and ChangePassword.
//
// The zero value only rejects an empty password and an email that is not of
// the form local@domain. Hosts that want more opt in with StrictSignupPolicy
// or their own values.
type SignupPolicy struct {
	// No minimum when zero
	MinPasswordLength int

	// Checked in addition to the local@domain shape when set
	EmailPattern *regexp.Regexp
}

// StrictSignupPolicy is a preset requiring 8 character passwords and a
// dotted email domain.
func StrictSignupPolicy() SignupPolicy {
	return SignupPolicy{MinPasswordLength: 8, EmailPattern: StrictEmailPattern}
}

// ValidateEmail returns a KindInvalidArgument error for a malformed email.
func (p SignupPolicy) ValidateEmail(email string) error {
	if email == "" {
		return NewError(KindInvalidArgument, "ValidateEmail", "email required", nil)
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.ContainsAny(email, " \t\r\n") || strings.Contains(domain, "@") {
		return NewError(KindInvalidArgument, "ValidateEmail", "invalid email format", nil)
	}
	if p.EmailPattern != nil && !p.EmailPattern.MatchString(email) {
		return NewError(KindInvalidArgument, "ValidateEmail", "invalid email format", nil)
	}
	return nil
}

// ValidatePassword returns a KindInvalidArgument error for an empty or too
// short password.
func (p SignupPolicy) ValidatePassword(password string) error {
	if password == "" {
		return NewError(KindInvalidArgument, "ValidatePassword", "password required", nil)
	}
	if p.MinPasswordLength > 0 && len(password) < p.MinPasswordLength {
		return NewError(KindInvalidArgument, "ValidatePassword",
			fmt.Sprintf("password must be at least %d characters", p.MinPasswordLength), nil)
	}
	return nil
}
