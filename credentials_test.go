package easyauth_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ea "github.com/panyam/easyauth"
)

func TestSignupPolicyZeroValue(t *testing.T) {
	var policy ea.SignupPolicy

	tests := []struct {
		email string
		ok    bool
	}{
		{"ada@example.com", true},
		{"o'brien@example.com", true},
		{"root@localhost", true},
		{"", false},
		{"ada", false},
		{"@example.com", false},
		{"ada@", false},
		{"a@b@example.com", false},
		{"ada @example.com", false},
	}
	for _, tt := range tests {
		err := policy.ValidateEmail(tt.email)
		if tt.ok {
			assert.NoError(t, err, tt.email)
		} else {
			assert.Equal(t, ea.KindInvalidArgument, ea.KindOf(err), tt.email)
		}
	}

	assert.NoError(t, policy.ValidatePassword("x"))
	assert.Equal(t, ea.KindInvalidArgument, ea.KindOf(policy.ValidatePassword("")))
}

func TestStrictSignupPolicy(t *testing.T) {
	policy := ea.StrictSignupPolicy()
	assert.Equal(t, 8, policy.MinPasswordLength)

	assert.NoError(t, policy.ValidateEmail("o'brien@example.com"))
	assert.NoError(t, policy.ValidateEmail("ada.lovelace+tag@mail.example.co.uk"))
	assert.Error(t, policy.ValidateEmail("root@localhost"))

	assert.NoError(t, policy.ValidatePassword("12345678"))
	assert.Equal(t, ea.KindInvalidArgument, ea.KindOf(policy.ValidatePassword("1234567")))
}

func TestCustomSignupPolicy(t *testing.T) {
	auth, _, _ := newTestAuth(t)
	auth.SignupPolicy = &ea.SignupPolicy{
		MinPasswordLength: 12,
		EmailPattern:      regexp.MustCompile(`@corp\.example$`),
	}
	ctx := context.Background()

	_, err := auth.Register(ctx, "ada@example.com", "long enough password")
	assert.Equal(t, ea.KindInvalidArgument, ea.KindOf(err))

	_, err = auth.Register(ctx, "ada@corp.example", "too short")
	assert.Equal(t, ea.KindInvalidArgument, ea.KindOf(err))

	user, err := auth.Register(ctx, "ada@corp.example", "long enough password")
	require.NoError(t, err)

	// the policy also guards password changes
	err = auth.ChangePassword(ctx, user.ID, "long enough password", "short one")
	assert.Equal(t, ea.KindInvalidArgument, ea.KindOf(err))
}
