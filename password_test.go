package easyauth_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ea "github.com/panyam/easyauth"
)

func TestHashPasswordFormat(t *testing.T) {
	hash, err := ea.HashPassword("correct horse")
	require.NoError(t, err)

	salt, key, ok := strings.Cut(hash, ":")
	require.True(t, ok, "hash must be salt:key")
	assert.Len(t, salt, 32)
	assert.Len(t, key, 128)
	_, err = hex.DecodeString(salt)
	assert.NoError(t, err)
	_, err = hex.DecodeString(key)
	assert.NoError(t, err)
}

func TestHashPasswordUsesFreshSalt(t *testing.T) {
	a, err := ea.HashPassword("same password")
	require.NoError(t, err)
	b, err := ea.HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, ea.VerifyPassword("same password", a))
	assert.True(t, ea.VerifyPassword("same password", b))
}

func TestVerifyPassword(t *testing.T) {
	hash, err := ea.HashPassword("correct horse")
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
	}{
		{"matching", "correct horse", hash, true},
		{"wrong password", "battery staple", hash, false},
		{"empty password", "", hash, false},
		{"no separator", "correct horse", strings.ReplaceAll(hash, ":", ""), false},
		{"empty hash", "correct horse", "", false},
		{"key not hex", "correct horse", strings.Split(hash, ":")[0] + ":zz", false},
		{"short key", "correct horse", strings.Split(hash, ":")[0] + ":abcd", false},
		{"empty salt", "correct horse", ":" + strings.Split(hash, ":")[1], false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ea.VerifyPassword(tc.password, tc.hash))
		})
	}
}

func TestVerifyPasswordRejectsTamperedKey(t *testing.T) {
	hash, err := ea.HashPassword("interop")
	require.NoError(t, err)
	salt := strings.Split(hash, ":")[0]
	tampered := salt + ":" + strings.Repeat("00", 64)
	assert.False(t, ea.VerifyPassword("interop", tampered))
	assert.True(t, ea.VerifyPassword("interop", hash))
}

func TestLegacyBcryptHashes(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("old password"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, ea.VerifyPassword("old password", string(legacy)))
	assert.False(t, ea.VerifyPassword("new password", string(legacy)))
	assert.True(t, ea.NeedsRehash(string(legacy)))

	current, err := ea.HashPassword("old password")
	require.NoError(t, err)
	assert.False(t, ea.NeedsRehash(current))
}
