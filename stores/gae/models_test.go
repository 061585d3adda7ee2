//go:build !wasm
// +build !wasm

package gae

import (
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ea "github.com/panyam/easyauth"
)

func TestUserEntityVerifiedRoundTrip(t *testing.T) {
	verified := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	key := datastore.NameKey(KindUser, "u1", nil)

	in := &ea.User{ID: "u1", Email: "ada@example.com", EmailVerified: &verified, Name: "Ada"}
	out := UserToEntity(in, key).ToUser()
	require.NotNil(t, out.EmailVerified)
	assert.True(t, verified.Equal(*out.EmailVerified))
	assert.Equal(t, "u1", out.ID)

	unverified := UserToEntity(&ea.User{ID: "u2"}, datastore.NameKey(KindUser, "u2", nil)).ToUser()
	assert.Nil(t, unverified.EmailVerified)
}

func TestAccountEntityRoundTrip(t *testing.T) {
	in := &ea.Account{ID: "a1", UserID: "u1", Provider: "google", ProviderAccountID: "123", RefreshToken: "rt"}
	assert.Equal(t, in, AccountToEntity(in, nil).ToAccount())
}

func TestAuditEventEntityEncodesMeta(t *testing.T) {
	e, err := AuditEventToEntity(&ea.AuditEvent{Type: ea.AuditOAuthLogin, Meta: map[string]any{"provider": "github"}}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"provider":"github"}`, string(e.Meta))

	e, err = AuditEventToEntity(&ea.AuditEvent{Type: ea.AuditLogout}, nil)
	require.NoError(t, err)
	assert.Nil(t, e.Meta)
}

func TestKeysAreNamespaced(t *testing.T) {
	s := New(nil, "tenant-1")
	key := s.emailKey("Ada@Example.com")
	assert.Equal(t, "tenant-1", key.Namespace)
	assert.Equal(t, "ada@example.com", key.Name)
	assert.Equal(t, KindUserEmail, key.Kind)
}

func TestHashedNameSeparatesParts(t *testing.T) {
	assert.NotEqual(t, hashedName("ab", "c"), hashedName("a", "bc"))
	assert.Equal(t, hashedName("google", "1"), hashedName("google", "1"))
	assert.Len(t, hashedName("x"), 64)
}
