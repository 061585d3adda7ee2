// Package adaptertest is the behavioral contract every easyauth Adapter must
// satisfy. Store packages run it from their own tests:
//
//	func TestContract(t *testing.T) {
//	    adaptertest.Run(t, func(t *testing.T, clock *clockwork.FakeClock) easyauth.Adapter {
//	        return memory.NewWithClock(clock)
//	    })
//	}
package adaptertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ea "github.com/panyam/easyauth"
)

// Factory returns a fresh, empty Adapter whose notion of "now" is clock.
type Factory func(t *testing.T, clock *clockwork.FakeClock) ea.Adapter

// Epoch is the time the suite's fake clocks start at.
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Run executes the whole contract against adapters built by newAdapter.
func Run(t *testing.T, newAdapter Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock)
	}{
		{"CreateAndGetUser", testCreateAndGetUser},
		{"EmailIsCaseInsensitive", testEmailCaseInsensitive},
		{"DuplicateEmailConflicts", testDuplicateEmail},
		{"UsersWithoutEmail", testUsersWithoutEmail},
		{"UpdateUser", testUpdateUser},
		{"UpdateUnknownUser", testUpdateUnknownUser},
		{"UpdateUserEmailConflict", testUpdateUserEmailConflict},
		{"ReturnedCopiesAreIndependent", testCopies},
		{"LinkAccountUpserts", testLinkAccountUpsert},
		{"LinkAccountConflict", testLinkAccountConflict},
		{"LinkAccountUnknownUser", testLinkAccountUnknownUser},
		{"PasswordHashOnlyForCredentials", testPasswordHashOnlyForCredentials},
		{"SessionLifecycle", testSessionLifecycle},
		{"SessionMustExpireInFuture", testSessionFutureExpiry},
		{"TokenSingleUse", testTokenSingleUse},
		{"ExpiredTokenIsConsumed", testExpiredTokenConsumed},
		{"TokenScopedByIdentifier", testTokenIdentifier},
		{"ConcurrentRedemption", testConcurrentRedemption},
		{"AppendAudit", testAppendAudit},
		{"OptionalCapabilities", testOptionalCapabilities},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(Epoch)
			tc.fn(t, newAdapter(t, clock), clock)
		})
	}
}

func testCreateAndGetUser(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	created, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UpdatedAt.IsZero())

	got, err := a.GetUser(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "Ada", got.Name)

	missing, err := a.GetUser(ctx, "no-such-user")
	require.NoError(t, err)
	assert.Nil(t, missing)

	withID, err := a.CreateUser(ctx, ea.User{ID: "fixed-id", Email: "fixed@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", withID.ID)
}

func testEmailCaseInsensitive(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	created, err := a.CreateUser(ctx, ea.User{Email: "Ada@Example.com"})
	require.NoError(t, err)

	got, err := a.GetUserByEmail(ctx, "ada@example.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)

	missing, err := a.GetUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testDuplicateEmail(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	_, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = a.CreateUser(ctx, ea.User{Email: "ADA@example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ea.ErrConflict)
}

func testUsersWithoutEmail(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	first, err := a.CreateUser(ctx, ea.User{Name: "first"})
	require.NoError(t, err)
	second, err := a.CreateUser(ctx, ea.User{Name: "second"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := a.GetUserByEmail(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testUpdateUser(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	created, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	verified := clock.Now()
	newEmail := "lovelace@example.com"
	updated, err := a.UpdateUser(ctx, created.ID, ea.UserPatch{Email: &newEmail, EmailVerified: &verified})
	require.NoError(t, err)
	assert.Equal(t, newEmail, updated.Email)
	assert.Equal(t, "Ada", updated.Name)
	require.NotNil(t, updated.EmailVerified)
	assert.True(t, updated.EmailVerified.Equal(verified))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	old, err := a.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Nil(t, old, "old email must no longer resolve")

	byNew, err := a.GetUserByEmail(ctx, newEmail)
	require.NoError(t, err)
	require.NotNil(t, byNew)
	assert.Equal(t, created.ID, byNew.ID)

	// the freed address can be taken by someone else
	_, err = a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)

	cleared, err := a.UpdateUser(ctx, created.ID, ea.UserPatch{ClearEmailVerified: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.EmailVerified)
	reread, err := a.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, reread.EmailVerified)
}

func testUpdateUnknownUser(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	name := "x"
	_, err := a.UpdateUser(context.Background(), "no-such-user", ea.UserPatch{Name: &name})
	require.Error(t, err)
	assert.ErrorIs(t, err, ea.ErrNotFound)
}

func testUpdateUserEmailConflict(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	_, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)
	bob, err := a.CreateUser(ctx, ea.User{Email: "bob@example.com"})
	require.NoError(t, err)

	taken := "Ada@example.com"
	_, err = a.UpdateUser(ctx, bob.ID, ea.UserPatch{Email: &taken})
	require.Error(t, err)
	assert.ErrorIs(t, err, ea.ErrConflict)

	got, err := a.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", got.Email)
}

func testCopies(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	created, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)
	created.Name = "mutated"

	got, err := a.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	got.Name = "mutated again"

	again, err := a.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Name)

	verifiedAt := clock.Now().Truncate(time.Second)
	input := ea.User{Email: "bob@example.com", EmailVerified: &verifiedAt}
	bob, err := a.CreateUser(ctx, input)
	require.NoError(t, err)
	*input.EmailVerified = verifiedAt.Add(time.Hour)
	*bob.EmailVerified = verifiedAt.Add(2 * time.Hour)

	got, err = a.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EmailVerified)
	assert.True(t, got.EmailVerified.Equal(verifiedAt), "stored EmailVerified changed through a caller pointer")
	*got.EmailVerified = verifiedAt.Add(3 * time.Hour)

	byEmail, err := a.GetUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, byEmail.EmailVerified.Equal(verifiedAt))
}

func testLinkAccountUpsert(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	user, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)

	first, err := a.LinkAccount(ctx, ea.Account{UserID: user.ID, Provider: "github", ProviderAccountID: "42", AccessToken: "one"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := a.LinkAccount(ctx, ea.Account{UserID: user.ID, Provider: "github", ProviderAccountID: "42", AccessToken: "two", Scope: "read:user"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "upsert keeps the account id")

	got, err := a.GetAccountByProvider(ctx, "github", "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.UserID)
	assert.Equal(t, "two", got.AccessToken)
	assert.Equal(t, "read:user", got.Scope)

	missing, err := a.GetAccountByProvider(ctx, "google", "42")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testLinkAccountConflict(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	ada, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)
	bob, err := a.CreateUser(ctx, ea.User{Email: "bob@example.com"})
	require.NoError(t, err)

	_, err = a.LinkAccount(ctx, ea.Account{UserID: ada.ID, Provider: "github", ProviderAccountID: "42", AccessToken: "ada"})
	require.NoError(t, err)
	_, err = a.LinkAccount(ctx, ea.Account{UserID: bob.ID, Provider: "github", ProviderAccountID: "42", AccessToken: "bob"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ea.ErrConflict)

	got, err := a.GetAccountByProvider(ctx, "github", "42")
	require.NoError(t, err)
	assert.Equal(t, ada.ID, got.UserID)
	assert.Equal(t, "ada", got.AccessToken)
}

func testLinkAccountUnknownUser(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	_, err := a.LinkAccount(ctx, ea.Account{UserID: "ghost", Provider: "github", ProviderAccountID: "42"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ea.ErrNotFound)

	_, err = a.LinkAccount(ctx, ea.Account{Provider: "github", ProviderAccountID: "42"})
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)

	got, err := a.GetAccountByProvider(ctx, "github", "42")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testPasswordHashOnlyForCredentials(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	user, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)

	_, err = a.LinkAccount(ctx, ea.Account{UserID: user.ID, Provider: "github", ProviderAccountID: "42", PasswordHash: "salt:key"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ea.ErrInvalidArgument)
	got, err := a.GetAccountByProvider(ctx, "github", "42")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = a.LinkAccount(ctx, ea.Account{
		UserID: user.ID, Provider: ea.CredentialsProvider, ProviderAccountID: "ada@example.com", PasswordHash: "salt:key",
	})
	require.NoError(t, err)
}

func testSessionLifecycle(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	user, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)

	expires := clock.Now().Add(time.Hour)
	session, err := a.CreateSession(ctx, user.ID, expires)
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	assert.Equal(t, user.ID, session.UserID)
	assert.True(t, session.ExpiresAt.Equal(expires))

	other, err := a.CreateSession(ctx, user.ID, expires)
	require.NoError(t, err)
	assert.NotEqual(t, session.ID, other.ID)

	got, err := a.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.UserID)
	assert.True(t, got.ExpiresAt.Equal(expires))

	require.NoError(t, a.DeleteSession(ctx, session.ID))
	require.NoError(t, a.DeleteSession(ctx, session.ID), "delete is idempotent")
	require.NoError(t, a.DeleteSession(ctx, "never-existed"))

	gone, err := a.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := a.GetSession(ctx, other.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func testSessionFutureExpiry(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	for _, expires := range []time.Time{clock.Now(), clock.Now().Add(-time.Second)} {
		_, err := a.CreateSession(ctx, "user", expires)
		require.Error(t, err)
		assert.ErrorIs(t, err, ea.ErrInvalidArgument)
	}
}

func testTokenSingleUse(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	created, err := a.CreateVerificationToken(ctx, ea.VerificationToken{
		Identifier: "verify-email:ada@example.com",
		Token:      "secret",
		ExpiresAt:  clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	used, err := a.UseVerificationToken(ctx, "verify-email:ada@example.com", "secret")
	require.NoError(t, err)
	require.NotNil(t, used)
	assert.Equal(t, "secret", used.Token)
	assert.Equal(t, "verify-email:ada@example.com", used.Identifier)

	again, err := a.UseVerificationToken(ctx, "verify-email:ada@example.com", "secret")
	require.NoError(t, err)
	assert.Nil(t, again)

	unknown, err := a.UseVerificationToken(ctx, "verify-email:ada@example.com", "wrong")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func testExpiredTokenConsumed(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	_, err := a.CreateVerificationToken(ctx, ea.VerificationToken{
		Identifier: "reset-password:ada@example.com",
		Token:      "secret",
		ExpiresAt:  clock.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	used, err := a.UseVerificationToken(ctx, "reset-password:ada@example.com", "secret")
	require.NoError(t, err)
	assert.Nil(t, used, "expired token must not redeem")

	// rewinding is impossible, but a second attempt must still find nothing
	again, err := a.UseVerificationToken(ctx, "reset-password:ada@example.com", "secret")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func testTokenIdentifier(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	_, err := a.CreateVerificationToken(ctx, ea.VerificationToken{
		Identifier: "verify-email:ada@example.com",
		Token:      "secret",
		ExpiresAt:  clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	wrong, err := a.UseVerificationToken(ctx, "reset-password:ada@example.com", "secret")
	require.NoError(t, err)
	assert.Nil(t, wrong)

	right, err := a.UseVerificationToken(ctx, "verify-email:ada@example.com", "secret")
	require.NoError(t, err)
	assert.NotNil(t, right, "a lookup under another identifier must not consume the token")
}

func testConcurrentRedemption(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	_, err := a.CreateVerificationToken(ctx, ea.VerificationToken{
		Identifier: "verify-email:race@example.com",
		Token:      "contested",
		ExpiresAt:  clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			used, err := a.UseVerificationToken(ctx, "verify-email:race@example.com", "contested")
			if err != nil {
				errs <- err
				return
			}
			if used != nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), wins.Load(), "exactly one redemption must win")
}

func testAppendAudit(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := a.AppendAudit(ctx, ea.AuditEvent{
			Type:      ea.AuditLogin,
			UserID:    fmt.Sprintf("user-%d", i),
			IP:        "127.0.0.1",
			Meta:      map[string]any{"attempt": i},
			CreatedAt: clock.Now(),
		})
		require.NoError(t, err)
	}
}

func testOptionalCapabilities(t *testing.T, a ea.Adapter, clock *clockwork.FakeClock) {
	ctx := context.Background()
	user, err := a.CreateUser(ctx, ea.User{Email: "ada@example.com"})
	require.NoError(t, err)

	if ext, ok := a.(ea.SessionExtender); ok {
		session, err := a.CreateSession(ctx, user.ID, clock.Now().Add(time.Minute))
		require.NoError(t, err)
		later := clock.Now().Add(time.Hour)
		extended, err := ext.ExtendSession(ctx, session.ID, later)
		require.NoError(t, err)
		assert.True(t, extended.ExpiresAt.Equal(later))

		got, err := a.GetSession(ctx, session.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.ExpiresAt.Equal(later))

		_, err = ext.ExtendSession(ctx, "never-existed", later)
		assert.ErrorIs(t, err, ea.ErrNotFound)
	}

	if reaper, ok := a.(ea.SessionReaper); ok {
		short, err := a.CreateSession(ctx, user.ID, clock.Now().Add(time.Minute))
		require.NoError(t, err)
		long, err := a.CreateSession(ctx, user.ID, clock.Now().Add(48*time.Hour))
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		n, err := reaper.DeleteExpiredSessions(ctx, clock.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		gone, err := a.GetSession(ctx, short.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
		kept, err := a.GetSession(ctx, long.ID)
		require.NoError(t, err)
		assert.NotNil(t, kept)
	}

	if tx, ok := a.(ea.Transactor); ok {
		boom := fmt.Errorf("boom")
		err := tx.WithTx(ctx, func(ctx context.Context, inner ea.Adapter) error {
			if _, err := inner.CreateUser(ctx, ea.User{Email: "rolled-back@example.com"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		got, err := a.GetUserByEmail(ctx, "rolled-back@example.com")
		require.NoError(t, err)
		assert.Nil(t, got, "failed transaction must not leave the user behind")
	}
}
