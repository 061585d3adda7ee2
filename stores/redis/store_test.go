package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ea "github.com/panyam/easyauth"
	"github.com/panyam/easyauth/adaptertest"
	"github.com/panyam/easyauth/stores/redis"
)

func newStore(t *testing.T, clock clockwork.Clock) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := redis.New(rdb, "test")
	store.Clock = clock
	return store, mr
}

func TestContract(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T, clock *clockwork.FakeClock) ea.Adapter {
		store, _ := newStore(t, clock)
		return store
	})
}

func TestKeysUsePrefix(t *testing.T) {
	clock := clockwork.NewFakeClockAt(adaptertest.Epoch)
	store, mr := newStore(t, clock)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, ea.User{Email: "Ada@Example.com"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:user:"+user.ID))
	owner, err := mr.Get("test:email:ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, owner)
}

func TestSessionKeyExpires(t *testing.T) {
	clock := clockwork.NewFakeClockAt(adaptertest.Epoch)
	store, mr := newStore(t, clock)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, "u1", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	ttl := mr.TTL("test:session:" + session.ID)
	assert.Equal(t, time.Hour, ttl)

	mr.FastForward(time.Hour + time.Second)
	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTokenKeyExpires(t *testing.T) {
	clock := clockwork.NewFakeClockAt(adaptertest.Epoch)
	store, mr := newStore(t, clock)
	ctx := context.Background()

	_, err := store.CreateVerificationToken(ctx, ea.VerificationToken{
		Identifier: "verify-email:ada@example.com", Token: "t", ExpiresAt: clock.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	used, err := store.UseVerificationToken(ctx, "verify-email:ada@example.com", "t")
	require.NoError(t, err)
	assert.Nil(t, used)
}

func TestAuditEvents(t *testing.T) {
	clock := clockwork.NewFakeClockAt(adaptertest.Epoch)
	store, _ := newStore(t, clock)
	ctx := context.Background()

	for _, typ := range []string{ea.AuditRegister, ea.AuditLogin, ea.AuditLogout} {
		require.NoError(t, store.AppendAudit(ctx, ea.AuditEvent{Type: typ, UserID: "u1"}))
	}
	events, err := store.AuditEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ea.AuditLogin, events[0].Type)
	assert.Equal(t, ea.AuditLogout, events[1].Type)
}

func TestServerErrorsAreWrapped(t *testing.T) {
	clock := clockwork.NewFakeClockAt(adaptertest.Epoch)
	store, mr := newStore(t, clock)
	mr.SetError("server down")

	_, err := store.GetUser(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis GetUser")
	assert.Equal(t, ea.KindUnknown, ea.KindOf(err))
}
