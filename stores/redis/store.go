// Package redis is an easyauth Adapter on top of go-redis. Records are JSON
// values under a configurable key prefix:
//
//	<prefix>:user:<id>
//	<prefix>:email:<normalized email>         -> user id
//	<prefix>:account:<provider>:<account id>
//	<prefix>:session:<id>                     expires with the session
//	<prefix>:vtoken:<identifier>:<token>      expires with the token
//	<prefix>:audit                            list of events
//
// Token redemption uses GETDEL, so concurrent redemptions of the same token
// resolve on the server. Read-modify-write operations use WATCH/MULTI.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	ea "github.com/panyam/easyauth"
)

const maxTxRetries = 4

// Store implements easyauth.Adapter on a redis.UniversalClient.
type Store struct {
	redis  redis.UniversalClient
	prefix string

	// Clock decides expiry and stamps records
	Clock clockwork.Clock
}

// New returns a Store using prefix for every key ("ea" when empty).
func New(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ea"
	}
	return &Store{redis: redisClient, prefix: prefix, Clock: clockwork.NewRealClock()}
}

func (s *Store) now() time.Time { return s.Clock.Now() }

func (s *Store) userKey(id string) string { return s.prefix + ":user:" + id }

func (s *Store) emailKey(email string) string {
	return s.prefix + ":email:" + ea.NormalizeEmail(email)
}

func (s *Store) accountKey(provider, providerAccountID string) string {
	return s.prefix + ":account:" + provider + ":" + providerAccountID
}

func (s *Store) sessionKey(id string) string { return s.prefix + ":session:" + id }

func (s *Store) tokenKey(identifier, token string) string {
	return s.prefix + ":vtoken:" + identifier + ":" + token
}

func (s *Store) auditKey() string { return s.prefix + ":audit" }

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w", op, err)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getJSON loads key into v. found is false on redis.Nil.
func getJSON(ctx context.Context, c getter, key string, v any) (found bool, err error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// ttlUntil is the key lifetime for a record expiring at t. Redis rejects
// non-positive expirations, so already expired records get a minimal TTL.
func (s *Store) ttlUntil(t time.Time) time.Duration {
	ttl := t.Sub(s.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return ttl
}

// watch runs fn in an optimistic transaction over keys, retrying when a
// watched key changes underneath.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

func (s *Store) CreateUser(ctx context.Context, user ea.User) (*ea.User, error) {
	if user.ID == "" {
		user.ID = ea.NewID()
	}
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	data, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}

	claimedEmail := false
	if user.Email != "" {
		ok, err := s.redis.SetNX(ctx, s.emailKey(user.Email), user.ID, 0).Result()
		if err != nil {
			return nil, unavailable("CreateUser", err)
		}
		if !ok {
			owner, err := s.redis.Get(ctx, s.emailKey(user.Email)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return nil, unavailable("CreateUser", err)
			}
			if owner != user.ID {
				return nil, ea.NewError(ea.KindConflict, "redis.CreateUser", "email taken", nil)
			}
		}
		claimedEmail = ok
	}

	ok, err := s.redis.SetNX(ctx, s.userKey(user.ID), data, 0).Result()
	if err != nil || !ok {
		if claimedEmail {
			s.redis.Del(ctx, s.emailKey(user.Email))
		}
		if err != nil {
			return nil, unavailable("CreateUser", err)
		}
		return nil, ea.NewError(ea.KindConflict, "redis.CreateUser", "user id taken", nil)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*ea.User, error) {
	var user ea.User
	found, err := getJSON(ctx, s.redis, s.userKey(id), &user)
	if err != nil {
		return nil, unavailable("GetUser", err)
	}
	if !found {
		return nil, nil
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ea.User, error) {
	if email == "" {
		return nil, nil
	}
	id, err := s.redis.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("GetUserByEmail", err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch ea.UserPatch) (*ea.User, error) {
	userKey := s.userKey(id)
	keys := []string{userKey}
	if patch.Email != nil && *patch.Email != "" {
		keys = append(keys, s.emailKey(*patch.Email))
	}

	var updated ea.User
	err := s.watch(ctx, func(tx *redis.Tx) error {
		var current ea.User
		found, err := getJSON(ctx, tx, userKey, &current)
		if err != nil {
			return err
		}
		if !found {
			return ea.NewError(ea.KindNotFound, "redis.UpdateUser", "user not found", nil)
		}
		updated = patch.Apply(current)
		updated.UpdatedAt = s.now()

		oldKey, newKey := ea.NormalizeEmail(current.Email), ea.NormalizeEmail(updated.Email)
		if newKey != oldKey && newKey != "" {
			owner, err := tx.Get(ctx, s.emailKey(newKey)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if owner != "" && owner != id {
				return ea.NewError(ea.KindConflict, "redis.UpdateUser", "email taken", nil)
			}
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey, data, 0)
			if newKey != oldKey {
				if oldKey != "" {
					pipe.Del(ctx, s.emailKey(oldKey))
				}
				if newKey != "" {
					pipe.Set(ctx, s.emailKey(newKey), id, 0)
				}
			}
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		var kindErr *ea.Error
		if errors.As(err, &kindErr) {
			return nil, err
		}
		return nil, unavailable("UpdateUser", err)
	}
	return &updated, nil
}

func (s *Store) LinkAccount(ctx context.Context, account ea.Account) (*ea.Account, error) {
	if err := account.Validate("redis.LinkAccount"); err != nil {
		return nil, err
	}
	key := s.accountKey(account.Provider, account.ProviderAccountID)
	userKey := s.userKey(account.UserID)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, userKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ea.NewError(ea.KindNotFound, "redis.LinkAccount", "user not found", nil)
		}
		var existing ea.Account
		found, err := getJSON(ctx, tx, key, &existing)
		if err != nil {
			return err
		}
		if found {
			if existing.UserID != account.UserID {
				return ea.NewError(ea.KindConflict, "redis.LinkAccount", "account linked to another user", nil)
			}
			account.ID = existing.ID
		}
		if account.ID == "" {
			account.ID = ea.NewID()
		}
		data, err := json.Marshal(account)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key, userKey)
	if err != nil {
		var kindErr *ea.Error
		if errors.As(err, &kindErr) {
			return nil, err
		}
		return nil, unavailable("LinkAccount", err)
	}
	return &account, nil
}

func (s *Store) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*ea.Account, error) {
	var account ea.Account
	found, err := getJSON(ctx, s.redis, s.accountKey(provider, providerAccountID), &account)
	if err != nil {
		return nil, unavailable("GetAccountByProvider", err)
	}
	if !found {
		return nil, nil
	}
	return &account, nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*ea.Session, error) {
	now := s.now()
	if !expiresAt.After(now) {
		return nil, ea.NewError(ea.KindInvalidArgument, "redis.CreateSession", "expiry must be in the future", nil)
	}
	id, err := ea.NewSessionID()
	if err != nil {
		return nil, err
	}
	session := ea.Session{ID: id, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, s.sessionKey(id), data, s.ttlUntil(expiresAt)).Err(); err != nil {
		return nil, unavailable("CreateSession", err)
	}
	return &session, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*ea.Session, error) {
	var session ea.Session
	found, err := getJSON(ctx, s.redis, s.sessionKey(id), &session)
	if err != nil {
		return nil, unavailable("GetSession", err)
	}
	if !found {
		return nil, nil
	}
	return &session, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return unavailable("DeleteSession", err)
	}
	return nil
}

// ExtendSession rewrites the session with a new expiry and key TTL.
func (s *Store) ExtendSession(ctx context.Context, id string, expiresAt time.Time) (*ea.Session, error) {
	key := s.sessionKey(id)
	var session ea.Session
	err := s.watch(ctx, func(tx *redis.Tx) error {
		found, err := getJSON(ctx, tx, key, &session)
		if err != nil {
			return err
		}
		if !found {
			return ea.NewError(ea.KindNotFound, "redis.ExtendSession", "session not found", nil)
		}
		session.ExpiresAt = expiresAt
		session.UpdatedAt = s.now()
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttlUntil(expiresAt))
			return nil
		})
		return err
	}, key)
	if err != nil {
		var kindErr *ea.Error
		if errors.As(err, &kindErr) {
			return nil, err
		}
		return nil, unavailable("ExtendSession", err)
	}
	return &session, nil
}

// DeleteExpiredSessions removes sessions whose ExpiresAt has passed but whose
// key has not yet expired, e.g. when the server clock lags.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	n := 0
	iter := s.redis.Scan(ctx, 0, s.sessionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		var session ea.Session
		found, err := getJSON(ctx, s.redis, iter.Val(), &session)
		if err != nil || !found {
			continue
		}
		if session.Valid(now) {
			continue
		}
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return n, unavailable("DeleteExpiredSessions", err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, unavailable("DeleteExpiredSessions", err)
	}
	return n, nil
}

func (s *Store) CreateVerificationToken(ctx context.Context, token ea.VerificationToken) (*ea.VerificationToken, error) {
	if token.Identifier == "" || token.Token == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "redis.CreateVerificationToken", "identifier and token required", nil)
	}
	if token.ID == "" {
		token.ID = ea.NewID()
	}
	data, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, s.tokenKey(token.Identifier, token.Token), data, s.ttlUntil(token.ExpiresAt)).Err(); err != nil {
		return nil, unavailable("CreateVerificationToken", err)
	}
	return &token, nil
}

func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*ea.VerificationToken, error) {
	data, err := s.redis.GetDel(ctx, s.tokenKey(identifier, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("UseVerificationToken", err)
	}
	var found ea.VerificationToken
	if err := json.Unmarshal(data, &found); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if found.Expired(s.now()) {
		return nil, nil
	}
	return &found, nil
}

func (s *Store) AppendAudit(ctx context.Context, event ea.AuditEvent) error {
	if event.ID == "" {
		event.ID = ea.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.redis.RPush(ctx, s.auditKey(), data).Err(); err != nil {
		return unavailable("AppendAudit", err)
	}
	return nil
}

// AuditEvents returns up to limit of the most recent events, oldest first.
func (s *Store) AuditEvents(ctx context.Context, limit int64) ([]ea.AuditEvent, error) {
	raw, err := s.redis.LRange(ctx, s.auditKey(), -limit, -1).Result()
	if err != nil {
		return nil, unavailable("AuditEvents", err)
	}
	events := make([]ea.AuditEvent, 0, len(raw))
	for _, item := range raw {
		var event ea.AuditEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("failed to decode audit event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

var (
	_ ea.Adapter         = (*Store)(nil)
	_ ea.SessionExtender = (*Store)(nil)
	_ ea.SessionReaper   = (*Store)(nil)
)
