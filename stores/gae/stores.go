//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/jonboulle/clockwork"
	"google.golang.org/api/iterator"

	ea "github.com/panyam/easyauth"
)

// Kind constants for Datastore entities
const (
	KindUser              = "User"
	KindUserEmail         = "UserEmail"
	KindAccount           = "Account"
	KindSession           = "Session"
	KindVerificationToken = "VerificationToken"
	KindAuditEvent        = "AuditEvent"
)

// Datastore caps a single DeleteMulti at 500 keys.
const deleteBatchSize = 500

// Store implements easyauth.Adapter using Google Cloud Datastore
type Store struct {
	client    *datastore.Client
	namespace string

	Clock clockwork.Clock
}

// New creates a Datastore-backed Adapter. An empty namespace uses the default.
func New(client *datastore.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace, Clock: clockwork.NewRealClock()}
}

func (s *Store) now() time.Time { return s.Clock.Now() }

func (s *Store) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

// hashedName builds a fixed length key name from parts that may contain any
// characters or be very long.
func hashedName(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) emailKey(email string) *datastore.Key {
	return s.namespacedKey(KindUserEmail, ea.NormalizeEmail(email))
}

func (s *Store) accountKey(provider, providerAccountID string) *datastore.Key {
	return s.namespacedKey(KindAccount, hashedName(provider, providerAccountID))
}

func (s *Store) tokenKey(identifier, token string) *datastore.Key {
	return s.namespacedKey(KindVerificationToken, hashedName(identifier, token))
}

// claimEmail points the email index at userID inside tx.
func (s *Store) claimEmail(tx *datastore.Transaction, email, userID string) error {
	key := s.emailKey(email)
	var existing EmailEntity
	err := tx.Get(key, &existing)
	if err == nil && existing.UserID != userID {
		return ea.NewError(ea.KindConflict, "gae.claimEmail", "email taken", nil)
	}
	if err != nil && err != datastore.ErrNoSuchEntity {
		return err
	}
	_, err = tx.Put(key, &EmailEntity{Key: key, UserID: userID})
	return err
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

	key := s.namespacedKey(KindUser, user.ID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEntity
		if err := tx.Get(key, &existing); err == nil {
			return ea.NewError(ea.KindConflict, "gae.CreateUser", "user id taken", nil)
		} else if err != datastore.ErrNoSuchEntity {
			return err
		}
		if user.Email != "" {
			if err := s.claimEmail(tx, user.Email, user.ID); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, UserToEntity(&user, key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*ea.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, nil
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*ea.User, error) {
	if email == "" {
		return nil, nil
	}
	var index EmailEntity
	if err := s.client.Get(ctx, s.emailKey(email), &index); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, nil
		}
		return nil, err
	}
	return s.GetUser(ctx, index.UserID)
}

func (s *Store) UpdateUser(ctx context.Context, id string, patch ea.UserPatch) (*ea.User, error) {
	var updated *ea.User
	key := s.namespacedKey(KindUser, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return ea.NewError(ea.KindNotFound, "gae.UpdateUser", "user not found", nil)
			}
			return err
		}
		current := entity.ToUser()
		next := patch.Apply(*current)
		next.UpdatedAt = s.now()

		oldKey, newKey := ea.NormalizeEmail(current.Email), ea.NormalizeEmail(next.Email)
		if oldKey != newKey {
			if next.Email != "" {
				if err := s.claimEmail(tx, next.Email, id); err != nil {
					return err
				}
			}
			if current.Email != "" {
				if err := tx.Delete(s.emailKey(current.Email)); err != nil {
					return err
				}
			}
		}
		if _, err := tx.Put(key, UserToEntity(&next, key)); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) LinkAccount(ctx context.Context, account ea.Account) (*ea.Account, error) {
	if err := account.Validate("gae.LinkAccount"); err != nil {
		return nil, err
	}
	key := s.accountKey(account.Provider, account.ProviderAccountID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var owner UserEntity
		if err := tx.Get(s.namespacedKey(KindUser, account.UserID), &owner); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return ea.NewError(ea.KindNotFound, "gae.LinkAccount", "user not found", nil)
			}
			return err
		}
		var existing AccountEntity
		err := tx.Get(key, &existing)
		switch {
		case err == nil:
			if existing.UserID != account.UserID {
				return ea.NewError(ea.KindConflict, "gae.LinkAccount", "account linked to another user", nil)
			}
			account.ID = existing.ID
		case err == datastore.ErrNoSuchEntity:
			if account.ID == "" {
				account.ID = ea.NewID()
			}
		default:
			return err
		}
		_, err = tx.Put(key, AccountToEntity(&account, key))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Store) GetAccountByProvider(ctx context.Context, provider, providerAccountID string) (*ea.Account, error) {
	var entity AccountEntity
	if err := s.client.Get(ctx, s.accountKey(provider, providerAccountID), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, nil
		}
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (*ea.Session, error) {
	now := s.now()
	if !expiresAt.After(now) {
		return nil, ea.NewError(ea.KindInvalidArgument, "gae.CreateSession", "expiry must be in the future", nil)
	}
	id, err := ea.NewSessionID()
	if err != nil {
		return nil, err
	}
	key := s.namespacedKey(KindSession, id)
	entity := &SessionEntity{Key: key, UserID: userID, ExpiresAt: expiresAt, CreatedAt: now, UpdatedAt: now}
	if _, err := s.client.Put(ctx, key, entity); err != nil {
		return nil, err
	}
	return entity.ToSession(), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*ea.Session, error) {
	var entity SessionEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindSession, id), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, nil
		}
		return nil, err
	}
	return entity.ToSession(), nil
}

// DeleteSession is idempotent: Datastore deletes of missing keys succeed.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.client.Delete(ctx, s.namespacedKey(KindSession, id))
}

func (s *Store) ExtendSession(ctx context.Context, id string, expiresAt time.Time) (*ea.Session, error) {
	var extended *ea.Session
	key := s.namespacedKey(KindSession, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity SessionEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return ea.NewError(ea.KindNotFound, "gae.ExtendSession", "session not found", nil)
			}
			return err
		}
		entity.ExpiresAt = expiresAt
		entity.UpdatedAt = s.now()
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}
		extended = entity.ToSession()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extended, nil
}

// DeleteExpiredSessions removes every session with expires_at <= now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	query := datastore.NewQuery(KindSession).
		Namespace(s.namespace).
		FilterField("expires_at", "<=", now).
		KeysOnly()

	var keys []*datastore.Key
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
	}

	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		if err := s.client.DeleteMulti(ctx, keys[start:end]); err != nil {
			return deleted, err
		}
		deleted += end - start
	}
	return deleted, nil
}

func (s *Store) CreateVerificationToken(ctx context.Context, token ea.VerificationToken) (*ea.VerificationToken, error) {
	if token.Identifier == "" || token.Token == "" {
		return nil, ea.NewError(ea.KindInvalidArgument, "gae.CreateVerificationToken", "identifier and token required", nil)
	}
	if token.ID == "" {
		token.ID = ea.NewID()
	}
	key := s.tokenKey(token.Identifier, token.Token)
	entity := &VerificationTokenEntity{
		Key:        key,
		ID:         token.ID,
		Identifier: token.Identifier,
		Token:      token.Token,
		ExpiresAt:  token.ExpiresAt,
	}
	if _, err := s.client.Put(ctx, key, entity); err != nil {
		return nil, err
	}
	return &token, nil
}

// UseVerificationToken reads and deletes the token in one transaction.
// Datastore aborts all but one of any concurrent transactions touching the
// same entity; the retried losers then find it gone.
func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*ea.VerificationToken, error) {
	var used *ea.VerificationToken
	key := s.tokenKey(identifier, token)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		used = nil
		var entity VerificationTokenEntity
		if err := tx.Get(key, &entity); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return nil
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		used = entity.ToVerificationToken()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if used == nil || used.Expired(s.now()) {
		return nil, nil
	}
	return used, nil
}

func (s *Store) AppendAudit(ctx context.Context, event ea.AuditEvent) error {
	if event.ID == "" {
		event.ID = ea.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	key := s.namespacedKey(KindAuditEvent, event.ID)
	entity, err := AuditEventToEntity(&event, key)
	if err != nil {
		return err
	}
	_, err = s.client.Put(ctx, key, entity)
	return err
}

var (
	_ ea.Adapter         = (*Store)(nil)
	_ ea.SessionExtender = (*Store)(nil)
	_ ea.SessionReaper   = (*Store)(nil)
)
