//go:build !wasm
// +build !wasm

package gae

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/datastore"

	ea "github.com/panyam/easyauth"
)

// UserEntity is the Datastore entity for users. A zero EmailVerified means
// the email is not verified.
type UserEntity struct {
	Key           *datastore.Key `datastore:"__key__"`
	Email         string         `datastore:"email"`
	EmailVerified time.Time      `datastore:"email_verified,noindex"`
	Name          string         `datastore:"name,noindex"`
	Image         string         `datastore:"image,noindex"`
	CreatedAt     time.Time      `datastore:"created_at"`
	UpdatedAt     time.Time      `datastore:"updated_at"`
}

func (e *UserEntity) ToUser() *ea.User {
	u := &ea.User{
		ID:        e.Key.Name,
		Email:     e.Email,
		Name:      e.Name,
		Image:     e.Image,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if !e.EmailVerified.IsZero() {
		t := e.EmailVerified
		u.EmailVerified = &t
	}
	return u
}

func UserToEntity(u *ea.User, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:       key,
		Email:     u.Email,
		Name:      u.Name,
		Image:     u.Image,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if u.EmailVerified != nil {
		e.EmailVerified = *u.EmailVerified
	}
	return e
}

// EmailEntity maps a normalized email (the key name) to its user
type EmailEntity struct {
	Key    *datastore.Key `datastore:"__key__"`
	UserID string         `datastore:"user_id"`
}

// AccountEntity is the Datastore entity for provider accounts
type AccountEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	ID                string         `datastore:"id"`
	UserID            string         `datastore:"user_id"`
	Provider          string         `datastore:"provider"`
	ProviderAccountID string         `datastore:"provider_account_id"`
	AccessToken       string         `datastore:"access_token,noindex"`
	RefreshToken      string         `datastore:"refresh_token,noindex"`
	TokenType         string         `datastore:"token_type,noindex"`
	Scope             string         `datastore:"scope,noindex"`
	ExpiresAt         int64          `datastore:"expires_at,noindex"`
	PasswordHash      string         `datastore:"password_hash,noindex"`
}

func (e *AccountEntity) ToAccount() *ea.Account {
	return &ea.Account{
		ID:                e.ID,
		UserID:            e.UserID,
		Provider:          e.Provider,
		ProviderAccountID: e.ProviderAccountID,
		AccessToken:       e.AccessToken,
		RefreshToken:      e.RefreshToken,
		TokenType:         e.TokenType,
		Scope:             e.Scope,
		ExpiresAt:         e.ExpiresAt,
		PasswordHash:      e.PasswordHash,
	}
}

func AccountToEntity(a *ea.Account, key *datastore.Key) *AccountEntity {
	return &AccountEntity{
		Key:               key,
		ID:                a.ID,
		UserID:            a.UserID,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		AccessToken:       a.AccessToken,
		RefreshToken:      a.RefreshToken,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		ExpiresAt:         a.ExpiresAt,
		PasswordHash:      a.PasswordHash,
	}
}

// SessionEntity is the Datastore entity for database sessions
type SessionEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    string         `datastore:"user_id"`
	ExpiresAt time.Time      `datastore:"expires_at"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
	UpdatedAt time.Time      `datastore:"updated_at,noindex"`
}

func (e *SessionEntity) ToSession() *ea.Session {
	return &ea.Session{
		ID:        e.Key.Name,
		UserID:    e.UserID,
		ExpiresAt: e.ExpiresAt,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// VerificationTokenEntity is the Datastore entity for single-use tokens
type VerificationTokenEntity struct {
	Key        *datastore.Key `datastore:"__key__"`
	ID         string         `datastore:"id"`
	Identifier string         `datastore:"identifier"`
	Token      string         `datastore:"token,noindex"`
	ExpiresAt  time.Time      `datastore:"expires_at"`
}

func (e *VerificationTokenEntity) ToVerificationToken() *ea.VerificationToken {
	return &ea.VerificationToken{
		ID:         e.ID,
		Identifier: e.Identifier,
		Token:      e.Token,
		ExpiresAt:  e.ExpiresAt,
	}
}

// AuditEventEntity is the Datastore entity for the audit log
type AuditEventEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Type      string         `datastore:"type"`
	UserID    string         `datastore:"user_id"`
	IP        string         `datastore:"ip,noindex"`
	Meta      []byte         `datastore:"meta,noindex"` // JSON encoded
	CreatedAt time.Time      `datastore:"created_at"`
}

func AuditEventToEntity(e *ea.AuditEvent, key *datastore.Key) (*AuditEventEntity, error) {
	entity := &AuditEventEntity{
		Key:       key,
		Type:      e.Type,
		UserID:    e.UserID,
		IP:        e.IP,
		CreatedAt: e.CreatedAt,
	}
	if e.Meta != nil {
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return nil, err
		}
		entity.Meta = meta
	}
	return entity, nil
}
