//go:build !wasm
// +build !wasm

package gorm

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	ea "github.com/panyam/easyauth"
)

// JSONMap is a helper type for storing JSON maps in GORM
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported JSONMap source %T", value)
}

// UserModel is the GORM model for users. EmailKey holds the normalized email
// so uniqueness does not depend on dialect specific expression indexes.
type UserModel struct {
	ID            string  `gorm:"primaryKey;size:64"`
	Email         string  `gorm:"size:320"`
	EmailKey      *string `gorm:"size:320;uniqueIndex"`
	EmailVerified *time.Time
	Name          string    `gorm:"size:255"`
	Image         string    `gorm:"size:2048"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (UserModel) TableName() string {
	return "users"
}

func emailKey(email string) *string {
	if email == "" {
		return nil
	}
	key := ea.NormalizeEmail(email)
	return &key
}

func (m *UserModel) ToUser() *ea.User {
	return &ea.User{
		ID:            m.ID,
		Email:         m.Email,
		EmailVerified: m.EmailVerified,
		Name:          m.Name,
		Image:         m.Image,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func UserToModel(u *ea.User) *UserModel {
	return &UserModel{
		ID:            u.ID,
		Email:         u.Email,
		EmailKey:      emailKey(u.Email),
		EmailVerified: u.EmailVerified,
		Name:          u.Name,
		Image:         u.Image,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// AccountModel is the GORM model for provider accounts
type AccountModel struct {
	ID                string `gorm:"primaryKey;size:64"`
	UserID            string `gorm:"size:64;index"`
	Provider          string `gorm:"size:64;uniqueIndex:idx_accounts_provider_key"`
	ProviderAccountID string `gorm:"size:320;uniqueIndex:idx_accounts_provider_key"`
	AccessToken       string `gorm:"type:text"`
	RefreshToken      string `gorm:"type:text"`
	TokenType         string `gorm:"size:32"`
	Scope             string `gorm:"type:text"`
	ExpiresAt         int64
	PasswordHash      string `gorm:"size:255"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *ea.Account {
	return &ea.Account{
		ID:                m.ID,
		UserID:            m.UserID,
		Provider:          m.Provider,
		ProviderAccountID: m.ProviderAccountID,
		AccessToken:       m.AccessToken,
		RefreshToken:      m.RefreshToken,
		TokenType:         m.TokenType,
		Scope:             m.Scope,
		ExpiresAt:         m.ExpiresAt,
		PasswordHash:      m.PasswordHash,
	}
}

func AccountToModel(a *ea.Account) *AccountModel {
	return &AccountModel{
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

// SessionModel is the GORM model for database sessions
type SessionModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"size:64;index"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (SessionModel) TableName() string {
	return "sessions"
}

func (m *SessionModel) ToSession() *ea.Session {
	return &ea.Session{
		ID:        m.ID,
		UserID:    m.UserID,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// VerificationTokenModel is the GORM model for single-use tokens
type VerificationTokenModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	Identifier string    `gorm:"size:384;uniqueIndex:idx_verification_tokens_key"`
	Token      string    `gorm:"size:128;uniqueIndex:idx_verification_tokens_key"`
	ExpiresAt  time.Time `gorm:"index"`
}

func (VerificationTokenModel) TableName() string {
	return "verification_tokens"
}

func (m *VerificationTokenModel) ToVerificationToken() *ea.VerificationToken {
	return &ea.VerificationToken{
		ID:         m.ID,
		Identifier: m.Identifier,
		Token:      m.Token,
		ExpiresAt:  m.ExpiresAt,
	}
}

// AuditEventModel is the GORM model for the audit log
type AuditEventModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Type      string    `gorm:"size:64;index"`
	UserID    string    `gorm:"size:64;index"`
	IP        string    `gorm:"size:64"`
	Meta      JSONMap   `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;index"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

func AuditEventToModel(e *ea.AuditEvent) *AuditEventModel {
	return &AuditEventModel{
		ID:        e.ID,
		Type:      e.Type,
		UserID:    e.UserID,
		IP:        e.IP,
		Meta:      JSONMap(e.Meta),
		CreatedAt: e.CreatedAt,
	}
}
