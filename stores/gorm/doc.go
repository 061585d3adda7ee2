//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based easyauth Adapter.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and is suitable for production deployments requiring relational database storage.
//
// # Database Schema
//
// AutoMigrate creates the following tables:
//   - users: User records, unique on the normalized email
//   - accounts: Provider links, unique on (provider, provider_account_id)
//   - sessions: Database sessions
//   - verification_tokens: Single-use tokens, unique on (identifier, token)
//   - audit_events: Append-only audit log
//
// # Usage
//
// Open the database with TranslateError so duplicate keys surface as
// gorm.ErrDuplicatedKey:
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	auth := easyauth.New(gormstore.New(db))
package gorm
