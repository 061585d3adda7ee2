//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of the
// easyauth Adapter. It is designed for deployment on Google Cloud Platform and
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - User: users keyed by ID
//   - UserEmail: normalized email -> user ID index, keeps emails unique
//   - Account: provider accounts keyed by a hash of (provider, account id)
//   - Session: database sessions keyed by session ID
//   - VerificationToken: single-use tokens keyed by a hash of (identifier, token)
//   - AuditEvent: append-only audit log
//
// Uniqueness and single-use redemption rely on Datastore transactions, so
// every write that touches an index runs inside RunInTransaction.
//
// # Namespacing
//
// Pass a namespace to isolate data between tenants:
//
//	store := gae.New(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	auth := easyauth.New(gae.New(client, "")) // default namespace
package gae
