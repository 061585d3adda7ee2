// Package easyauth is a storage-agnostic authentication core.
//
// It separates three concerns:
//
// Adapter: the persistence contract for users, accounts, sessions,
// verification tokens and audit events. Backends live under stores/ (memory,
// redis, postgres, gorm, gae) and all pass the adaptertest contract suite.
//
// Auth: the engine. It implements local credentials (Register, Login, Logout,
// GetCurrentUser, email verification, password reset) and federated login
// (OAuthLogin) on top of any Adapter. It keeps no entity state of its own.
//
// Provider: plain data describing an OAuth/OIDC provider, plus a mapping
// function from the provider's userinfo payload to a Profile. Descriptors for
// common providers are in the providers package.
//
// # Basic Usage
//
//	import (
//	    "github.com/panyam/easyauth"
//	    "github.com/panyam/easyauth/stores/memory"
//	)
//
//	auth := easyauth.New(memory.New())
//	user, err := auth.Register(ctx, "ada@example.com", "correct horse")
//	_, session, err := auth.Login(ctx, "ada@example.com", "correct horse")
//	current, err := auth.GetCurrentUser(ctx, session.ID)
//
// # OAuth
//
// BuildAuthorizationURL returns the redirect URL together with the state and
// PKCE verifier that the host must keep (the httpauth package keeps them in
// an scs session). After the callback, exchange the code with the oauth2
// package and hand the mapped Profile to OAuthLogin:
//
//	req, err := easyauth.BuildAuthorizationURL(providers.Google(), easyauth.AuthorizationOptions{
//	    ClientID:    clientID,
//	    RedirectURI: "https://app.example.com/auth/oauth/google/callback",
//	    Scope:       []string{"openid", "email", "profile"},
//	})
//	...
//	user, session, err := auth.OAuthLogin(ctx, "google", profile)
//
// Users are merged by email: a Google login and a GitHub login reporting the
// same email resolve to the same User.
//
// # Hosts
//
// The httpauth package mounts the flows on a gorilla/mux router with cookie or
// JWT sessions. The grpc package resolves sessions in unary and stream
// interceptors. The client package talks to the HTTP routes from Go programs.
// cmd/easyauthd wires everything into a standalone server.
package easyauth
