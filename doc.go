// Package goIdentity is an identity and access backend for users, groups and
// group-owned agents, built on an event-sourced aggregate store.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config],
// the [Users], [Groups] and [Agents] services, typed errors and value types.
// Aggregate state and decide functions live under internal/domain and never
// perform I/O; persistence goes through [eventstore.Repository] with the
// backend, encryptor, serializer, publisher and signer injected at build time.
//
// # Tokens
//
// A password login returns either an authToken bound to a caller-chosen
// session id, or an mfaToken that LogInTOTP exchanges for one. The authToken
// is exchanged for a short-lived userToken carrying the public profile. Group
// members trade a userToken for an accessToken and then an aclToken, which is
// the only credential agent administration accepts. Agents log in with a
// credential secret and exchange their authToken for an agentToken.
//
// Credentials travel in the request context (see [WithAuthToken],
// [WithUserToken], [WithAccessToken], [WithACLToken]); single-use tokens
// (mfa, confirmation, invitation) are passed as arguments.
//
// # Consistency
//
// Each command commits to one aggregate with optimistic concurrency and
// bounded retry. Group membership and the group's agent directory are the
// source of truth; the user's groups and invitations are projected after the
// group commit and are eventually consistent.
package goIdentity
