// Package audit records security-relevant identity outcomes: logins,
// session revocation, credential reveals, role denials and projection
// failures.
//
// The Engine builds an [Event] per outcome and hands it to a [Trail], which
// stamps it, runs [Scrub] over its metadata and relays it to a [Sink] on a
// background goroutine. Sinks ship for JSON lines, slog and channels.
//
// This package does not decide what is audited and never imports the
// root goIdentity package.
package audit
