// Package middleware adapts HTTP requests to the goIdentity Engine.
//
// The Engine reads credentials from the context. [Credentials] moves the
// X-Auth-Token, X-User-Token, X-Access-Token and X-ACL-Token headers and the
// client IP there. [Require] turns a missing header into a 401 before any
// Engine work is done. Token verification itself always happens inside the
// Engine.
package middleware
