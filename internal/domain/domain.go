// Package domain holds what the aggregate packages share: rule violation
// sentinels, role names and identifier normalization.
//
// Sub-packages are pure. They hold aggregate state, event payloads, Apply
// and decide functions, and never perform I/O. The root package loads
// state through eventstore, calls decide, and translates these sentinels
// into its public error types.
package domain

import (
	"errors"
	"strings"
)

var (
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotFound       = errors.New("not found")
	ErrRequiresAdmin  = errors.New("requires admin role")
	ErrNotMember      = errors.New("only allowed for members")
	ErrInvalidToken   = errors.New("invalid token")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidInput   = errors.New("invalid input")
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// NormalizeEmail lowercases and trims an address so it can key the email index.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidID reports whether id is usable as an aggregate identifier.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c <= ' ' || c == 0x7f || c == '{' || c == '}' {
			return false
		}
	}
	return true
}
