// Package rate provides Redis-backed fixed-window counters that throttle
// repeated credential failures.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// "<prefix><kind>:<identifier>" where kind is one of:
//   - pw:   password failures per email
//   - totp: one-time code failures per user
//   - as:   agent secret failures per agent
//
// # What this package must NOT do
//
//   - Decide which identifier an operation is throttled on (the engine does).
//   - Be imported outside the goIdentity module.
package rate
