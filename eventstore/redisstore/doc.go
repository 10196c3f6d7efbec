// Package redisstore implements eventstore.Backend on Redis.
//
// # Key layout
//
//   - {prefix}:{type:id}:ev   - list of encoded records, index i holds version i+1
//   - {prefix}:{type:id}:snap - hash with version, created_at and body
//
// The {type:id} hash tag keeps both keys of a stream on one cluster slot so
// the append and snapshot scripts stay single-slot.
package redisstore
