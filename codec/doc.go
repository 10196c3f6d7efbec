// Package codec provides the canonical payload serializers used by the
// event store: deterministic CBOR, optionally wrapped in zstd or lz4 block
// compression.
package codec
