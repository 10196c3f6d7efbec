// Package encryption provides eventstore.Encryptor implementations.
//
// Keyring derives a per-scope key from a root key with HKDF-SHA256 and seals
// payloads with XChaCha20-Poly1305. The scope is authenticated as AAD, so a
// ciphertext copied into another stream fails to open. Each blob names the
// root key id that sealed it; rotating the active key leaves older blobs
// readable as long as their key stays in the ring.
//
// AgeSealer seals payloads to X25519 age recipients, for deployments where
// writers should not be able to read history back.
package encryption
