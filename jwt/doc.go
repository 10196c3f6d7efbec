// Package jwt implements token.Signer with JSON Web Tokens signed by Ed25519
// or HMAC-SHA256 keys. Each purpose carries its own lifetime and the token's
// "type" claim pins it to that purpose.
package jwt
