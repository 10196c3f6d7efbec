// Package password hashes user passwords with argon2id and digests
// machine-generated secrets with BLAKE3.
//
// Password hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Agent secrets and session tokens carry 256 bits of entropy, so they are
// stored as plain BLAKE3 digests and compared in constant time.
//
// The package never stores secrets and never logs them.
package password
