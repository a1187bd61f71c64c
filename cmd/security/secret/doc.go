// Package secret hashes bearer secrets and passwords for storage at rest.
//
// Digests are Argon2id in a PHC-like encoded string. Legacy bcrypt digests
// (imported user records) are still accepted by Compare so they can be
// upgraded on the next successful login.
//
// Digests are treated as untrusted input: Compare refuses parameters that
// exceed the configured cost by a wide margin.
package secret
