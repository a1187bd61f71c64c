// Package token signs and verifies the two bearer tokens of an auth session.
//
// Access tokens carry {user_id, email} and live for minutes. Refresh tokens
// carry {user_id, email, session_id}, live for days and are signed with a
// separate secret. Both are HS256 JWTs.
//
// Verification failures are deliberately uniform: every structural,
// signature, claim or expiry problem yields ErrInvalidToken and nothing else,
// so callers cannot become an oracle for which check failed.
package token
