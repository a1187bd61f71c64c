// Package session implements stockroom's refresh-token session lifecycle.
//
// Every issued refresh token has exactly one row in the session store. A
// refresh rotates the row: a new row is created, then the old one is revoked
// with replaced_by pointing at its successor. Presenting a token whose row is
// missing, revoked or whose stored digest does not match is treated as token
// theft: every session of the user is revoked and the call fails with
// ErrSecurityTokenReused.
//
// Access tokens are stateless HS256 JWTs; only refresh tokens touch the store.
package session
