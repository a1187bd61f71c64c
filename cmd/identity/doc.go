// Package identity stores stockroom's security principals.
//
// A User is looked up by normalized email at login and by id when an access
// token is presented. Password digests are produced elsewhere (see
// cmd/security/password); the store only persists them.
package identity
