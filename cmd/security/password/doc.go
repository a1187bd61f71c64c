// Package password applies the account password policy and hashes passwords
// through package secret.
//
// Policy checks run only when a password is set. Verify never applies the
// policy, so tightening it does not lock out existing accounts.
package password
