package session

import (
	"errors"
	"fmt"
)

// Store errors.
var (
	// ErrSessionNotFound is returned when no row exists for a session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRevoked is returned by Store.Revoke when the row was already
	// revoked. For rotation this means a concurrent refresh won.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrSessionExists is returned by Store.Create on a duplicate id.
	ErrSessionExists = errors.New("session exists")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// Kind classifies Manager failures for callers that must react differently
// to an attack signal and a transient outage.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidCredentials
	KindTokenMissing
	KindInvalidRefreshToken
	KindSecurityTokenReused
	KindSessionPersist
	KindInvalidAccessToken
)

// Manager error kinds (stable for errors.Is and for mapping to HTTP status codes).
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrTokenMissing        = errors.New("token missing")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSecurityTokenReused = errors.New("refresh token reuse detected")
	ErrSessionPersist      = errors.New("session persistence failed")
	ErrInvalidAccessToken  = errors.New("invalid access token")
)

var kindErrors = map[Kind]error{
	KindInvalidCredentials:  ErrInvalidCredentials,
	KindTokenMissing:        ErrTokenMissing,
	KindInvalidRefreshToken: ErrInvalidRefreshToken,
	KindSecurityTokenReused: ErrSecurityTokenReused,
	KindSessionPersist:      ErrSessionPersist,
	KindInvalidAccessToken:  ErrInvalidAccessToken,
}

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindTokenMissing:
		return "token_missing"
	case KindInvalidRefreshToken:
		return "invalid_refresh_token"
	case KindSecurityTokenReused:
		return "token_reused"
	case KindSessionPersist:
		return "session_persist"
	case KindInvalidAccessToken:
		return "invalid_access_token"
	default:
		return "unknown"
	}
}

// Error is returned by every failing Manager operation.
// Err, when set, is the underlying cause (usually a store error).
// UserID and SessionID are set on reuse failures and name the chain that
// was revoked.
type Error struct {
	Op   string
	Kind Kind
	Err  error

	UserID    string
	SessionID string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := kindErrors[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the Kind of err, or KindUnknown if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func fail(op string, kind Kind, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

func reused(op, userID, sessionID string, cause error) error {
	return &Error{Op: op, Kind: KindSecurityTokenReused, Err: cause, UserID: userID, SessionID: sessionID}
}
