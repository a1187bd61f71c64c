package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"

	// Upper bound on accepted token size; real tokens are a few hundred bytes.
	maxTokenBytes = 4096
)

// AccessPayload is the identity carried by an access token.
type AccessPayload struct {
	UserID string
	Email  string
}

// RefreshPayload is the identity plus session key carried by a refresh token.
type RefreshPayload struct {
	UserID    string
	Email     string
	SessionID string
}

type claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SessionID string `json:"session_id,omitempty"`
	Use       string `json:"token_use"`
	jwt.RegisteredClaims
}

// Codec issues and verifies access and refresh tokens.
// It is stateless and safe for concurrent use.
type Codec struct {
	cfg           Config
	accessSecret  []byte
	refreshSecret []byte
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Codec{
		cfg:           cfg,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
	}, nil
}

// IssueAccessToken signs p with the access secret.
func (c *Codec) IssueAccessToken(p AccessPayload, now time.Time) (string, time.Time, error) {
	return c.issue(claims{UserID: p.UserID, Email: p.Email, Use: useAccess}, c.accessSecret, now, c.cfg.AccessTTL)
}

// IssueRefreshToken signs p with the refresh secret.
// The returned expiry equals the token's exp claim to the second.
func (c *Codec) IssueRefreshToken(p RefreshPayload, now time.Time) (string, time.Time, error) {
	return c.issue(claims{UserID: p.UserID, Email: p.Email, SessionID: p.SessionID, Use: useRefresh}, c.refreshSecret, now, c.cfg.RefreshTTL)
}

// VerifyAccessToken returns the payload of a valid access token or ErrInvalidToken.
func (c *Codec) VerifyAccessToken(raw string, now time.Time) (AccessPayload, error) {
	cl, err := c.verify(raw, c.accessSecret, useAccess, now)
	if err != nil {
		return AccessPayload{}, err
	}
	return AccessPayload{UserID: cl.UserID, Email: cl.Email}, nil
}

// VerifyRefreshToken returns the payload of a valid refresh token or ErrInvalidToken.
func (c *Codec) VerifyRefreshToken(raw string, now time.Time) (RefreshPayload, error) {
	cl, err := c.verify(raw, c.refreshSecret, useRefresh, now)
	if err != nil {
		return RefreshPayload{}, err
	}
	if _, err := uuid.Parse(cl.SessionID); err != nil {
		return RefreshPayload{}, ErrInvalidToken
	}
	return RefreshPayload{UserID: cl.UserID, Email: cl.Email, SessionID: cl.SessionID}, nil
}

func (c *Codec) issue(cl claims, secret []byte, now time.Time, ttl time.Duration) (string, time.Time, error) {
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(ttl)

	cl.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.cfg.Issuer,
		Subject:   cl.UserID,
		Audience:  jwt.ClaimStrings{c.cfg.Audience},
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *Codec) verify(raw string, secret []byte, use string, now time.Time) (claims, error) {
	if raw == "" || len(raw) > maxTokenBytes {
		return claims{}, ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
		jwt.WithLeeway(c.cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	var cl claims
	tok, err := parser.ParseWithClaims(raw, &cl, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return claims{}, ErrInvalidToken
	}
	if cl.Use != use || cl.UserID == "" || cl.Subject != cl.UserID {
		return claims{}, ErrInvalidToken
	}
	return cl, nil
}
