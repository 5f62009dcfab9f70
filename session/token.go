package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// tokenIssuer is the issuer claim of every token
const tokenIssuer = "fundstream"

// Claims are the contents of both the access and the refresh token
type Claims struct {
	// SessionID identifies the login lineage. Refresh keeps it.
	SessionID string `json:"sid"`
	// Role is the normalized role of the subject
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// SubjectID the principal the session belongs to
func (c Claims) SubjectID() string {
	return c.Subject
}

// Token is one signed token
type Token struct {
	// Value is the encoded JWT
	Value string
	// IssuedAt is the token's iat
	IssuedAt time.Time
	// ExpiresAt is the token's exp
	ExpiresAt time.Time
	// Window is the validity window the token was issued with
	Window time.Duration
}

// Issued is the token pair minted by login or refresh
type Issued struct {
	// SessionID identifies the login lineage
	SessionID string
	// Role is the normalized role carried by both tokens
	Role    Role
	Access  Token
	Refresh Token
}

// tokenKind signs and verifies one kind of token
type tokenKind struct {
	name   string
	secret []byte
	window time.Duration
	parser *jwt.Parser
}

func newTokenKind(name string, secret []byte, window time.Duration, clock func() time.Time) tokenKind {
	return tokenKind{
		name:   name,
		secret: secret,
		window: window,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(clock),
			jwt.WithExpirationRequired(),
			jwt.WithIssuer(tokenIssuer),
		),
	}
}

// sign mint a token of this kind issued at the given time
func (k tokenKind) sign(sessionID, subjectID string, role Role, issuedAt time.Time) (Token, error) {
	expiresAt := issuedAt.Add(k.window)
	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subjectID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.secret)
	if err != nil {
		return Token{}, fmt.Errorf("unable to sign %s token: %w", k.name, err)
	}
	return Token{Value: value, IssuedAt: issuedAt, ExpiresAt: expiresAt, Window: k.window}, nil
}

// verify parse a token of this kind, checking signature, issuer, expiry and claims
func (k tokenKind) verify(value string) (Claims, error) {
	var claims Claims
	_, err := k.parser.ParseWithClaims(value, &claims, func(*jwt.Token) (interface{}, error) {
		return k.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if claims.SessionID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%s token missing claims", k.name)
	}
	if !claims.Role.Valid() {
		return Claims{}, fmt.Errorf("%s token carries unknown role '%s'", k.name, claims.Role)
	}
	return claims, nil
}

// ==============================================================================

type claimsKey struct{}

// WithClaims attach session claims to a context
func WithClaims(ctxt context.Context, claims Claims) context.Context {
	return context.WithValue(ctxt, claimsKey{}, claims)
}

// ClaimsFromContext fetch the session claims attached to a context
func ClaimsFromContext(ctxt context.Context) (Claims, bool) {
	claims, ok := ctxt.Value(claimsKey{}).(Claims)
	return claims, ok
}
