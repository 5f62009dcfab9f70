// Package users looks up the principals allowed to open a session.
package users

import (
	"context"
	"errors"
	"fmt"
)

// Identifier lookup methods
const (
	MethodEmail    = "email"
	MethodUsername = "username"
)

var (
	// ErrNotFound no principal matches the identifier
	ErrNotFound = errors.New("principal not found")
	// ErrAmbiguous more than one principal matches the identifier
	ErrAmbiguous = errors.New("identifier matches multiple principals")
)

// Principal is one stored account
type Principal struct {
	// ID is the principal's identifier
	ID string
	// Username is the unique handle
	Username string
	// Email is the unique email address
	Email string
	// DisplayName is the name shown to other users
	DisplayName string
	// Role is the stored role string, not yet normalized
	Role string
	// SecretHash is the stored secret: a bcrypt hash, an argon2id PHC string, or a
	// legacy plaintext value
	SecretHash string
}

// String toString for Principal. Never includes the secret.
func (p Principal) String() string {
	return fmt.Sprintf("principal(%s/%s)", p.ID, p.Username)
}

// PublicProfile is the part of a Principal returned to clients
type PublicProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role"`
}

// Profile the public profile of the principal, reporting the given normalized role
func (p Principal) Profile(role string) PublicProfile {
	return PublicProfile{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        role,
	}
}

// PrincipalStore fetches principals by identifier
type PrincipalStore interface {
	// FindByIdentifier fetch the one principal whose email or username, selected by
	// method, equals the identifier. Returns ErrNotFound or ErrAmbiguous when there
	// is not exactly one match.
	FindByIdentifier(ctxt context.Context, method, identifier string) (Principal, error)
	// Ready check the store is reachable
	Ready(ctxt context.Context) error
}
