package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidRequest malformed login input
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentials unknown identifier or wrong secret
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated missing, invalid, or expired token
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRefreshRateLimited refresh attempted again before its issue time could advance
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrConfiguration the session settings are missing or unusable
	ErrConfiguration = errors.New("session configuration error")
)

// ConfigurationError lists the config keys which are missing or invalid
type ConfigurationError struct {
	// Keys are the offending config keys
	Keys []string
	// Reason describes what is wrong with them
	Reason string
}

// Error implements error
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf(
		"%s: %s [%s]", ErrConfiguration.Error(), e.Reason, strings.Join(e.Keys, ", "),
	)
}

// Unwrap allows errors.Is(err, ErrConfiguration)
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// RefreshRateLimitError carries the retry delay of a throttled refresh
type RefreshRateLimitError struct {
	SessionID  string
	RetryAfter time.Duration
}

// Error implements error
func (e RefreshRateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRefreshRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRefreshRateLimited.Error(), e.RetryAfter)
}

// Unwrap allows errors.Is(err, ErrRefreshRateLimited)
func (e RefreshRateLimitError) Unwrap() error { return ErrRefreshRateLimited }
