// Package session issues and validates the cookie based login sessions.
//
// A session is carried entirely by two HS256 JWTs: a short lived access token and a
// longer lived refresh token, each signed with its own secret. Nothing is stored on
// the server.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/fundstream/metrics"
	"github.com/alwitt/fundstream/users"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Config key names reported by ConfigurationError
const (
	KeyAccessSecret  = "session.access_secret"
	KeyRefreshSecret = "session.refresh_secret"
	KeyAccessTTL     = "session.access_ttl_sec"
	KeyRefreshTTL    = "session.refresh_ttl_sec"
	KeyAccessCookie  = "session.access_cookie"
	KeyRefreshCookie = "session.refresh_cookie"
)

// maxIssueSkew is how far past the clock a refreshed pair may be issued
const maxIssueSkew = time.Second

// Auth operation names used in metrics
const (
	opLogin        = "login"
	opRefresh      = "refresh"
	opAuthenticate = "authenticate"
)

// Config are the Authority parameters
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Production marks the cookies Secure
	Production    bool
	AccessCookie  string
	RefreshCookie string
	// Clock is the time source. Defaults to time.Now.
	Clock func() time.Time
}

// ConfigFromSettings convert the session section of the system config
func ConfigFromSettings(settings common.SessionConfig) Config {
	return Config{
		AccessSecret:  settings.AccessSecret,
		RefreshSecret: settings.RefreshSecret,
		AccessTTL:     time.Second * time.Duration(settings.AccessTTL),
		RefreshTTL:    time.Second * time.Duration(settings.RefreshTTL),
		Production:    settings.Production,
		AccessCookie:  settings.AccessCookie,
		RefreshCookie: settings.RefreshCookie,
	}
}

// validateConfig report every missing or invalid setting at once
func validateConfig(config Config) error {
	missing := []string{}
	if config.AccessSecret == "" {
		missing = append(missing, KeyAccessSecret)
	}
	if config.RefreshSecret == "" {
		missing = append(missing, KeyRefreshSecret)
	}
	if config.AccessCookie == "" {
		missing = append(missing, KeyAccessCookie)
	}
	if config.RefreshCookie == "" {
		missing = append(missing, KeyRefreshCookie)
	}
	if len(missing) > 0 {
		return &ConfigurationError{Keys: missing, Reason: "required settings missing"}
	}
	if config.AccessSecret == config.RefreshSecret {
		return &ConfigurationError{
			Keys:   []string{KeyAccessSecret, KeyRefreshSecret},
			Reason: "access and refresh secrets must differ",
		}
	}
	if config.AccessCookie == config.RefreshCookie {
		return &ConfigurationError{
			Keys:   []string{KeyAccessCookie, KeyRefreshCookie},
			Reason: "access and refresh cookies must differ",
		}
	}
	if config.AccessTTL < time.Second {
		return &ConfigurationError{
			Keys: []string{KeyAccessTTL}, Reason: "access window must be at least one second",
		}
	}
	if config.RefreshTTL <= config.AccessTTL {
		return &ConfigurationError{
			Keys:   []string{KeyAccessTTL, KeyRefreshTTL},
			Reason: "access window must be shorter than the refresh window",
		}
	}
	return nil
}

// LoginRequest are the login parameters
type LoginRequest struct {
	// Method selects the identifier field, email or username
	Method string `json:"method" validate:"required,oneof=email username"`
	// Identifier is the email or username
	Identifier string `json:"identifier" validate:"required"`
	// Secret is the plaintext secret
	Secret string `json:"secret" validate:"required"`
}

// Authority issues and validates sessions. It holds no mutable state.
type Authority struct {
	goutils.Component
	store    users.PrincipalStore
	access   tokenKind
	refresh  tokenKind
	config   Config
	clock    func() time.Time
	validate *validator.Validate
	metrics  *metrics.Collector
}

// NewAuthority define a new Authority. Returns a *ConfigurationError when the
// settings are unusable.
func NewAuthority(
	config Config, store users.PrincipalStore, collector *metrics.Collector,
) (*Authority, error) {
	logTags := log.Fields{"module": "session", "component": "authority"}
	if err := validateConfig(config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Session settings invalid")
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("no principal store given")
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Authority{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		store:    store,
		access:   newTokenKind("access", []byte(config.AccessSecret), config.AccessTTL, clock),
		refresh:  newTokenKind("refresh", []byte(config.RefreshSecret), config.RefreshTTL, clock),
		config:   config,
		clock:    clock,
		validate: validator.New(),
		metrics:  collector,
	}, nil
}

// issue mint an access and refresh token pair at the same instant
func (a *Authority) issue(sessionID, subjectID string, role Role, issuedAt time.Time) (Issued, error) {
	accessToken, err := a.access.sign(sessionID, subjectID, role, issuedAt)
	if err != nil {
		return Issued{}, err
	}
	refreshToken, err := a.refresh.sign(sessionID, subjectID, role, issuedAt)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		SessionID: sessionID, Role: role, Access: accessToken, Refresh: refreshToken,
	}, nil
}

// Login verify a principal's secret and open a new session.
//
// An unknown identifier and a wrong secret both return ErrInvalidCredentials.
func (a *Authority) Login(
	ctxt context.Context, req LoginRequest,
) (users.Principal, Issued, error) {
	localLogTags := a.GetLogTagsForContext(ctxt)
	if err := a.validate.Struct(&req); err != nil {
		a.metrics.AuthOperation(opLogin, metrics.OutcomeRejected)
		log.WithError(err).WithFields(localLogTags).Debug("Login parameters invalid")
		return users.Principal{}, Issued{}, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}

	principal, err := a.store.FindByIdentifier(ctxt, req.Method, req.Identifier)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) || errors.Is(err, users.ErrAmbiguous) {
			a.metrics.AuthOperation(opLogin, metrics.OutcomeRejected)
			log.WithFields(localLogTags).Debugf("Login rejected for %s identifier", req.Method)
			return users.Principal{}, Issued{}, ErrInvalidCredentials
		}
		a.metrics.AuthOperation(opLogin, metrics.OutcomeError)
		log.WithError(err).WithFields(localLogTags).Error("Principal lookup failed")
		return users.Principal{}, Issued{}, err
	}

	if !VerifySecret(principal.SecretHash, req.Secret) {
		a.metrics.AuthOperation(opLogin, metrics.OutcomeRejected)
		log.WithFields(localLogTags).Debugf("Login rejected for %s identifier", req.Method)
		return users.Principal{}, Issued{}, ErrInvalidCredentials
	}

	role := ParseRole(principal.Role)
	issued, err := a.issue(
		uuid.New().String(), principal.ID, role, a.clock().Truncate(time.Second),
	)
	if err != nil {
		a.metrics.AuthOperation(opLogin, metrics.OutcomeError)
		log.WithError(err).WithFields(localLogTags).Error("Token issue failed")
		return users.Principal{}, Issued{}, err
	}
	a.metrics.AuthOperation(opLogin, metrics.OutcomeSuccess)
	log.WithFields(localLogTags).Infof(
		"Opened session %s for %s as %s", issued.SessionID, principal, role,
	)
	return principal, issued, nil
}

// Refresh validate a refresh token and mint a new token pair for the same session.
//
// The new pair is always issued at least one second after the old one, so the new
// access token always expires strictly later than the one it replaces. The issue
// time never runs more than maxIssueSkew ahead of the clock; a refresh which would
// need that returns a RefreshRateLimitError.
func (a *Authority) Refresh(ctxt context.Context, refreshToken string) (Issued, error) {
	localLogTags := a.GetLogTagsForContext(ctxt)
	if refreshToken == "" {
		a.metrics.AuthOperation(opRefresh, metrics.OutcomeRejected)
		return Issued{}, ErrUnauthenticated
	}
	claims, err := a.refresh.verify(refreshToken)
	if err != nil {
		a.metrics.AuthOperation(opRefresh, metrics.OutcomeRejected)
		log.WithError(err).WithFields(localLogTags).Debug("Refresh token rejected")
		return Issued{}, ErrUnauthenticated
	}

	issuedAt := a.clock().Truncate(time.Second)
	if earliest := claims.IssuedAt.Time.Add(time.Second); issuedAt.Before(earliest) {
		// Never issue more than the allowed skew past the wall clock
		if limit := issuedAt.Add(maxIssueSkew); earliest.After(limit) {
			a.metrics.AuthOperation(opRefresh, metrics.OutcomeRejected)
			log.WithFields(localLogTags).Debugf("Refresh of session %s too frequent", claims.SessionID)
			return Issued{}, RefreshRateLimitError{
				SessionID: claims.SessionID, RetryAfter: earliest.Sub(limit),
			}
		}
		issuedAt = earliest
	}
	issued, err := a.issue(claims.SessionID, claims.Subject, claims.Role, issuedAt)
	if err != nil {
		a.metrics.AuthOperation(opRefresh, metrics.OutcomeError)
		log.WithError(err).WithFields(localLogTags).Error("Token issue failed")
		return Issued{}, err
	}
	a.metrics.AuthOperation(opRefresh, metrics.OutcomeSuccess)
	log.WithFields(localLogTags).Debugf("Rotated tokens of session %s", claims.SessionID)
	return issued, nil
}

// Authenticate validate an access token and return its claims
func (a *Authority) Authenticate(accessToken string) (Claims, error) {
	if accessToken == "" {
		a.metrics.AuthOperation(opAuthenticate, metrics.OutcomeRejected)
		return Claims{}, ErrUnauthenticated
	}
	claims, err := a.access.verify(accessToken)
	if err != nil {
		a.metrics.AuthOperation(opAuthenticate, metrics.OutcomeRejected)
		log.WithError(err).WithFields(a.LogTags).Debug("Access token rejected")
		return Claims{}, ErrUnauthenticated
	}
	a.metrics.AuthOperation(opAuthenticate, metrics.OutcomeSuccess)
	return claims, nil
}
