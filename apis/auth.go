// Copyright 2024 The fundstream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/fundstream/session"
	"github.com/alwitt/fundstream/users"
	"github.com/apex/log"
)

// APIRestSessionHandler REST handler for the session endpoints
type APIRestSessionHandler struct {
	APIRestHandler
	authority *session.Authority
	store     users.PrincipalStore
}

// GetAPIRestSessionHandler define APIRestSessionHandler
func GetAPIRestSessionHandler(
	authority *session.Authority,
	store users.PrincipalStore,
	httpConfig *common.HTTPConfig,
) (APIRestSessionHandler, error) {
	if authority == nil {
		return APIRestSessionHandler{}, fmt.Errorf("no session authority given")
	}
	logTags := log.Fields{
		"module":    "apis",
		"component": "session",
	}
	return APIRestSessionHandler{
		APIRestHandler: getAPIRestHandler(logTags, httpConfig),
		authority:      authority,
		store:          store,
	}, nil
}

// LoginResponse body of a successful login
type LoginResponse struct {
	User users.PublicProfile `json:"user"`
}

// RefreshResponse body of a successful refresh
type RefreshResponse struct {
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// SessionInfo body describing the current session
type SessionInfo struct {
	SessionID string       `json:"sessionId"`
	SubjectID string       `json:"subjectId"`
	Role      session.Role `json:"role"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// =======================================================================
// Session lifecycle

// Login godoc
// @Summary Open a session
// @Description Verify a principal's secret, and set the access and refresh token cookies
// @tags Session
// @Accept json
// @Produce json
// @Param credentials body session.LoginRequest true "Login method, identifier, and secret"
// @Success 200 {object} LoginResponse "success"
// @Failure 400 {object} ErrorResponse "error"
// @Failure 401 {object} ErrorResponse "error"
// @Failure 500 {object} ErrorResponse "error"
// @Router /auth/login [post]
func (h APIRestSessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		h.reply(w, respCode, respBody, "login")
	}()

	var req session.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.errorBody(r, session.ErrInvalidRequest.Error())
		return
	}

	principal, issued, err := h.authority.Login(r.Context(), req)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Info("Login rejected")
		code, msg := errorStatus(err)
		respCode = code
		respBody = h.errorBody(r, msg)
		return
	}

	h.authority.SetSessionCookies(w, issued)
	respCode = http.StatusOK
	respBody = LoginResponse{User: principal.Profile(string(issued.Role))}
}

// LoginHandler Wrapper around Login
func (h APIRestSessionHandler) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Login(w, r)
	}
}

// -----------------------------------------------------------------------

// Refresh godoc
// @Summary Rotate the session tokens
// @Description Exchange the refresh token cookie for a new access and refresh token pair
// @tags Session
// @Produce json
// @Success 200 {object} RefreshResponse "success"
// @Failure 401 {object} ErrorResponse "error"
// @Failure 429 {object} ErrorResponse "error"
// @Failure 500 {object} ErrorResponse "error"
// @Router /auth/refresh [post]
func (h APIRestSessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		h.reply(w, respCode, respBody, "refresh")
	}()

	refreshToken := ""
	if cookie, err := r.Cookie(h.authority.RefreshCookieName()); err == nil {
		refreshToken = cookie.Value
	}
	issued, err := h.authority.Refresh(r.Context(), refreshToken)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Debug("Refresh rejected")
		var limitErr session.RefreshRateLimitError
		if errors.As(err, &limitErr) {
			w.Header().Set(
				"Retry-After", strconv.Itoa(int(math.Ceil(limitErr.RetryAfter.Seconds()))),
			)
		}
		code, msg := errorStatus(err)
		respCode = code
		respBody = h.errorBody(r, msg)
		return
	}

	h.authority.SetSessionCookies(w, issued)
	respCode = http.StatusOK
	respBody = RefreshResponse{
		AccessExpiresAt:  issued.Access.ExpiresAt.UTC(),
		RefreshExpiresAt: issued.Refresh.ExpiresAt.UTC(),
	}
}

// RefreshHandler Wrapper around Refresh
func (h APIRestSessionHandler) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Refresh(w, r)
	}
}

// -----------------------------------------------------------------------

// Logout godoc
// @Summary Close the session
// @Description Clear the access and refresh token cookies. Always succeeds.
// @tags Session
// @Produce json
// @Success 200 {object} SuccessResponse "success"
// @Router /auth/logout [post]
func (h APIRestSessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authority.ClearSessionCookies(w)
	h.reply(w, http.StatusOK, h.successBody(r), "logout")
}

// LogoutHandler Wrapper around Logout
func (h APIRestSessionHandler) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Logout(w, r)
	}
}

// -----------------------------------------------------------------------

// Me godoc
// @Summary Describe the current session
// @tags Session
// @Produce json
// @Success 200 {object} SessionInfo "success"
// @Failure 401 {object} ErrorResponse "error"
// @Router /auth/me [get]
func (h APIRestSessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := session.ClaimsFromContext(r.Context())
	if !ok {
		h.reply(
			w, http.StatusUnauthorized, h.errorBody(r, session.ErrUnauthenticated.Error()), "me",
		)
		return
	}
	h.reply(w, http.StatusOK, SessionInfo{
		SessionID: claims.SessionID,
		SubjectID: claims.SubjectID(),
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, "me")
}

// MeHandler Wrapper around Me
func (h APIRestSessionHandler) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Me(w, r)
	}
}

// =======================================================================
// Admission

// accessToken read the access token from its cookie, or from a bearer
// Authorization header when the cookie is absent
func (h APIRestSessionHandler) accessToken(r *http.Request) string {
	if cookie, err := r.Cookie(h.authority.AccessCookieName()); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// RequireSession admit a request only with a valid access token. The session claims
// are attached to the request context. The refresh token is never consulted.
func (h APIRestSessionHandler) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.authority.Authenticate(h.accessToken(r))
		if err != nil {
			log.WithError(err).WithFields(h.GetLogTagsForContext(r.Context())).Debug("Request not admitted")
			code, msg := errorStatus(err)
			h.reply(w, code, h.errorBody(r, msg), "require-session")
			return
		}
		next(w, r.WithContext(session.WithClaims(r.Context(), claims)))
	}
}

// RequireRole admit a request only when its session has one of the roles. Must run
// after RequireSession.
func (h APIRestSessionHandler) RequireRole(
	next http.HandlerFunc, roles ...session.Role,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := session.ClaimsFromContext(r.Context())
		if !ok {
			h.reply(
				w,
				http.StatusUnauthorized,
				h.errorBody(r, session.ErrUnauthenticated.Error()),
				"require-role",
			)
			return
		}
		if !claims.Role.OneOf(roles...) {
			log.WithFields(h.GetLogTagsForContext(r.Context())).Infof(
				"Role %s of %s not permitted", claims.Role, claims.SubjectID(),
			)
			h.reply(w, http.StatusForbidden, h.errorBody(r, "forbidden"), "require-role")
			return
		}
		next(w, r)
	}
}

// =======================================================================
// Health Checks

// Alive godoc
// @Summary For REST API liveness check
// @Description Will return success to indicate REST API module is live
// @Produce json
// @Success 200 {object} SuccessResponse "success"
// @Router /alive [get]
func (h APIRestSessionHandler) Alive(w http.ResponseWriter, r *http.Request) {
	h.reply(w, http.StatusOK, h.successBody(r), "alive")
}

// AliveHandler Wrapper around Alive
func (h APIRestSessionHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready godoc
// @Summary For REST API readiness check
// @Description Will return success if the principal store is reachable
// @Produce json
// @Success 200 {object} SuccessResponse "success"
// @Failure 500 {object} ErrorResponse "error"
// @Router /ready [get]
func (h APIRestSessionHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ready(r.Context()); err != nil {
			log.WithError(err).WithFields(h.GetLogTagsForContext(r.Context())).Error("Principal store not ready")
			h.reply(w, http.StatusInternalServerError, h.errorBody(r, "not ready"), "ready")
			return
		}
	}
	h.reply(w, http.StatusOK, h.successBody(r), "ready")
}

// ReadyHandler Wrapper around Ready
func (h APIRestSessionHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
