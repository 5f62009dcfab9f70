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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/fundstream/session"
	"github.com/alwitt/fundstream/stream"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// topicRule is the validation rule of a group topic
const topicRule = "required,max=128,alphanumunicode|uuid"

// APIRestStreamHandler REST handler for the event stream endpoints
type APIRestStreamHandler struct {
	APIRestHandler
	registry    stream.Registry
	publisher   stream.Publisher
	validate    *validator.Validate
	baseContext context.Context
}

// GetAPIRestStreamHandler define APIRestStreamHandler
func GetAPIRestStreamHandler(
	baseContext context.Context,
	registry stream.Registry,
	publisher stream.Publisher,
	httpConfig *common.HTTPConfig,
) (APIRestStreamHandler, error) {
	if registry == nil || publisher == nil {
		return APIRestStreamHandler{}, fmt.Errorf("stream handler needs a registry and a publisher")
	}
	logTags := log.Fields{
		"module":    "apis",
		"component": "stream",
	}
	return APIRestStreamHandler{
		APIRestHandler: getAPIRestHandler(logTags, httpConfig),
		registry:       registry,
		publisher:      publisher,
		validate:       validator.New(),
		baseContext:    baseContext,
	}, nil
}

// readTopic fetch and validate the group topic path parameter
func (h APIRestStreamHandler) readTopic(r *http.Request) (string, error) {
	topic, ok := mux.Vars(r)["topic"]
	if !ok {
		return "", fmt.Errorf("no topic provided")
	}
	if topic == stream.GlobalTopic {
		return topic, nil
	}
	if err := h.validate.Var(topic, topicRule); err != nil {
		return "", err
	}
	return topic, nil
}

// =======================================================================
// Subscription

// Subscribe godoc
// @Summary Establish an event stream
// @Description Establish a server sent event stream on a group topic. This is a long
// lived stream, closed on client disconnect, write failure, or server shutdown.
// @tags Stream
// @Produce text/event-stream
// @Param topic path string true "Group topic"
// @Success 200 {string} string "event stream"
// @Failure 400 {object} ErrorResponse "error"
// @Failure 401 {object} ErrorResponse "error"
// @Failure 500 {object} ErrorResponse "error"
// @Failure 503 {object} ErrorResponse "error"
// @Router /stream/{topic} [get]
func (h APIRestStreamHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	topic, err := h.readTopic(r)
	if err != nil {
		log.WithError(err).WithFields(h.GetLogTagsForContext(r.Context())).Error("Invalid stream topic")
		h.reply(w, http.StatusBadRequest, h.errorBody(r, "invalid topic"), "subscribe")
		return
	}
	h.streamTopic(w, r, topic)
}

// SubscribeHandler Wrapper around Subscribe
func (h APIRestStreamHandler) SubscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Subscribe(w, r)
	}
}

// SubscribeGlobal godoc
// @Summary Establish the global event stream
// @Description Establish a server sent event stream receiving a copy of the events of
// every group topic.
// @tags Stream
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Failure 401 {object} ErrorResponse "error"
// @Failure 500 {object} ErrorResponse "error"
// @Router /stream/global [get]
func (h APIRestStreamHandler) SubscribeGlobal(w http.ResponseWriter, r *http.Request) {
	h.streamTopic(w, r, stream.GlobalTopic)
}

// SubscribeGlobalHandler Wrapper around SubscribeGlobal
func (h APIRestStreamHandler) SubscribeGlobalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SubscribeGlobal(w, r)
	}
}

// streamTopic hold an event stream open on a topic until the client leaves, the
// connection fails, or the server stops
func (h APIRestStreamHandler) streamTopic(w http.ResponseWriter, r *http.Request, topic string) {
	logTags := h.GetLogTagsForContext(r.Context())
	logTags["topic"] = topic
	if claims, ok := session.ClaimsFromContext(r.Context()); ok {
		logTags["subject"] = claims.SubjectID()
	}

	conn, err := stream.NewHTTPConnection(w)
	if err != nil {
		msg := "Streaming not supported"
		log.WithError(err).WithFields(logTags).Error(msg)
		h.reply(w, http.StatusInternalServerError, h.errorBody(r, msg), "subscribe")
		return
	}

	// Send support headers for SSE first
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("X-Accel-Buffering", "no")

	if _, err := h.registry.Subscribe(topic, conn); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to subscribe")
		h.reply(w, http.StatusServiceUnavailable, h.errorBody(r, "stream unavailable"), "subscribe")
		return
	}
	defer h.registry.Unsubscribe(topic, conn)
	log.WithFields(logTags).Info("Event stream open")

	select {
	case <-h.baseContext.Done():
		log.WithFields(logTags).Info("Terminating event stream on server stop")
	case <-r.Context().Done():
		log.WithFields(logTags).Info("Terminating event stream on request end")
	case <-conn.Done():
		log.WithFields(logTags).Info("Terminating event stream on connection failure")
	}
}

// =======================================================================
// Notification

// Notify godoc
// @Summary Broadcast a dashboard invalidation
// @Description Broadcast a dashboard event to the subscribers of a group topic, and to
// the global subscribers. Restricted to administrators and mentors.
// @tags Stream
// @Accept json
// @Produce json
// @Param topic path string true "Numeric group topic"
// @Param fields body object false "Extra event fields"
// @Success 200 {object} SuccessResponse "success"
// @Failure 400 {object} ErrorResponse "error"
// @Failure 401 {object} ErrorResponse "error"
// @Failure 403 {object} ErrorResponse "error"
// @Failure 500 {object} ErrorResponse "error"
// @Router /stream/{topic}/notify [post]
func (h APIRestStreamHandler) Notify(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		h.reply(w, respCode, respBody, "notify")
	}()

	topic, err := h.readTopic(r)
	if err != nil || topic == stream.GlobalTopic {
		msg := "invalid topic"
		log.WithError(err).WithFields(localLogTags).Error("Invalid notify topic")
		respCode = http.StatusBadRequest
		respBody = h.errorBody(r, msg)
		return
	}
	groupID, err := strconv.ParseInt(topic, 10, 64)
	if err != nil {
		msg := "topic is not a group ID"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.errorBody(r, msg)
		return
	}

	var extra map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&extra); err != nil && !errors.Is(err, io.EOF) {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.errorBody(r, msg)
		return
	}
	// Only the registry sets the scope
	delete(extra, stream.ScopeField)

	// "042" and "42" name the same group
	topic = strconv.FormatInt(groupID, 10)
	event := stream.NewDashboardEvent(groupID, extra)
	if err := h.publisher.Publish(r.Context(), topic, event); err != nil {
		msg := fmt.Sprintf("Unable to broadcast on %s", topic)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.errorBody(r, "internal error")
		return
	}

	respCode = http.StatusOK
	respBody = h.successBody(r)
}

// NotifyHandler Wrapper around Notify
func (h APIRestStreamHandler) NotifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Notify(w, r)
	}
}
