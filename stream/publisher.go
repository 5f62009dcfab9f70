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

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alwitt/fundstream/core"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// Publisher delivers a broadcast to the registries which hold the subscribers
type Publisher interface {
	// Publish broadcast an event on a topic
	Publish(ctxt context.Context, topic string, event Event) error
}

// RelayMessage is a broadcast carried between instances
type RelayMessage struct {
	// Origin is the instance which published the broadcast
	Origin string `json:"origin" validate:"required"`
	// Topic is the broadcast topic
	Topic string `json:"topic" validate:"required"`
	// Event is the broadcast event
	Event Event `json:"event" validate:"required"`
}

// String toString for RelayMessage
func (m RelayMessage) String() string {
	return fmt.Sprintf("%s@%s:%s", m.Event, m.Topic, m.Origin)
}

// ==============================================================================

// localPublisherImpl implements Publisher with direct in process fan-out
type localPublisherImpl struct {
	goutils.Component
	registry Registry
	validate *validator.Validate
}

// GetLocalPublisher define a Publisher writing straight into the local registry
func GetLocalPublisher(registry Registry, instance string) (Publisher, error) {
	logTags := log.Fields{
		"module":    "stream",
		"component": "local-publisher",
		"instance":  instance,
	}
	return &localPublisherImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		registry: registry,
		validate: validator.New(),
	}, nil
}

// Publish broadcast an event on a topic
func (p *localPublisherImpl) Publish(ctxt context.Context, topic string, event Event) error {
	localLogTags := p.GetLogTagsForContext(ctxt)
	msg := RelayMessage{Origin: "local", Topic: topic, Event: event}
	if err := p.validate.Struct(&msg); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Broadcast parameter invalid")
		return err
	}
	log.WithFields(localLogTags).Debugf("Broadcasting %s", msg)
	p.registry.Broadcast(topic, event)
	return nil
}

// ==============================================================================

// natsPublisherImpl implements Publisher by publishing on a NATS subject
type natsPublisherImpl struct {
	goutils.Component
	nats     *core.NatsClient
	subject  string
	instance string
	validate *validator.Validate
}

// GetNATSPublisher define a Publisher relaying broadcasts through NATS.
//
// Every instance runs a RelayReceiver on the same subject, so the broadcast reaches
// the subscribers of every instance, including this one.
func GetNATSPublisher(natsClient *core.NatsClient, subject, instance string) (Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("no relay subject given")
	}
	logTags := log.Fields{
		"module":    "stream",
		"component": "nats-publisher",
		"instance":  instance,
		"subject":   subject,
	}
	return &natsPublisherImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		nats:     natsClient,
		subject:  subject,
		instance: instance,
		validate: validator.New(),
	}, nil
}

// Publish broadcast an event on a topic
func (p *natsPublisherImpl) Publish(ctxt context.Context, topic string, event Event) error {
	localLogTags := p.GetLogTagsForContext(ctxt)
	msg := RelayMessage{Origin: p.instance, Topic: topic, Event: event}
	if err := p.validate.Struct(&msg); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Broadcast parameter invalid")
		return err
	}
	payload, err := json.Marshal(&msg)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Unable to serialize %s", msg)
		return err
	}
	log.WithFields(localLogTags).Debugf("Sending %s on %s", msg, p.subject)
	if err := p.nats.NATs().Publish(p.subject, payload); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Failed to send %s on %s", msg, p.subject)
		return err
	}
	return nil
}

// ==============================================================================

// RelayReceiver replays broadcasts received from NATS into the local registry
type RelayReceiver interface {
	// Start begin receiving broadcasts. Stops when the receiver's context ends.
	Start(wg *sync.WaitGroup) error
}

// relayReceiverImpl implements RelayReceiver
type relayReceiverImpl struct {
	goutils.Component
	nats         *core.NatsClient
	subject      string
	registry     Registry
	subscribed   bool
	subscription *nats.Subscription
	lock         sync.Mutex
	validate     *validator.Validate
	ctxt         context.Context
}

// GetRelayReceiver define a RelayReceiver
func GetRelayReceiver(
	ctxt context.Context, natsClient *core.NatsClient, subject string, registry Registry,
) (RelayReceiver, error) {
	if subject == "" {
		return nil, fmt.Errorf("no relay subject given")
	}
	logTags := log.Fields{
		"module":    "stream",
		"component": "relay-receiver",
		"subject":   subject,
	}
	return &relayReceiverImpl{
		Component: goutils.Component{LogTags: logTags},
		nats:      natsClient,
		subject:   subject,
		registry:  registry,
		validate:  validator.New(),
		ctxt:      ctxt,
	}, nil
}

// Start begin receiving broadcasts
func (r *relayReceiverImpl) Start(wg *sync.WaitGroup) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.subscribed {
		return fmt.Errorf("already subscribed to %s", r.subject)
	}
	r.subscribed = true
	sub, err := r.nats.NATs().Subscribe(r.subject, func(natsMsg *nats.Msg) {
		var msg RelayMessage
		if err := json.Unmarshal(natsMsg.Data, &msg); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Failed to read relay message: %s", natsMsg.Data,
			)
			return
		}
		if err := r.validate.Struct(&msg); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Failed to validate relay message: %s", natsMsg.Data,
			)
			return
		}
		log.WithFields(r.LogTags).Debugf("Received %s", msg)
		r.registry.Broadcast(msg.Topic, msg.Event)
	})
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Failed to subscribe to %s", r.subject)
		return err
	}
	r.subscription = sub
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-r.ctxt.Done()
		if err := r.subscription.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf(
				"Error occurred when unsubscribing from %s", r.subject,
			)
		}
		log.WithFields(r.LogTags).Infof("Unsubscribed from %s", r.subject)
	}()
	return nil
}
