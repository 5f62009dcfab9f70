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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alwitt/fundstream/common"
	"github.com/alwitt/fundstream/metrics"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// Subscription is one live push connection bound to one topic
type Subscription struct {
	// Topic is the topic the connection is bound to
	Topic string
	// EstablishedAt is when the subscription was admitted
	EstablishedAt time.Time
	conn          Connection
	heartbeat     common.IntervalTimer
}

// Registry owns the live push connections, grouped by topic
type Registry interface {
	// Subscribe register a connection under a topic, send the open frame, and start
	// the connection's heartbeat. The caller must have already admitted the client.
	Subscribe(topic string, conn Connection) (*Subscription, error)
	// Unsubscribe remove a connection from a topic, stop its heartbeat, and close it.
	// Unknown or already removed connections are ignored.
	Unsubscribe(topic string, conn Connection)
	// Broadcast write an event to every subscriber of a topic, and a global scoped copy
	// of it to every subscriber of the global topic. Failed subscribers are pruned.
	Broadcast(topic string, event Event)
	// SubscriberCount number of subscribers of a topic
	SubscriberCount(topic string) int
	// Topics list of topics with at least one subscriber
	Topics() []string
	// Close remove and close every subscription
	Close()
}

// registryImpl implements Registry
type registryImpl struct {
	goutils.Component
	lock              sync.RWMutex
	topics            map[string]map[Connection]*Subscription
	closed            bool
	heartbeatInterval time.Duration
	rootContext       context.Context
	wg                *sync.WaitGroup
	metrics           *metrics.Collector
}

// GetRegistry define a new Registry
//
// Heartbeat timers run under the root context, and are tracked by the wait group.
func GetRegistry(
	rootCtxt context.Context,
	instance string,
	heartbeatInterval time.Duration,
	collector *metrics.Collector,
	wg *sync.WaitGroup,
) (Registry, error) {
	if heartbeatInterval <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive: %s", heartbeatInterval)
	}
	logTags := log.Fields{
		"module":    "stream",
		"component": "registry",
		"instance":  instance,
	}
	return &registryImpl{
		Component:         goutils.Component{LogTags: logTags},
		topics:            make(map[string]map[Connection]*Subscription),
		heartbeatInterval: heartbeatInterval,
		rootContext:       rootCtxt,
		wg:                wg,
		metrics:           collector,
	}, nil
}

func subscriptionKind(topic string) string {
	if topic == GlobalTopic {
		return metrics.KindGlobal
	}
	return metrics.KindTopic
}

// Subscribe register a connection under a topic
func (r *registryImpl) Subscribe(topic string, conn Connection) (*Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("no topic given")
	}
	if conn == nil {
		return nil, fmt.Errorf("no connection given")
	}

	r.lock.RLock()
	_, duplicate := r.topics[topic][conn]
	closed := r.closed
	r.lock.RUnlock()
	if closed {
		conn.Close()
		return nil, ErrRegistryClosed
	}
	if duplicate {
		return nil, fmt.Errorf("connection already subscribed to '%s'", topic)
	}

	// The open frame goes out before registration so it always precedes any event
	if err := conn.WriteFrame(openFrame); err != nil {
		log.WithError(err).WithFields(r.LogTags).Debugf("Open frame failed on '%s'", topic)
		conn.Close()
		return nil, err
	}

	timer, err := common.GetIntervalTimerInstance(
		fmt.Sprintf("heartbeat/%s", topic), r.rootContext, r.wg,
	)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sub := &Subscription{
		Topic:         topic,
		EstablishedAt: time.Now().UTC(),
		conn:          conn,
		heartbeat:     timer,
	}

	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		conn.Close()
		return nil, ErrRegistryClosed
	}
	subscribers, ok := r.topics[topic]
	if !ok {
		subscribers = make(map[Connection]*Subscription)
		r.topics[topic] = subscribers
	}
	if _, ok := subscribers[conn]; ok {
		r.lock.Unlock()
		return nil, fmt.Errorf("connection already subscribed to '%s'", topic)
	}
	subscribers[conn] = sub
	count := len(subscribers)
	r.lock.Unlock()

	r.metrics.SubscriptionOpened(subscriptionKind(topic))
	log.WithFields(r.LogTags).Debugf("New subscriber on '%s' (total %d)", topic, count)

	beat := func() error {
		err := conn.WriteFrame(heartbeatFrame(time.Now()))
		r.metrics.FrameWritten(EventHeartbeat, err == nil)
		if err != nil {
			r.Unsubscribe(topic, conn)
			return err
		}
		return nil
	}
	// Start fails only when the subscription was already torn down
	if err := timer.Start(r.heartbeatInterval, beat, false); err != nil {
		log.WithError(err).WithFields(r.LogTags).Debugf("Heartbeat not started on '%s'", topic)
	}
	return sub, nil
}

// Unsubscribe remove a connection from a topic
func (r *registryImpl) Unsubscribe(topic string, conn Connection) {
	r.lock.Lock()
	subscribers, ok := r.topics[topic]
	if !ok {
		r.lock.Unlock()
		return
	}
	sub, ok := subscribers[conn]
	if !ok {
		r.lock.Unlock()
		return
	}
	delete(subscribers, conn)
	if len(subscribers) == 0 {
		delete(r.topics, topic)
	}
	_ = sub.heartbeat.Stop()
	remaining := len(subscribers)
	r.lock.Unlock()

	conn.Close()
	r.metrics.SubscriptionClosed(subscriptionKind(topic))
	log.WithFields(r.LogTags).Debugf("Removed subscriber on '%s' (remaining %d)", topic, remaining)
}

// snapshot copy the subscribers of a topic
func (r *registryImpl) snapshot(topic string) []*Subscription {
	r.lock.RLock()
	defer r.lock.RUnlock()
	subscribers := r.topics[topic]
	result := make([]*Subscription, 0, len(subscribers))
	for _, sub := range subscribers {
		result = append(result, sub)
	}
	return result
}

// deliver write a frame to each subscriber, pruning the ones which fail
func (r *registryImpl) deliver(eventName string, targets []*Subscription, frame []byte) {
	for _, sub := range targets {
		err := sub.conn.WriteFrame(frame)
		r.metrics.FrameWritten(eventName, err == nil)
		if err != nil {
			log.WithError(err).WithFields(r.LogTags).Debugf(
				"Dropping subscriber on '%s' after write failure", sub.Topic,
			)
			r.Unsubscribe(sub.Topic, sub.conn)
		}
	}
}

// Broadcast write an event to every subscriber of a topic and of the global topic
func (r *registryImpl) Broadcast(topic string, event Event) {
	if topic == "" || event.Name == "" {
		log.WithFields(r.LogTags).Errorf("Ignoring broadcast of %s on '%s'", event, topic)
		return
	}

	if topic != GlobalTopic {
		if targets := r.snapshot(topic); len(targets) > 0 {
			frame, err := event.encode()
			if err != nil {
				log.WithError(err).WithFields(r.LogTags).Errorf("Unable to encode %s", event)
				return
			}
			log.WithFields(r.LogTags).Debugf(
				"Broadcasting %s to %d subscribers of '%s'", event, len(targets), topic,
			)
			r.deliver(event.Name, targets, frame)
		}
	}

	if globals := r.snapshot(GlobalTopic); len(globals) > 0 {
		frame, err := event.globalCopy().encode()
		if err != nil {
			log.WithError(err).WithFields(r.LogTags).Errorf("Unable to encode global %s", event)
			return
		}
		log.WithFields(r.LogTags).Debugf(
			"Broadcasting %s to %d global subscribers", event, len(globals),
		)
		r.deliver(event.Name, globals, frame)
	}
}

// SubscriberCount number of subscribers of a topic
func (r *registryImpl) SubscriberCount(topic string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.topics[topic])
}

// Topics list of topics with at least one subscriber
func (r *registryImpl) Topics() []string {
	r.lock.RLock()
	result := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		result = append(result, topic)
	}
	r.lock.RUnlock()
	sort.Strings(result)
	return result
}

// Close remove and close every subscription
func (r *registryImpl) Close() {
	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return
	}
	r.closed = true
	all := make([]*Subscription, 0)
	for _, subscribers := range r.topics {
		for _, sub := range subscribers {
			_ = sub.heartbeat.Stop()
			all = append(all, sub)
		}
	}
	r.topics = make(map[string]map[Connection]*Subscription)
	r.lock.Unlock()

	for _, sub := range all {
		sub.conn.Close()
		r.metrics.SubscriptionClosed(subscriptionKind(sub.Topic))
	}
	log.WithFields(r.LogTags).Infof("Closed %d subscriptions", len(all))
}
