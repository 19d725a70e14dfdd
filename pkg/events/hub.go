/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package events implements the publish/subscribe hub that carries connection
// state, snapshot and command lifecycle events to consumers.
package events

import (
	"sync"

	"github.com/carverauto/chamberlink/pkg/logger"
)

// Handler receives a published payload. Handlers run synchronously in the
// publisher's goroutine, in subscription order. A panicking handler is
// recovered and logged; it never affects other subscribers or the publisher.
type Handler func(payload interface{})

// Subscription identifies one registered handler. Go functions are not
// comparable, so unsubscription goes through the handle instead.
type Subscription struct {
	topic string
	id    uint64
	fn    Handler
}

// Topic returns the topic the subscription was registered on.
func (s *Subscription) Topic() string {
	if s == nil {
		return ""
	}

	return s.topic
}

// Hub is a topic-keyed fan-out of synchronous handlers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID uint64
	logger logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		subs:   make(map[string][]*Subscription),
		logger: log,
	}
}

// Subscribe registers a handler for a topic. Handlers are invoked in
// subscription order.
func (h *Hub) Subscribe(topic string, fn Handler) *Subscription {
	if fn == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++

	sub := &Subscription{topic: topic, id: h.nextID, fn: fn}
	h.subs[topic] = append(h.subs[topic], sub)

	return sub
}

// Unsubscribe removes a subscription. Removing a nil or already-removed
// subscription is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.subs[sub.topic]
	for i, s := range list {
		if s.id == sub.id {
			h.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers the payload to every current subscriber of the topic,
// synchronously and in subscription order.
func (h *Hub) Publish(topic string, payload interface{}) {
	h.mu.RLock()
	list := h.subs[topic]
	snapshot := make([]*Subscription, len(list))
	copy(snapshot, list)
	h.mu.RUnlock()

	for _, sub := range snapshot {
		h.dispatch(topic, sub, payload)
	}
}

func (h *Hub) dispatch(topic string, sub *Subscription, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Str("topic", topic).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	sub.fn(payload)
}
