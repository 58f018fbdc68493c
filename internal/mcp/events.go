// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"sync"
	"time"
)

// EventType represents the type of server event.
type EventType string

const (
	// EventStatusChanged indicates an instance changed lifecycle state.
	EventStatusChanged EventType = "status_changed"
	// EventToolCalled indicates a tool call completed.
	EventToolCalled EventType = "tool_called"
	// EventHealthCheckFailed indicates a health probe failed.
	EventHealthCheckFailed EventType = "health_check_failed"
	// EventConnectTimeout indicates initialize exceeded the connect timeout.
	EventConnectTimeout EventType = "connect_timeout"
	// EventRestartScheduled indicates an automatic restart was armed.
	EventRestartScheduled EventType = "restart_scheduled"
	// EventIdleEvicted indicates an instance was stopped for inactivity.
	EventIdleEvicted EventType = "idle_evicted"
	// EventInstalled indicates a server was added.
	EventInstalled EventType = "installed"
	// EventUninstalled indicates a server was removed.
	EventUninstalled EventType = "uninstalled"
)

// Event is a lifecycle or activity notification for one instance.
type Event struct {
	Type      EventType      `json:"type"`
	ServerID  string         `json:"serverId"`
	Status    ServerStatus   `json:"status,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Bus broadcasts events to subscribers. Each subscriber sees events in
// publish order; Publish never blocks on a slow subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	// C delivers events in publish order.
	C <-chan Event

	bus    *Bus
	out    chan Event
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	out := make(chan Event)
	s := &Subscription{
		C:      out,
		bus:    b,
		out:    out,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(out)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

// Close unsubscribes. C is closed once buffered events are abandoned.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next Event
		ok := len(s.queue) > 0
		if ok {
			next = s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

// Publish stamps and fans out an event.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.enqueue(e)
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
