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
	"time"

	"github.com/tombee/circuit/internal/log"
)

// armIdle creates the idle timer for generation gen. The caller holds
// inst.mu.
func (r *Registry) armIdle(inst *instance, gen uint64) *time.Timer {
	return time.AfterFunc(r.timers.IdleTimeout, func() {
		r.onIdle(inst, gen)
	})
}

// touch records activity and pushes the idle deadline out.
func (inst *instance) touch(timeout time.Duration) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.lastActivity = time.Now()
	if inst.idleTimer != nil {
		inst.idleTimer.Reset(timeout)
	}
}

// onIdle stops the instance if it is still the generation that armed the
// timer, has no call in flight and has been quiet for the full timeout.
func (r *Registry) onIdle(inst *instance, gen uint64) {
	inst.opMu.Lock()
	defer inst.opMu.Unlock()

	inst.mu.Lock()
	if inst.gen != gen || inst.status != StatusRunning || inst.idleTimer == nil {
		inst.mu.Unlock()
		return
	}
	if inst.inflight > 0 {
		inst.idleTimer.Reset(r.timers.IdleTimeout)
		inst.mu.Unlock()
		return
	}
	if quiet := time.Since(inst.lastActivity); quiet < r.timers.IdleTimeout {
		inst.idleTimer.Reset(r.timers.IdleTimeout - quiet)
		inst.mu.Unlock()
		return
	}
	inst.mu.Unlock()

	log.WithServer(r.logger, inst.id).Info("stopping idle server",
		"idle_timeout", r.timers.IdleTimeout.String())
	idleEvictions.WithLabelValues(inst.id).Inc()
	r.stopLocked(inst)
	r.events.Publish(Event{
		Type:     EventIdleEvicted,
		ServerID: inst.id,
		Status:   StatusStopped,
	})
}
