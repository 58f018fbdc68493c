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
	"context"
	"fmt"
	"time"

	"github.com/tombee/circuit/internal/log"
)

// healthLoop probes the instance every HealthInterval until stop closes.
func (r *Registry) healthLoop(inst *instance, gen uint64, client *Client, stop <-chan struct{}) {
	ticker := time.NewTicker(r.timers.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.life.Done():
			return
		case <-ticker.C:
			r.probe(inst, gen, client)
		}
	}
}

// probe lists tools as a liveness check. A failure takes the same error
// path as a failed start, including restart scheduling.
func (r *Registry) probe(inst *instance, gen uint64, client *Client) {
	ctx, cancel := context.WithTimeout(r.life, r.timers.HealthTimeout)
	tools, err := client.FetchTools(ctx)
	cancel()

	if err != nil {
		if r.life.Err() != nil {
			return
		}
		inst.mu.RLock()
		stale := inst.gen != gen
		inst.mu.RUnlock()
		if stale {
			return
		}

		log.WithServer(r.logger, inst.id).Warn("health check failed", "error", err)
		healthCheckFailures.WithLabelValues(inst.id).Inc()
		r.events.Publish(Event{
			Type:     EventHealthCheckFailed,
			ServerID: inst.id,
			Message:  err.Error(),
		})

		inst.opMu.Lock()
		defer inst.opMu.Unlock()
		r.failLocked(inst, gen, fmt.Errorf("health check failed: %w", err), r.timers.ErrorRestartDelay, "health")
		return
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.gen != gen {
		return
	}
	inst.lastHealth = time.Now()
	inst.errMsg = ""
	inst.tools = tools
}
