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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_tool_calls_total",
			Help: "Total tool calls by server and outcome",
		},
		[]string{"server_id", "status"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "circuit_tool_call_duration_seconds",
			Help:    "Tool call latency by server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server_id"},
	)

	serverSpawns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_server_spawns_total",
			Help: "Total subprocess spawns by server",
		},
		[]string{"server_id"},
	)

	serverRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_server_restarts_total",
			Help: "Automatic restarts by server and trigger",
		},
		[]string{"server_id", "reason"},
	)

	healthCheckFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_health_check_failures_total",
			Help: "Failed health probes by server",
		},
		[]string{"server_id"},
	)

	idleEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_idle_evictions_total",
			Help: "Instances stopped for inactivity",
		},
		[]string{"server_id"},
	)

	toolCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_tool_cache_lookups_total",
			Help: "Tool cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	serversByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_servers",
			Help: "Instances by lifecycle status",
		},
		[]string{"status"},
	)
)

// recordStatusChange moves one instance between status gauges.
func recordStatusChange(from, to ServerStatus) {
	if from == to {
		return
	}
	if from != "" {
		serversByStatus.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		serversByStatus.WithLabelValues(string(to)).Inc()
	}
}
