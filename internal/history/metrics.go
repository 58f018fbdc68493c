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

package history

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuit_history_records_written_total",
		Help: "Call records persisted",
	})

	recordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_history_records_dropped_total",
			Help: "Call records not persisted, by reason (queue_full, store_error, closed)",
		},
		[]string{"reason"},
	)

	recordsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circuit_history_records_pruned_total",
		Help: "Call records deleted by the retention sweep",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circuit_history_queue_depth",
		Help: "Call records waiting to be persisted",
	})
)
