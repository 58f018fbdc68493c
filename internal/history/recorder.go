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
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Store receives filtered records.
	Store Store

	// Filter is applied before every write. Defaults to standard redaction.
	Filter *Filter

	// QueueSize bounds pending records. Defaults to 256.
	QueueSize int

	// Retention deletes records older than this. Zero disables pruning.
	Retention time.Duration

	// PruneInterval is how often the retention sweep runs. Defaults to 1h.
	PruneInterval time.Duration

	// WriteTimeout bounds each store write. Defaults to 5s.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Recorder persists call records from a background worker so that
// recording never delays or fails a call.
type Recorder struct {
	store        Store
	filter       *Filter
	retention    time.Duration
	pruneEvery   time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	queue chan CallRecord

	mu     sync.RWMutex
	closed bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRecorder starts the worker.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Filter == nil {
		cfg.Filter = NewFilter(nil, 0)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Recorder{
		store:        cfg.Store,
		filter:       cfg.Filter,
		retention:    cfg.Retention,
		pruneEvery:   cfg.PruneInterval,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger.With("component", "history"),
		queue:        make(chan CallRecord, cfg.QueueSize),
		stop:         make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues rec without blocking. A full queue drops the record.
func (r *Recorder) Record(rec CallRecord) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		recordsDropped.WithLabelValues("closed").Inc()
		return
	}

	select {
	case r.queue <- rec:
		queueDepth.Inc()
	default:
		recordsDropped.WithLabelValues("queue_full").Inc()
		r.logger.Warn("history queue full, dropping call record",
			"server_id", rec.ServerID,
			"tool", rec.ToolName)
	}
}

// Query reads records from the store.
func (r *Recorder) Query(ctx context.Context, q Query) ([]CallRecord, error) {
	return r.store.Query(ctx, q)
}

func (r *Recorder) run() {
	defer r.wg.Done()

	var prune <-chan time.Time
	if r.retention > 0 {
		r.prune()
		ticker := time.NewTicker(r.pruneEvery)
		defer ticker.Stop()
		prune = ticker.C
	}

	for {
		select {
		case rec := <-r.queue:
			queueDepth.Dec()
			r.write(rec)
		case <-prune:
			r.prune()
		case <-r.stop:
			for {
				select {
				case rec := <-r.queue:
					queueDepth.Dec()
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec CallRecord) {
	defer func() {
		if p := recover(); p != nil {
			recordsDropped.WithLabelValues("store_error").Inc()
			r.logger.Error("panic while recording call", "panic", p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.Append(ctx, r.filter.Apply(rec)); err != nil {
		recordsDropped.WithLabelValues("store_error").Inc()
		r.logger.Error("failed to record call",
			"server_id", rec.ServerID,
			"tool", rec.ToolName,
			"error", err)
		return
	}
	recordsWritten.Inc()
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := r.store.Prune(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Error("failed to prune call history", "error", err)
		return
	}
	if n > 0 {
		recordsPruned.Add(float64(n))
		r.logger.Info("pruned call history", "deleted", n)
	}
}

// Close drains queued records and stops the worker. The store is left
// open for the caller to close.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	r.wg.Wait()
}
