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

package daemon

import (
	"context"
	"log/slog"

	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/mcp"
)

// eventLogger writes registry events to the daemon log.
type eventLogger struct {
	sub  *mcp.Subscription
	done chan struct{}
}

func startEventLogger(reg *mcp.Registry, logger *slog.Logger) *eventLogger {
	l := &eventLogger{sub: reg.Subscribe(), done: make(chan struct{})}
	logger = log.WithComponent(logger, "events")
	go func() {
		defer close(l.done)
		for e := range l.sub.C {
			logEvent(logger, e)
		}
	}()
	return l
}

// Close unsubscribes and waits for the logging goroutine.
func (l *eventLogger) Close() {
	l.sub.Close()
	<-l.done
}

func logEvent(logger *slog.Logger, e mcp.Event) {
	level := slog.LevelInfo
	switch e.Type {
	case mcp.EventToolCalled:
		level = slog.LevelDebug
	case mcp.EventHealthCheckFailed, mcp.EventConnectTimeout:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String(log.EventKey, string(e.Type)),
		slog.String(log.ServerIDKey, e.ServerID),
	}
	if e.Status != "" {
		attrs = append(attrs, slog.String(log.StatusKey, string(e.Status)))
	}
	if e.Message != "" {
		attrs = append(attrs, slog.String("message", e.Message))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	logger.LogAttrs(context.Background(), level, "server event", attrs...)
}
