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
	"fmt"
	"time"
)

// Store persists call records.
type Store interface {
	// Append stores one record.
	Append(ctx context.Context, rec CallRecord) error

	// Query returns matching records, newest first.
	Query(ctx context.Context, q Query) ([]CallRecord, error)

	// Prune deletes records older than before and returns how many.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Open creates the store for backend. For sqlite, dsn is a file path or
// ":memory:"; for postgres it is a connection string.
func Open(ctx context.Context, backend, dsn string) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLiteStore(ctx, dsn)
	case BackendPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

// nullable returns nil for an empty payload so the column stores NULL.
func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// where renders the filter clause for q. ph formats the nth placeholder and
// ts converts a time bound to the column's representation.
func where(q Query, ph func(n int) string, ts func(time.Time) any) (string, []any) {
	var (
		clause string
		args   []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		if clause == "" {
			clause = " WHERE "
		} else {
			clause += " AND "
		}
		clause += fmt.Sprintf(cond, ph(len(args)))
	}

	if q.ServerID != "" {
		add("server_id = %s", q.ServerID)
	}
	if q.ToolName != "" {
		add("tool_name = %s", q.ToolName)
	}
	if q.Status != "" {
		add("status = %s", string(q.Status))
	}
	if !q.Since.IsZero() {
		add("ts >= %s", ts(q.Since))
	}
	if !q.Until.IsZero() {
		add("ts < %s", ts(q.Until))
	}
	return clause, args
}
