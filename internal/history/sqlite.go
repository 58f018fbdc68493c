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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps call history in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
// ":memory:" creates a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := path
	if path != ":memory:" {
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids
	// writer contention on files.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS call_history (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			server_id TEXT NOT NULL,
			server_name TEXT NOT NULL,
			method TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			request TEXT,
			response TEXT,
			error_code TEXT,
			error_message TEXT,
			error_data TEXT,
			status TEXT NOT NULL,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_ts ON call_history(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_call_history_server ON call_history(server_id, ts)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Append stores one record.
func (s *SQLiteStore) Append(ctx context.Context, rec CallRecord) error {
	var code, msg, data any
	if rec.Error != nil {
		code, msg, data = rec.Error.Code, rec.Error.Message, nullable(rec.Error.Data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_history (id, ts, duration_ms, server_id, server_name, method, tool_name,
			request, response, error_code, error_message, error_data, status, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UnixNano(), rec.DurationMs, rec.ServerID, rec.ServerName, rec.Method, rec.ToolName,
		nullable(rec.Request), nullable(rec.Response), code, msg, data, string(rec.Status), rec.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]CallRecord, error) {
	clause, args := where(q,
		func(int) string { return "?" },
		func(t time.Time) any { return t.UnixNano() },
	)
	args = append(args, ClampLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, duration_ms, server_id, server_name, method, tool_name,
			request, response, error_code, error_message, error_data, status, source
		FROM call_history`+clause+`
		ORDER BY ts DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer rows.Close()

	records := []CallRecord{}
	for rows.Next() {
		var (
			rec                  CallRecord
			ts                   int64
			req, resp            sql.NullString
			code, msg, data, src sql.NullString
			status               string
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.DurationMs, &rec.ServerID, &rec.ServerName, &rec.Method, &rec.ToolName,
			&req, &resp, &code, &msg, &data, &status, &src); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		rec.Status = Status(status)
		rec.Source = src.String
		if req.Valid {
			rec.Request = json.RawMessage(req.String)
		}
		if resp.Valid {
			rec.Response = json.RawMessage(resp.String)
		}
		if code.Valid {
			rec.Error = &CallError{Code: code.String, Message: msg.String}
			if data.Valid {
				rec.Error.Data = json.RawMessage(data.String)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes records older than before.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_history WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune call history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
