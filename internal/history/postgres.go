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

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps call history in PostgreSQL, for setups that share
// one history across machines.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS call_history (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			server_id TEXT NOT NULL,
			server_name TEXT NOT NULL,
			method TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			request JSONB,
			response JSONB,
			error_code TEXT,
			error_message TEXT,
			error_data JSONB,
			status TEXT NOT NULL,
			source TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_call_history_ts ON call_history(ts);
		CREATE INDEX IF NOT EXISTS idx_call_history_server ON call_history(server_id, ts);
	`)
	return err
}

// Append stores one record.
func (s *PostgresStore) Append(ctx context.Context, rec CallRecord) error {
	var code, msg, data any
	if rec.Error != nil {
		code, msg, data = rec.Error.Code, rec.Error.Message, nullable(rec.Error.Data)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_history (id, ts, duration_ms, server_id, server_name, method, tool_name,
			request, response, error_code, error_message, error_data, status, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9::jsonb,$10,$11,$12::jsonb,$13,$14)
	`, rec.ID, rec.Timestamp, rec.DurationMs, rec.ServerID, rec.ServerName, rec.Method, rec.ToolName,
		nullable(rec.Request), nullable(rec.Response), code, msg, data, string(rec.Status), rec.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]CallRecord, error) {
	clause, args := where(q,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(t time.Time) any { return t },
	)
	args = append(args, ClampLimit(q.Limit))

	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, duration_ms, server_id, server_name, method, tool_name,
			request::text, response::text, error_code, error_message, error_data::text, status, COALESCE(source, '')
		FROM call_history`+clause+fmt.Sprintf(`
		ORDER BY ts DESC
		LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer rows.Close()

	records := []CallRecord{}
	for rows.Next() {
		var (
			rec             CallRecord
			req, resp, data *string
			code, msg       *string
			status          string
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.DurationMs, &rec.ServerID, &rec.ServerName, &rec.Method, &rec.ToolName,
			&req, &resp, &code, &msg, &data, &status, &rec.Source); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Status = Status(status)
		if req != nil {
			rec.Request = []byte(*req)
		}
		if resp != nil {
			rec.Response = []byte(*resp)
		}
		if code != nil {
			rec.Error = &CallError{Code: *code}
			if msg != nil {
				rec.Error.Message = *msg
			}
			if data != nil {
				rec.Error.Data = []byte(*data)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes records older than before.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM call_history WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune call history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
