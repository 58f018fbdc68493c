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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(server, tool string, ts time.Time, status Status) CallRecord {
	rec := NewRecord(server, server, tool, ts)
	rec.DurationMs = 12
	rec.Request = json.RawMessage(`{"path":"/tmp/a"}`)
	rec.Status = status
	rec.Source = "test"
	if status == StatusError {
		rec.Error = &CallError{Code: "CALL_FAILED", Message: "boom"}
	} else {
		rec.Response = json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`)
	}
	return rec
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, newTestRecord("fs", "read_file", base, StatusSuccess)))
	require.NoError(t, store.Append(ctx, newTestRecord("fs", "write_file", base.Add(time.Minute), StatusError)))
	require.NoError(t, store.Append(ctx, newTestRecord("git", "log", base.Add(2*time.Minute), StatusSuccess)))

	t.Run("newest first", func(t *testing.T) {
		recs, err := store.Query(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "log", recs[0].ToolName)
		assert.Equal(t, "read_file", recs[2].ToolName)
		assert.True(t, base.Equal(recs[2].Timestamp))
		assert.JSONEq(t, `{"path":"/tmp/a"}`, string(recs[2].Request))
	})

	t.Run("filters", func(t *testing.T) {
		recs, err := store.Query(ctx, Query{ServerID: "fs"})
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		recs, err = store.Query(ctx, Query{Status: StatusError})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.NotNil(t, recs[0].Error)
		assert.Equal(t, "boom", recs[0].Error.Message)
		assert.Empty(t, recs[0].Response)

		recs, err = store.Query(ctx, Query{Since: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		recs, err = store.Query(ctx, Query{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("prune", func(t *testing.T) {
		n, err := store.Prune(ctx, base.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		recs, err := store.Query(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "git", recs[0].ServerID)
	})
}

func TestSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	storeContract(t, store)
}

func TestSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(context.Background(), BackendSQLite, path)
	require.NoError(t, err)

	require.NoError(t, store.Append(context.Background(), newTestRecord("fs", "read_file", time.Now(), StatusSuccess)))
	require.NoError(t, store.Close())

	reopened, err := Open(context.Background(), BackendSQLite, path)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CIRCUIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CIRCUIT_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.pool.Exec(ctx, `TRUNCATE call_history`)
	require.NoError(t, err)

	storeContract(t, store)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultQueryLimit, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-5))
	assert.Equal(t, 50, ClampLimit(50))
	assert.Equal(t, MaxQueryLimit, ClampLimit(999999))
}
