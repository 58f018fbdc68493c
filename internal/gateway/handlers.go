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


package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/circuit/internal/history"
	"github.com/tombee/circuit/internal/httputil"
	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/mcp"
)

// Request limits.
const (
	MaxToolNameLength = 256
	DefaultLogLines   = 100
	MaxLogLines       = 10000
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	// Servers counts instances by status.
	Servers map[mcp.ServerStatus]int `json:"servers"`
}

// ToolsResponse is the body of GET /mcp/tools.
type ToolsResponse struct {
	Tools []mcp.ServerTool `json:"tools"`
}

// CallRequest is the body of POST /mcp/call.
type CallRequest struct {
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
	ServerID  string         `json:"serverId,omitempty"`
}

// StatusEntry is one value of GET /mcp/status.
type StatusEntry struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    mcp.ServerStatus `json:"status"`
	Uptime    int64            `json:"uptime"`
	Stats     mcp.Stats        `json:"stats"`
	ToolCount int              `json:"toolCount"`
	HasError  bool             `json:"hasError"`
}

// LogsResponse is the body of GET /mcp/logs/{serverId}.
type LogsResponse struct {
	Logs []string `json:"logs"`
}

// LifecycleResponse is the body of POST /mcp/servers/{serverId}/{action}.
type LifecycleResponse struct {
	Status mcp.ServerStatus `json:"status"`
}

// HistoryResponse is the body of GET /mcp/history.
type HistoryResponse struct {
	Records []history.CallRecord `json:"records"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   s.cfg.Version,
		Servers:   s.cfg.Registry.Counts(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools := s.cfg.Registry.ListAllTools(r.Context())
	if tools == nil {
		tools = []mcp.ServerTool{}
	}
	httputil.WriteJSON(w, http.StatusOK, ToolsResponse{Tools: tools})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := httputil.DecodeJSON(w, r, s.cfg.MaxBodyBytes, &raw); err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, msg := parseCallRequest(raw)
	if msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	id := req.ServerID
	if id == "" {
		found, ok := s.cfg.Registry.FindServerByTool(r.Context(), req.ToolName)
		if !ok {
			s.writeRegistryError(w, mcp.ErrToolNotFound(req.ToolName), "tool call failed", log.ToolKey, req.ToolName)
			return
		}
		id = found
	}

	result, err := s.cfg.Registry.CallTool(r.Context(), id, req.ToolName, req.Arguments, mcp.CallOptions{Source: "gateway"})
	if err != nil {
		s.writeRegistryError(w, err, "tool call failed", log.ServerIDKey, id, log.ToolKey, req.ToolName)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// parseCallRequest checks field types strictly. It returns a client-safe
// message when the request is invalid.
func parseCallRequest(raw map[string]json.RawMessage) (CallRequest, string) {
	var req CallRequest
	if raw == nil {
		return req, "request body must be a JSON object"
	}

	name, ok := raw["toolName"]
	if !ok || json.Unmarshal(name, &req.ToolName) != nil || req.ToolName == "" {
		return req, "toolName must be a non-empty string"
	}
	if len(req.ToolName) > MaxToolNameLength {
		return req, "toolName is too long"
	}

	if sid, ok := raw["serverId"]; ok && !isNull(sid) {
		if json.Unmarshal(sid, &req.ServerID) != nil || !mcp.ValidID(req.ServerID) {
			return req, "serverId must be a valid server id"
		}
	}

	if args, ok := raw["arguments"]; ok && !isNull(args) {
		trimmed := bytes.TrimSpace(args)
		if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &req.Arguments) != nil {
			return req, "arguments must be an object"
		}
	}
	return req, ""
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.cfg.Registry.ListStatus()
	out := make(map[string]StatusEntry, len(statuses))
	for _, st := range statuses {
		out[st.ID] = StatusEntry{
			ID:        st.ID,
			Name:      st.Name,
			Status:    st.Status,
			Uptime:    st.UptimeSeconds,
			Stats:     st.Stats,
			ToolCount: st.ToolCount,
			HasError:  st.Status == mcp.StatusError || st.Error != "",
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("serverId")
	if !mcp.ValidID(id) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	lines, err := clampedInt(r.URL.Query().Get("lines"), DefaultLogLines, 1, MaxLogLines)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "lines must be an integer")
		return
	}

	logs, err := s.cfg.Registry.GetLogs(id, lines)
	if err != nil {
		s.writeRegistryError(w, err, "failed to read logs", log.ServerIDKey, id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LogsResponse{Logs: logs})
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("serverId")
	if !mcp.ValidID(id) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	var op func() error
	switch action := r.PathValue("action"); action {
	case "start":
		op = func() error { return s.cfg.Registry.Start(r.Context(), id) }
	case "stop":
		op = func() error { return s.cfg.Registry.Stop(r.Context(), id) }
	case "restart":
		op = func() error { return s.cfg.Registry.Restart(r.Context(), id) }
	default:
		httputil.WriteError(w, http.StatusNotFound, "not found")
		return
	}

	if err := op(); err != nil {
		s.writeRegistryError(w, err, r.PathValue("action")+" failed", log.ServerIDKey, id)
		return
	}
	st, err := s.cfg.Registry.GetStatus(id)
	if err != nil {
		s.writeRegistryError(w, err, "failed to read status", log.ServerIDKey, id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LifecycleResponse{Status: st.Status})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "history is disabled")
		return
	}

	params := r.URL.Query()
	q := history.Query{
		ServerID: params.Get("serverId"),
		ToolName: params.Get("toolName"),
		Status:   history.Status(params.Get("status")),
	}
	if q.ServerID != "" && !mcp.ValidID(q.ServerID) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	if len(q.ToolName) > MaxToolNameLength {
		httputil.WriteError(w, http.StatusBadRequest, "toolName is too long")
		return
	}
	switch q.Status {
	case "", history.StatusSuccess, history.StatusError:
	default:
		httputil.WriteError(w, http.StatusBadRequest, "status must be success or error")
		return
	}
	for key, dst := range map[string]*time.Time{"since": &q.Since, "until": &q.Until} {
		if v := params.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				httputil.WriteError(w, http.StatusBadRequest, key+" must be an RFC 3339 timestamp")
				return
			}
			*dst = t
		}
	}
	limit, err := clampedInt(params.Get("limit"), history.DefaultQueryLimit, 1, history.MaxQueryLimit)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	q.Limit = limit

	records, err := s.cfg.History.Query(r.Context(), q)
	if err != nil {
		s.logger.Error("history query failed", log.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if records == nil {
		records = []history.CallRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{Records: records})
}

// writeRegistryError maps registry errors to a status and a generic
// message. Detail goes to the log only.
func (s *Server) writeRegistryError(w http.ResponseWriter, err error, fallback string, attrs ...any) {
	switch {
	case mcp.HasCode(err, mcp.ErrorCodeNotFound):
		httputil.WriteError(w, http.StatusNotFound, "server not found")
		return
	case mcp.HasCode(err, mcp.ErrorCodeToolNotFound):
		httputil.WriteError(w, http.StatusNotFound, "no server provides this tool")
		return
	case mcp.HasCode(err, mcp.ErrorCodeValidation):
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	s.logger.Warn(fallback, append(attrs, log.Error(err))...)
	httputil.WriteError(w, http.StatusInternalServerError, fallback)
}

// clampedInt parses v, returning def when empty and clamping to [lo, hi].
// Integers outside the range of int clamp by sign.
func clampedInt(v string, def, lo, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(v, "-") {
			return lo, nil
		}
		return hi, nil
	}
	if err != nil {
		return 0, err
	}
	return min(max(n, lo), hi), nil
}
