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


// Package gateway exposes the registry over a loopback-only HTTP API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/tombee/circuit/internal/history"
	"github.com/tombee/circuit/internal/log"
	"github.com/tombee/circuit/internal/mcp"
)

// Defaults applied by New.
const (
	DefaultAddr         = "127.0.0.1:3737"
	DefaultMaxBodyBytes = 1 << 20
	DefaultRateLimit    = 20
	DefaultRateBurst    = 40
)

// Registry is the supervisor surface the gateway drives.
type Registry interface {
	ListAllTools(ctx context.Context) []mcp.ServerTool
	FindServerByTool(ctx context.Context, tool string) (string, bool)
	CallTool(ctx context.Context, id, tool string, args map[string]any, opts mcp.CallOptions) (*mcp.ToolResult, error)
	GetStatus(id string) (mcp.Status, error)
	ListStatus() []mcp.Status
	Counts() map[mcp.ServerStatus]int
	GetLogs(id string, lines int) ([]string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
}

// HistoryQuerier reads recorded calls.
type HistoryQuerier interface {
	Query(ctx context.Context, q history.Query) ([]history.CallRecord, error)
}

// Config configures a Server.
type Config struct {
	// Addr must be a loopback host:port.
	Addr string

	Registry Registry

	// History serves /mcp/history. Nil disables the endpoint.
	History HistoryQuerier

	MaxBodyBytes int64

	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string

	// RateLimit and RateBurst shape /mcp/call. A negative RateLimit
	// disables limiting.
	RateLimit float64
	RateBurst int

	Version string
	Logger  *slog.Logger
}

// Server is the HTTP gateway.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	handler http.Handler

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New builds the gateway handler. It does not listen until Start.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("gateway requires a registry")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if err := checkLoopback(cfg.Addr); err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: log.WithComponent(cfg.Logger, "gateway"),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /mcp/tools", s.handleTools)
	mux.HandleFunc("POST /mcp/call", limit(s.limiter, s.handleCall))
	mux.HandleFunc("GET /mcp/status", s.handleStatus)
	mux.HandleFunc("GET /mcp/logs/{serverId}", s.handleLogs)
	mux.HandleFunc("POST /mcp/servers/{serverId}/{action}", s.handleLifecycle)
	mux.HandleFunc("GET /mcp/history", s.handleHistory)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleNotFound)

	mws := []middleware{recoverer(s.logger), log.HTTPMiddleware(s.logger)}
	if len(s.cfg.AllowedOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         300,
		})
		mws = append(mws, c.Handler)
	}
	mws = append(mws, instrument)
	return chain(mux, mws...)
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("gateway already started")
	}

	ln, err := Listen(s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.srv = srv
	s.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway stopped", log.Error(err))
		}
	}()
	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down gateway: %w", err)
	}
	return nil
}
