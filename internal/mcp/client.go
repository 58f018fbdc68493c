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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ErrClientClosed is the cause attached to requests cut off by Close.
var ErrClientClosed = errors.New("client closed")

// ClientInfo identifies this host during initialize.
var ClientInfo = mcp.Implementation{
	Name:    "circuit",
	Version: "0.1.0",
}

// ClientConfig configures a protocol client over already-open streams.
type ClientConfig struct {
	// ServerID identifies the server in logs and errors.
	ServerID string

	// Stdin receives requests. Closed by Close.
	Stdin io.WriteCloser

	// Stdout yields newline-delimited JSON-RPC frames.
	Stdout io.Reader

	// ConnectTimeout triggers OnConnectTimeout if initialize has not
	// completed in time. The handshake keeps waiting on ctx regardless.
	ConnectTimeout time.Duration

	// OnConnectTimeout is invoked at most once, from its own goroutine.
	OnConnectTimeout func()

	// CallTimeout bounds each tool call. Zero means only ctx applies.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// Client speaks MCP to one server process over its stdio streams.
// It never spawns or kills the process; that is the Launcher's job.
type Client struct {
	serverID string
	cfg      ClientConfig
	trans    *transport.Stdio
	client   *client.Client
	logger   *slog.Logger

	capabilities ServerCapabilities
	serverInfo   mcp.Implementation

	life      context.Context
	cancel    context.CancelCauseFunc
	closeOnce sync.Once
}

// NewClient wraps the streams. No I/O happens until Connect.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	// stderr is drained by the log pump, so the transport gets an empty one.
	trans := transport.NewIO(cfg.Stdout, cfg.Stdin, io.NopCloser(strings.NewReader("")))

	life, cancel := context.WithCancelCause(context.Background())
	return &Client{
		serverID: cfg.ServerID,
		cfg:      cfg,
		trans:    trans,
		client:   client.NewClient(trans),
		logger:   logger,
		life:     life,
		cancel:   cancel,
	}
}

// bind derives a request context that is also cancelled by Close.
func (c *Client) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.life, func() { cancel(context.Cause(c.life)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// wrapErr maps a failure caused by Close to ErrConnectionClosed.
func (c *Client) wrapErr(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrClientClosed) {
		return ErrConnectionClosed(c.serverID).WithCause(err)
	}
	return err
}

// Connect starts the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	ctx, done := c.bind(ctx)
	defer done()

	// The transport wraps existing streams, so it is started directly
	// rather than through client.Start, and lives until Close.
	if err := c.trans.Start(c.life); err != nil {
		return c.wrapErr(ctx, fmt.Errorf("failed to start transport: %w", err))
	}

	var warned sync.Once
	timer := time.AfterFunc(c.cfg.ConnectTimeout, func() {
		warned.Do(func() {
			c.logger.Warn("connection timeout waiting for initialize",
				"timeout", c.cfg.ConnectTimeout.String())
			if c.cfg.OnConnectTimeout != nil {
				c.cfg.OnConnectTimeout()
			}
		})
	})
	defer timer.Stop()

	result, err := c.client.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo:      ClientInfo,
		},
	})
	if err != nil {
		return c.wrapErr(ctx, fmt.Errorf("initialize request failed: %w", err))
	}
	c.serverInfo = result.ServerInfo

	caps := c.client.GetServerCapabilities()
	c.capabilities = ServerCapabilities{
		Tools:     caps.Tools != nil,
		Prompts:   caps.Prompts != nil,
		Resources: caps.Resources != nil,
	}

	c.logger.Debug("initialize handshake complete",
		"server_name", c.serverInfo.Name,
		"server_version", c.serverInfo.Version,
		"protocol_version", result.ProtocolVersion)
	return nil
}

// Capabilities returns what the server advertised during initialize.
func (c *Client) Capabilities() ServerCapabilities {
	return c.capabilities
}

// FetchTools lists tools and returns any failure. Used by health probes
// and the tool cache, where a failure must be visible.
func (c *Client) FetchTools(ctx context.Context) ([]ToolDefinition, error) {
	ctx, done := c.bind(ctx)
	defer done()

	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, c.wrapErr(ctx, fmt.Errorf("failed to list tools: %w", err))
	}

	tools := make([]ToolDefinition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := inputSchema(tool)
		if err != nil {
			return nil, err
		}
		tools = append(tools, ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func inputSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}
	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(toolBytes, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
	}
	return fields["inputSchema"], nil
}

// ListTools is the advisory form of FetchTools: failures yield an empty list.
func (c *Client) ListTools(ctx context.Context) []ToolDefinition {
	tools, err := c.FetchTools(ctx)
	if err != nil {
		c.logger.Warn("list tools failed", "error", err)
		return []ToolDefinition{}
	}
	return tools
}

// ListPrompts returns the server's prompts, or an empty list if the server
// does not support prompts or the request fails.
func (c *Client) ListPrompts(ctx context.Context) []PromptDefinition {
	if !c.capabilities.Prompts {
		return []PromptDefinition{}
	}
	ctx, done := c.bind(ctx)
	defer done()

	result, err := c.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		c.logger.Warn("list prompts failed", "error", err)
		return []PromptDefinition{}
	}

	prompts := make([]PromptDefinition, 0, len(result.Prompts))
	for _, p := range result.Prompts {
		def := PromptDefinition{Name: p.Name, Description: p.Description}
		for _, a := range p.Arguments {
			def.Arguments = append(def.Arguments, PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		prompts = append(prompts, def)
	}
	return prompts
}

// ListResources returns the server's resources, or an empty list if the
// server does not support resources or the request fails.
func (c *Client) ListResources(ctx context.Context) []ResourceDefinition {
	if !c.capabilities.Resources {
		return []ResourceDefinition{}
	}
	ctx, done := c.bind(ctx)
	defer done()

	result, err := c.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		c.logger.Warn("list resources failed", "error", err)
		return []ResourceDefinition{}
	}

	resources := make([]ResourceDefinition, 0, len(result.Resources))
	for _, r := range result.Resources {
		resources = append(resources, ResourceDefinition{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MIMEType,
		})
	}
	return resources
}

// CallTool invokes a tool. Transport failures and JSON-RPC errors are
// returned as errors; a result with IsError set is returned as a result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}
	ctx, done := c.bind(ctx)
	defer done()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, c.wrapErr(ctx, fmt.Errorf("tool call failed: %w", err))
	}
	return convertResult(result)
}

func convertResult(result *mcp.CallToolResult) (*ToolResult, error) {
	out := &ToolResult{
		IsError: result.IsError,
		Content: make([]ContentItem, 0, len(result.Content)),
	}

	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			out.Content = append(out.Content, ContentItem{Type: text.Type, Text: text.Text})
			continue
		}
		if image, ok := mcp.AsImageContent(content); ok {
			out.Content = append(out.Content, ContentItem{Type: image.Type, Data: image.Data, MimeType: image.MIMEType})
			continue
		}

		raw, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal content: %w", err)
		}
		var item ContentItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content: %w", err)
		}
		out.Content = append(out.Content, item)
	}

	raw, err := json.Marshal(result)
	if err == nil {
		var extra struct {
			StructuredContent any `json:"structuredContent"`
		}
		if json.Unmarshal(raw, &extra) == nil {
			out.StructuredContent = extra.StructuredContent
		}
	}
	return out, nil
}

// Close cancels outstanding requests and closes stdin so the server can
// exit on its own. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel(ErrClientClosed)
		if cerr := c.client.Close(); cerr != nil {
			err = fmt.Errorf("failed to close client: %w", cerr)
		}
	})
	return err
}
