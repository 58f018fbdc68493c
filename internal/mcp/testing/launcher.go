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


// Package testing provides an in-process Launcher that serves MCP over
// pipes, for exercising the Registry without spawning subprocesses.
package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/circuit/internal/mcp"
)

// ErrCrashed is the exit error of a process ended with Crash.
var ErrCrashed = errors.New("exit status 1")

// Setup registers tools, prompts and resources on a fake server.
type Setup func(s *server.MCPServer)

// FakeLauncher launches in-process MCP servers keyed by command name.
type FakeLauncher struct {
	mu        sync.Mutex
	setups    map[string]Setup
	launchErr map[string]error
	launches  map[string]int
	live      map[string][]*FakeProcess
	requests  map[string]map[string]int
}

// NewFakeLauncher creates a launcher with no registered commands.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{
		setups:    make(map[string]Setup),
		launchErr: make(map[string]error),
		launches:  make(map[string]int),
		live:      make(map[string][]*FakeProcess),
		requests:  make(map[string]map[string]int),
	}
}

// Handle registers the server launched for command.
func (l *FakeLauncher) Handle(command string, setup Setup) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setups[command] = setup
}

// FailLaunch makes launches of command fail with err until cleared with nil.
func (l *FakeLauncher) FailLaunch(command string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.launchErr, command)
		return
	}
	l.launchErr[command] = err
}

// Launch implements mcp.Launcher.
func (l *FakeLauncher) Launch(ctx context.Context, cfg mcp.ServerConfig) (mcp.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.launchErr[cfg.Command]; err != nil {
		return nil, err
	}
	setup, ok := l.setups[cfg.Command]
	if !ok {
		return nil, fmt.Errorf("exec: %q: executable file not found in $PATH", cfg.Command)
	}

	l.launches[cfg.ID]++
	p := startFake(cfg.ID, setup, l.countRequests(cfg.ID), func(p *FakeProcess) {
		l.mu.Lock()
		defer l.mu.Unlock()
		procs := l.live[cfg.ID]
		for i, q := range procs {
			if q == p {
				l.live[cfg.ID] = append(procs[:i], procs[i+1:]...)
				break
			}
		}
	})
	l.live[cfg.ID] = append(l.live[cfg.ID], p)
	return p, nil
}

// trackedMethods are the request methods counted by Requests.
var trackedMethods = []string{"initialize", "tools/list", "tools/call", "prompts/list", "resources/list"}

func (l *FakeLauncher) countRequests(id string) func([]byte) {
	return func(chunk []byte) {
		l.mu.Lock()
		defer l.mu.Unlock()
		counts := l.requests[id]
		if counts == nil {
			counts = make(map[string]int)
			l.requests[id] = counts
		}
		for _, m := range trackedMethods {
			counts[m] += bytes.Count(chunk, []byte(`"method":"`+m+`"`))
		}
	}
}

// Requests returns how many requests of method servers for id received.
func (l *FakeLauncher) Requests(id, method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requests[id][method]
}

// Launches returns how many processes were launched for id.
func (l *FakeLauncher) Launches(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches[id]
}

// Alive returns how many processes for id have not exited.
func (l *FakeLauncher) Alive(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live[id])
}

// Process returns the newest live process for id, or nil.
func (l *FakeLauncher) Process(id string) *FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	procs := l.live[id]
	if len(procs) == 0 {
		return nil
	}
	return procs[len(procs)-1]
}

// Crash ends the newest live process for id with ErrCrashed.
func (l *FakeLauncher) Crash(id string) bool {
	p := l.Process(id)
	if p == nil {
		return false
	}
	p.exit(ErrCrashed)
	return true
}

// Hang makes the newest live process for id stop answering requests.
func (l *FakeLauncher) Hang(id string) bool {
	p := l.Process(id)
	if p == nil {
		return false
	}
	p.out.hang()
	return true
}

// FakeProcess is one in-process server. It implements mcp.Process.
type FakeProcess struct {
	id string

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	out     *gatedWriter

	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	exitErr error
	onExit  func(*FakeProcess)
}

func startFake(id string, setup Setup, count func([]byte), onExit func(*FakeProcess)) *FakeProcess {
	s := server.NewMCPServer(id, "1.0.0",
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)
	setup(s)

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	p := &FakeProcess{
		id:      id,
		stdinR:  stdinR,
		stdinW:  stdinW,
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
		out:     &gatedWriter{w: stdoutW},
		cancel:  cancel,
		done:    make(chan struct{}),
		onExit:  onExit,
	}

	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(log.New(stderrW, "", 0))

	go func() {
		fmt.Fprintf(stderrW, "%s: listening on stdio\n", id)
		err := stdio.Listen(ctx, &countingReader{r: stdinR, count: count}, p.out)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.exit(err)
	}()
	return p
}

func (p *FakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		p.cancel()
		p.stdinR.CloseWithError(io.ErrClosedPipe)
		p.stdoutW.Close()
		p.stderrW.Close()
		if p.onExit != nil {
			p.onExit(p)
		}
		close(p.done)
	})
}

func (p *FakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *FakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *FakeProcess) Stderr() io.Reader { return p.stderrR }
func (p *FakeProcess) Pid() int { return 0 }
func (p *FakeProcess) Done() <-chan struct{} { return p.done }

func (p *FakeProcess) ExitErr() error {
	<-p.done
	return p.exitErr
}

// Terminate ends the process with a termination error.
func (p *FakeProcess) Terminate() error {
	p.exit(errors.New("signal: terminated"))
	return nil
}

// Kill ends the process with a kill error.
func (p *FakeProcess) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

// countingReader reports every chunk read from stdin.
type countingReader struct {
	r     io.Reader
	count func([]byte)
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.count(b[:n])
	}
	return n, err
}

// gatedWriter drops every write once hung, so requests go unanswered.
type gatedWriter struct {
	mu   sync.Mutex
	w    io.Writer
	hung bool
}

func (g *gatedWriter) hang() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hung = true
}

func (g *gatedWriter) Write(b []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hung {
		return len(b), nil
	}
	return g.w.Write(b)
}

// EchoTool registers a tool that returns its "text" argument.
func EchoTool(name string) Setup {
	return func(s *server.MCPServer) {
		s.AddTool(
			mcpgo.NewTool(name,
				mcpgo.WithDescription("Echo the text argument"),
				mcpgo.WithString("text", mcpgo.Required()),
			),
			func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
				text, err := req.RequireString("text")
				if err != nil {
					return mcpgo.NewToolResultError(err.Error()), nil
				}
				return mcpgo.NewToolResultText(text), nil
			},
		)
	}
}

// SlowTool registers a tool that blocks until its context ends or delay
// elapses.
func SlowTool(name string, delay time.Duration) Setup {
	return func(s *server.MCPServer) {
		s.AddTool(
			mcpgo.NewTool(name, mcpgo.WithDescription("Sleep before answering")),
			func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
				select {
				case <-time.After(delay):
					return mcpgo.NewToolResultText("done"), nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
		)
	}
}

// Tools combines setups.
func Tools(setups ...Setup) Setup {
	return func(s *server.MCPServer) {
		for _, setup := range setups {
			setup(s)
		}
	}
}
