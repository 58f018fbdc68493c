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
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
)

// Process is a running tool server with open stdio streams.
type Process interface {
	// Stdin is the server's standard input.
	Stdin() io.WriteCloser
	// Stdout carries protocol frames from the server.
	Stdout() io.Reader
	// Stderr carries diagnostic output.
	Stderr() io.Reader
	// Pid returns the OS process id, or 0 if unknown.
	Pid() int
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// ExitErr reports how the process exited. Valid after Done is closed.
	ExitErr() error
	// Terminate asks the process and its descendants to exit.
	Terminate() error
	// Kill ends the process and its descendants immediately. It is safe to
	// call after the process has exited.
	Kill() error
}

// Launcher spawns tool server processes.
type Launcher interface {
	Launch(ctx context.Context, cfg ServerConfig) (Process, error)
}

// EnvResolver expands secret references in env overrides.
type EnvResolver interface {
	ResolveEnv(env map[string]string) (map[string]string, error)
}

// ExecLauncher spawns servers as OS subprocesses.
type ExecLauncher struct {
	resolver EnvResolver
}

// NewExecLauncher creates a launcher. resolver may be nil.
func NewExecLauncher(resolver EnvResolver) *ExecLauncher {
	return &ExecLauncher{resolver: resolver}
}

// Launch starts cfg.Command with its arguments. The environment is the
// daemon environment with cfg.Env merged on top.
func (l *ExecLauncher) Launch(ctx context.Context, cfg ServerConfig) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env := cfg.Env
	if l.resolver != nil && len(env) > 0 {
		resolved, err := l.resolver.ResolveEnv(env)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve environment: %w", err)
		}
		env = resolved
	}

	// The process outlives the start context, so it is not bound to ctx.
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = mergeEnv(os.Environ(), env)
	// Own process group so signals reach wrapped grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	// os.Pipe instead of StdoutPipe so Wait never closes our read ends
	// while the protocol client is still draining them.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, err
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}

	stdoutW.Close()
	stderrW.Close()

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: &eofCloser{f: stdoutR},
		stderr: &eofCloser{f: stderrR},
		done:   make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

// mergeEnv appends overrides after base; exec keeps the last value per key.
func mergeEnv(base []string, overrides map[string]string) []string {
	out := append([]string(nil), base...)
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *eofCloser
	stderr *eofCloser

	done    chan struct{}
	mu      sync.Mutex
	exitErr error
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// eofCloser closes a pipe read end once it has been drained.
type eofCloser struct {
	f    *os.File
	once sync.Once
}

func (r *eofCloser) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil {
		r.once.Do(func() { _ = r.f.Close() })
	}
	return n, err
}

func (p *execProcess) Terminate() error { return p.signalGroup(syscall.SIGTERM) }
func (p *execProcess) Kill() error      { return p.signalGroup(syscall.SIGKILL) }

// signalGroup delivers sig to the process group led by the server.
func (p *execProcess) signalGroup(sig syscall.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-p.cmd.Process.Pid, sig)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to signal process group %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}
