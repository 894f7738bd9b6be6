package mcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/danield137/lev/runtime/logger"
)

// SuppressOutputEnv is set to "1" for servers launched with SuppressOutput.
const SuppressOutputEnv = "MCP_SUPPRESS_OUTPUT"

// Transport is the byte stream under a Client. Reads return server output,
// writes deliver client messages.
type Transport interface {
	io.ReadWriter
	// CloseWrite signals end of input to the server.
	CloseWrite() error
	// Close releases the stream, terminating the server if needed.
	Close() error
}

// StdioTransport runs a server as a child process and talks to it over its
// stdin and stdout. Stderr lines are logged at debug level.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	closeOnce sync.Once
	waitErr   error
}

// StartStdio launches the process described by cfg.
func StartStdio(cfg ServerConfig, suppressOutput bool) (*StdioTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %q has no command", cfg.Name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = buildEnv(cfg.Env, suppressOutput)
	cmd.Stderr = &stderrLogger{server: cfg.Name}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	logger.Debug("MCP server started", "server", cfg.Name, "command", cfg.Command, "pid", cmd.Process.Pid)

	return &StdioTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func buildEnv(extra map[string]string, suppressOutput bool) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	if suppressOutput {
		env = append(env, SuppressOutputEnv+"=1")
	}
	return env
}

func (t *StdioTransport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *StdioTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

// CloseWrite closes the child's stdin.
func (t *StdioTransport) CloseWrite() error { return t.stdin.Close() }

// Close kills the process if it is still running and reaps it.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.stdin.Close()
		if t.cmd.ProcessState == nil {
			_ = t.cmd.Process.Kill()
		}
		// A non-zero exit or kill is expected during shutdown.
		var exitErr *exec.ExitError
		if err := t.cmd.Wait(); err != nil && !errors.As(err, &exitErr) {
			t.waitErr = err
		}
	})
	return t.waitErr
}

type stderrLogger struct {
	server string
	mu     sync.Mutex
	buf    bytes.Buffer
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// partial line stays buffered
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		logger.Debug("MCP server stderr", "server", w.server, "output", line[:len(line)-1])
	}
	return len(p), nil
}
