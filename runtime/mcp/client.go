package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/types"
)

// ClientOptions configures MCP client behavior
type ClientOptions struct {
	// RequestTimeout is the default timeout for tools/call
	RequestTimeout time.Duration
	// InitTimeout bounds each handshake request
	InitTimeout time.Duration
	// CloseGrace is how long Close waits for the server to exit on its own
	CloseGrace time.Duration
	// SuppressOutput asks the server to keep quiet on stderr
	SuppressOutput bool
	// ClientName and ClientVersion are announced in the handshake
	ClientName    string
	ClientVersion string
}

// DefaultClientOptions returns sensible defaults
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		RequestTimeout: 30 * time.Second,
		InitTimeout:    10 * time.Second,
		CloseGrace:     2 * time.Second,
		ClientName:     "lev",
		ClientVersion:  "0.1.0",
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	d := DefaultClientOptions()
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = d.InitTimeout
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = d.CloseGrace
	}
	if o.ClientName == "" {
		o.ClientName = d.ClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = d.ClientVersion
	}
	return o
}

var (
	// ErrClientClosed is returned when attempting operations on closed client
	ErrClientClosed = errors.New("mcp: client closed")
	// ErrServerUnresponsive is returned when server doesn't respond
	ErrServerUnresponsive = errors.New("mcp: server unresponsive")
	// ErrProcessDied is returned when server process dies unexpectedly
	ErrProcessDied = errors.New("mcp: server process died")

	errRequestTimeout = errors.New("mcp: request timeout")
)

const maxMessageSize = 16 * 1024 * 1024

// maxListPages stops a server that keeps returning cursors.
const maxListPages = 100

type response struct {
	result json.RawMessage
	err    error
}

// Client is a JSON-RPC 2.0 session with one tool server. Calls may be issued
// concurrently; responses are matched to callers by request id, so a server
// may answer in any order.
type Client struct {
	name      string
	transport Transport
	options   ClientOptions
	timeout   time.Duration

	nextID  atomic.Int64
	pending sync.Map // map[int64]chan response
	writeMu sync.Mutex

	done      chan struct{}
	deadMu    sync.RWMutex
	dead      error
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	info  InitializeResult
	tools []Tool
}

// NewClient wraps an open transport and starts reading from it. The caller
// still has to run Initialize before using tools.
func NewClient(name string, t Transport, options ClientOptions) *Client {
	options = options.withDefaults()
	c := &Client{
		name:      name,
		transport: t,
		options:   options,
		timeout:   options.RequestTimeout,
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Connect launches the server described by cfg, performs the handshake and
// discovers its tools.
func Connect(ctx context.Context, cfg ServerConfig, options ClientOptions) (*Client, error) {
	options = options.withDefaults()
	t, err := StartStdio(cfg, options.SuppressOutput)
	if err != nil {
		return nil, &levErrors.ChannelError{Server: cfg.Name, Cause: err}
	}
	c := NewClient(cfg.Name, t, options)
	if cfg.Timeout > 0 {
		c.timeout = cfg.Timeout
	}
	if err := c.Initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// ServerInfo returns the server's self description from the handshake.
func (c *Client) ServerInfo() Implementation { return c.info.ServerInfo }

// Instructions returns the server's usage instructions, possibly empty.
func (c *Client) Instructions() string { return c.info.Instructions }

// Tools returns the tools discovered during Initialize.
func (c *Client) Tools() []Tool {
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Done is closed once the channel to the server is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the channel failure, or nil while the channel is healthy.
func (c *Client) Err() error {
	c.deadMu.RLock()
	defer c.deadMu.RUnlock()
	return c.dead
}

// Initialize performs the MCP handshake: initialize, the initialized
// notification, then a paginated tools/list.
func (c *Client) Initialize(ctx context.Context) error {
	req := InitializeRequest{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Implementation{Name: c.options.ClientName, Version: c.options.ClientVersion},
	}
	raw, err := c.request(ctx, "initialize", req, c.options.InitTimeout)
	if err != nil {
		return c.handshakeError("initialize", err)
	}
	if err := json.Unmarshal(raw, &c.info); err != nil {
		return &levErrors.ChannelError{Server: c.name, Cause: fmt.Errorf("decode initialize result: %w", err)}
	}

	if err := c.notify("notifications/initialized", nil); err != nil {
		return c.handshakeError("notifications/initialized", err)
	}

	var tools []Tool
	cursor := ""
	for page := 0; page < maxListPages; page++ {
		var params any
		if cursor != "" {
			params = ToolsListRequest{Cursor: cursor}
		}
		raw, err := c.request(ctx, "tools/list", params, c.options.InitTimeout)
		if err != nil {
			return c.handshakeError("tools/list", err)
		}
		var res ToolsListResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return &levErrors.ChannelError{Server: c.name, Cause: fmt.Errorf("decode tools/list result: %w", err)}
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" || res.NextCursor == cursor {
			break
		}
		cursor = res.NextCursor
	}
	c.tools = tools

	logger.Debug("MCP server ready", "server", c.name, "serverName", c.info.ServerInfo.Name,
		"tools", len(tools), "instructions", c.info.Instructions != "")
	return nil
}

func (c *Client) handshakeError(method string, err error) error {
	var ce *levErrors.ChannelError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, errRequestTimeout) {
		err = fmt.Errorf("%w: %s after %v", ErrServerUnresponsive, method, c.options.InitTimeout)
	} else {
		err = fmt.Errorf("%s: %w", method, err)
	}
	return &levErrors.ChannelError{Server: c.name, Cause: err}
}

// CallTool invokes a tool and waits for its result. A timeout <= 0 uses the
// client's default.
//
// A tool that reports isError, or a JSON-RPC error answer, yields a result
// whose Err is a *errors.ToolCallError. A broken channel, a timeout or a
// cancelled context yields a nil result and a non-nil error.
func (c *Client) CallTool(ctx context.Context, req types.ToolCallRequest, timeout time.Duration) (*types.ToolCallResult, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	params := ToolCallParams{Name: req.Name, Arguments: req.Args}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage(`{}`)
	}

	start := time.Now()
	raw, err := c.request(ctx, "tools/call", params, timeout)
	latency := time.Since(start).Milliseconds()

	result := &types.ToolCallResult{ID: req.ID, Name: req.Name, Server: c.name, LatencyMs: latency}
	var rpcErr *JSONRPCError
	switch {
	case errors.As(err, &rpcErr):
		result.Err = &levErrors.ToolCallError{Tool: req.Name, Message: rpcErr.Message, Cause: rpcErr}
		result.Error = result.Err.Error()
		logger.ToolCall(ctx, c.name, req.Name, req.ID, latency, result.Err)
		return result, nil
	case errors.Is(err, errRequestTimeout):
		err = &levErrors.ToolTimeoutError{Tool: req.Name, Timeout: timeout}
		logger.ToolCall(ctx, c.name, req.Name, req.ID, latency, err)
		return nil, err
	case err != nil:
		logger.ToolCall(ctx, c.name, req.Name, req.ID, latency, err)
		return nil, err
	}

	var resp ToolCallResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		result.Err = &levErrors.ToolCallError{Tool: req.Name, Message: "malformed tools/call result", Cause: err}
		result.Error = result.Err.Error()
		logger.ToolCall(ctx, c.name, req.Name, req.ID, latency, result.Err)
		return result, nil
	}

	result.Output = NormalizeContent(&resp)
	if resp.IsError {
		result.Err = &levErrors.ToolCallError{Tool: req.Name, Message: result.Output}
		result.Error = result.Err.Error()
	} else {
		result.Success = true
	}
	logger.ToolCall(ctx, c.name, req.Name, req.ID, latency, result.Err)
	return result, nil
}

// NormalizeContent flattens a tool response into one string. Structured
// content wins when present; otherwise text items are joined by newlines and
// other items are rendered as placeholders.
func NormalizeContent(resp *ToolCallResponse) string {
	if s := strings.TrimSpace(string(resp.StructuredContent)); s != "" && s != "null" {
		return s
	}
	parts := make([]string, 0, len(resp.Content))
	for _, item := range resp.Content {
		switch item.Type {
		case "text", "":
			parts = append(parts, item.Text)
		case "resource", "resource_link":
			parts = append(parts, fmt.Sprintf("[resource: %s]", item.URI))
		default:
			parts = append(parts, fmt.Sprintf("[%s: %s]", item.Type, item.MimeType))
		}
	}
	return strings.Join(parts, "\n")
}

// Close shuts the session down. The server gets CloseGrace to exit after its
// input is closed before it is killed. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		_ = c.transport.CloseWrite()

		grace := time.NewTimer(c.options.CloseGrace)
		defer grace.Stop()
		select {
		case <-c.done:
		case <-grace.C:
			logger.Debug("MCP server did not exit in time, killing", "server", c.name)
		}
		c.closeErr = c.transport.Close()
		<-c.done
	})
	return c.closeErr
}

func (c *Client) request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	msg := JSONRPCMessage{JSONRPC: "2.0", Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = data
	}

	id := c.nextID.Add(1)
	msg.ID = id
	ch := make(chan response, 1)
	c.pending.Store(id, ch)

	if err := c.write(&msg); err != nil {
		c.pending.Delete(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp.result, resp.err
	case <-ctx.Done():
		c.pending.Delete(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.pending.Delete(id)
		return nil, errRequestTimeout
	case <-c.done:
		select {
		case resp := <-ch:
			return resp.result, resp.err
		default:
		}
		c.pending.Delete(id)
		return nil, c.Err()
	}
}

func (c *Client) notify(method string, params any) error {
	msg := JSONRPCMessage{JSONRPC: "2.0", Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = data
	}
	return c.write(&msg)
}

// write sends one newline-delimited message. A write failure means the
// channel is gone.
func (c *Client) write(msg *JSONRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Err(); err != nil {
		return err
	}
	if _, err := c.transport.Write(data); err != nil {
		return &levErrors.ChannelError{Server: c.name, Cause: fmt.Errorf("write: %w", err)}
	}
	return nil
}

// readLoop dispatches incoming messages until the stream ends, then fails
// every call still waiting.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.transport)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var msg JSONRPCMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn("MCP failed to unmarshal message", "server", c.name, "error", err)
			continue
		}
		c.handleMessage(&msg)
	}

	cause := scanner.Err()
	switch {
	case c.closing.Load():
		cause = ErrClientClosed
	case cause == nil:
		cause = ErrProcessDied
	}
	dead := &levErrors.ChannelError{Server: c.name, Cause: cause}

	c.deadMu.Lock()
	c.dead = dead
	c.deadMu.Unlock()

	failed := 0
	c.pending.Range(func(key, _ any) bool {
		if ch, ok := c.pending.LoadAndDelete(key); ok {
			ch.(chan response) <- response{err: dead}
			failed++
		}
		return true
	})
	close(c.done)

	if !c.closing.Load() {
		logger.Warn("MCP channel closed", "server", c.name, "failedCalls", failed, "error", cause)
	}
}

func (c *Client) handleMessage(msg *JSONRPCMessage) {
	switch {
	case msg.ID != nil && msg.Method == "":
		id, ok := parseID(msg.ID)
		if !ok {
			logger.Warn("MCP invalid response ID type", "server", c.name, "type", fmt.Sprintf("%T", msg.ID))
			return
		}
		ch, ok := c.pending.LoadAndDelete(id)
		if !ok {
			logger.Debug("MCP response for unknown or answered request", "server", c.name, "id", id)
			return
		}
		resp := response{result: msg.Result}
		if msg.Error != nil {
			resp.err = msg.Error
		}
		ch.(chan response) <- resp

	case msg.ID == nil && msg.Method != "":
		c.handleNotification(msg)

	case msg.ID != nil:
		c.handleServerRequest(msg)
	}
}

func parseID(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (c *Client) handleNotification(msg *JSONRPCMessage) {
	switch msg.Method {
	case "notifications/tools/list_changed":
		logger.Info("MCP tools list changed", "server", c.name)
	case "notifications/message":
		logger.Debug("MCP server log", "server", c.name, "params", string(msg.Params))
	default:
		logger.Debug("MCP received unknown notification", "server", c.name, "method", msg.Method)
	}
}

// handleServerRequest answers requests initiated by the server. Only ping is
// supported.
func (c *Client) handleServerRequest(msg *JSONRPCMessage) {
	reply := JSONRPCMessage{JSONRPC: "2.0", ID: msg.ID}
	if msg.Method == "ping" {
		reply.Result = json.RawMessage(`{}`)
	} else {
		reply.Error = &JSONRPCError{Code: -32601, Message: "method not found: " + msg.Method}
	}
	go func() {
		if err := c.write(&reply); err != nil {
			logger.Debug("MCP failed to answer server request", "server", c.name, "method", msg.Method, "error", err)
		}
	}()
}

// Error implements error so JSON-RPC error answers can travel through the
// response path.
func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}
