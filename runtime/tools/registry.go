// Package tools routes model tool calls to the tool servers that provide them.
//
// A Registry aggregates the tools of several clients under unique names,
// validates arguments against each tool's JSON schema and turns every
// failure into a result the model can read, so a single broken tool never
// stops the conversation.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/mcp"
	"github.com/danield137/lev/runtime/metrics/prometheus"
	"github.com/danield137/lev/runtime/types"
)

// DefaultTimeout bounds a tool call when neither the registry nor the server
// configures one.
const DefaultTimeout = 30 * time.Second

// ToolClient is a connection to one tool server. *mcp.Client and
// *LocalServer implement it.
type ToolClient interface {
	Name() string
	Tools() []mcp.Tool
	Instructions() string
	CallTool(ctx context.Context, req types.ToolCallRequest, timeout time.Duration) (*types.ToolCallResult, error)
	Close() error
}

// ServerInstructions is the free-text guidance one server published.
type ServerInstructions struct {
	Server string
	Text   string
}

type server struct {
	client   ToolClient
	runFatal bool
	timeout  time.Duration
}

type entry struct {
	schema    types.ToolSchema
	server    *server
	unchecked bool // schema failed to compile; arguments pass through
}

// RegisterOption configures how a client is registered.
type RegisterOption func(*server)

// RunFatal marks every failure from this server as fatal to the run.
func RunFatal(fatal bool) RegisterOption {
	return func(s *server) { s.runFatal = fatal }
}

// WithServerTimeout overrides the call timeout for this server.
func WithServerTimeout(d time.Duration) RegisterOption {
	return func(s *server) { s.timeout = d }
}

// Option configures a Registry.
type Option func(*Registry)

// WithDefaultTimeout sets the call timeout used when a server has none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Registry manages tool servers and dispatches calls to them. Registration
// happens before a run starts; Dispatch is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	servers   []*server
	tools     map[string]*entry
	order     []string
	conflicts []Conflict

	validator *SchemaValidator
	timeout   time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:     make(map[string]*entry),
		validator: NewSchemaValidator(),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds every tool the client offers. When a name is already taken
// the first registration wins, the conflict is recorded and an error wrapping
// ErrDuplicateTool is returned; the client's other tools are still added.
func (r *Registry) Register(client ToolClient, opts ...RegisterOption) error {
	if client == nil {
		return ErrClientRequired
	}
	srv := &server{client: client}
	for _, opt := range opts {
		opt(srv)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.servers = append(r.servers, srv)

	var errs []error
	for _, tool := range client.Tools() {
		if tool.Name == "" {
			errs = append(errs, fmt.Errorf("server %q: %w", client.Name(), ErrToolNameRequired))
			continue
		}
		if existing, ok := r.tools[tool.Name]; ok {
			c := Conflict{Tool: tool.Name, Kept: existing.schema.Server, Rejected: client.Name()}
			r.conflicts = append(r.conflicts, c)
			logger.Warn("Duplicate tool name ignored", "tool", tool.Name, "kept", c.Kept, "rejected", c.Rejected)
			errs = append(errs, c.err())
			continue
		}

		e := &entry{
			schema: types.ToolSchema{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
				Server:      client.Name(),
			},
			server: srv,
		}
		if len(e.schema.Parameters) > 0 {
			if err := r.validator.Compile(e.schema); err != nil {
				logger.Warn("Tool schema does not compile, arguments will not be validated",
					"tool", tool.Name, "server", client.Name(), "error", err)
				e.unchecked = true
			}
		}
		r.tools[tool.Name] = e
		r.order = append(r.order, tool.Name)
	}

	logger.Debug("Tool server registered", "server", client.Name(), "tools", len(client.Tools()), "runFatal", srv.runFatal)
	return errors.Join(errs...)
}

// Schemas returns the visible tools in registration order.
func (r *Registry) Schemas() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].schema)
	}
	return out
}

// Lookup returns the schema of a registered tool.
func (r *Registry) Lookup(name string) (types.ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return types.ToolSchema{}, false
	}
	return e.schema, true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Instructions returns the non-empty server instructions in registration order.
func (r *Registry) Instructions() []ServerInstructions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServerInstructions
	for _, s := range r.servers {
		if text := s.client.Instructions(); text != "" {
			out = append(out, ServerInstructions{Server: s.client.Name(), Text: text})
		}
	}
	return out
}

// Conflicts returns the duplicate names rejected so far.
func (r *Registry) Conflicts() []Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Conflict(nil), r.conflicts...)
}

// IsRunFatal reports whether a failure of the named tool should end the run.
func (r *Registry) IsRunFatal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return ok && e.server.runFatal
}

// Dispatch executes one call and always returns a result paired with req.ID.
// Unknown tools, invalid arguments, tool failures and channel failures all
// come back as failed results.
func (r *Registry) Dispatch(ctx context.Context, req types.ToolCallRequest) *types.ToolCallResult {
	return r.DispatchWithin(ctx, req, 0)
}

// DispatchWithin is Dispatch with a call timeout that overrides the server and
// registry defaults when positive.
func (r *Registry) DispatchWithin(ctx context.Context, req types.ToolCallRequest, timeout time.Duration) *types.ToolCallResult {
	start := time.Now()
	result := r.dispatch(ctx, req, timeout)
	result.ID = req.ID
	if result.Name == "" {
		result.Name = req.Name
	}
	prometheus.RecordToolCall(req.Name, prometheus.StatusOf(result.Err), time.Since(start).Seconds())
	return result
}

func (r *Registry) dispatch(ctx context.Context, req types.ToolCallRequest, timeout time.Duration) *types.ToolCallResult {
	r.mu.RLock()
	e, ok := r.tools[req.Name]
	r.mu.RUnlock()

	if !ok {
		return types.NewErrorResult(req, &levErrors.ToolCallError{Tool: req.Name, Message: "unknown tool", Cause: ErrToolNotFound})
	}

	if !e.unchecked {
		if err := r.validator.ValidateArgs(e.schema, req.Args); err != nil {
			res := types.NewErrorResult(req, &levErrors.ToolCallError{Tool: req.Name, Message: "invalid arguments", Cause: err})
			res.Server = e.schema.Server
			return res
		}
	}

	if timeout <= 0 {
		timeout = e.server.timeout
	}
	if timeout <= 0 {
		timeout = r.timeout
	}

	start := time.Now()
	res, err := e.server.client.CallTool(ctx, req, timeout)
	if err != nil {
		res = types.NewErrorResult(req, err)
		res.LatencyMs = time.Since(start).Milliseconds()
	}
	res.Server = e.schema.Server
	return res
}

// Close closes every registered client and joins their errors.
func (r *Registry) Close() error {
	r.mu.RLock()
	servers := append([]*server(nil), r.servers...)
	r.mu.RUnlock()

	var errs []error
	for _, s := range servers {
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.client.Name(), err))
		}
	}
	return errors.Join(errs...)
}
