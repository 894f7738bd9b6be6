package mock

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/danield137/lev/runtime/logger"
)

// ResponseRepository provides scripted turns to the mock provider.
type ResponseRepository interface {
	// GetTurn returns the turn to play for params. A nil turn means the
	// repository has nothing scripted and the provider falls back to its
	// default response.
	GetTurn(ctx context.Context, params ResponseParams) (*Turn, error)
}

// ResponseParams identifies the model call being answered.
type ResponseParams struct {
	CaseID     string // Eval case from the logging context; empty outside the evaluator
	TurnNumber int    // 1-indexed model call within the conversation
	ProviderID string
	ModelName  string
}

// Turn is one scripted model answer.
type Turn struct {
	Content   string     `yaml:"content,omitempty" json:"content,omitempty"`
	ToolCalls []ToolCall `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`

	// Error makes the call fail with a capability error. ErrorReason picks the
	// reason: auth, rate_limit, malformed, transport or unknown.
	Error       string `yaml:"error,omitempty" json:"error,omitempty"`
	ErrorReason string `yaml:"error_reason,omitempty" json:"error_reason,omitempty"`
}

// ToolCall is a simulated tool call request.
type ToolCall struct {
	ID        string         `yaml:"id,omitempty" json:"id,omitempty"`
	Name      string         `yaml:"name" json:"name"`
	Arguments map[string]any `yaml:"arguments,omitempty" json:"arguments,omitempty"`
}

// Config is the layout of a mock script file.
type Config struct {
	// DefaultResponse answers any call with no scripted turn.
	DefaultResponse string `yaml:"default_response,omitempty" json:"default_response,omitempty"`

	// Turns apply to every case that has no entry in Cases.
	Turns []Turn `yaml:"turns,omitempty" json:"turns,omitempty"`

	// Cases holds per-case scripts keyed by case id.
	Cases map[string][]Turn `yaml:"cases,omitempty" json:"cases,omitempty"`
}

// Lookup resolves a turn for params in priority order: the case script, then
// the shared turns. Turn numbers past the end of a script return nil.
func (c *Config) Lookup(params ResponseParams) *Turn {
	turns := c.Turns
	if script, ok := c.Cases[params.CaseID]; ok && params.CaseID != "" {
		turns = script
	}
	idx := params.TurnNumber - 1
	if idx < 0 || idx >= len(turns) {
		return nil
	}
	t := turns[idx]
	return &t
}

// FileRepository serves turns from a YAML script.
type FileRepository struct {
	config *Config
}

// NewFileRepository loads a YAML script from path.
func NewFileRepository(path string) (*FileRepository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock config file: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return &FileRepository{config: cfg}, nil
}

// ParseConfig decodes a YAML script.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse mock config YAML: %w", err)
	}
	return &cfg, nil
}

// Config returns the loaded script.
func (r *FileRepository) Config() *Config { return r.config }

// GetTurn implements ResponseRepository.
func (r *FileRepository) GetTurn(_ context.Context, params ResponseParams) (*Turn, error) {
	turn := r.config.Lookup(params)
	logger.Debug("FileRepository GetTurn",
		"case_id", params.CaseID,
		"turn_number", params.TurnNumber,
		"found", turn != nil)
	if turn == nil && r.config.DefaultResponse != "" {
		return &Turn{Content: r.config.DefaultResponse}, nil
	}
	return turn, nil
}

// InMemoryRepository is a programmable repository for tests.
type InMemoryRepository struct {
	mu     sync.RWMutex
	config Config
}

// NewInMemoryRepository creates a repository answering defaultResponse
// until turns are added.
func NewInMemoryRepository(defaultResponse string) *InMemoryRepository {
	return &InMemoryRepository{config: Config{DefaultResponse: defaultResponse, Cases: map[string][]Turn{}}}
}

// AddTurns appends shared turns.
func (r *InMemoryRepository) AddTurns(turns ...Turn) *InMemoryRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Turns = append(r.config.Turns, turns...)
	return r
}

// SetCase replaces the script of one case.
func (r *InMemoryRepository) SetCase(caseID string, turns ...Turn) *InMemoryRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Cases[caseID] = turns
	return r
}

// GetTurn implements ResponseRepository.
func (r *InMemoryRepository) GetTurn(_ context.Context, params ResponseParams) (*Turn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if turn := r.config.Lookup(params); turn != nil {
		return turn, nil
	}
	if r.config.DefaultResponse != "" {
		return &Turn{Content: r.config.DefaultResponse}, nil
	}
	return nil, nil
}
