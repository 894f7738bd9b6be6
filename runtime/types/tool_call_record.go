package types //nolint:revive // package name matches existing convention

// ToolCallRecord pairs a request with its result for scorers.
type ToolCallRecord struct {
	Round     int            `json:"round"`
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}
