package evaluator

import (
	"encoding/json"
	"time"

	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/history"
	"github.com/danield137/lev/runtime/types"
)

// Run statuses.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// recordData is the serialized form of a ResultRecord.
type recordData struct {
	CaseID             string             `json:"case_id"`
	RunID              string             `json:"run_id"`
	Status             string             `json:"status"`
	Reply              *types.Reply       `json:"reply,omitempty"`
	Transcript         []types.Message    `json:"transcript"`
	Scores             []evals.ScoreEntry `json:"scores"`
	Aggregate          float64            `json:"aggregate"`
	AggregateRationale string             `json:"aggregate_rationale,omitempty"`
	ErrorKind          string             `json:"error_kind,omitempty"`
	Error              string             `json:"error,omitempty"`
	HookErrors         []string           `json:"hook_errors,omitempty"`
	Attempts           int                `json:"attempts"`
	StartedAt          time.Time          `json:"started_at"`
	DurationMs         int64              `json:"duration_ms"`
}

// ResultRecord is the outcome of running one case. It is built once by the
// evaluator and never changes afterwards; every accessor returns a copy.
type ResultRecord struct {
	d recordData
}

// CaseID returns the case the record belongs to.
func (r *ResultRecord) CaseID() string { return r.d.CaseID }

// RunID returns the unique id of the run.
func (r *ResultRecord) RunID() string { return r.d.RunID }

// Status returns StatusSucceeded or StatusFailed.
func (r *ResultRecord) Status() string { return r.d.Status }

// Succeeded reports whether the run reached an answer.
func (r *ResultRecord) Succeeded() bool { return r.d.Status == StatusSucceeded }

// Reply returns a copy of the final reply, nil for failed runs.
func (r *ResultRecord) Reply() *types.Reply {
	if r.d.Reply == nil {
		return nil
	}
	c := *r.d.Reply
	c.Suppressed = append([]types.ToolCallRequest(nil), r.d.Reply.Suppressed...)
	for i := range c.Suppressed {
		c.Suppressed[i] = c.Suppressed[i].Clone()
	}
	return &c
}

// Transcript returns a copy of the conversation, partial for failed runs.
func (r *ResultRecord) Transcript() []types.Message { return types.CloneMessages(r.d.Transcript) }

// Scores returns a copy of the score entries in scorer order.
func (r *ResultRecord) Scores() []evals.ScoreEntry {
	return append([]evals.ScoreEntry(nil), r.d.Scores...)
}

// Score returns the entry for metric.
func (r *ResultRecord) Score(metric string) (evals.ScoreEntry, bool) {
	for _, e := range r.d.Scores {
		if e.Metric == metric {
			return e, true
		}
	}
	return evals.ScoreEntry{}, false
}

// Aggregate returns the weighted score and its rationale.
func (r *ResultRecord) Aggregate() (float64, string) { return r.d.Aggregate, r.d.AggregateRationale }

// ErrorKind returns the kind of the terminal error, empty on success.
func (r *ResultRecord) ErrorKind() string { return r.d.ErrorKind }

// Error returns the terminal error message, empty on success.
func (r *ResultRecord) Error() string { return r.d.Error }

// HookErrors returns the failures hooks reported during the run.
func (r *ResultRecord) HookErrors() []string { return append([]string(nil), r.d.HookErrors...) }

// Attempts returns how many runs were needed, counting retries.
func (r *ResultRecord) Attempts() int { return r.d.Attempts }

// StartedAt returns when the final attempt started.
func (r *ResultRecord) StartedAt() time.Time { return r.d.StartedAt }

// Duration returns how long the final attempt took.
func (r *ResultRecord) Duration() time.Duration {
	return time.Duration(r.d.DurationMs) * time.Millisecond
}

// ToolCalls pairs every tool request in the transcript with its result.
func (r *ResultRecord) ToolCalls() []types.ToolCallRecord {
	h := history.New()
	if err := h.Append(r.d.Transcript...); err != nil {
		return nil
	}
	return h.ToolCalls()
}

// MarshalJSON implements json.Marshaler.
func (r *ResultRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.d)
}

// UnmarshalJSON implements json.Unmarshaler so sinks can read records back.
func (r *ResultRecord) UnmarshalJSON(data []byte) error {
	var d recordData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	r.d = d
	return nil
}
