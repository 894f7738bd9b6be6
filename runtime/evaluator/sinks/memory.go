package sinks

import (
	"context"
	"sync"

	"github.com/danield137/lev/runtime/evaluator"
)

// Memory keeps records in arrival order. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records []*evaluator.ResultRecord
	byCase  map[string][]int
}

var _ evaluator.Sink = (*Memory)(nil)

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{byCase: make(map[string][]int)}
}

// Write implements evaluator.Sink.
func (m *Memory) Write(_ context.Context, rec *evaluator.ResultRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCase[rec.CaseID()] = append(m.byCase[rec.CaseID()], len(m.records))
	m.records = append(m.records, rec)
	return nil
}

// Records returns the records written so far. Records are immutable, so
// the slice shares them.
func (m *Memory) Records() []*evaluator.ResultRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*evaluator.ResultRecord(nil), m.records...)
}

// Case returns every record written for caseID, oldest first.
func (m *Memory) Case(caseID string) []*evaluator.ResultRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.byCase[caseID]
	out := make([]*evaluator.ResultRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.records[i])
	}
	return out
}

// Len returns the number of records written.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements evaluator.Sink.
func (m *Memory) Close() error { return nil }
