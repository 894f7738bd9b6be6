package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/danield137/lev/runtime/evaluator"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	// IndexFile is written by JSONDir.Close.
	IndexFile = "index.json"
)

// IndexEntry describes one record in index.json.
type IndexEntry struct {
	CaseID    string  `json:"case_id"`
	RunID     string  `json:"run_id"`
	Status    string  `json:"status"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Aggregate float64 `json:"aggregate"`
	File      string  `json:"file"`
}

// Index is the layout of index.json.
type Index struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Summary     evaluator.Summary `json:"summary"`
	Records     []IndexEntry      `json:"records"`
}

// JSONDir writes one JSON file per case and an index.json on Close.
type JSONDir struct {
	dir string

	mu      sync.Mutex
	closed  bool
	entries []IndexEntry
	records []*evaluator.ResultRecord
}

var _ evaluator.Sink = (*JSONDir)(nil)

// NewJSONDir creates dir if needed and returns a sink writing into it.
func NewJSONDir(dir string) (*JSONDir, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &JSONDir{dir: dir}, nil
}

// Dir returns the output directory.
func (s *JSONDir) Dir() string { return s.dir }

// Write implements evaluator.Sink. A later record for the same case
// replaces the earlier file.
func (s *JSONDir) Write(_ context.Context, rec *evaluator.ResultRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.CaseID(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	name := sanitizeFilename(rec.CaseID()) + ".json"
	if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
		return fmt.Errorf("write record %s: %w", rec.CaseID(), err)
	}

	agg, _ := rec.Aggregate()
	entry := IndexEntry{
		CaseID:    rec.CaseID(),
		RunID:     rec.RunID(),
		Status:    rec.Status(),
		ErrorKind: rec.ErrorKind(),
		Aggregate: agg,
		File:      name,
	}
	for i, e := range s.entries {
		if e.File == name {
			s.entries[i] = entry
			s.records[i] = rec
			return nil
		}
	}
	s.entries = append(s.entries, entry)
	s.records = append(s.records, rec)
	return nil
}

// Close writes index.json. Closing twice is a no-op.
func (s *JSONDir) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	idx := Index{
		GeneratedAt: time.Now().UTC(),
		Summary:     evaluator.Summarize(s.records),
		Records:     s.entries,
	}
	if idx.Records == nil {
		idx.Records = []IndexEntry{}
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(s.dir, IndexFile), data)
}

// ReadRecord loads a record file written by JSONDir.
func ReadRecord(path string) (*evaluator.ResultRecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-chosen results path
	if err != nil {
		return nil, err
	}
	var rec evaluator.ResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &rec, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

func sanitizeFilename(name string) string {
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return filenameReplacer.Replace(name)
}
