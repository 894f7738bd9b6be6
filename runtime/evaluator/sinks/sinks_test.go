package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danield137/lev/runtime/evaluator"
)

func record(t *testing.T, caseID, runID, status string, aggregate float64) *evaluator.ResultRecord {
	t.Helper()
	doc := fmt.Sprintf(`{
		"case_id": %q, "run_id": %q, "status": %q, "aggregate": %v,
		"transcript": [{"role": "user", "content": "q"}, {"role": "assistant", "content": "a"}],
		"scores": [{"metric": "m", "value": %v, "weight": 1}]
	}`, caseID, runID, status, aggregate, aggregate)
	var rec evaluator.ResultRecord
	require.NoError(t, json.Unmarshal([]byte(doc), &rec))
	return &rec
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, record(t, "a", "r1", evaluator.StatusSucceeded, 1)))
	require.NoError(t, m.Write(ctx, record(t, "b", "r2", evaluator.StatusFailed, 0)))
	require.NoError(t, m.Write(ctx, record(t, "a", "r3", evaluator.StatusSucceeded, 0.5)))

	assert.Equal(t, 3, m.Len())
	a := m.Case("a")
	require.Len(t, a, 2)
	assert.Equal(t, "r1", a[0].RunID())
	assert.Equal(t, "r3", a[1].RunID())
	assert.Empty(t, m.Case("zzz"))

	assert.ErrorIs(t, m.Write(ctx, nil), ErrNilRecord)
	assert.NoError(t, m.Close())
}

func TestJSONDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	s, err := NewJSONDir(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, record(t, "suite/one", "r1", evaluator.StatusSucceeded, 1)))
	require.NoError(t, s.Write(ctx, record(t, "two", "r2", evaluator.StatusFailed, 0)))
	require.NoError(t, s.Write(ctx, record(t, "two", "r3", evaluator.StatusSucceeded, 0.5)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	rec, err := ReadRecord(filepath.Join(dir, "suite_one.json"))
	require.NoError(t, err)
	assert.Equal(t, "suite/one", rec.CaseID())
	assert.Len(t, rec.Transcript(), 2)

	rec, err = ReadRecord(filepath.Join(dir, "two.json"))
	require.NoError(t, err)
	assert.Equal(t, "r3", rec.RunID(), "a later run replaces the file")

	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	require.NoError(t, err)
	var idx Index
	require.NoError(t, json.Unmarshal(data, &idx))
	require.Len(t, idx.Records, 2)
	assert.Equal(t, "suite_one.json", idx.Records[0].File)
	assert.Equal(t, "r3", idx.Records[1].RunID)
	assert.Equal(t, 2, idx.Summary.Total)
	assert.Equal(t, 2, idx.Summary.Succeeded)
	assert.InDelta(t, 0.75, idx.Summary.MeanAggregate, 1e-9)

	assert.ErrorIs(t, s.Write(ctx, record(t, "late", "r4", evaluator.StatusSucceeded, 1)), ErrClosed)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestJSONDir_EmptyIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONDir(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"records": []`)
}

func setupRedis(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(client, opts...), mr
}

func TestRedis_WriteAndLoad(t *testing.T) {
	s, mr := setupRedis(t, WithPrefix("test"), WithRunList("nightly"))
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, record(t, "a", "r1", evaluator.StatusSucceeded, 1)))
	require.NoError(t, s.Write(ctx, record(t, "b", "r2", evaluator.StatusFailed, 0)))

	assert.True(t, mr.Exists("test:record:r1"))
	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, runs)

	rec, err := s.Load(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, "b", rec.CaseID())
	assert.Equal(t, evaluator.StatusFailed, rec.Status())

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_TTL(t *testing.T) {
	s, mr := setupRedis(t, WithTTL(time.Hour))
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, record(t, "a", "r1", evaluator.StatusSucceeded, 1)))

	assert.Equal(t, time.Hour, mr.TTL("lev:record:r1"))
	assert.Equal(t, time.Hour, mr.TTL("lev:runs:all"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Load(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_NoTTL(t *testing.T) {
	s, mr := setupRedis(t, WithTTL(0))
	require.NoError(t, s.Write(context.Background(), record(t, "a", "r1", evaluator.StatusSucceeded, 1)))
	assert.Zero(t, mr.TTL("lev:record:r1"))
}

func TestRedis_Unavailable(t *testing.T) {
	s, mr := setupRedis(t)
	mr.Close()
	err := s.Write(context.Background(), record(t, "a", "r1", evaluator.StatusSucceeded, 1))
	assert.ErrorContains(t, err, "redis write failed")
}

type failingSink struct{ closed bool }

func (f *failingSink) Write(context.Context, *evaluator.ResultRecord) error {
	return errors.New("nope")
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestComposite(t *testing.T) {
	m := NewMemory()
	bad := &failingSink{}
	c := NewComposite(bad, nil, m)

	err := c.Write(context.Background(), record(t, "a", "r1", evaluator.StatusSucceeded, 1))
	assert.ErrorContains(t, err, "nope")
	assert.Equal(t, 1, m.Len(), "later sinks still receive the record")

	require.NoError(t, c.Close())
	assert.True(t, bad.closed)
}
