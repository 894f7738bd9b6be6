package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danield137/lev/runtime/evaluator"
)

const (
	defaultRedisPrefix = "lev"
	defaultRedisTTL    = 7 * 24 * time.Hour
)

// ErrNotFound is returned by Redis.Load for unknown runs.
var ErrNotFound = errors.New("record not found")

// Redis stores every record under its own key and appends the run id to a
// per-suite list. Keys expire after the configured TTL.
//
// Layout:
//
//	<prefix>:record:<run_id>   JSON record
//	<prefix>:runs:<list>       run ids in arrival order
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	list   string
}

var _ evaluator.Sink = (*Redis)(nil)

// RedisOption configures a Redis sink.
type RedisOption func(*Redis)

// WithTTL sets how long records are kept. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *Redis) { s.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "lev".
func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) { s.prefix = prefix }
}

// WithRunList names the list run ids are appended to. Default is "all".
func WithRunList(name string) RedisOption {
	return func(s *Redis) { s.list = name }
}

// NewRedis creates a Redis sink.
//
// Example:
//
//	sink := sinks.NewRedis(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    sinks.WithTTL(24*time.Hour),
//	    sinks.WithRunList("nightly"),
//	)
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{
		client: client,
		ttl:    defaultRedisTTL,
		prefix: defaultRedisPrefix,
		list:   "all",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implements evaluator.Sink. The record and the list update go out in
// one pipeline.
func (s *Redis) Write(ctx context.Context, rec *evaluator.ResultRecord) error {
	if rec == nil {
		return ErrNilRecord
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.CaseID(), err)
	}

	listKey := s.listKey()
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.recordKey(rec.RunID()), data, s.ttl)
	pipe.RPush(ctx, listKey, rec.RunID())
	if s.ttl > 0 {
		pipe.Expire(ctx, listKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}
	return nil
}

// Load reads the record of runID.
func (s *Redis) Load(ctx context.Context, runID string) (*evaluator.ResultRecord, error) {
	data, err := s.client.Get(ctx, s.recordKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var rec evaluator.ResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Runs returns the run ids in the list, oldest first.
func (s *Redis) Runs(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	return ids, nil
}

// Close closes the Redis client.
func (s *Redis) Close() error {
	return s.client.Close()
}

func (s *Redis) recordKey(runID string) string {
	return fmt.Sprintf("%s:record:%s", s.prefix, runID)
}

func (s *Redis) listKey() string {
	return fmt.Sprintf("%s:runs:%s", s.prefix, s.list)
}
