// Package sinks provides destinations for evaluation results: memory, a
// JSON directory, Redis, and a composite that fans out to several sinks.
package sinks

import (
	"context"
	"errors"

	"github.com/danield137/lev/runtime/evaluator"
)

var (
	// ErrNilRecord is returned when writing a nil record.
	ErrNilRecord = errors.New("record is nil")

	// ErrClosed is returned when writing to a closed sink.
	ErrClosed = errors.New("sink is closed")
)

// Composite writes every record to all of its sinks.
type Composite struct {
	sinks []evaluator.Sink
}

var _ evaluator.Sink = (*Composite)(nil)

// NewComposite combines sinks. Nil entries are skipped.
func NewComposite(sinks ...evaluator.Sink) *Composite {
	c := &Composite{}
	for _, s := range sinks {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
	return c
}

// Write delivers rec to every sink, even when an earlier one fails.
func (c *Composite) Write(ctx context.Context, rec *evaluator.ResultRecord) error {
	var errs []error
	for _, s := range c.sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (c *Composite) Close() error {
	var errs []error
	for _, s := range c.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
