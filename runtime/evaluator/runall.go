package evaluator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/logger"
)

// Sink receives records as runs finish. Write is never called concurrently
// by RunAll.
type Sink interface {
	Write(ctx context.Context, rec *ResultRecord) error
	Close() error
}

// Summary aggregates the records of one RunAll call.
type Summary struct {
	Total         int                `json:"total"`
	Succeeded     int                `json:"succeeded"`
	Failed        int                `json:"failed"`
	MeanAggregate float64            `json:"mean_aggregate"`
	ByErrorKind   map[string]int     `json:"by_error_kind,omitempty"`
	MetricMeans   map[string]float64 `json:"metric_means,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

// Summarize computes a Summary over records. Errored score entries are left
// out of the metric means.
func Summarize(records []*ResultRecord) Summary {
	s := Summary{Total: len(records)}
	sums := map[string]float64{}
	counts := map[string]int{}
	var aggregate float64
	for _, r := range records {
		if r == nil {
			continue
		}
		if r.Succeeded() {
			s.Succeeded++
		} else {
			s.Failed++
			if s.ByErrorKind == nil {
				s.ByErrorKind = map[string]int{}
			}
			s.ByErrorKind[r.ErrorKind()]++
		}
		agg, _ := r.Aggregate()
		aggregate += agg
		for _, e := range r.d.Scores {
			if e.Errored() {
				continue
			}
			sums[e.Metric] += e.Value
			counts[e.Metric]++
		}
	}
	if s.Total > 0 {
		s.MeanAggregate = aggregate / float64(s.Total)
	}
	if len(sums) > 0 {
		s.MetricMeans = make(map[string]float64, len(sums))
		for m, sum := range sums {
			s.MetricMeans[m] = sum / float64(counts[m])
		}
	}
	return s
}

// Metrics returns the metric names of s in sorted order.
func (s Summary) Metrics() []string {
	out := make([]string, 0, len(s.MetricMeans))
	for m := range s.MetricMeans {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// RunAll runs cases on a bounded worker pool and returns their records in
// case order. Each record is written to sink, when one is given, as soon as
// its run finishes. Cases that never started because ctx was cancelled get
// a FAILED record with kind cancelled. The returned error joins the sink
// failures; run failures are reported in the records only.
func (e *Evaluator) RunAll(ctx context.Context, cases []EvalCase, sink Sink) ([]*ResultRecord, Summary, error) {
	started := time.Now()
	records := make([]*ResultRecord, len(cases))
	sem := semaphore.NewWeighted(int64(e.concurrency))

	var (
		wg       sync.WaitGroup
		sinkMu   sync.Mutex
		sinkErrs []error
	)
	deliver := func(rec *ResultRecord) {
		if sink == nil {
			return
		}
		sinkMu.Lock()
		defer sinkMu.Unlock()
		if err := sink.Write(context.WithoutCancel(ctx), rec); err != nil {
			logger.ErrorContext(ctx, "Writing result failed", "case", rec.CaseID(), "error", err)
			sinkErrs = append(sinkErrs, err)
		}
	}

	logger.InfoContext(ctx, "Running eval cases", "cases", len(cases), "concurrency", e.concurrency)
	for i := range cases {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(cases); j++ {
				records[j] = e.unstarted(&cases[j], levErrors.KindCancelled, err)
				deliver(records[j])
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			rec := e.Run(ctx, &cases[i])
			records[i] = rec
			deliver(rec)
		}(i)
	}
	wg.Wait()

	summary := Summarize(records)
	summary.Duration = time.Since(started)
	logger.InfoContext(ctx, "Eval cases finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"mean_aggregate", summary.MeanAggregate)
	return records, summary, errors.Join(sinkErrs...)
}
