package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danield137/lev/pkg/config"
	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/evaluator"
	"github.com/danield137/lev/runtime/evaluator/sinks"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/metrics/prometheus"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/telemetry"
)

const (
	flagConcurrency  = "concurrency"
	flagOut          = "out"
	flagRedis        = "redis"
	flagRedisTTL     = "redis-ttl"
	flagOTLPEndpoint = "otlp-endpoint"
	flagMetricsAddr  = "metrics-addr"
	flagRateLimit    = "rate-limit"
	flagFormat       = "format"

	shutdownTimeout = 5 * time.Second
)

// errRunsFailed is returned when at least one case did not complete, so the
// process exits non-zero in CI.
var errRunsFailed = errors.New("some runs failed")

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <suite.yaml>",
		Short: "Run every case of a suite",
		Long: `Runs the cases of a suite concurrently and prints a summary. Results can be
written to a directory (one JSON file per case plus index.json) and to Redis.

Flags can also be set through LEV_ environment variables, e.g.
LEV_CONCURRENCY=8 or LEV_OTLP_ENDPOINT=http://localhost:4318/v1/traces.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuite(cmd, v, args[0])
		},
	}

	cmd.Flags().IntP(flagConcurrency, "j", 0, "Cases run at once (default: suite setting or 4)")
	cmd.Flags().StringP(flagOut, "o", "", "Directory to write result files to")
	cmd.Flags().String(flagRedis, "", "Redis address to write results to")
	cmd.Flags().Duration(flagRedisTTL, 0, "Expiry of results written to Redis (default 7 days)")
	cmd.Flags().String(flagOTLPEndpoint, "", "OTLP/HTTP endpoint to export traces to")
	cmd.Flags().String(flagMetricsAddr, "", "Address to serve Prometheus metrics on while running")
	cmd.Flags().Float64(flagRateLimit, 0, "Model calls per second across all runs (0 disables)")
	cmd.Flags().String(flagFormat, "text", "Summary format: text or json")
	return cmd
}

func runSuite(cmd *cobra.Command, v *viper.Viper, path string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := config.LoadSuite(path)
	if err != nil {
		return err
	}
	if s.Logging != nil {
		s.Logging.Apply(v.GetBool(flagVerbose), cmd.ErrOrStderr())
	}

	scoring := evals.NewRegistry()
	if err := s.Validate(scoring); err != nil {
		return err
	}
	cases, err := s.EvalCases()
	if err != nil {
		return err
	}

	agentSpec, judgeSpec, err := s.ResolveProviders(config.ResolveOptions{Profile: v.GetString(flagProfile)})
	if err != nil {
		return err
	}
	judge, err := providers.CreateProviderFromSpec(judgeSpec)
	if err != nil {
		return fmt.Errorf("failed to create judge provider: %w", err)
	}
	defer judge.Close()

	opts := []evaluator.Option{
		evaluator.WithJudge(judge),
		evaluator.WithSuite(s.Name),
		evaluator.WithConcurrency(firstPositive(v.GetInt(flagConcurrency), s.Defaults.Concurrency)),
		evaluator.WithRateLimit(v.GetFloat64(flagRateLimit), 1),
	}

	if endpoint := v.GetString(flagOTLPEndpoint); endpoint != "" {
		tracing, err := telemetry.Setup(ctx, telemetry.Config{
			Endpoint: endpoint,
			Suite:    s.Name,
			Labels:   s.Metadata.Labels,
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer shutdown("tracer provider", tracing.Shutdown)
		opts = append(opts, evaluator.WithTracer(tracing.Tracer()))
	}

	if addr := v.GetString(flagMetricsAddr); addr != "" {
		exp, err := prometheus.Serve(addr, prometheus.WithSuiteLabel(s.Name))
		if err != nil {
			return fmt.Errorf("failed to start metrics exporter: %w", err)
		}
		defer shutdown("metrics exporter", exp.Shutdown)
		logger.InfoContext(ctx, "Serving metrics", "addr", exp.Addr())
	}

	e, err := evaluator.New(scoring, evaluator.ProviderFromSpec(agentSpec), opts...)
	if err != nil {
		return err
	}

	sink, err := openSinks(ctx, v)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Running suite", "suite", s.Name, "path", path, "provider", agentSpec.Type, "cases", len(cases), "labels", s.Metadata.Labels)
	records, summary, runErr := e.RunAll(ctx, cases, sink)
	if err := sink.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if err := printSummary(cmd.OutOrStdout(), v.GetString(flagFormat), records, summary); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("writing results: %w", runErr)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRunsFailed, summary.Failed, summary.Total)
	}
	return nil
}

// openSinks builds the result sinks selected by flags. Redis is pinged up
// front so a bad address fails before any case runs.
func openSinks(ctx context.Context, v *viper.Viper) (*sinks.Composite, error) {
	var out []evaluator.Sink
	if dir := v.GetString(flagOut); dir != "" {
		jd, err := sinks.NewJSONDir(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, jd)
	}
	if addr := v.GetString(flagRedis); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = sinks.NewComposite(out...).Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
		}
		var redisOpts []sinks.RedisOption
		if ttl := v.GetDuration(flagRedisTTL); ttl > 0 {
			redisOpts = append(redisOpts, sinks.WithTTL(ttl))
		}
		out = append(out, sinks.NewRedis(client, redisOpts...))
	}
	return sinks.NewComposite(out...), nil
}

func printSummary(w io.Writer, format string, records []*evaluator.ResultRecord, summary evaluator.Summary) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Summary evaluator.Summary         `json:"summary"`
			Records []*evaluator.ResultRecord `json:"records"`
		}{summary, records})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tSTATUS\tAGGREGATE\tERROR")
	for _, r := range records {
		agg, _ := r.Aggregate()
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", r.CaseID(), r.Status(), agg, r.ErrorKind())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d cases, %d succeeded, %d failed in %s\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "mean aggregate: %.3f\n", summary.MeanAggregate)
	for _, m := range summary.Metrics() {
		fmt.Fprintf(w, "  %-24s %.3f\n", m, summary.MetricMeans[m])
	}
	return nil
}

func shutdown(what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("Shutdown failed", "component", what, "error", err)
	}
}

func firstPositive(values ...int) int {
	for _, n := range values {
		if n > 0 {
			return n
		}
	}
	return evaluator.DefaultConcurrency
}
