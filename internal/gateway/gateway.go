// Package gateway pools a fixed set of LLM endpoints and exposes batched
// completion and normalized embedding over them. The pool size is the only
// concurrency limit: a request holds one endpoint for its whole duration.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/skillmatch/internal/llm"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
	"github.com/efebarandurmaz/skillmatch/internal/vector"
)

var (
	// ErrEmptyPool is returned by New when no endpoints are given.
	ErrEmptyPool = errors.New("gateway: no endpoints")
	// ErrEmptyInput is returned when a request carries nothing to send.
	ErrEmptyInput = errors.New("gateway: empty input")
)

// Options configures request defaults and instrumentation.
type Options struct {
	SystemMessage string
	Temperature   float64
	Logger        *slog.Logger
	Metrics       *observability.MatchMetrics
	Audit         *observability.AuditLogger
}

// Gateway is a pool of interchangeable endpoints.
type Gateway struct {
	pool    chan llm.Provider
	size    int
	opts    Options
	logger  *slog.Logger
	metrics *observability.MatchMetrics
}

// New creates a gateway over providers. Every provider must serve both
// completions and embeddings with the same models.
func New(providers []llm.Provider, opts Options) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, ErrEmptyPool
	}
	pool := make(chan llm.Provider, len(providers))
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("gateway: endpoint %d is nil", i)
		}
		pool <- p
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = observability.NewMatchMetrics()
	}
	return &Gateway{
		pool:    pool,
		size:    len(providers),
		opts:    opts,
		logger:  logger,
		metrics: m,
	}, nil
}

// Parallelism returns the number of pooled endpoints.
func (g *Gateway) Parallelism() int {
	return g.size
}

// Complete formats template once per argument tuple and sends every prompt
// concurrently. The i-th answer corresponds to args[i]. The first failure
// cancels the remaining requests and is returned; nothing is retried here.
func (g *Gateway) Complete(ctx context.Context, template string, args [][]string) ([]string, error) {
	if template == "" {
		return nil, fmt.Errorf("%w: template", ErrEmptyInput)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no arguments", ErrEmptyInput)
	}

	prompts := make([]string, len(args))
	for i, a := range args {
		p, err := Format(template, a...)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		prompts[i] = p
	}

	opts := llm.WithTemperature(g.opts.Temperature)
	out := make([]string, len(prompts))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, text := range prompts {
		eg.Go(func() error {
			return g.call(egCtx, observability.OpComplete, 1, func(ctx context.Context, p llm.Provider) error {
				resp, err := p.Complete(ctx, llm.UserPrompt(g.opts.SystemMessage, text), opts)
				if err != nil {
					return err
				}
				observability.RecordLLMUsage(ctx, resp.InputTokens, resp.OutputTokens)
				out[i] = resp.Content
				return nil
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedNormalize embeds texts and L2-normalizes every row. Newlines and tabs
// are replaced with spaces first. The input is split into Parallelism()
// chunks of ceil(len/N) texts, embedded concurrently and reassembled in
// input order.
func (g *Gateway) EmbedNormalize(ctx context.Context, texts []string) (vector.Matrix, error) {
	if len(texts) == 0 {
		return vector.Matrix{}, fmt.Errorf("%w: no texts", ErrEmptyInput)
	}

	clean := make([]string, len(texts))
	for i, t := range texts {
		clean[i] = flatten(t)
	}

	chunks := chunk(clean, g.size)
	parts := make([][][]float32, len(chunks))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		eg.Go(func() error {
			return g.call(egCtx, observability.OpEmbed, len(c), func(ctx context.Context, p llm.Provider) error {
				rows, err := p.Embed(ctx, c)
				if err != nil {
					return err
				}
				if len(rows) != len(c) {
					return fmt.Errorf("%w: endpoint returned %d embeddings for %d texts", vector.ErrDimension, len(rows), len(c))
				}
				parts[i] = rows
				return nil
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return vector.Matrix{}, err
	}

	rows := make([][]float32, 0, len(texts))
	for _, p := range parts {
		rows = append(rows, p...)
	}
	m, err := vector.NewMatrix(rows)
	if err != nil {
		return vector.Matrix{}, fmt.Errorf("assemble embeddings: %w", err)
	}
	m.NormalizeL2()
	return m, nil
}

// call holds one endpoint for the duration of fn and records the request.
func (g *Gateway) call(ctx context.Context, op string, items int, fn func(context.Context, llm.Provider) error) error {
	p, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer g.release(p)

	ctx, span := observability.StartLLMSpan(ctx, op, p.Name(), items)
	defer span.End()

	g.metrics.LLMInFlight.Inc()
	start := time.Now()
	err = fn(ctx, p)
	elapsed := time.Since(start)
	g.metrics.LLMInFlight.Dec()
	g.metrics.RecordLLMRequest(op, elapsed, err)
	observability.RecordLLMDuration(span, elapsed)

	if err != nil {
		observability.RecordError(span, err)
		if ctx.Err() == nil {
			g.logger.Warn("llm request failed", "op", op, "endpoint", p.Name(), "error", err)
			g.opts.Audit.LogLLMError(ctx, op, p.Name(), err)
		}
		return fmt.Errorf("%s %s: %w", op, p.Name(), err)
	}
	g.logger.Debug("llm request", "op", op, "endpoint", p.Name(), "items", items, "duration", elapsed)
	return nil
}

func (g *Gateway) acquire(ctx context.Context) (llm.Provider, error) {
	select {
	case p := <-g.pool:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) release(p llm.Provider) {
	g.pool <- p
}

var flattener = strings.NewReplacer("\n", " ", "\t", " ")

func flatten(s string) string {
	return flattener.Replace(s)
}

// chunk splits s into at most n consecutive chunks of ceil(len/n) items.
func chunk(s []string, n int) [][]string {
	size := (len(s) + n - 1) / n
	out := make([][]string, 0, n)
	for start := 0; start < len(s); start += size {
		end := min(start+size, len(s))
		out = append(out, s[start:end])
	}
	return out
}
