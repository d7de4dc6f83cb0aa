package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/skillmatch/internal/llm"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
	"github.com/efebarandurmaz/skillmatch/internal/source"
)

// Filter picks the winner of each candidate. The result has one slot per
// candidate, in order; a nil slot means no match.
type Filter interface {
	ChooseBestMatches(ctx context.Context, candidates []Candidate) ([]source.Item, error)
}

// Completer sends templated prompts, one per argument tuple.
type Completer interface {
	Complete(ctx context.Context, template string, args [][]string) ([]string, error)
}

const (
	// DefaultMinScore is the lowest first-neighbour score worth asking the
	// LLM about.
	DefaultMinScore = 0.75
	// MaxAttempts bounds how often the LLM is asked about one candidate
	// before the first neighbour wins by default.
	MaxAttempts = 3

	logLabelWidth = 50
)

// Classes the filter template asks the LLM to answer with.
const (
	ClassNone   = 0
	ClassFirst  = 1
	ClassSecond = 2
)

// LLMFilter asks an LLM whether the query belongs to the first neighbour,
// the second one or neither.
type LLMFilter struct {
	gw       Completer
	template string
	minScore float32
	logger   *slog.Logger
	audit    *observability.AuditLogger
	metrics  *observability.MatchMetrics
}

// FilterOption configures an LLMFilter.
type FilterOption func(*LLMFilter)

// WithFilterLogger sets the logger for match decisions.
func WithFilterLogger(l *slog.Logger) FilterOption {
	return func(f *LLMFilter) { f.logger = l }
}

// WithFilterAudit records every decision in the audit log.
func WithFilterAudit(a *observability.AuditLogger) FilterOption {
	return func(f *LLMFilter) { f.audit = a }
}

// WithFilterMetrics counts decisions in m.
func WithFilterMetrics(m *observability.MatchMetrics) FilterOption {
	return func(f *LLMFilter) { f.metrics = m }
}

// NewLLMFilter creates a filter. template receives the filter texts of the
// query, the first and the second neighbour as {0}, {1} and {2} (or three
// {} slots).
func NewLLMFilter(gw Completer, template string, minScore float32, opts ...FilterOption) (*LLMFilter, error) {
	if gw == nil {
		return nil, errors.New("matching: filter needs a completer")
	}
	if template == "" {
		return nil, errors.New("matching: filter template is empty")
	}
	f := &LLMFilter{
		gw:       gw,
		template: template,
		minScore: minScore,
		logger:   slog.Default(),
		metrics:  observability.NewMatchMetrics(),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// ChooseBestMatches implements Filter. Candidates scoring below the
// minimum are rejected without asking the LLM; the rest are decided
// concurrently.
func (f *LLMFilter) ChooseBestMatches(ctx context.Context, candidates []Candidate) ([]source.Item, error) {
	for i, c := range candidates {
		if c.Query == nil || c.First == nil || c.Second == nil {
			return nil, fmt.Errorf("candidate %d: %w", i, source.ErrNilItem)
		}
	}

	ctx, span := observability.StartFilterSpan(ctx, len(candidates))
	defer span.End()

	out := make([]source.Item, len(candidates))
	below := 0
	eg, egCtx := errgroup.WithContext(ctx)
	for i, c := range candidates {
		if c.FirstScore < f.minScore {
			below++
			f.record(egCtx, c, "below_min_score", 0, nil)
			f.metrics.FilterBelowMinTotal.Inc()
			continue
		}
		eg.Go(func() error {
			winner, err := f.decide(egCtx, c)
			if err != nil {
				return err
			}
			out[i] = winner
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	winners := 0
	for _, w := range out {
		if w != nil {
			winners++
		}
	}
	observability.RecordFilterResult(span, winners, below)
	f.logger.Info("filtered candidates", "candidates", len(candidates), "asked", len(candidates)-below, "winners", winners)
	return out, nil
}

// decide asks the LLM up to MaxAttempts times. Only unusable answers are
// retried; when every answer is unusable the first neighbour wins. A failed
// completion call fails the candidate and with it the round.
func (f *LLMFilter) decide(ctx context.Context, c Candidate) (source.Item, error) {
	args := [][]string{{c.Query.TextToFilter(), c.First.TextToFilter(), c.Second.TextToFilter()}}
	var answers []string
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		resp, err := f.gw.Complete(ctx, f.template, args)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("filter %s: %w", label(c.Query), err)
		}
		if len(resp) == 0 {
			return nil, fmt.Errorf("filter %s: empty completion", label(c.Query))
		}
		answer := llm.CleanAnswer(resp[0])
		answers = append(answers, answer)

		class, err := strconv.Atoi(answer)
		if err != nil || class < ClassNone || class > ClassSecond {
			f.metrics.FilterFailedAttempts.Inc()
			f.logger.Debug("unusable filter answer", "query", label(c.Query), "attempt", attempt, "answer", answer)
			continue
		}

		switch class {
		case ClassFirst:
			f.record(ctx, c, "first", attempt, answers)
			f.metrics.FilterDecisionsTotal.Inc()
			return c.First, nil
		case ClassSecond:
			f.record(ctx, c, "second", attempt, answers)
			f.metrics.FilterDecisionsTotal.Inc()
			return c.Second, nil
		default:
			f.record(ctx, c, "none", attempt, answers)
			f.metrics.FilterRejectedTotal.Inc()
			return nil, nil
		}
	}
	f.record(ctx, c, "fallback", MaxAttempts, answers)
	f.metrics.FilterFallbacksTotal.Inc()
	f.metrics.FilterDecisionsTotal.Inc()
	return c.First, nil
}

func (f *LLMFilter) record(ctx context.Context, c Candidate, outcome string, attempts int, answers []string) {
	f.logger.Info("match decision",
		"query", label(c.Query),
		"first", label(c.First),
		"second", label(c.Second),
		"score", c.FirstScore,
		"outcome", outcome,
	)
	f.audit.LogFilterDecision(ctx, observability.FilterDecision{
		Query:       c.Query.Label(),
		First:       c.First.Label(),
		FirstScore:  c.FirstScore,
		Second:      c.Second.Label(),
		SecondScore: c.SecondScore,
		Outcome:     outcome,
		Attempts:    attempts,
		Answers:     answers,
	})
}

func label(it source.Item) string {
	return source.Truncate(it.Label(), logLabelWidth)
}

var _ Filter = (*LLMFilter)(nil)
