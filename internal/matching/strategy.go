package matching

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/skillmatch/internal/embedding"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
	"github.com/efebarandurmaz/skillmatch/internal/source"
)

// Strategy drives the engine through successive rounds. Round 0 compares
// raw texts on both sides. Later rounds embed skills through their LLM
// expansion; odd rounds reuse the right embeddings of the previous round
// while even rounds recompute them from package expansions.
type Strategy struct {
	raw               embedding.Provider
	skillCompletion   embedding.Provider
	packageCompletion embedding.Provider
	engine            *Engine
	filter            Filter
	stopThreshold     int
	logger            *slog.Logger
	metrics           *observability.MatchMetrics
	audit             *observability.AuditLogger
}

// StrategyOption configures a Strategy.
type StrategyOption func(*Strategy)

// WithStrategyMetrics records rounds in m.
func WithStrategyMetrics(m *observability.MatchMetrics) StrategyOption {
	return func(s *Strategy) { s.metrics = m }
}

// WithStrategyAudit records rounds in the audit log.
func WithStrategyAudit(a *observability.AuditLogger) StrategyOption {
	return func(s *Strategy) { s.audit = a }
}

// NewStrategy creates a strategy. A run stops after the first round that
// yields fewer than stopThreshold matches.
func NewStrategy(raw, skillCompletion, packageCompletion embedding.Provider, engine *Engine, filter Filter, stopThreshold int, logger *slog.Logger, opts ...StrategyOption) (*Strategy, error) {
	var errs []error
	if raw == nil {
		errs = append(errs, errors.New("raw embedding provider is nil"))
	}
	if skillCompletion == nil {
		errs = append(errs, errors.New("skill completion provider is nil"))
	}
	if packageCompletion == nil {
		errs = append(errs, errors.New("package completion provider is nil"))
	}
	if engine == nil {
		errs = append(errs, errors.New("engine is nil"))
	}
	if filter == nil {
		errs = append(errs, errors.New("filter is nil"))
	}
	if stopThreshold <= 0 {
		errs = append(errs, fmt.Errorf("stop threshold must be positive, got %d", stopThreshold))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Strategy{
		raw:               raw,
		skillCompletion:   skillCompletion,
		packageCompletion: packageCompletion,
		engine:            engine,
		filter:            filter,
		stopThreshold:     stopThreshold,
		logger:            logger,
		metrics:           observability.NewMatchMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Plan returns the providers used in the given round. A nil right provider
// means the cached right embeddings are reused.
func (s *Strategy) Plan(round int) (left, right embedding.Provider) {
	switch {
	case round == 0:
		return s.raw, s.raw
	case round%2 == 1:
		return s.skillCompletion, nil
	default:
		return s.skillCompletion, s.packageCompletion
	}
}

// Match runs rounds lazily: each round starts only when the consumer asks
// for the next batch. The sequence ends after a round with fewer than the
// stop threshold of matches, when every package is matched, when the
// consumer stops ranging, or after yielding the first error.
func (s *Strategy) Match(ctx context.Context, skills map[int64]source.Item, packages []source.Item) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		if err := s.engine.SetLeft(skills); err != nil {
			yield(Batch{}, err)
			return
		}
		if err := s.engine.SetRight(packages); err != nil {
			yield(Batch{}, err)
			return
		}

		for round := 0; ; round++ {
			if err := ctx.Err(); err != nil {
				yield(Batch{}, err)
				return
			}
			s.logger.Info("matching round", "round", round, "remaining", s.engine.RightLen())

			batch, err := s.runRound(ctx, round)
			if err != nil {
				yield(Batch{}, fmt.Errorf("round %d: %w", round, err))
				return
			}
			if !yield(batch, nil) {
				return
			}
			if batch.Len() < s.stopThreshold {
				s.logger.Info("matching completed", "rounds", round+1, "last_round_matches", batch.Len())
				return
			}
			if s.engine.RightLen() == 0 {
				s.logger.Info("matching completed, every item matched", "rounds", round+1)
				return
			}
		}
	}
}

func (s *Strategy) runRound(ctx context.Context, round int) (Batch, error) {
	ctx, span := observability.StartRoundSpan(ctx, round, len(s.engine.left), s.engine.RightLen())
	defer span.End()

	start := time.Now()
	left, right := s.Plan(round)
	batch, err := s.engine.EmbedAndSearch(ctx, left, right, s.filter)
	if err != nil {
		observability.RecordError(span, err)
		return Batch{}, err
	}
	batch.Round = round

	elapsed := time.Since(start)
	remaining := s.engine.RightLen()
	observability.RecordRoundResult(span, batch.Len(), remaining)
	s.metrics.RecordRound(elapsed, batch.Len(), remaining)
	s.audit.LogRound(ctx, round, batch.Len(), remaining, elapsed)
	return batch, nil
}
