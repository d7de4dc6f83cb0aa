package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/efebarandurmaz/skillmatch/internal/config"
	"github.com/efebarandurmaz/skillmatch/internal/embedding"
	"github.com/efebarandurmaz/skillmatch/internal/gateway"
	"github.com/efebarandurmaz/skillmatch/internal/llm"
	"github.com/efebarandurmaz/skillmatch/internal/llm/openai"
	"github.com/efebarandurmaz/skillmatch/internal/matching"
	"github.com/efebarandurmaz/skillmatch/internal/metrics"
	"github.com/efebarandurmaz/skillmatch/internal/observability"
	"github.com/efebarandurmaz/skillmatch/internal/secrets"
	"github.com/efebarandurmaz/skillmatch/internal/server"
	"github.com/efebarandurmaz/skillmatch/internal/source"
	"github.com/efebarandurmaz/skillmatch/internal/store"
	"github.com/efebarandurmaz/skillmatch/internal/vector"
	"github.com/efebarandurmaz/skillmatch/internal/vector/qdrant"
)

type runOptions struct {
	configPath  string
	skillsDSN   string
	packagesCSV string
	outputDSN   string
	verbose     bool
	jsonReport  bool
	dumpMetrics bool
	statusAddr  string
}

func runMatching(parent context.Context, opts runOptions) (err error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.skillsDSN != "" {
		cfg.Source.SkillsDSN = opts.skillsDSN
	}
	if opts.packagesCSV != "" {
		cfg.Source.PackagesCSV = opts.packagesCSV
	}
	if opts.outputDSN != "" {
		cfg.Output.SQLiteDSN = opts.outputDSN
	}

	logger := newLogger(cfg.Log, opts.verbose)
	slog.SetDefault(logger)

	if err := resolveSecrets(ctx, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	report := metrics.New()
	report.Language = cfg.Matching.Language
	report.LLMProvider = cfg.LLM.Provider
	report.LLMEndpoints = len(cfg.LLM.Servers)

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "skillmatch",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := tp.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("tracing shutdown failed", "error", serr)
		}
	}()

	audit := observability.Disabled()
	if cfg.Audit.Path != "" {
		audit, err = observability.NewAuditLogger(&observability.AuditConfig{
			Enabled:    true,
			OutputPath: cfg.Audit.Path,
		})
		if err != nil {
			return err
		}
	}
	defer audit.Close()

	mm := observability.NewMatchMetrics()
	status := server.NewStatusServer(mm.Handler(), logger)
	status.RegisterCheck("llm", server.ErrorRateChecker(
		func() float64 { return mm.CompletionRequestsTotal.Value() + mm.EmbedRequestsTotal.Value() },
		mm.LLMErrorsTotal.Value,
		0.5,
	))
	if opts.statusAddr != "" {
		status.Start(opts.statusAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = status.Shutdown(shutdownCtx)
		}()
	}
	if opts.dumpMetrics {
		defer mm.Registry.WritePrometheus(os.Stderr)
	}

	skills, err := source.LoadSkillsSQLite(ctx, cfg.Source.SkillsDSN, cfg.Source.SkillPathPatterns)
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	packages, err := source.LoadPackagesFile(cfg.Source.PackagesCSV, cfg.Source.MinDescription)
	if err != nil {
		return fmt.Errorf("load packages: %w", err)
	}
	report.SetInputs(len(skills), len(packages))
	logger.Info("inputs loaded", "skills", len(skills), "packages", len(packages))

	endpoints, err := newFactory().CreateServers(llm.ProviderConfig{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.CompletionModel,
		EmbedModel:     cfg.LLM.EmbedModel,
		Timeout:        cfg.LLM.Timeout,
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryDelay:     time.Second,
		RequestsPerMin: cfg.LLM.RequestsPerMinute,
	}, cfg.LLM.Servers)
	if err != nil {
		return fmt.Errorf("create LLM endpoints: %w", err)
	}
	gw, err := gateway.New(endpoints, gateway.Options{
		SystemMessage: cfg.LLM.SystemMessage,
		Temperature:   cfg.LLM.Temperature,
		Logger:        logger,
		Metrics:       mm,
		Audit:         audit,
	})
	if err != nil {
		return err
	}

	indexFactory := vector.NewFlatIPFactory()
	if cfg.Index.Backend == "qdrant" {
		backend, err := qdrant.Dial(cfg.Index.Host, cfg.Index.Port, cfg.Index.Collection)
		if err != nil {
			return err
		}
		defer backend.Close()
		indexFactory = backend.Factory()
	}

	strategy, err := newStrategy(cfg, gw, indexFactory, logger, mm, audit)
	if err != nil {
		return err
	}

	writer, err := openWriters(ctx, cfg, logger, audit, mm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close writers: %w", cerr))
		}
	}()
	for _, w := range writer.writers {
		report.Writers = append(report.Writers, w.Name())
		if p, ok := w.(store.Pinger); ok {
			status.RegisterCheck(w.Name(), server.PingChecker(w.Name(), p.Ping))
		}
	}
	status.SetReady(true)

	audit.LogRunStart(ctx, len(skills), len(packages), map[string]string{
		"servers":  strings.Join(cfg.LLM.Servers, ","),
		"language": cfg.Matching.Language,
		"backend":  cfg.Index.Backend,
	})

	reason, runErr := consume(ctx, strategy, skills, packages, writer, cfg.Matching.StopThreshold, report, status, logger)
	status.Finish()
	report.AddError(runErr)
	report.Finish(reason)
	audit.LogRunEnd(ctx, len(report.Rounds), report.TotalMatches, report.Duration(), runErr)

	if opts.jsonReport {
		data, jerr := report.JSON()
		if jerr != nil {
			return jerr
		}
		fmt.Println(string(data))
	} else {
		report.PrintSummary(os.Stdout)
	}
	return runErr
}

// consume ranges over the rounds and persists every batch before asking for
// the next one. It returns why the run ended.
func consume(ctx context.Context, strategy *matching.Strategy, skills map[int64]source.Skill, packages []source.Package, writer *outputs, stopThreshold int, report *metrics.RunMetrics, status *server.StatusServer, logger *slog.Logger) (string, error) {
	started := time.Now()
	reason := "no more rounds"
	for batch, err := range strategy.Match(ctx, source.SkillItems(skills), source.PackageItems(packages)) {
		if err != nil {
			return "error", err
		}
		report.AddRound(batch.Round, batch.Len(), time.Since(started))
		started = time.Now()

		if err := writer.WriteBatch(ctx, batch); err != nil {
			return "write failed", fmt.Errorf("round %d: %w", batch.Round, err)
		}
		report.AddRows(batch.Len() * len(writer.writers))
		status.UpdateProgress(batch.Round, batch.Len(), report.Unmatched)

		switch {
		case batch.Len() < stopThreshold:
			reason = fmt.Sprintf("round %d matched %d < %d", batch.Round, batch.Len(), stopThreshold)
		case report.Unmatched == 0:
			reason = "every package matched"
		}
		logger.Debug("batch persisted", "round", batch.Round, "matches", batch.Len())
	}
	return reason, nil
}

func newStrategy(cfg *config.Config, gw *gateway.Gateway, indexFactory vector.IndexFactory, logger *slog.Logger, mm *observability.MatchMetrics, audit *observability.AuditLogger) (*matching.Strategy, error) {
	batchSize := cfg.Matching.BatchSize
	raw, err := embedding.NewRaw(gw, batchSize, logger)
	if err != nil {
		return nil, err
	}
	skillCompletion, err := embedding.NewSkillCompletion(gw, cfg.Matching.SkillTemplate, batchSize, logger)
	if err != nil {
		return nil, err
	}
	packageCompletion, err := embedding.NewPackageCompletion(gw, cfg.Matching.PackageTemplate, batchSize, logger)
	if err != nil {
		return nil, err
	}
	filter, err := matching.NewLLMFilter(gw, cfg.Matching.FilterTemplate, float32(cfg.Matching.MinScore),
		matching.WithFilterLogger(logger),
		matching.WithFilterAudit(audit),
		matching.WithFilterMetrics(mm),
	)
	if err != nil {
		return nil, err
	}
	engine := matching.NewEngine(
		matching.WithEngineLogger(logger),
		matching.WithIndexFactory(indexFactory),
	)
	return matching.NewStrategy(raw, skillCompletion, packageCompletion, engine, filter, cfg.Matching.StopThreshold, logger,
		matching.WithStrategyMetrics(mm),
		matching.WithStrategyAudit(audit),
	)
}

// outputs keeps the configured writers next to the MultiWriter fanning out
// to them.
type outputs struct {
	*store.MultiWriter
	writers []store.Writer
}

func openWriters(ctx context.Context, cfg *config.Config, logger *slog.Logger, audit *observability.AuditLogger, mm *observability.MatchMetrics) (*outputs, error) {
	var writers []store.Writer
	closeAll := func() {
		for _, w := range writers {
			_ = w.Close()
		}
	}

	if cfg.Output.SQLiteDSN != "" {
		w, err := store.OpenSQLite(ctx, cfg.Output.SQLiteDSN, cfg.Matching.Language)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}
	if n := cfg.Output.Neo4j; n.URI != "" {
		w, err := store.OpenNeo4j(ctx, n.URI, n.Username, n.Password, cfg.Matching.Language)
		if err != nil {
			closeAll()
			return nil, err
		}
		writers = append(writers, w)
	}
	return &outputs{
		MultiWriter: store.NewMultiWriter(logger, audit, mm, writers...),
		writers:     writers,
	}, nil
}

func newFactory() *llm.ProviderFactory {
	factory := llm.NewFactory()
	ctor := func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel, nil), nil
	}
	for name := range llm.KnownProviders {
		factory.Register(name, ctor)
	}
	factory.Register("custom", ctor)
	return factory
}

// resolveSecrets replaces env:, file: and vault: references in the
// credential fields with their values.
func resolveSecrets(ctx context.Context, cfg *config.Config) error {
	sc := &secrets.Config{FilePath: cfg.Secrets.File}
	if v := cfg.Secrets.Vault; v.Address != "" {
		sc.Vault = &secrets.VaultConfig{
			Address:    v.Address,
			Token:      v.Token,
			MountPath:  v.MountPath,
			SecretPath: v.SecretPath,
		}
	}
	m, err := secrets.NewManager(sc)
	if err != nil {
		return err
	}
	if err := m.ResolveAll(ctx, &cfg.LLM.APIKey, &cfg.Output.Neo4j.Password); err != nil {
		return fmt.Errorf("resolve secrets: %w", err)
	}
	return nil
}

func newLogger(cfg config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}
