// Package pipeline runs one election year's forecast end to end: load the
// input tables, aggregate states, distribute electoral votes, score the run
// and render the output tables.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/pollcast/internal/aggregate"
	"github.com/ppiankov/pollcast/internal/cache"
	"github.com/ppiankov/pollcast/internal/electoral"
	"github.com/ppiankov/pollcast/internal/metrics"
	"github.com/ppiankov/pollcast/internal/model"
	"github.com/ppiankov/pollcast/internal/score"
	"github.com/ppiankov/pollcast/internal/source"
)

var requestValidator = validator.New()

// Pipeline orchestrates a complete forecast
type Pipeline struct {
	loader     *source.Loader
	aggregator *aggregate.Aggregator
	engine     *electoral.Engine
	scorer     *score.Scorer
	recorder   *metrics.Recorder
	tracer     trace.Tracer
	logger     *slog.Logger
	config     *model.Config
	now        func() time.Time
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := cache.New(cfg.Cache)
	fetcher, err := source.NewFetcher(cfg.Source, c, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		loader:     source.NewLoader(fetcher),
		aggregator: aggregate.NewAggregator(cfg, logger),
		engine:     electoral.NewEngine(cfg, c, logger),
		scorer:     score.NewScorer(),
		recorder:   metrics.NewRecorder(),
		tracer:     otel.Tracer("github.com/ppiankov/pollcast/internal/pipeline"),
		logger:     logger,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Recorder returns the metrics recorder shared by every run of this pipeline
func (p *Pipeline) Recorder() *metrics.Recorder {
	return p.recorder
}

// Loader returns the table loader, for commands that read tables directly
func (p *Pipeline) Loader() *source.Loader {
	return p.loader
}

// Forecast runs one election year. Per-state and per-date failures are
// carried in the result; an error means the run as a whole could not proceed.
func (p *Pipeline) Forecast(ctx context.Context, req model.ForecastRequest) (*model.Forecast, error) {
	f, err := p.forecast(ctx, req)
	if err != nil {
		p.recorder.RecordFailure(req.Year)
		return nil, err
	}
	p.recorder.RecordForecast(f)
	return f, nil
}

func (p *Pipeline) forecast(ctx context.Context, req model.ForecastRequest) (*model.Forecast, error) {
	if err := requestValidator.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	start, err := req.StartDate()
	if err != nil {
		return nil, err
	}
	baselineYear := req.BaselineYear
	if baselineYear == 0 {
		baselineYear = req.Year - p.config.Model.BaselineOffsetYears
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.Forecast", trace.WithAttributes(
		attribute.Int("forecast.year", req.Year),
		attribute.Int("forecast.baseline_year", baselineYear),
		attribute.String("forecast.start", start.Format(model.DateLayout)),
	))
	defer span.End()

	log := p.logger.With("year", req.Year)

	// 1. Load input tables
	var tables *source.Tables
	err = p.stage(ctx, req.Year, "load", func(ctx context.Context) error {
		var err error
		tables, err = p.loader.Load(ctx, req, baselineYear)
		return err
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("load tables: %w", err))
	}
	log.Info("tables loaded",
		"polls", len(tables.Polls),
		"baselines", len(tables.Baselines),
		"allocations", len(tables.Allocations))

	// 2. Per-state daily estimates
	var states *model.StateTable
	err = p.stage(ctx, req.Year, "aggregate", func(ctx context.Context) error {
		var err error
		states, err = p.aggregator.Run(ctx, tables.Polls, tables.Baselines, start)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}

	// 3. Electoral vote distributions
	hits0, misses0 := p.engine.CacheStats()
	var ec *model.ElectoralTable
	err = p.stage(ctx, req.Year, "electoral", func(ctx context.Context) error {
		var err error
		ec, err = p.engine.Run(ctx, states, tables.Allocations, req.Year)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}
	hits1, misses1 := p.engine.CacheStats()
	p.recorder.RecordCache(req.Year, hits1-hits0, misses1-misses0)

	// 4. Score and report
	report := &model.Report{
		Year:        req.Year,
		GeneratedAt: p.now(),
		Window:      states.Window,
		Inputs: model.Inputs{
			Polls:       len(tables.Polls),
			Baselines:   len(tables.Baselines),
			Allocations: len(tables.Allocations),
			Digest:      tables.Digest,
		},
		States:      countStates(states),
		Dates:       len(ec.Modes),
		Estimates:   len(states.Estimates),
		Distributed: len(ec.Distributions),
		Score:       p.scorer.Calculate(states, ec),
	}
	if final, ok := ec.FinalMode(); ok {
		report.Final = &final
	}
	report.Failures = append(report.Failures, states.Failures...)
	report.Failures = append(report.Failures, ec.Failures...)

	span.SetAttributes(
		attribute.Int("forecast.states", report.States),
		attribute.Int("forecast.dates", report.Dates),
		attribute.Int("forecast.failures", len(report.Failures)),
		attribute.String("forecast.confidence", report.Score.Confidence),
	)
	log.Info("forecast complete",
		"states", report.States,
		"dates", report.Dates,
		"failures", len(report.Failures),
		"confidence", report.Score.Confidence)

	return &model.Forecast{Report: report, States: states, Electoral: ec}, nil
}

// stage runs fn in its own span and records its duration
func (p *Pipeline) stage(ctx context.Context, year int, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	p.recorder.ObserveStage(year, name, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func countStates(t *model.StateTable) int {
	seen := make(map[string]bool)
	for _, e := range t.Estimates {
		seen[e.StateID] = true
	}
	return len(seen)
}
