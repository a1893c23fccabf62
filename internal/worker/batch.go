package worker

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/pollcast/internal/model"
)

// Forecaster runs one election year's forecast
type Forecaster interface {
	Forecast(ctx context.Context, req model.ForecastRequest) (*model.Forecast, error)
}

// YearJob is the forecast of a single election year
type YearJob struct {
	Request    model.ForecastRequest
	Forecaster Forecaster
}

// Execute runs the forecast; a failure stays inside the result
func (j *YearJob) Execute(ctx context.Context) Result {
	forecast, err := j.Forecaster.Forecast(ctx, j.Request)
	if err != nil {
		return &YearResult{Year: j.Request.Year, Error: err}
	}
	return &YearResult{Year: j.Request.Year, Forecast: forecast}
}

// YearResult is the outcome of a YearJob
type YearResult struct {
	Year     int
	Forecast *model.Forecast
	Error    error
}

// GetError returns the error from the year's forecast
func (r *YearResult) GetError() error {
	return r.Error
}

// Manifest lists the years a batch run forecasts
type Manifest struct {
	Years []model.ForecastRequest `yaml:"years"`
}

// BatchProcessor forecasts several election years concurrently
type BatchProcessor struct {
	forecaster  Forecaster
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(forecaster Forecaster, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		forecaster:  forecaster,
		concurrency: concurrency,
	}
}

// ProcessRequests forecasts every request and returns the results ordered by year
func (b *BatchProcessor) ProcessRequests(ctx context.Context, reqs []model.ForecastRequest) []*YearResult {
	if len(reqs) == 0 {
		return []*YearResult{}
	}

	pool := NewPoolContext(ctx, b.concurrency)
	pool.Start()

	for _, req := range reqs {
		pool.Submit(&YearJob{
			Request:    req,
			Forecaster: b.forecaster,
		})
	}

	results := pool.Wait()

	yearResults := make([]*YearResult, len(results))
	for i, result := range results {
		switch r := result.(type) {
		case *YearResult:
			yearResults[i] = r
		case nil:
			yearResults[i] = &YearResult{Year: reqs[i].Year, Error: fmt.Errorf("forecast %d not run: %w", reqs[i].Year, ctx.Err())}
		default:
			yearResults[i] = &YearResult{Year: reqs[i].Year, Error: r.GetError()}
		}
	}
	sort.SliceStable(yearResults, func(i, j int) bool { return yearResults[i].Year < yearResults[j].Year })

	return yearResults
}

// ProcessManifest reads a YAML manifest and forecasts its years concurrently
func (b *BatchProcessor) ProcessManifest(ctx context.Context, path string) ([]*YearResult, error) {
	reqs, err := ReadManifest(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return b.ProcessRequests(ctx, reqs), nil
}

// ReadManifest reads a batch manifest; a year listed twice keeps its first entry
func ReadManifest(path string) ([]model.ForecastRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	var reqs []model.ForecastRequest
	seen := make(map[int]bool)
	for i, req := range m.Years {
		if req.Year <= 0 {
			return nil, fmt.Errorf("manifest entry %d: year is required", i)
		}
		if !seen[req.Year] {
			seen[req.Year] = true
			reqs = append(reqs, req)
		}
	}

	return reqs, nil
}
