// Package metrics records forecast run statistics in a prometheus registry
// that is exported as a node-exporter textfile after the run.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ppiankov/pollcast/internal/model"
)

// Recorder holds the metrics of forecast runs. Each Recorder owns its own
// registry so batch runs in one process do not collide with the global one.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
	unitFailures  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	tableRows     *prometheus.GaugeVec
	majority      *prometheus.GaugeVec
	lastRun       *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pollcast_stage_duration_seconds",
				Help:    "Duration of each forecast pipeline stage.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"year", "stage"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollcast_runs_total",
				Help: "Forecast runs by outcome.",
			},
			[]string{"year", "status"},
		),
		unitFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollcast_unit_failures_total",
				Help: "States or dates that could not be computed.",
			},
			[]string{"year", "stage"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pollcast_distribution_cache_lookups_total",
				Help: "Electoral distribution cache lookups by result.",
			},
			[]string{"year", "result"},
		),
		tableRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pollcast_table_rows",
				Help: "Rows read or produced per table.",
			},
			[]string{"year", "table"},
		),
		majority: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pollcast_final_majority_probability",
				Help: "Probability of an electoral majority on the final forecast date.",
			},
			[]string{"year", "party"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pollcast_last_run_timestamp_seconds",
				Help: "Unix time of the last completed run.",
			},
			[]string{"year"},
		),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records how long a pipeline stage took
func (r *Recorder) ObserveStage(year int, stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(strconv.Itoa(year), stage).Observe(d.Seconds())
}

// RecordCache adds distribution cache hits and misses
func (r *Recorder) RecordCache(year int, hits, misses int64) {
	y := strconv.Itoa(year)
	r.cacheLookups.WithLabelValues(y, "hit").Add(float64(hits))
	r.cacheLookups.WithLabelValues(y, "miss").Add(float64(misses))
}

// RecordFailure counts a failed run
func (r *Recorder) RecordFailure(year int) {
	r.runsTotal.WithLabelValues(strconv.Itoa(year), "error").Inc()
}

// RecordForecast records the outcome of a completed run
func (r *Recorder) RecordForecast(f *model.Forecast) {
	if f == nil || f.Report == nil {
		return
	}
	y := strconv.Itoa(f.Report.Year)
	r.runsTotal.WithLabelValues(y, "ok").Inc()

	in := f.Report.Inputs
	r.tableRows.WithLabelValues(y, "polls").Set(float64(in.Polls))
	r.tableRows.WithLabelValues(y, "baselines").Set(float64(in.Baselines))
	r.tableRows.WithLabelValues(y, "allocations").Set(float64(in.Allocations))
	r.tableRows.WithLabelValues(y, "state_estimates").Set(float64(f.Report.Estimates))
	r.tableRows.WithLabelValues(y, "distribution").Set(float64(f.Report.Distributed))

	if f.States != nil {
		r.unitFailures.WithLabelValues(y, string(model.StageAggregate)).Add(float64(len(f.States.Failures)))
	}
	if f.Electoral != nil {
		r.unitFailures.WithLabelValues(y, string(model.StageElectoral)).Add(float64(len(f.Electoral.Failures)))
	}

	if final := f.Report.Final; final != nil {
		r.majority.WithLabelValues(y, string(model.PartyDemocratic)).Set(final.DemocraticMajority)
		r.majority.WithLabelValues(y, string(model.PartyRepublican)).Set(final.RepublicanMajority)
	}
	r.lastRun.WithLabelValues(y).Set(float64(f.Report.GeneratedAt.Unix()))
}

// WriteTextfile writes the registry in the text exposition format, atomically
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
