package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/pollcast/internal/model"
	"github.com/ppiankov/pollcast/internal/pipeline"
	"github.com/ppiankov/pollcast/internal/worker"
)

var yearWorkers int

var batchCmd = &cobra.Command{
	Use:   "batch <manifest>",
	Short: "Forecast several election years in parallel",
	Long: `Batch forecasts every year listed in a YAML manifest. Years run on
--year-workers goroutines; a failed year is reported and the rest continue.
Each year writes its own output tables.

Manifest format:
  years:
    - year: 2016
      polls: polls_2016.csv
      baseline: results.csv
      allocations: electors.csv
    - year: 2020
      polls: polls_2020.csv
      baseline: results.csv
      allocations: electors.csv
      start: 2020-03-01

Example:
  pollcast batch manifest.yaml
  pollcast batch manifest.yaml --year-workers 4 --output-dir ./forecasts`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&yearWorkers, "year-workers", 0, "years forecast concurrently (overrides concurrency.year_workers)")
	addRunFlags(batchCmd)
}

// batchTally counts finished years and the rows they produced
type batchTally struct {
	w       io.Writer
	ok      int
	failed  int
	rows    int
	started time.Time
}

func (t *batchTally) fail(year int, err error) {
	t.failed++
	fmt.Fprintf(t.w, "✗ %d: %v\n", year, err)
}

func (t *batchTally) done(r *model.Report) {
	t.ok++
	t.rows += r.Estimates + r.Distributed

	line := fmt.Sprintf("✓ %d (%s days, confidence: %s", r.Year, humanize.Comma(int64(r.Dates)), r.Score.Confidence)
	if r.Final != nil {
		line += fmt.Sprintf(", democratic majority %.1f%%", r.Final.DemocraticMajority*100)
	}
	if n := len(r.Failures); n > 0 {
		line += fmt.Sprintf(", %d failed units", n)
	}
	fmt.Fprintln(t.w, line+")")
}

func runBatch(cmd *cobra.Command, args []string) error {
	manifest := args[0]

	cfg, err := runConfig(cmd)
	if err != nil {
		return err
	}
	if yearWorkers > 0 {
		cfg.Concurrency.YearWorkers = yearWorkers
	}
	logger := newLogger(cfg)

	ctx, cancel := commandContext(runTimeout)
	defer cancel()

	banner(os.Stderr, "Pollcast Batch Forecast",
		[2]string{"Manifest", manifest},
		[2]string{"Workers", strconv.Itoa(cfg.Concurrency.YearWorkers)},
		[2]string{"Output dir", cfg.Output.Dir},
		[2]string{"Timeout", runTimeout.String()},
	)

	p, err := pipeline.NewPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	tally := &batchTally{w: os.Stderr, started: time.Now()}
	results, err := worker.NewBatchProcessor(p, cfg.Concurrency.YearWorkers).ProcessManifest(ctx, manifest)
	if err != nil {
		return fmt.Errorf("process manifest: %w", err)
	}

	renderer := pipeline.NewRenderer(cfg.Output.Dir, cfg.Output.JSON)
	for _, res := range results {
		if res.Error != nil {
			tally.fail(res.Year, res.Error)
			continue
		}
		if err := saveRun(ctx, cfg, res.Forecast); err != nil {
			tally.fail(res.Year, err)
			continue
		}
		if _, err := renderer.RenderForecast(res.Forecast); err != nil {
			tally.fail(res.Year, fmt.Errorf("write outputs: %w", err))
			continue
		}
		tally.done(res.Forecast.Report)
	}

	writeMetrics(cfg, p)

	banner(os.Stderr, "Batch Complete",
		[2]string{"Years", strconv.Itoa(len(results))},
		[2]string{"Succeeded", strconv.Itoa(tally.ok)},
		[2]string{"Failed", strconv.Itoa(tally.failed)},
		[2]string{"Rows", humanize.Comma(int64(tally.rows))},
		[2]string{"Elapsed", time.Since(tally.started).Round(time.Millisecond).String()},
		[2]string{"Output", cfg.Output.Dir},
	)

	if tally.failed > 0 {
		return fmt.Errorf("%d of %d years failed", tally.failed, len(results))
	}
	return nil
}
