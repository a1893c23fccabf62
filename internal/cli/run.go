package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pollcast/internal/model"
	"github.com/ppiankov/pollcast/internal/pipeline"
	"github.com/ppiankov/pollcast/internal/store"
)

var (
	pollsPath       string
	baselinePath    string
	allocationsPath string
	startDate       string
	baselineYear    int
	outputDir       string
	noJSON          bool
	noCache         bool
	runTimeout      time.Duration
	userAgent       string
	httpProxy       string
	httpsProxy      string
	storeDSN        string
	metricsFile     string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <year>",
	Short: "Forecast one election year",
	Long: `Run forecasts a single election year:
- Load polls, the previous-election baseline and elector allocations
- Aggregate each state's polls into one estimate per day
- Build the electoral vote distribution of each party per day
- Write state, distribution and maximum tables plus a JSON report

Example:
  pollcast run 2020 --polls polls.csv --baseline results.csv --allocations electors.csv
  pollcast run 2020 --polls https://example.org/polls.csv --baseline results.csv \
      --allocations electors.csv --start 2020-03-01 --output-dir ./out`,
	Args: cobra.ExactArgs(1),
	RunE: runForecast,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Input flags
	runCmd.Flags().StringVar(&pollsPath, "polls", "", "polls table (path or URL)")
	runCmd.Flags().StringVar(&baselinePath, "baseline", "", "previous-election results table (path or URL)")
	runCmd.Flags().StringVar(&allocationsPath, "allocations", "", "elector allocations table (path or URL)")
	runCmd.Flags().StringVar(&startDate, "start", "", "campaign start date YYYY-MM-DD (default: January 1 of the year)")
	runCmd.Flags().IntVar(&baselineYear, "baseline-year", 0, "baseline election year (default: year minus model.baseline_offset_years)")
	_ = runCmd.MarkFlagRequired("polls")
	_ = runCmd.MarkFlagRequired("baseline")
	_ = runCmd.MarkFlagRequired("allocations")

	addRunFlags(runCmd)
}

// addRunFlags registers the flags run and batch share
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "output directory (overrides output.dir)")
	cmd.Flags().BoolVar(&noJSON, "no-json", false, "skip report_<year>.json")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable distribution and download cache")
	cmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "overall timeout")
	cmd.Flags().StringVar(&userAgent, "ua", "", "HTTP User-Agent for remote tables")
	cmd.Flags().StringVar(&httpProxy, "http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	cmd.Flags().StringVar(&httpsProxy, "https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	cmd.Flags().StringVar(&storeDSN, "store-dsn", "", "save runs to this database (overrides store.dsn)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write prometheus textfile metrics here (overrides metrics.file)")
}

// runConfig loads the config and applies the run flags the user set
func runConfig(cmd *cobra.Command) (*model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("output-dir") {
		cfg.Output.Dir = outputDir
	}
	if noJSON {
		cfg.Output.JSON = false
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if flags.Changed("ua") {
		cfg.Source.UserAgent = userAgent
	}
	if flags.Changed("http-proxy") {
		cfg.Source.HTTPProxy = httpProxy
	}
	if flags.Changed("https-proxy") {
		cfg.Source.HTTPSProxy = httpsProxy
	}
	if flags.Changed("store-dsn") {
		cfg.Store.DSN = storeDSN
	}
	if flags.Changed("metrics-file") {
		cfg.Metrics.File = metricsFile
	}
	return cfg, nil
}

// commandContext is cancelled on SIGINT/SIGTERM or after the timeout
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runForecast(cmd *cobra.Command, args []string) error {
	year, err := strconv.Atoi(args[0])
	if err != nil || year <= 0 {
		return fmt.Errorf("invalid year %q", args[0])
	}

	cfg, err := runConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := commandContext(runTimeout)
	defer cancel()

	req := model.ForecastRequest{
		Year:         year,
		Polls:        pollsPath,
		Baseline:     baselinePath,
		Allocations:  allocationsPath,
		Start:        startDate,
		BaselineYear: baselineYear,
	}

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Forecasting: %d\n", year)
		fmt.Fprintf(os.Stderr, "Polls:       %s\n", req.Polls)
		fmt.Fprintf(os.Stderr, "Baseline:    %s\n", req.Baseline)
		fmt.Fprintf(os.Stderr, "Allocations: %s\n", req.Allocations)
		fmt.Fprintf(os.Stderr, "Cache:       %v\n", cfg.Cache.Enabled)
		fmt.Fprintln(os.Stderr)
	}

	p, err := pipeline.NewPipeline(cfg, logger)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	f, err := p.Forecast(ctx, req)
	if err != nil {
		writeMetrics(cfg, p)
		return fmt.Errorf("forecast failed: %w", err)
	}

	renderer := pipeline.NewRenderer(cfg.Output.Dir, cfg.Output.JSON)
	if err := saveRun(ctx, cfg, f); err != nil {
		return err
	}

	paths, err := renderer.RenderForecast(f)
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	if cfg.Output.Verbose {
		for _, path := range paths {
			fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
		}
	}

	writeMetrics(cfg, p)
	renderer.RenderSummary(os.Stdout, f.Report)

	return nil
}

// saveRun appends the run to the configured store; it sets the report's RunID
func saveRun(ctx context.Context, cfg *model.Config, f *model.Forecast) error {
	if cfg.Store.DSN == "" {
		return nil
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	runID, err := st.SaveRun(ctx, f)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "✓ Saved run %s (%s)\n", runID, cfg.Store.Driver)
	}
	return nil
}

// writeMetrics exports the pipeline's metrics when a textfile is configured
func writeMetrics(cfg *model.Config, p *pipeline.Pipeline) {
	if cfg.Metrics.File == "" {
		return
	}
	if err := p.Recorder().WriteTextfile(cfg.Metrics.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}
