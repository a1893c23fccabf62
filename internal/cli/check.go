package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/pollcast/internal/source"
	"github.com/ppiankov/pollcast/internal/validate"
)

var (
	checkSummary     string
	checkAllocations string
	checkPolls       string
	checkBaseline    string
	checkYear        int
	checkJSON        bool
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Cross-check input tables for consistency",
	Long: `Check compares the input tables against each other and reports:
- Elector allocations whose sum differs from the official total
- Years with allocations but no election summary, or the reverse
- Duplicate allocation rows and duplicate poll questions
- Polls or baselines whose shares sum above 1
- Polled states without a baseline or without electors

The forecast itself never runs these checks.

Example:
  pollcast check --summary summary.csv --allocations electors.csv
  pollcast check --summary summary.csv --allocations electors.csv \
      --polls polls.csv --baseline results.csv --year 2020`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVar(&checkSummary, "summary", "", "election summary table (path or URL)")
	checkCmd.Flags().StringVar(&checkAllocations, "allocations", "", "elector allocations table (path or URL)")
	checkCmd.Flags().StringVar(&checkPolls, "polls", "", "polls table (optional)")
	checkCmd.Flags().StringVar(&checkBaseline, "baseline", "", "baseline table (optional)")
	checkCmd.Flags().IntVar(&checkYear, "year", 0, "forecast year for the poll and baseline checks")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print findings as JSON")
	_ = checkCmd.MarkFlagRequired("summary")
	_ = checkCmd.MarkFlagRequired("allocations")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := commandContext(5 * time.Minute)
	defer cancel()

	fetcher, err := source.NewFetcher(cfg.Source, nil, logger)
	if err != nil {
		return err
	}
	loader := source.NewLoader(fetcher)

	in := validate.Input{Year: checkYear}
	if in.Summaries, err = loader.Summaries(ctx, checkSummary); err != nil {
		return err
	}
	if in.Allocations, err = loader.Allocations(ctx, checkAllocations); err != nil {
		return err
	}
	if checkPolls != "" {
		if in.Polls, err = loader.Polls(ctx, checkPolls, checkYear); err != nil {
			return err
		}
	}
	if checkBaseline != "" {
		baselineYear := 0
		if checkYear > 0 {
			baselineYear = checkYear - cfg.Model.BaselineOffsetYears
		}
		if in.Baselines, err = loader.Baselines(ctx, checkBaseline, baselineYear); err != nil {
			return err
		}
	}

	report, err := validate.NewChecker(cfg.Concurrency.YearWorkers).CrossCheck(ctx, in)
	if err != nil {
		return err
	}

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode findings: %w", err)
		}
	} else {
		for _, f := range report.Findings {
			mark := "⚠"
			if f.Severity == validate.SeverityError {
				mark = "✗"
			}
			fmt.Printf("%s [%s] %s\n", mark, f.Check, f.Message)
		}
		if len(report.Findings) == 0 {
			fmt.Println("✓ No inconsistencies found")
		}
	}

	if !report.OK() {
		return fmt.Errorf("cross-check found %d errors", report.Errors())
	}
	return nil
}
