package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/pollcast/internal/model"
	"github.com/ppiankov/pollcast/internal/store"
)

var showYear int

// yearsCmd represents the years command
var yearsCmd = &cobra.Command{
	Use:   "years",
	Short: "List election years with stored forecasts",
	Long: `Years lists every election year that has at least one run in the
configured store, with its newest run. With --year it prints the newest
run's per-date mode rows instead.

Example:
  pollcast years --store-dsn ./pollcast.db
  pollcast years --store-dsn ./pollcast.db --year 2020`,
	Args: cobra.NoArgs,
	RunE: runYears,
}

func init() {
	rootCmd.AddCommand(yearsCmd)

	yearsCmd.Flags().StringVar(&storeDSN, "store-dsn", "", "database to read (overrides store.dsn)")
	yearsCmd.Flags().IntVar(&showYear, "year", 0, "print the newest run of this year")
}

func runYears(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("store-dsn") {
		cfg.Store.DSN = storeDSN
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("no store configured: set store.dsn or --store-dsn")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if showYear > 0 {
		return printLatestRun(ctx, st, showYear)
	}

	years, err := st.Years(ctx)
	if err != nil {
		return err
	}
	if len(years) == 0 {
		fmt.Println("No stored forecasts")
		return nil
	}

	fmt.Printf("%-6s %6s  %-36s  %s\n", "YEAR", "RUNS", "LATEST RUN", "WHEN")
	for _, y := range years {
		fmt.Printf("%-6d %6s  %-36s  %s\n", y.Year, humanize.Comma(int64(y.Runs)), y.LatestRun, humanize.Time(y.LatestAt))
	}
	return nil
}

func printLatestRun(ctx context.Context, st *store.Store, year int) error {
	run, err := st.LatestRun(ctx, year)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no stored forecast for %d", year)
	}
	if err != nil {
		return err
	}

	modes, err := st.Modes(ctx, run.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s (%s, confidence %s, %d failed units)\n",
		run.ID, humanize.Time(run.CreatedAt), run.Confidence, run.Failures)
	fmt.Printf("Window %s .. %s\n\n", run.Window.Start.Format(model.DateLayout), run.Window.End.Format(model.DateLayout))
	fmt.Printf("%-10s %5s %5s %9s %9s %7s\n", "DATE", "D", "R", "D MAJ", "R MAJ", "TIE")
	for _, m := range modes {
		fmt.Printf("%-10s %5d %5d %8.1f%% %8.1f%% %6.2f%%\n",
			m.Date.Format(model.DateLayout), m.DemocraticMode, m.RepublicanMode,
			m.DemocraticMajority*100, m.RepublicanMajority*100, m.Tie*100)
	}
	return nil
}
