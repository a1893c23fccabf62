package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/pollcast/internal/model"
)

// Renderer writes a forecast's output tables into a directory
type Renderer struct {
	dir         string
	includeJSON bool
}

// NewRenderer creates a renderer writing into dir; includeJSON controls report_<year>.json
func NewRenderer(dir string, includeJSON bool) *Renderer {
	return &Renderer{dir: dir, includeJSON: includeJSON}
}

// Paths returns the files RenderForecast writes for year, in write order
func (r *Renderer) Paths(year int) []string {
	paths := []string{
		filepath.Join(r.dir, fmt.Sprintf("state_%d.csv", year)),
		filepath.Join(r.dir, fmt.Sprintf("electoral_distribution_%d.csv", year)),
		filepath.Join(r.dir, fmt.Sprintf("electoral_maximum_%d.csv", year)),
	}
	if r.includeJSON {
		paths = append(paths, filepath.Join(r.dir, fmt.Sprintf("report_%d.json", year)))
	}
	return paths
}

// RenderForecast writes every output table of f and returns the written paths
func (r *Renderer) RenderForecast(f *model.Forecast) ([]string, error) {
	if f == nil || f.Report == nil || f.States == nil || f.Electoral == nil {
		return nil, fmt.Errorf("render forecast: incomplete forecast")
	}
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	paths := r.Paths(f.Report.Year)
	writers := []func(io.Writer) error{
		func(w io.Writer) error { return WriteStateCSV(w, f.States.Estimates) },
		func(w io.Writer) error { return WriteDistributionCSV(w, f.Electoral.Distributions) },
		func(w io.Writer) error { return WriteMaximumCSV(w, f.Electoral.Modes) },
	}
	if r.includeJSON {
		writers = append(writers, func(w io.Writer) error { return WriteReportJSON(w, f.Report) })
	}

	for i, write := range writers {
		if err := writeFile(paths[i], write); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// RenderJSON writes the report alone to path
func (r *Renderer) RenderJSON(report *model.Report, path string) error {
	return writeFile(path, func(w io.Writer) error { return WriteReportJSON(w, report) })
}

// writeFile writes through a temp file and renames it into place
func writeFile(path string, write func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

var stateHeader = []string{
	"date", "state",
	"democratic_share", "republican_share",
	"democratic_win_probability", "republican_win_probability",
	"democratic_standard_error", "republican_standard_error",
	"effective_sample_size", "polls_in_window", "source", "has_polls",
}

// WriteStateCSV writes one row per state per day
func WriteStateCSV(w io.Writer, estimates []model.StateDailyEstimate) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(stateHeader); err != nil {
		return err
	}
	for _, e := range estimates {
		if err := cw.Write([]string{
			e.Date.Format(model.DateLayout),
			e.StateID,
			ftoa(e.DemocraticShare),
			ftoa(e.RepublicanShare),
			ftoa(e.DemocraticWinProbability),
			ftoa(e.RepublicanWinProbability),
			ftoa(e.DemocraticStandardError),
			ftoa(e.RepublicanStandardError),
			ftoa(e.EffectiveSampleSize),
			strconv.Itoa(e.PollsInWindow),
			string(e.Source),
			strconv.FormatBool(e.HasPolls),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var distributionHeader = []string{
	"date", "electoral_vote_total", "democratic_probability_mass", "republican_probability_mass",
}

// WriteDistributionCSV writes one row per date per electoral-vote total
func WriteDistributionCSV(w io.Writer, rows []model.ElectoralDistribution) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(distributionHeader); err != nil {
		return err
	}
	for _, d := range rows {
		if err := cw.Write([]string{
			d.Date.Format(model.DateLayout),
			strconv.Itoa(d.Total),
			ftoa(d.DemocraticMass),
			ftoa(d.RepublicanMass),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var maximumHeader = []string{
	"date", "total_electors",
	"democratic_mode", "republican_mode",
	"democratic_expected", "republican_expected",
	"democratic_majority_probability", "republican_majority_probability",
	"tie_probability",
}

// WriteMaximumCSV writes one mode row per date
func WriteMaximumCSV(w io.Writer, modes []model.ElectoralMode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(maximumHeader); err != nil {
		return err
	}
	for _, m := range modes {
		if err := cw.Write([]string{
			m.Date.Format(model.DateLayout),
			strconv.Itoa(m.TotalElectors),
			strconv.Itoa(m.DemocraticMode),
			strconv.Itoa(m.RepublicanMode),
			ftoa(m.DemocraticExpected),
			ftoa(m.RepublicanExpected),
			ftoa(m.DemocraticMajority),
			ftoa(m.RepublicanMajority),
			ftoa(m.Tie),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReportJSON writes the indented report
func WriteReportJSON(w io.Writer, report *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// RenderSummary prints a short human-readable summary of a run
func (r *Renderer) RenderSummary(w io.Writer, report *model.Report) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Forecast %d\n", report.Year)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Window:       %s .. %s (%s days)\n",
		report.Window.Start.Format(model.DateLayout),
		report.Window.End.Format(model.DateLayout),
		humanize.Comma(int64(report.Window.Days())))
	fmt.Fprintf(w, "  Polls:        %s\n", humanize.Comma(int64(report.Inputs.Polls)))
	fmt.Fprintf(w, "  States:       %d (coverage %.0f%%)\n", report.States, report.Score.Coverage*100)
	fmt.Fprintf(w, "  Estimates:    %s\n", humanize.Comma(int64(report.Estimates)))
	fmt.Fprintf(w, "  Dist. rows:   %s\n", humanize.Comma(int64(report.Distributed)))
	fmt.Fprintf(w, "  Confidence:   %s\n", report.Score.Confidence)

	if final := report.Final; final != nil {
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "  Final date %s (%d electors)\n", final.Date.Format(model.DateLayout), final.TotalElectors)
		fmt.Fprintf(w, "    Democratic:   mode %d, expected %.1f, majority %.1f%%\n",
			final.DemocraticMode, final.DemocraticExpected, final.DemocraticMajority*100)
		fmt.Fprintf(w, "    Republican:   mode %d, expected %.1f, majority %.1f%%\n",
			final.RepublicanMode, final.RepublicanExpected, final.RepublicanMajority*100)
		if final.Tie > 0 {
			fmt.Fprintf(w, "    Tie:          %.2f%%\n", final.Tie*100)
		}
	}

	if len(report.Failures) > 0 {
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "  Failed units: %d\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(w, "    ✗ %s\n", f.Error())
		}
	}

	for _, s := range report.Score.Signals {
		if s.Severity == model.SeverityInfo {
			continue
		}
		fmt.Fprintf(w, "  ⚠ %s\n", s.Description)
	}
	fmt.Fprintf(w, "\n")
}
