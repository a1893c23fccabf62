// Package source loads the forecaster's input tables (polls, baseline
// results, elector allocations, election summaries) from CSV files or URLs.
package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/pollcast/internal/model"
)

// dateLayouts are the accepted date spellings, ISO first
var dateLayouts = []string{model.DateLayout, "1/2/06", "1/2/2006", "2006/01/02"}

// Loader reads tables from local paths or, through the Fetcher, http(s) URLs
type Loader struct {
	fetcher *Fetcher
}

// NewLoader creates a Loader; a nil fetcher restricts it to local files
func NewLoader(fetcher *Fetcher) *Loader {
	return &Loader{fetcher: fetcher}
}

// Read returns the raw bytes behind location
func (l *Loader) Read(ctx context.Context, location string) ([]byte, error) {
	if isRemote(location) {
		if l.fetcher == nil {
			return nil, fmt.Errorf("load %s: remote tables are not enabled", location)
		}
		res, err := l.fetcher.FetchWithRetry(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", location, err)
		}
		return res.Body, nil
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", location, err)
	}
	return data, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Tables are the inputs of one forecast
type Tables struct {
	Polls       []model.Poll
	Baselines   []model.BaselineResult
	Allocations []model.Allocation
	Digest      string // sha256 over the three raw tables
}

// Load reads and parses the tables a request names. Polls are filtered to the
// forecast year and baselines to baselineYear when the tables carry those columns.
func (l *Loader) Load(ctx context.Context, req model.ForecastRequest, baselineYear int) (*Tables, error) {
	raw := make([][]byte, 3)
	for i, loc := range []string{req.Polls, req.Baseline, req.Allocations} {
		data, err := l.Read(ctx, loc)
		if err != nil {
			return nil, err
		}
		raw[i] = data
	}

	polls, err := ReadPolls(bytes.NewReader(raw[0]), req.Year)
	if err != nil {
		return nil, fmt.Errorf("polls %s: %w", req.Polls, err)
	}
	baselines, err := ReadBaselines(bytes.NewReader(raw[1]), baselineYear)
	if err != nil {
		return nil, fmt.Errorf("baseline %s: %w", req.Baseline, err)
	}
	allocations, err := ReadAllocations(bytes.NewReader(raw[2]))
	if err != nil {
		return nil, fmt.Errorf("allocations %s: %w", req.Allocations, err)
	}

	return &Tables{
		Polls:       polls,
		Baselines:   baselines,
		Allocations: allocations,
		Digest:      Digest(raw...),
	}, nil
}

// Summaries reads an election summary table
func (l *Loader) Summaries(ctx context.Context, location string) ([]model.ElectionSummary, error) {
	data, err := l.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	out, err := ReadSummaries(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("summary %s: %w", location, err)
	}
	return out, nil
}

// Allocations reads an allocation table on its own
func (l *Loader) Allocations(ctx context.Context, location string) ([]model.Allocation, error) {
	data, err := l.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	out, err := ReadAllocations(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("allocations %s: %w", location, err)
	}
	return out, nil
}

// Baselines reads a baseline table on its own; year 0 keeps every row
func (l *Loader) Baselines(ctx context.Context, location string, year int) ([]model.BaselineResult, error) {
	data, err := l.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	out, err := ReadBaselines(bytes.NewReader(data), year)
	if err != nil {
		return nil, fmt.Errorf("baseline %s: %w", location, err)
	}
	return out, nil
}

// Polls reads a poll table on its own; cycle 0 keeps every row
func (l *Loader) Polls(ctx context.Context, location string, cycle int) ([]model.Poll, error) {
	data, err := l.Read(ctx, location)
	if err != nil {
		return nil, err
	}
	out, err := ReadPolls(bytes.NewReader(data), cycle)
	if err != nil {
		return nil, fmt.Errorf("polls %s: %w", location, err)
	}
	return out, nil
}

// Digest hashes table contents in order, length-prefixed so boundaries count
func Digest(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%d:", len(p))
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReadPolls parses a poll table. Rows whose cycle column differs from cycle are
// skipped; cycle 0 or a table without the column keeps every row.
func ReadPolls(r io.Reader, cycle int) ([]model.Poll, error) {
	t, err := newTable(r, "poll_id", "state", "end_date", "sample_size", "democratic_share", "republican_share")
	if err != nil {
		return nil, err
	}

	var polls []model.Poll
	for t.next() {
		if cycle > 0 && t.has("cycle") {
			c, err := t.int("cycle")
			if err != nil {
				return nil, err
			}
			if c != cycle {
				continue
			}
		}

		p := model.Poll{
			PollID:     t.str("poll_id"),
			QuestionID: t.str("question_id"),
			StateID:    t.str("state"),
		}
		if p.EndDate, err = t.date("end_date"); err != nil {
			return nil, err
		}
		if t.str("start_date") != "" {
			if p.StartDate, err = t.date("start_date"); err != nil {
				return nil, err
			}
		}
		if p.SampleSize, err = t.int("sample_size"); err != nil {
			return nil, err
		}
		if p.DemocraticShare, err = t.float("democratic_share"); err != nil {
			return nil, err
		}
		if p.RepublicanShare, err = t.float("republican_share"); err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, t.err
}

// ReadBaselines parses a baseline results table, keeping rows of year when
// the table has a year column and year is positive.
func ReadBaselines(r io.Reader, year int) ([]model.BaselineResult, error) {
	t, err := newTable(r, "state", "democratic_share", "republican_share")
	if err != nil {
		return nil, err
	}

	var out []model.BaselineResult
	for t.next() {
		if year > 0 && t.has("year") {
			y, err := t.int("year")
			if err != nil {
				return nil, err
			}
			if y != year {
				continue
			}
		}

		b := model.BaselineResult{StateID: t.str("state")}
		if b.DemocraticShare, err = t.float("democratic_share"); err != nil {
			return nil, err
		}
		if b.RepublicanShare, err = t.float("republican_share"); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, t.err
}

// ReadAllocations parses an elector allocation table
func ReadAllocations(r io.Reader) ([]model.Allocation, error) {
	t, err := newTable(r, "state", "year", "electors")
	if err != nil {
		return nil, err
	}

	var out []model.Allocation
	for t.next() {
		a := model.Allocation{StateID: t.str("state")}
		if a.Year, err = t.int("year"); err != nil {
			return nil, err
		}
		if a.Electors, err = t.int("electors"); err != nil {
			return nil, err
		}
		if a.Electors < 0 {
			return nil, t.fail("electors", fmt.Errorf("negative elector count %d", a.Electors))
		}
		out = append(out, a)
	}
	return out, t.err
}

// ReadSummaries parses an election summary table
func ReadSummaries(r io.Reader) ([]model.ElectionSummary, error) {
	t, err := newTable(r, "year", "election_date", "electoral_total")
	if err != nil {
		return nil, err
	}

	var out []model.ElectionSummary
	for t.next() {
		var s model.ElectionSummary
		if s.Year, err = t.int("year"); err != nil {
			return nil, err
		}
		if s.ElectionDate, err = t.date("election_date"); err != nil {
			return nil, err
		}
		if s.ElectoralTotal, err = t.int("electoral_total"); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, t.err
}

// table is a header-indexed CSV reader. Column order is free and unknown
// columns are ignored.
type table struct {
	r    *csv.Reader
	cols map[string]int
	row  []string
	line int
	err  error
}

func newTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	var missing []string
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return &table{r: cr, cols: cols, line: 1}, nil
}

// next advances to the next non-blank row
func (t *table) next() bool {
	for {
		row, err := t.r.Read()
		if errors.Is(err, io.EOF) {
			return false
		}
		t.line++
		if err != nil {
			t.err = fmt.Errorf("line %d: %w", t.line, err)
			return false
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		t.row = row
		return true
	}
}

func (t *table) has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

func (t *table) str(name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(t.row) {
		return ""
	}
	return strings.TrimSpace(t.row[i])
}

func (t *table) fail(name string, err error) error {
	return fmt.Errorf("line %d: %s: %w", t.line, name, err)
}

func (t *table) int(name string) (int, error) {
	s := t.str(name)
	n, err := strconv.Atoi(s)
	if err != nil {
		// Sample sizes are sometimes exported as floats ("600.0")
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, t.fail(name, fmt.Errorf("not an integer: %q", s))
		}
		n = int(f)
	}
	return n, nil
}

func (t *table) float(name string) (float64, error) {
	s := t.str(name)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, t.fail(name, fmt.Errorf("not a number: %q", s))
	}
	return f, nil
}

func (t *table) date(name string) (time.Time, error) {
	s := t.str(name)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return model.Day(d), nil
		}
	}
	return time.Time{}, t.fail(name, fmt.Errorf("not a date: %q", s))
}
