// Package store persists forecast runs to sqlite or postgres. Runs are
// append-only: every run gets a new id and the newest run of a year
// supersedes older ones.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/pollcast/internal/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when no run matches
var ErrNotFound = errors.New("run not found")

// Store is a forecast run database
type Store struct {
	db     *sql.DB
	driver string
}

// Run is a stored run's header
type Run struct {
	ID          string
	Year        int
	CreatedAt   time.Time
	InputDigest string
	Window      model.Window
	Confidence  string
	Failures    int
	Report      *model.Report
}

// YearSummary describes the stored runs of one election year
type YearSummary struct {
	Year      int
	Runs      int
	LatestRun string
	LatestAt  time.Time
}

// Open connects to the database and creates the schema
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if driver == DriverSQLite {
		// Writes serialize on one connection; an in-memory database exists per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s store: %w", driver, err)
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) q(query string) string {
	return rebind(s.driver, query)
}

// SaveRun appends a forecast in one transaction and returns its new run id.
// The id is also written to the forecast's report.
func (s *Store) SaveRun(ctx context.Context, f *model.Forecast) (string, error) {
	if f == nil || f.Report == nil {
		return "", errors.New("save run: forecast has no report")
	}

	id := uuid.NewString()
	f.Report.RunID = id
	createdAt := f.Report.GeneratedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	report, err := json.Marshal(f.Report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO forecast_run
        (id, year, created_at, input_digest, window_start, window_end, confidence, failures, report)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, f.Report.Year, createdAt.UTC().Format(timeLayout), f.Report.Inputs.Digest,
		day(f.Report.Window.Start), day(f.Report.Window.End),
		f.Report.Score.Confidence, len(f.Report.Failures), string(report))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	if f.States != nil {
		if err := s.insertEstimates(ctx, tx, id, f.States.Estimates); err != nil {
			return "", err
		}
	}
	if f.Electoral != nil {
		if err := s.insertModes(ctx, tx, id, f.Electoral.Modes); err != nil {
			return "", err
		}
		if err := s.insertDistributions(ctx, tx, id, f.Electoral.Distributions); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

func (s *Store) insertEstimates(ctx context.Context, tx *sql.Tx, runID string, estimates []model.StateDailyEstimate) error {
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO state_estimate
        (run_id, state, day, democratic_share, republican_share, democratic_win_probability,
         republican_win_probability, democratic_standard_error, republican_standard_error,
         effective_sample_size, source, polls_in_window, has_polls)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare estimates: %w", err)
	}
	defer stmt.Close()

	for _, e := range estimates {
		hasPolls := 0
		if e.HasPolls {
			hasPolls = 1
		}
		if _, err := stmt.ExecContext(ctx, runID, e.StateID, day(e.Date),
			e.DemocraticShare, e.RepublicanShare, e.DemocraticWinProbability, e.RepublicanWinProbability,
			e.DemocraticStandardError, e.RepublicanStandardError, e.EffectiveSampleSize,
			string(e.Source), e.PollsInWindow, hasPolls); err != nil {
			return fmt.Errorf("insert estimate %s %s: %w", e.StateID, day(e.Date), err)
		}
	}
	return nil
}

func (s *Store) insertModes(ctx context.Context, tx *sql.Tx, runID string, modes []model.ElectoralMode) error {
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO electoral_mode
        (run_id, day, total_electors, democratic_mode, republican_mode, democratic_expected,
         republican_expected, democratic_majority, republican_majority, tie)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare modes: %w", err)
	}
	defer stmt.Close()

	for _, m := range modes {
		if _, err := stmt.ExecContext(ctx, runID, day(m.Date), m.TotalElectors,
			m.DemocraticMode, m.RepublicanMode, m.DemocraticExpected, m.RepublicanExpected,
			m.DemocraticMajority, m.RepublicanMajority, m.Tie); err != nil {
			return fmt.Errorf("insert mode %s: %w", day(m.Date), err)
		}
	}
	return nil
}

func (s *Store) insertDistributions(ctx context.Context, tx *sql.Tx, runID string, rows []model.ElectoralDistribution) error {
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO electoral_distribution
        (run_id, day, total, democratic_mass, republican_mass) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare distributions: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, day(r.Date), r.Total, r.DemocraticMass, r.RepublicanMass); err != nil {
			return fmt.Errorf("insert distribution %s/%d: %w", day(r.Date), r.Total, err)
		}
	}
	return nil
}

// LatestRun returns the newest run stored for year
func (s *Store) LatestRun(ctx context.Context, year int) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, year, created_at, input_digest, window_start,
        window_end, confidence, failures, report
        FROM forecast_run WHERE year = ? ORDER BY created_at DESC, id DESC LIMIT 1`), year)

	var (
		run                   Run
		createdAt, start, end string
		report                string
	)
	err := row.Scan(&run.ID, &run.Year, &createdAt, &run.InputDigest, &start, &end, &run.Confidence, &run.Failures, &report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("year %d: %w", year, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}

	if run.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if run.Window.Start, err = model.ParseDay(start); err != nil {
		return nil, err
	}
	if run.Window.End, err = model.ParseDay(end); err != nil {
		return nil, err
	}
	run.Report = &model.Report{}
	if err := json.Unmarshal([]byte(report), run.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &run, nil
}

// Years lists the election years with stored runs, oldest first
func (s *Store) Years(ctx context.Context) ([]YearSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT year, COUNT(*), MAX(created_at)
        FROM forecast_run GROUP BY year ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("query years: %w", err)
	}
	defer rows.Close()

	var out []YearSummary
	for rows.Next() {
		var ys YearSummary
		var latest string
		if err := rows.Scan(&ys.Year, &ys.Runs, &latest); err != nil {
			return nil, fmt.Errorf("scan year: %w", err)
		}
		if ys.LatestAt, err = time.Parse(timeLayout, latest); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, ys)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate years: %w", err)
	}

	for i := range out {
		run, err := s.LatestRun(ctx, out[i].Year)
		if err != nil {
			return nil, err
		}
		out[i].LatestRun = run.ID
	}
	return out, nil
}

// Modes returns a run's per-date mode rows in date order
func (s *Store) Modes(ctx context.Context, runID string) ([]model.ElectoralMode, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT day, total_electors, democratic_mode, republican_mode,
        democratic_expected, republican_expected, democratic_majority, republican_majority, tie
        FROM electoral_mode WHERE run_id = ? ORDER BY day`), runID)
	if err != nil {
		return nil, fmt.Errorf("query modes: %w", err)
	}
	defer rows.Close()

	var out []model.ElectoralMode
	for rows.Next() {
		var m model.ElectoralMode
		var d string
		if err := rows.Scan(&d, &m.TotalElectors, &m.DemocraticMode, &m.RepublicanMode,
			&m.DemocraticExpected, &m.RepublicanExpected, &m.DemocraticMajority, &m.RepublicanMajority, &m.Tie); err != nil {
			return nil, fmt.Errorf("scan mode: %w", err)
		}
		if m.Date, err = model.ParseDay(d); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Estimates returns a run's state estimates sorted by (state, date)
func (s *Store) Estimates(ctx context.Context, runID string) ([]model.StateDailyEstimate, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT state, day, democratic_share, republican_share,
        democratic_win_probability, republican_win_probability, democratic_standard_error,
        republican_standard_error, effective_sample_size, source, polls_in_window, has_polls
        FROM state_estimate WHERE run_id = ? ORDER BY state, day`), runID)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var out []model.StateDailyEstimate
	for rows.Next() {
		var e model.StateDailyEstimate
		var d, source string
		var hasPolls int
		if err := rows.Scan(&e.StateID, &d, &e.DemocraticShare, &e.RepublicanShare,
			&e.DemocraticWinProbability, &e.RepublicanWinProbability, &e.DemocraticStandardError,
			&e.RepublicanStandardError, &e.EffectiveSampleSize, &source, &e.PollsInWindow, &hasPolls); err != nil {
			return nil, fmt.Errorf("scan estimate: %w", err)
		}
		if e.Date, err = model.ParseDay(d); err != nil {
			return nil, err
		}
		e.Source = model.EstimateSource(source)
		e.HasPolls = hasPolls != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func day(t time.Time) string {
	return t.Format(model.DateLayout)
}
