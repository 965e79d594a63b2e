package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/csvwtest/internal/manifest"
	"github.com/roach88/csvwtest/internal/runner"
)

// Record is one stored verdict.
type Record struct {
	RunID     string
	TestID    string
	Processor string
	Outcome   manifest.Status
	Error     string
	Location  string
	Artifact  []byte
	Date      time.Time
}

// FromVerdict builds the record for a verdict. Date is left for Write to
// fill in.
func FromVerdict(runID, processor string, v runner.Verdict) Record {
	return Record{
		RunID:     runID,
		TestID:    v.TestID,
		Processor: processor,
		Outcome:   v.Outcome,
		Error:     v.Diagnostic(),
		Location:  v.Location,
		Artifact:  v.Artifact,
	}
}

// RunSummary counts the outcomes of one run.
type RunSummary struct {
	RunID     string
	Processor string
	Started   time.Time
	Total     int
	Pass      int
	Fail      int
	Error     int
}

const dateLayout = time.RFC3339Nano

// Write stores r. An earlier verdict for the same test in the same run is
// replaced and the new row becomes the most recent. A zero Date is set from
// the store's clock.
func (s *Store) Write(ctx context.Context, r Record) error {
	if r.RunID == "" || r.TestID == "" || r.Processor == "" {
		return errors.New("write result: run id, test id and processor are required")
	}
	if !r.Outcome.Terminal() {
		return fmt.Errorf("write result: outcome %q is not terminal", r.Outcome)
	}
	if r.Date.IsZero() {
		r.Date = s.clock.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO results
		(run_id, test_id, processor, outcome, error, location, artifact, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID,
		r.TestID,
		r.Processor,
		string(r.Outcome),
		r.Error,
		r.Location,
		r.Artifact,
		r.Date.UTC().Format(dateLayout),
	)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Latest returns the most recent verdict of every test run against
// processor, ordered by test id.
func (s *Store) Latest(ctx context.Context, processor string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, test_id, processor, outcome, error, location, artifact, recorded_at
		FROM results r
		WHERE processor = ?
		  AND seq = (
			SELECT MAX(seq) FROM results
			WHERE processor = r.processor AND test_id = r.test_id
		  )
		ORDER BY test_id
	`, processor)
	if err != nil {
		return nil, fmt.Errorf("query latest results: %w", err)
	}
	return scanRecords(rows)
}

// Run returns the verdicts of one run, ordered by test id.
func (s *Store) Run(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, test_id, processor, outcome, error, location, artifact, recorded_at
		FROM results
		WHERE run_id = ?
		ORDER BY test_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	return scanRecords(rows)
}

// Runs summarizes the runs against processor, newest first.
func (s *Store) Runs(ctx context.Context, processor string) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, processor, MIN(recorded_at), COUNT(*),
			SUM(outcome = 'Pass'), SUM(outcome = 'Fail'), SUM(outcome = 'Error')
		FROM results
		WHERE processor = ?
		GROUP BY run_id, processor
		ORDER BY MIN(seq) DESC
	`, processor)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var started string
		if err := rows.Scan(&rs.RunID, &rs.Processor, &started, &rs.Total, &rs.Pass, &rs.Fail, &rs.Error); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if rs.Started, err = time.Parse(dateLayout, started); err != nil {
			return nil, fmt.Errorf("parse run date %q: %w", started, err)
		}
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Processors lists every processor with stored verdicts.
func (s *Store) Processors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT processor FROM results ORDER BY processor`)
	if err != nil {
		return nil, fmt.Errorf("query processors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan processor: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var outcome, date string
		if err := rows.Scan(&r.RunID, &r.TestID, &r.Processor, &outcome, &r.Error, &r.Location, &r.Artifact, &date); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Outcome = manifest.Status(outcome)
		var err error
		if r.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse result date %q: %w", date, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}
