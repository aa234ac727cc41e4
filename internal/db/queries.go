package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lucasnoah/ampliflow/internal/pipeline"
	"github.com/lucasnoah/ampliflow/internal/truncation"
)

const timeLayout = time.RFC3339Nano

// Run represents a row in the runs table.
type Run struct {
	ID         string
	Pipeline   string
	Status     pipeline.RunStatus
	FailedStep string
	StartedAt  time.Time
	// FinishedAt is zero while the run is in progress.
	FinishedAt time.Time
	// Steps is the number of recorded step outcomes.
	Steps int
}

// StepResult represents a row in the step_results table.
type StepResult struct {
	ID         int
	RunID      string
	Step       string
	Result     pipeline.Result
	Required   bool
	Reason     string
	DurationMs int64
	Error      string
}

// StatsRow represents a row in the aggregate_stats table.
type StatsRow struct {
	RunID       string
	Direction   string
	Total       int
	Usable      int
	Unavailable int
	Mean        int
	Median      int
	Chosen      int
	Method      string
	Threshold   float64
	Policy      string
}

// StartRun inserts a run in the running state.
func (d *DB) StartRun(runID, pipelineName string, startedAt time.Time) error {
	_, err := d.conn.Exec(
		`INSERT INTO runs (id, pipeline, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, pipelineName, string(pipeline.Running), startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// RecordStep inserts one step outcome.
func (d *DB) RecordStep(runID string, o pipeline.StepOutcome) error {
	_, err := d.conn.Exec(
		`INSERT INTO step_results (run_id, step, result, required, reason, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, o.Step, string(o.Result), o.Required, nullString(o.Reason), o.Duration.Milliseconds(), nullString(o.Error),
	)
	if err != nil {
		return fmt.Errorf("record step %s: %w", o.Step, err)
	}
	return nil
}

// FinishRun sets the final status of a run.
func (d *DB) FinishRun(runID string, status pipeline.RunStatus, failedStep string, finishedAt time.Time) error {
	res, err := d.conn.Exec(
		`UPDATE runs SET status = ?, failed_step = ?, finished_at = ? WHERE id = ?`,
		string(status), nullString(failedStep), finishedAt.UTC().Format(timeLayout), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// LogEstimation stores the per-sample cutoffs and per-direction statistics
// of an estimation. runID need not name a pipeline run; standalone
// estimations get their own ID.
func (d *DB) LogEstimation(runID string, res *truncation.Result) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range res.Records {
		var cutoff sql.NullInt64
		if r.Cutoff.Available {
			cutoff = sql.NullInt64{Int64: int64(r.Cutoff.Length), Valid: true}
		}
		if _, err := tx.Exec(
			`INSERT INTO truncation_records (run_id, sample_id, direction, cutoff, source) VALUES (?, ?, ?, ?, ?)`,
			runID, r.SampleID, r.Direction.String(), cutoff, nullString(r.Source),
		); err != nil {
			return fmt.Errorf("insert truncation record %s: %w", r.SampleID, err)
		}
	}
	for _, st := range []truncation.Stats{res.Forward, res.Reverse} {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO aggregate_stats
			 (run_id, direction, total, usable, unavailable, mean, median, chosen, method, threshold, policy)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, st.Direction.String(), st.Total, st.Count, st.Unavailable,
			st.Mean, st.Median, st.Chosen, string(st.Method), res.Threshold, res.Policy,
		); err != nil {
			return fmt.Errorf("insert %s stats: %w", st.Direction, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT r.id, r.pipeline, r.status, r.failed_step, r.started_at, r.finished_at,
		        (SELECT COUNT(*) FROM step_results s WHERE s.run_id = r.id)
		 FROM runs r ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			status     string
			failedStep sql.NullString
			started    string
			finished   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Pipeline, &status, &failedStep, &started, &finished, &r.Steps); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = pipeline.RunStatus(status)
		r.FailedStep = failedStep.String
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: parse started_at: %w", r.ID, err)
		}
		if finished.Valid {
			if r.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
				return nil, fmt.Errorf("run %s: parse finished_at: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StepResults returns the recorded outcomes of a run in execution order.
func (d *DB) StepResults(runID string) ([]StepResult, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, step, result, required, reason, duration_ms, error
		 FROM step_results WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("step results: %w", err)
	}
	defer rows.Close()

	var out []StepResult
	for rows.Next() {
		var (
			s              StepResult
			result         string
			reason, errMsg sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.RunID, &s.Step, &result, &s.Required, &reason, &s.DurationMs, &errMsg); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		s.Result = pipeline.Result(result)
		s.Reason = reason.String
		s.Error = errMsg.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// TruncationRecords returns the per-sample cutoffs logged for runID.
// Unavailable cutoffs come back with Available false.
func (d *DB) TruncationRecords(runID string) ([]truncation.Record, error) {
	rows, err := d.conn.Query(
		`SELECT sample_id, direction, cutoff, source FROM truncation_records
		 WHERE run_id = ? ORDER BY sample_id, direction`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("truncation records: %w", err)
	}
	defer rows.Close()

	var out []truncation.Record
	for rows.Next() {
		var (
			r         truncation.Record
			direction string
			cutoff    sql.NullInt64
			source    sql.NullString
		)
		if err := rows.Scan(&r.SampleID, &direction, &cutoff, &source); err != nil {
			return nil, fmt.Errorf("scan truncation record: %w", err)
		}
		if err := r.Direction.UnmarshalText([]byte(direction)); err != nil {
			return nil, err
		}
		if cutoff.Valid {
			r.Cutoff = truncation.Cutoff{Length: int(cutoff.Int64), Available: true}
		}
		r.Source = source.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// AggregateStats returns the per-direction statistics logged for runID.
func (d *DB) AggregateStats(runID string) ([]StatsRow, error) {
	rows, err := d.conn.Query(
		`SELECT run_id, direction, total, usable, unavailable, mean, median, chosen, method, threshold, policy
		 FROM aggregate_stats WHERE run_id = ? ORDER BY direction`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var s StatsRow
		if err := rows.Scan(&s.RunID, &s.Direction, &s.Total, &s.Usable, &s.Unavailable,
			&s.Mean, &s.Median, &s.Chosen, &s.Method, &s.Threshold, &s.Policy); err != nil {
			return nil, fmt.Errorf("scan aggregate stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestStats returns the most recently logged statistics, or nil when no
// estimation has been logged.
func (d *DB) LatestStats() ([]StatsRow, error) {
	var runID string
	err := d.conn.QueryRow(
		`SELECT run_id FROM aggregate_stats ORDER BY recorded_at DESC, rowid DESC LIMIT 1`,
	).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest stats: %w", err)
	}
	return d.AggregateStats(runID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
