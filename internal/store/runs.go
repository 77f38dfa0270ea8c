package store

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

// StartRecomputeRun records the beginning of an assimilation pass for auditing.
func (s *Store) StartRecomputeRun(assignmentID string, windowStart, windowEnd time.Time, trigger string) (*models.RecomputeRun, error) {
	run := &models.RecomputeRun{
		AssignmentID: assignmentID,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		Trigger:      trigger,
		StartedAt:    time.Now().UTC(),
	}

	result, err := s.db.Exec(`
		INSERT INTO recompute_runs (assignment_id, window_start, window_end, trigger_kind, started_at, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.AssignmentID, dateStr(run.WindowStart), dateStr(run.WindowEnd), run.Trigger, run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteRecomputeRun(run *models.RecomputeRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE recompute_runs SET
			finished_at = ?,
			anchor_count = ?,
			rows_created = ?,
			rows_updated = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.AnchorCount, run.RowsCreated, run.RowsUpdated,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

func (s *Store) GetRecentRecomputeRuns(assignmentID string, limit int) ([]models.RecomputeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, assignment_id, window_start, window_end, trigger_kind, started_at, finished_at,
		       COALESCE(anchor_count, 0), COALESCE(rows_created, 0), COALESCE(rows_updated, 0),
		       success, error_message
		FROM recompute_runs
		WHERE assignment_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, assignmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RecomputeRun
	for rows.Next() {
		var r models.RecomputeRun
		var start, end string
		if err := rows.Scan(&r.ID, &r.AssignmentID, &start, &end, &r.Trigger, &r.StartedAt,
			&r.FinishedAt, &r.AnchorCount, &r.RowsCreated, &r.RowsUpdated,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if r.WindowStart, err = parseDate(start); err != nil {
			return nil, err
		}
		if r.WindowEnd, err = parseDate(end); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) StartProjectionRun(assignmentID string, computedDate time.Time) (*models.ProjectionRun, error) {
	run := &models.ProjectionRun{
		AssignmentID: assignmentID,
		ComputedDate: computedDate,
		StartedAt:    time.Now().UTC(),
	}

	result, err := s.db.Exec(`
		INSERT INTO projection_runs (assignment_id, computed_date, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, run.AssignmentID, dateStr(run.ComputedDate), run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteProjectionRun(run *models.ProjectionRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE projection_runs SET
			finished_at = ?,
			horizon_days = ?,
			rows_written = ?,
			partial = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HorizonDays, run.RowsWritten, run.Partial,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

func (s *Store) StartTelemetryRun(source, endpoint string) (*models.TelemetryRun, error) {
	run := &models.TelemetryRun{
		Source:    source,
		Endpoint:  endpoint,
		StartedAt: time.Now().UTC(),
	}

	result, err := s.db.Exec(`
		INSERT INTO telemetry_runs (source, endpoint, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, run.Source, run.Endpoint, run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteTelemetryRun(run *models.TelemetryRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE telemetry_runs SET
			finished_at = ?,
			readings_parsed = ?,
			readings_stored = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.ReadingsParsed, run.ReadingsStored, run.ParseErrors,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetLatestTelemetryRun returns the most recent run for a source, successful
// or not. Used by the health endpoint to detect stalled feeds.
func (s *Store) GetLatestTelemetryRun(source string) (*models.TelemetryRun, error) {
	row := s.db.QueryRow(`
		SELECT id, source, endpoint, started_at, finished_at,
		       COALESCE(readings_parsed, 0), COALESCE(readings_stored, 0), COALESCE(parse_errors, 0),
		       success, error_message
		FROM telemetry_runs
		WHERE source = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, source)

	var r models.TelemetryRun
	err := row.Scan(&r.ID, &r.Source, &r.Endpoint, &r.StartedAt, &r.FinishedAt,
		&r.ReadingsParsed, &r.ReadingsStored, &r.ParseErrors, &r.Success, &r.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// StoreTelemetryPayload keeps the raw fetched body gzip-compressed for
// debugging parse problems after the fact.
func (s *Store) StoreTelemetryPayload(runID int64, source string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO telemetry_payloads (run_id, source, received_at, body)
		VALUES (?, ?, ?, ?)
	`, runID, source, time.Now().UTC(), buf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("insert telemetry payload: %w", err)
	}
	return result.LastInsertId()
}

func (s *Store) GetTelemetryPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT body FROM telemetry_payloads WHERE id = ?`, id).Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// CleanupOldTelemetryPayloads deletes payloads older than retentionDays.
func (s *Store) CleanupOldTelemetryPayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM telemetry_payloads
		WHERE received_at < DATE('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
