package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

// Daily series are keyed by UTC calendar date stored as TEXT 'YYYY-MM-DD'.
const dateLayout = "2006-01-02"

func dateStr(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func (s *Store) UpsertContainer(c models.Container) error {
	_, err := s.db.Exec(`
		INSERT INTO containers (id, name, kind, logger_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			logger_id = excluded.logger_id
	`, c.ID, c.Name, c.Kind, c.LoggerID)
	return err
}

func (s *Store) GetContainer(id string) (*models.Container, error) {
	row := s.db.QueryRow(`SELECT id, name, kind, logger_id FROM containers WHERE id = ?`, id)
	var c models.Container
	err := row.Scan(&c.ID, &c.Name, &c.Kind, &c.LoggerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetContainerByLogger(loggerID string) (*models.Container, error) {
	row := s.db.QueryRow(`SELECT id, name, kind, logger_id FROM containers WHERE logger_id = ?`, loggerID)
	var c models.Container
	err := row.Scan(&c.ID, &c.Name, &c.Kind, &c.LoggerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpsertBatch(b models.Batch) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (id, species, scenario_id, stocked_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			species = excluded.species,
			scenario_id = excluded.scenario_id,
			stocked_at = excluded.stocked_at
	`, b.ID, b.Species, b.ScenarioID, dateStr(b.StockedAt), time.Now().UTC())
	return err
}

func (s *Store) GetBatch(id string) (*models.Batch, error) {
	row := s.db.QueryRow(`SELECT id, species, scenario_id, stocked_at, created_at FROM batches WHERE id = ?`, id)
	var b models.Batch
	var stocked string
	err := row.Scan(&b.ID, &b.Species, &b.ScenarioID, &stocked, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.StockedAt, err = parseDate(stocked); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) UpsertAssignment(a models.Assignment) error {
	var endDate any
	if a.EndDate.Valid {
		endDate = dateStr(a.EndDate.Time)
	}
	_, err := s.db.Exec(`
		INSERT INTO assignments (id, batch_id, container_id, stage, start_date, end_date, baseline_population, baseline_date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			batch_id = excluded.batch_id,
			container_id = excluded.container_id,
			stage = excluded.stage,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			baseline_population = excluded.baseline_population,
			baseline_date = excluded.baseline_date,
			active = excluded.active
	`, a.ID, a.BatchID, a.ContainerID, a.Stage, dateStr(a.StartDate), endDate,
		a.BaselinePopulation, dateStr(a.BaselineDate), a.Active)
	return err
}

func (s *Store) scanAssignment(row interface{ Scan(...any) error }) (*models.Assignment, error) {
	var a models.Assignment
	var start, baseline string
	var end sql.NullString
	err := row.Scan(&a.ID, &a.BatchID, &a.ContainerID, &a.Stage, &start, &end,
		&a.BaselinePopulation, &baseline, &a.Active)
	if err != nil {
		return nil, err
	}
	if a.StartDate, err = parseDate(start); err != nil {
		return nil, err
	}
	if a.BaselineDate, err = parseDate(baseline); err != nil {
		return nil, err
	}
	if end.Valid {
		t, err := parseDate(end.String)
		if err != nil {
			return nil, err
		}
		a.EndDate = sql.NullTime{Time: t, Valid: true}
	}
	return &a, nil
}

const assignmentCols = `id, batch_id, container_id, stage, start_date, end_date, baseline_population, baseline_date, active`

func (s *Store) GetAssignment(id string) (*models.Assignment, error) {
	row := s.db.QueryRow(`SELECT `+assignmentCols+` FROM assignments WHERE id = ?`, id)
	a, err := s.scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *Store) GetActiveAssignments() ([]models.Assignment, error) {
	rows, err := s.db.Query(`SELECT ` + assignmentCols + ` FROM assignments WHERE active = TRUE ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		a, err := s.scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

func (s *Store) GetAssignmentsForBatch(batchID string) ([]models.Assignment, error) {
	rows, err := s.db.Query(`SELECT `+assignmentCols+` FROM assignments WHERE batch_id = ? ORDER BY start_date ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		a, err := s.scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, *a)
	}
	return assignments, rows.Err()
}

func (s *Store) InsertPlannedActivity(p models.PlannedActivity) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO planned_activities (assignment_id, kind, planned_date, note)
		VALUES (?, ?, ?, ?)
	`, p.AssignmentID, p.Kind, dateStr(p.PlannedDate), p.Note)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) GetPlannedActivities(assignmentID, kind string) ([]models.PlannedActivity, error) {
	rows, err := s.db.Query(`
		SELECT id, assignment_id, kind, planned_date, note
		FROM planned_activities
		WHERE assignment_id = ? AND kind = ?
		ORDER BY planned_date ASC
	`, assignmentID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []models.PlannedActivity
	for rows.Next() {
		var p models.PlannedActivity
		var planned string
		if err := rows.Scan(&p.ID, &p.AssignmentID, &p.Kind, &planned, &p.Note); err != nil {
			return nil, err
		}
		if p.PlannedDate, err = parseDate(planned); err != nil {
			return nil, err
		}
		activities = append(activities, p)
	}
	return activities, rows.Err()
}
