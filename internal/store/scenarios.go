package store

import (
	"database/sql"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

// UpsertScenario replaces a scenario row together with its profile points and
// stage overrides in one transaction.
func (s *Store) UpsertScenario(row models.ScenarioRow, temps []models.ScenarioTemp, stages []models.ScenarioStageTGC) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	var plannedEnd any
	if row.PlannedEndDate.Valid {
		plannedEnd = dateStr(row.PlannedEndDate.Time)
	}
	if _, err := tx.Exec(`
		INSERT INTO scenarios (id, name, species, tgc, mortality_pct_month, harvest_threshold_g, transfer_threshold_g, planned_end_date, horizon_days, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			species = excluded.species,
			tgc = excluded.tgc,
			mortality_pct_month = excluded.mortality_pct_month,
			harvest_threshold_g = excluded.harvest_threshold_g,
			transfer_threshold_g = excluded.transfer_threshold_g,
			planned_end_date = excluded.planned_end_date,
			horizon_days = excluded.horizon_days,
			updated_at = excluded.updated_at
	`, row.ID, row.Name, row.Species, row.TGC, row.MortalityPctMonth,
		row.HarvestThresholdG, row.TransferThresholdG, plannedEnd, row.HorizonDays, time.Now().UTC()); err != nil {
		tx.Rollback()
		return err
	}

	if _, err := tx.Exec(`DELETE FROM scenario_temps WHERE scenario_id = ?`, row.ID); err != nil {
		tx.Rollback()
		return err
	}
	for _, p := range temps {
		if _, err := tx.Exec(`
			INSERT INTO scenario_temps (scenario_id, day_number, temp_c) VALUES (?, ?, ?)
		`, row.ID, p.DayNumber, p.TempC); err != nil {
			tx.Rollback()
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM scenario_stage_tgc WHERE scenario_id = ?`, row.ID); err != nil {
		tx.Rollback()
		return err
	}
	for _, st := range stages {
		if _, err := tx.Exec(`
			INSERT INTO scenario_stage_tgc (scenario_id, stage, tgc) VALUES (?, ?, ?)
		`, row.ID, st.Stage, st.TGC); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetScenarioRow(id string) (*models.ScenarioRow, error) {
	row := s.db.QueryRow(`
		SELECT id, name, species, tgc, mortality_pct_month, harvest_threshold_g, transfer_threshold_g, planned_end_date, horizon_days, updated_at
		FROM scenarios WHERE id = ?
	`, id)

	var sc models.ScenarioRow
	var plannedEnd sql.NullString
	err := row.Scan(&sc.ID, &sc.Name, &sc.Species, &sc.TGC, &sc.MortalityPctMonth,
		&sc.HarvestThresholdG, &sc.TransferThresholdG, &plannedEnd, &sc.HorizonDays, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if plannedEnd.Valid {
		t, err := parseDate(plannedEnd.String)
		if err != nil {
			return nil, err
		}
		sc.PlannedEndDate = sql.NullTime{Time: t, Valid: true}
	}
	return &sc, nil
}

func (s *Store) GetScenarioTemps(id string) ([]models.ScenarioTemp, error) {
	rows, err := s.db.Query(`
		SELECT scenario_id, day_number, temp_c FROM scenario_temps
		WHERE scenario_id = ? ORDER BY day_number ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var temps []models.ScenarioTemp
	for rows.Next() {
		var p models.ScenarioTemp
		if err := rows.Scan(&p.ScenarioID, &p.DayNumber, &p.TempC); err != nil {
			return nil, err
		}
		temps = append(temps, p)
	}
	return temps, rows.Err()
}

func (s *Store) GetScenarioStageTGCs(id string) ([]models.ScenarioStageTGC, error) {
	rows, err := s.db.Query(`
		SELECT scenario_id, stage, tgc FROM scenario_stage_tgc
		WHERE scenario_id = ? ORDER BY stage ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []models.ScenarioStageTGC
	for rows.Next() {
		var st models.ScenarioStageTGC
		if err := rows.Scan(&st.ScenarioID, &st.Stage, &st.TGC); err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func (s *Store) CountScenarios() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM scenarios`).Scan(&count)
	return count, err
}
