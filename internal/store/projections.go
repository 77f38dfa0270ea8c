package store

import (
	"database/sql"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

// ReplaceProjections atomically swaps the projection series for one
// (computed_date, assignment) run. A same-day rerun with a shorter horizon
// must not leave stale tail rows behind, so the old series is deleted first.
func (s *Store) ReplaceProjections(assignmentID string, computedDate time.Time, rows []models.ForwardProjection) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		DELETE FROM forward_projections WHERE computed_date = ? AND assignment_id = ?
	`, dateStr(computedDate), assignmentID); err != nil {
		tx.Rollback()
		return err
	}

	for _, p := range rows {
		if _, err := tx.Exec(`
			INSERT INTO forward_projections (computed_date, assignment_id, projection_date, projected_weight_g, projected_population, projected_biomass_kg, temperature_used_c, tgc_value_used, temp_bias_c, temp_bias_window_days, bias_clamp_min, bias_clamp_max)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, dateStr(computedDate), assignmentID, dateStr(p.ProjectionDate),
			p.ProjectedWeightG, p.ProjectedPop, p.ProjectedBiomassKG,
			p.TemperatureUsedC, p.TGCValueUsed, p.TempBiasC, p.TempBiasWindowDays,
			p.BiasClampMin, p.BiasClampMax); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetProjections(assignmentID string, computedDate time.Time) ([]models.ForwardProjection, error) {
	rows, err := s.db.Query(`
		SELECT computed_date, assignment_id, projection_date, projected_weight_g, projected_population, projected_biomass_kg, temperature_used_c, tgc_value_used, temp_bias_c, temp_bias_window_days, bias_clamp_min, bias_clamp_max
		FROM forward_projections
		WHERE assignment_id = ? AND computed_date = ?
		ORDER BY projection_date ASC
	`, assignmentID, dateStr(computedDate))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projections []models.ForwardProjection
	for rows.Next() {
		var p models.ForwardProjection
		var computed, projDate string
		if err := rows.Scan(&computed, &p.AssignmentID, &projDate, &p.ProjectedWeightG,
			&p.ProjectedPop, &p.ProjectedBiomassKG, &p.TemperatureUsedC, &p.TGCValueUsed,
			&p.TempBiasC, &p.TempBiasWindowDays, &p.BiasClampMin, &p.BiasClampMax); err != nil {
			return nil, err
		}
		if p.ComputedDate, err = parseDate(computed); err != nil {
			return nil, err
		}
		if p.ProjectionDate, err = parseDate(projDate); err != nil {
			return nil, err
		}
		projections = append(projections, p)
	}
	return projections, rows.Err()
}

// GetLatestProjectionDate returns the most recent computed_date for an
// assignment, or zero time when no projection run has been stored.
func (s *Store) GetLatestProjectionDate(assignmentID string) (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRow(`
		SELECT MAX(computed_date) FROM forward_projections WHERE assignment_id = ?
	`, assignmentID).Scan(&date)
	if err != nil {
		return time.Time{}, false, err
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseDate(date.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *Store) DeleteProjectionsBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM forward_projections WHERE computed_date < ?
	`, dateStr(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) UpsertForecastSummary(f models.ForecastSummary) error {
	nullDate := func(t sql.NullTime) any {
		if t.Valid {
			return dateStr(t.Time)
		}
		return nil
	}
	_, err := s.db.Exec(`
		INSERT INTO forecast_summaries (assignment_id, computed_at, state_date, current_weight_g, current_population, current_biomass_kg, stage, harvest_date, harvest_weight_g, days_to_harvest, transfer_date, transfer_weight_g, days_to_transfer, planned_end_date, variance_days, projection_partial, attention, attention_reason, narrative)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(assignment_id) DO UPDATE SET
			computed_at = excluded.computed_at,
			state_date = excluded.state_date,
			current_weight_g = excluded.current_weight_g,
			current_population = excluded.current_population,
			current_biomass_kg = excluded.current_biomass_kg,
			stage = excluded.stage,
			harvest_date = excluded.harvest_date,
			harvest_weight_g = excluded.harvest_weight_g,
			days_to_harvest = excluded.days_to_harvest,
			transfer_date = excluded.transfer_date,
			transfer_weight_g = excluded.transfer_weight_g,
			days_to_transfer = excluded.days_to_transfer,
			planned_end_date = excluded.planned_end_date,
			variance_days = excluded.variance_days,
			projection_partial = excluded.projection_partial,
			attention = excluded.attention,
			attention_reason = excluded.attention_reason,
			narrative = excluded.narrative
	`, f.AssignmentID, f.ComputedAt.UTC(), nullDate(f.StateDate),
		f.CurrentWeightG, f.CurrentPopulation, f.CurrentBiomassKG, f.Stage,
		nullDate(f.HarvestDate), f.HarvestWeightG, f.DaysToHarvest,
		nullDate(f.TransferDate), f.TransferWeightG, f.DaysToTransfer,
		nullDate(f.PlannedEndDate), f.VarianceDays, f.ProjectionPartial,
		f.Attention, f.AttentionReason, f.Narrative)
	return err
}

func scanForecastSummary(row interface{ Scan(...any) error }) (*models.ForecastSummary, error) {
	var f models.ForecastSummary
	var stateDate, harvestDate, transferDate, plannedEnd sql.NullString
	err := row.Scan(&f.AssignmentID, &f.ComputedAt, &stateDate,
		&f.CurrentWeightG, &f.CurrentPopulation, &f.CurrentBiomassKG, &f.Stage,
		&harvestDate, &f.HarvestWeightG, &f.DaysToHarvest,
		&transferDate, &f.TransferWeightG, &f.DaysToTransfer,
		&plannedEnd, &f.VarianceDays, &f.ProjectionPartial,
		&f.Attention, &f.AttentionReason, &f.Narrative)
	if err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		src sql.NullString
		dst *sql.NullTime
	}{
		{stateDate, &f.StateDate},
		{harvestDate, &f.HarvestDate},
		{transferDate, &f.TransferDate},
		{plannedEnd, &f.PlannedEndDate},
	} {
		if pair.src.Valid {
			t, err := parseDate(pair.src.String)
			if err != nil {
				return nil, err
			}
			*pair.dst = sql.NullTime{Time: t, Valid: true}
		}
	}
	return &f, nil
}

const summaryCols = `assignment_id, computed_at, state_date, current_weight_g, current_population, current_biomass_kg, stage, harvest_date, harvest_weight_g, days_to_harvest, transfer_date, transfer_weight_g, days_to_transfer, planned_end_date, variance_days, projection_partial, attention, attention_reason, narrative`

func (s *Store) GetForecastSummary(assignmentID string) (*models.ForecastSummary, error) {
	row := s.db.QueryRow(`SELECT `+summaryCols+` FROM forecast_summaries WHERE assignment_id = ?`, assignmentID)
	f, err := scanForecastSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (s *Store) GetAllForecastSummaries() ([]models.ForecastSummary, error) {
	rows, err := s.db.Query(`SELECT ` + summaryCols + ` FROM forecast_summaries ORDER BY assignment_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.ForecastSummary
	for rows.Next() {
		f, err := scanForecastSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *f)
	}
	return summaries, rows.Err()
}

func (s *Store) SetSummaryNarrative(assignmentID, narrative string) error {
	_, err := s.db.Exec(`
		UPDATE forecast_summaries SET narrative = ? WHERE assignment_id = ?
	`, narrative, assignmentID)
	return err
}
