package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

const dailyStateCols = `assignment_id, state_date, avg_weight_g, population, biomass_kg, temp_c, mortality_count, feed_kg, observed_fcr, anchor_type, sources, confidence, last_computed_at`

// UpsertDailyStates writes a contiguous window of daily states in a single
// transaction. Either every row lands or none do. Returns how many rows were
// newly created vs overwritten.
func (s *Store) UpsertDailyStates(assignmentID string, states []models.DailyState) (created, updated int, err error) {
	if len(states) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	first := dateStr(states[0].StateDate)
	last := dateStr(states[len(states)-1].StateDate)
	existing := make(map[string]bool)
	rows, err := tx.Query(`
		SELECT state_date FROM daily_states
		WHERE assignment_id = ? AND state_date >= ? AND state_date <= ?
	`, assignmentID, first, last)
	if err != nil {
		return 0, 0, err
	}
	for rows.Next() {
		var date string
		if err = rows.Scan(&date); err != nil {
			rows.Close()
			return 0, 0, err
		}
		existing[date] = true
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, st := range states {
		sources, merr := json.Marshal(st.Sources)
		if merr != nil {
			err = fmt.Errorf("marshal sources for %s: %w", dateStr(st.StateDate), merr)
			return 0, 0, err
		}
		confidence, merr := json.Marshal(st.Confidence)
		if merr != nil {
			err = fmt.Errorf("marshal confidence for %s: %w", dateStr(st.StateDate), merr)
			return 0, 0, err
		}

		_, err = tx.Exec(`
			INSERT INTO daily_states (`+dailyStateCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(assignment_id, state_date) DO UPDATE SET
				avg_weight_g = excluded.avg_weight_g,
				population = excluded.population,
				biomass_kg = excluded.biomass_kg,
				temp_c = excluded.temp_c,
				mortality_count = excluded.mortality_count,
				feed_kg = excluded.feed_kg,
				observed_fcr = excluded.observed_fcr,
				anchor_type = excluded.anchor_type,
				sources = excluded.sources,
				confidence = excluded.confidence,
				last_computed_at = excluded.last_computed_at
		`, assignmentID, dateStr(st.StateDate), st.AvgWeightG, st.Population, st.BiomassKG,
			st.TempC, st.MortalityCount, st.FeedKG, st.ObservedFCR, st.AnchorType,
			string(sources), string(confidence), st.LastComputedAt.UTC())
		if err != nil {
			return 0, 0, err
		}

		if existing[dateStr(st.StateDate)] {
			updated++
		} else {
			created++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

func scanDailyState(row interface{ Scan(...any) error }) (*models.DailyState, error) {
	var st models.DailyState
	var date string
	var sources, confidence sql.NullString
	err := row.Scan(&st.AssignmentID, &date, &st.AvgWeightG, &st.Population, &st.BiomassKG,
		&st.TempC, &st.MortalityCount, &st.FeedKG, &st.ObservedFCR, &st.AnchorType,
		&sources, &confidence, &st.LastComputedAt)
	if err != nil {
		return nil, err
	}
	if st.StateDate, err = parseDate(date); err != nil {
		return nil, err
	}
	if sources.Valid && sources.String != "" {
		if err := json.Unmarshal([]byte(sources.String), &st.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources for %s: %w", date, err)
		}
	}
	if confidence.Valid && confidence.String != "" {
		if err := json.Unmarshal([]byte(confidence.String), &st.Confidence); err != nil {
			return nil, fmt.Errorf("unmarshal confidence for %s: %w", date, err)
		}
	}
	return &st, nil
}

func (s *Store) GetDailyStates(assignmentID string, start, end time.Time) ([]models.DailyState, error) {
	rows, err := s.db.Query(`
		SELECT `+dailyStateCols+`
		FROM daily_states
		WHERE assignment_id = ? AND state_date >= ? AND state_date <= ?
		ORDER BY state_date ASC
	`, assignmentID, dateStr(start), dateStr(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []models.DailyState
	for rows.Next() {
		st, err := scanDailyState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

func (s *Store) GetDailyState(assignmentID string, date time.Time) (*models.DailyState, error) {
	row := s.db.QueryRow(`
		SELECT `+dailyStateCols+`
		FROM daily_states
		WHERE assignment_id = ? AND state_date = ?
	`, assignmentID, dateStr(date))
	st, err := scanDailyState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

func (s *Store) GetLatestDailyState(assignmentID string) (*models.DailyState, error) {
	row := s.db.QueryRow(`
		SELECT `+dailyStateCols+`
		FROM daily_states
		WHERE assignment_id = ?
		ORDER BY state_date DESC
		LIMIT 1
	`, assignmentID)
	st, err := scanDailyState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// GetDailyStateBefore returns the last state strictly before the given date,
// if any. Used to seed day-over-day deltas at a window's leading edge.
func (s *Store) GetDailyStateBefore(assignmentID string, date time.Time) (*models.DailyState, error) {
	row := s.db.QueryRow(`
		SELECT `+dailyStateCols+`
		FROM daily_states
		WHERE assignment_id = ? AND state_date < ?
		ORDER BY state_date DESC
		LIMIT 1
	`, assignmentID, dateStr(date))
	st, err := scanDailyState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}
