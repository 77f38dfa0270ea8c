package store

import (
	"database/sql"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

func (s *Store) InsertGrowthSample(g models.GrowthSample) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO growth_samples (assignment_id, sample_date, avg_weight_g, avg_length_cm, sample_size, method, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.AssignmentID, dateStr(g.SampleDate), g.AvgWeightG, g.AvgLengthCM, g.SampleSize, g.Method, g.RecordedAt.UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) GetGrowthSamples(assignmentID string, start, end time.Time) ([]models.GrowthSample, error) {
	rows, err := s.db.Query(`
		SELECT id, assignment_id, sample_date, avg_weight_g, avg_length_cm, sample_size, method, recorded_at
		FROM growth_samples
		WHERE assignment_id = ? AND sample_date >= ? AND sample_date <= ?
		ORDER BY sample_date ASC, recorded_at ASC
	`, assignmentID, dateStr(start), dateStr(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []models.GrowthSample
	for rows.Next() {
		var g models.GrowthSample
		var date string
		if err := rows.Scan(&g.ID, &g.AssignmentID, &date, &g.AvgWeightG, &g.AvgLengthCM, &g.SampleSize, &g.Method, &g.RecordedAt); err != nil {
			return nil, err
		}
		if g.SampleDate, err = parseDate(date); err != nil {
			return nil, err
		}
		samples = append(samples, g)
	}
	return samples, rows.Err()
}

func (s *Store) InsertTransfer(t models.Transfer) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO transfers (assignment_id, transfer_date, delta_count, avg_weight_g, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.AssignmentID, dateStr(t.TransferDate), t.DeltaCount, t.AvgWeightG, t.RecordedAt.UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) GetTransfers(assignmentID string, start, end time.Time) ([]models.Transfer, error) {
	rows, err := s.db.Query(`
		SELECT id, assignment_id, transfer_date, delta_count, avg_weight_g, recorded_at
		FROM transfers
		WHERE assignment_id = ? AND transfer_date >= ? AND transfer_date <= ?
		ORDER BY transfer_date ASC, recorded_at ASC
	`, assignmentID, dateStr(start), dateStr(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		var t models.Transfer
		var date string
		if err := rows.Scan(&t.ID, &t.AssignmentID, &date, &t.DeltaCount, &t.AvgWeightG, &t.RecordedAt); err != nil {
			return nil, err
		}
		if t.TransferDate, err = parseDate(date); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (s *Store) InsertTreatment(t models.Treatment) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO treatments (assignment_id, treatment_date, kind, avg_weight_g, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.AssignmentID, dateStr(t.TreatmentDate), t.Kind, t.AvgWeightG, t.RecordedAt.UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) GetTreatments(assignmentID string, start, end time.Time) ([]models.Treatment, error) {
	rows, err := s.db.Query(`
		SELECT id, assignment_id, treatment_date, kind, avg_weight_g, recorded_at
		FROM treatments
		WHERE assignment_id = ? AND treatment_date >= ? AND treatment_date <= ?
		ORDER BY treatment_date ASC, recorded_at ASC
	`, assignmentID, dateStr(start), dateStr(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var treatments []models.Treatment
	for rows.Next() {
		var t models.Treatment
		var date string
		if err := rows.Scan(&t.ID, &t.AssignmentID, &date, &t.Kind, &t.AvgWeightG, &t.RecordedAt); err != nil {
			return nil, err
		}
		if t.TreatmentDate, err = parseDate(date); err != nil {
			return nil, err
		}
		treatments = append(treatments, t)
	}
	return treatments, rows.Err()
}

func (s *Store) InsertMortalityEvent(m models.MortalityEvent) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO mortality_events (assignment_id, event_date, count, cause, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.AssignmentID, dateStr(m.EventDate), m.Count, m.Cause, m.RecordedAt.UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) GetMortalityEvents(assignmentID string, start, end time.Time) ([]models.MortalityEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, assignment_id, event_date, count, cause, recorded_at
		FROM mortality_events
		WHERE assignment_id = ? AND event_date >= ? AND event_date <= ?
		ORDER BY event_date ASC, recorded_at ASC
	`, assignmentID, dateStr(start), dateStr(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.MortalityEvent
	for rows.Next() {
		var m models.MortalityEvent
		var date string
		if err := rows.Scan(&m.ID, &m.AssignmentID, &date, &m.Count, &m.Cause, &m.RecordedAt); err != nil {
			return nil, err
		}
		if m.EventDate, err = parseDate(date); err != nil {
			return nil, err
		}
		events = append(events, m)
	}
	return events, rows.Err()
}

// PopulationDeltaBetween sums mortality and transfer movements recorded on
// dates in [from, to), as a signed delta on top of a baseline count. Events
// dated before the assignment baseline are already reflected in the baseline
// and must not be counted again, so callers pass the baseline date as from.
func (s *Store) PopulationDeltaBetween(assignmentID string, from, to time.Time) (int64, error) {
	var mort, xfer int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(count), 0) FROM mortality_events
		WHERE assignment_id = ? AND event_date >= ? AND event_date < ?
	`, assignmentID, dateStr(from), dateStr(to)).Scan(&mort)
	if err != nil {
		return 0, err
	}
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(delta_count), 0) FROM transfers
		WHERE assignment_id = ? AND transfer_date >= ? AND transfer_date < ?
	`, assignmentID, dateStr(from), dateStr(to)).Scan(&xfer)
	if err != nil {
		return 0, err
	}
	return xfer - mort, nil
}

func (s *Store) InsertFeedEntry(f models.FeedEntry) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO feed_entries (container_id, feed_date, feed_kg, feed_type, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.ContainerID, dateStr(f.FeedDate), f.FeedKG, f.FeedType, f.RecordedAt.UTC())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetDailyFeed returns summed feed per date for a container over [start, end].
func (s *Store) GetDailyFeed(containerID string, start, end time.Time) (map[string]float64, error) {
	rows, err := s.db.Query(`
		SELECT feed_date, SUM(feed_kg)
		FROM feed_entries
		WHERE container_id = ? AND feed_date >= ? AND feed_date <= ?
		GROUP BY feed_date
	`, containerID, dateStr(start), dateStr(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var date string
		var kg float64
		if err := rows.Scan(&date, &kg); err != nil {
			return nil, err
		}
		result[date] = kg
	}
	return result, rows.Err()
}

func (s *Store) InsertSensorReading(r models.SensorReading) error {
	_, err := s.db.Exec(`
		INSERT INTO sensor_readings (container_id, read_at, temp_c, oxygen_mg_l, salinity_ppt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(container_id, read_at) DO NOTHING
	`, r.ContainerID, r.ReadAt.UTC(), r.TempC, r.OxygenMgL, r.SalinityPPT)
	return err
}

// InsertSensorReadings stores a batch of readings, skipping duplicates.
// Returns the number of rows actually inserted.
func (s *Store) InsertSensorReadings(readings []models.SensorReading) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}

	var stored int64
	for _, r := range readings {
		result, err := tx.Exec(`
			INSERT INTO sensor_readings (container_id, read_at, temp_c, oxygen_mg_l, salinity_ppt)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(container_id, read_at) DO NOTHING
		`, r.ContainerID, r.ReadAt.UTC(), r.TempC, r.OxygenMgL, r.SalinityPPT)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		stored += n
	}
	return stored, tx.Commit()
}

// GetDailyTemps returns the mean sensor temperature per UTC date for a
// container over [start, end].
func (s *Store) GetDailyTemps(containerID string, start, end time.Time) (map[string]float64, error) {
	startUTC := start.UTC().Truncate(24 * time.Hour)
	endUTC := end.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)

	rows, err := s.db.Query(`
		SELECT SUBSTR(read_at, 1, 10) as day, AVG(temp_c)
		FROM sensor_readings
		WHERE container_id = ? AND read_at >= ? AND read_at < ?
		GROUP BY day
	`, containerID, startUTC, endUTC)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var day string
		var temp float64
		if err := rows.Scan(&day, &temp); err != nil {
			return nil, err
		}
		result[day] = temp
	}
	return result, rows.Err()
}

func (s *Store) GetLatestSensorReading(containerID string) (*models.SensorReading, error) {
	row := s.db.QueryRow(`
		SELECT id, container_id, read_at, temp_c, oxygen_mg_l, salinity_ppt
		FROM sensor_readings
		WHERE container_id = ?
		ORDER BY read_at DESC
		LIMIT 1
	`, containerID)

	var r models.SensorReading
	err := row.Scan(&r.ID, &r.ContainerID, &r.ReadAt, &r.TempC, &r.OxygenMgL, &r.SalinityPPT)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
