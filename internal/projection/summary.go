package projection

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/scenario"
)

const (
	// A crossing this close to the computed date is imminent enough to
	// need a matching plan on the books.
	attentionHorizonDays = 14
	// How far a planned activity may sit from the projected crossing and
	// still count as covering it.
	planMatchDays = 7
)

func (p *Projector) currentSummary(asg *models.Assignment, latest *models.DailyState, computedDate time.Time) models.ForecastSummary {
	return models.ForecastSummary{
		AssignmentID:      asg.ID,
		ComputedAt:        time.Now().UTC(),
		StateDate:         sql.NullTime{Time: latest.StateDate, Valid: true},
		CurrentWeightG:    latest.AvgWeightG,
		CurrentPopulation: latest.Population,
		CurrentBiomassKG:  latest.BiomassKG,
		Stage:             asg.Stage,
	}
}

func (p *Projector) buildSummary(asg *models.Assignment, sc *scenario.Scenario, latest *models.DailyState, computedDate time.Time, rows []models.ForwardProjection, partial bool) (models.ForecastSummary, error) {
	s := p.currentSummary(asg, latest, computedDate)
	s.ProjectionPartial = partial
	if sc.HasPlannedEnd {
		s.PlannedEndDate = sql.NullTime{Time: sc.PlannedEndDate, Valid: true}
	}

	var reasons []string

	if cross, ok := firstCrossing(rows, sc.HarvestThresholdG); ok {
		s.HarvestDate = sql.NullTime{Time: cross.ProjectionDate, Valid: true}
		s.HarvestWeightG = sql.NullFloat64{Float64: cross.ProjectedWeightG, Valid: true}
		s.DaysToHarvest = sql.NullInt64{Int64: int64(daysApart(computedDate, cross.ProjectionDate)), Valid: true}
		if sc.HasPlannedEnd {
			s.VarianceDays = sql.NullInt64{
				Int64: int64(daysApart(sc.PlannedEndDate, cross.ProjectionDate)),
				Valid: true,
			}
		}
		reason, needs, err := p.planAttention(asg.ID, "harvest", cross.ProjectionDate, computedDate)
		if err != nil {
			return s, err
		}
		if needs {
			reasons = append(reasons, reason)
		}
	}

	if cross, ok := firstCrossing(rows, sc.TransferThresholdG); ok {
		s.TransferDate = sql.NullTime{Time: cross.ProjectionDate, Valid: true}
		s.TransferWeightG = sql.NullFloat64{Float64: cross.ProjectedWeightG, Valid: true}
		s.DaysToTransfer = sql.NullInt64{Int64: int64(daysApart(computedDate, cross.ProjectionDate)), Valid: true}
		reason, needs, err := p.planAttention(asg.ID, "transfer", cross.ProjectionDate, computedDate)
		if err != nil {
			return s, err
		}
		if needs {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) > 0 {
		s.Attention = true
		s.AttentionReason = sql.NullString{String: strings.Join(reasons, "; "), Valid: true}
	}
	return s, nil
}

// firstCrossing returns the first projected day at or above the threshold.
// Unset thresholds never cross.
func firstCrossing(rows []models.ForwardProjection, threshold float64) (models.ForwardProjection, bool) {
	if threshold <= 0 {
		return models.ForwardProjection{}, false
	}
	for _, r := range rows {
		if r.ProjectedWeightG >= threshold {
			return r, true
		}
	}
	return models.ForwardProjection{}, false
}

// planAttention reports whether an imminent crossing lacks a planned
// activity of the matching kind near its date.
func (p *Projector) planAttention(assignmentID, kind string, crossing, computedDate time.Time) (string, bool, error) {
	if daysApart(computedDate, crossing) > attentionHorizonDays {
		return "", false, nil
	}
	plans, err := p.store.GetPlannedActivities(assignmentID, kind)
	if err != nil {
		return "", false, err
	}
	for _, plan := range plans {
		d := daysApart(plan.PlannedDate, crossing)
		if d < 0 {
			d = -d
		}
		if d <= planMatchDays {
			return "", false, nil
		}
	}
	reason := fmt.Sprintf("%s crossing %s has no planned %s within %d days",
		kind, crossing.Format("2006-01-02"), kind, planMatchDays)
	return reason, true, nil
}

func daysApart(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
