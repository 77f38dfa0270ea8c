package projection

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/fjordops/growthd/internal/growth"
	"github.com/fjordops/growthd/internal/metrics"
	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/scenario"
	"github.com/fjordops/growthd/internal/store"
)

// RetentionDays is how long historical projection runs are kept for
// backtesting before the daily sweep expires them.
const RetentionDays = 90

// Outcome reports one projection run for one assignment.
type Outcome struct {
	RowsWritten int
	Partial     bool
	Skipped     bool
}

// Projector marches the growth model from the latest assimilated state to
// the scenario horizon and upserts the forecast summary.
type Projector struct {
	store     *store.Store
	scenarios *scenario.Provider
	bias      *BiasEstimator
}

func NewProjector(st *store.Store, scenarios *scenario.Provider) *Projector {
	return &Projector{store: st, scenarios: scenarios, bias: NewBiasEstimator(st)}
}

// SetBiasBounds overrides the temperature correction window and clamp.
// Non-positive values keep the defaults.
func (p *Projector) SetBiasBounds(windowDays int, clampC float64) {
	if windowDays > 0 {
		p.bias.windowDays = windowDays
	}
	if clampC > 0 {
		p.bias.clampC = clampC
	}
}

// Project writes a full forward horizon for one assignment under the given
// computed date, replacing any earlier run for that date. Without a pinned
// scenario the projection is skipped but the summary's current-state fields
// still update.
func (p *Projector) Project(assignmentID string, computedDate time.Time) (*Outcome, error) {
	computedDate = dateOnly(computedDate)

	asg, err := p.store.GetAssignment(assignmentID)
	if err != nil {
		return nil, err
	}
	if asg == nil {
		return nil, fmt.Errorf("assignment %s not found", assignmentID)
	}

	latest, err := p.store.GetLatestDailyState(assignmentID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		log.Printf("projection: no assimilated state for %s, skipping", assignmentID)
		return &Outcome{Skipped: true}, nil
	}

	batch, err := p.store.GetBatch(asg.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("batch %s not found", asg.BatchID)
	}
	sc, err := p.scenarios.Get(batch.ScenarioID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		log.Printf("projection: no scenario for batch %s, updating summary only", asg.BatchID)
		summary := p.currentSummary(asg, latest, computedDate)
		if err := p.store.UpsertForecastSummary(summary); err != nil {
			return nil, err
		}
		return &Outcome{Skipped: true}, nil
	}

	run, err := p.store.StartProjectionRun(assignmentID, computedDate)
	if err != nil {
		return nil, err
	}

	outcome, err := p.project(asg, batch, sc, latest, computedDate)
	if err != nil {
		run.Success = false
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		metrics.ProjectionRuns.WithLabelValues("error").Inc()
	} else {
		run.Success = true
		run.HorizonDays = int64(sc.HorizonDays)
		run.RowsWritten = int64(outcome.RowsWritten)
		run.Partial = outcome.Partial
		metrics.ProjectionRuns.WithLabelValues("ok").Inc()
	}
	if cerr := p.store.CompleteProjectionRun(run); cerr != nil {
		log.Printf("projection: complete run %d: %v", run.ID, cerr)
	}
	return outcome, err
}

func (p *Projector) project(asg *models.Assignment, batch *models.Batch, sc *scenario.Scenario, latest *models.DailyState, computedDate time.Time) (*Outcome, error) {
	bias, err := p.bias.Estimate(asg.ContainerID, batch.StockedAt, sc, latest.StateDate)
	if err != nil {
		return nil, err
	}

	elapsed := scenario.DayNumber(batch.StockedAt, latest.StateDate)
	remaining := sc.HorizonDays - elapsed

	tgc := sc.TGCForStage(asg.Stage)
	mortRate := sc.DailyMortalityRate()

	outcome := &Outcome{}
	w := latest.AvgWeightG
	popF := float64(latest.Population)
	rows := make([]models.ForwardProjection, 0, max(remaining, 0))
	for i := 1; i <= remaining; i++ {
		profileTemp, ok := sc.TempForDay(elapsed + i)
		if !ok {
			// Profile exhausted short of the horizon.
			outcome.Partial = true
			break
		}
		temp := profileTemp + bias.Value
		if w, err = growth.Step(w, tgc, temp); err != nil {
			return nil, err
		}
		popF *= 1 - mortRate
		pop := int64(math.Round(popF))

		rows = append(rows, models.ForwardProjection{
			ComputedDate:       computedDate,
			AssignmentID:       asg.ID,
			ProjectionDate:     latest.StateDate.AddDate(0, 0, i),
			ProjectedWeightG:   w,
			ProjectedPop:       pop,
			ProjectedBiomassKG: w * float64(pop) / 1000,
			TemperatureUsedC:   temp,
			TGCValueUsed:       tgc,
			TempBiasC:          bias.Value,
			TempBiasWindowDays: int64(bias.WindowDays),
			BiasClampMin:       bias.ClampMin,
			BiasClampMax:       bias.ClampMax,
		})
	}

	if err := p.store.ReplaceProjections(asg.ID, computedDate, rows); err != nil {
		return nil, err
	}
	outcome.RowsWritten = len(rows)

	summary, err := p.buildSummary(asg, sc, latest, computedDate, rows, outcome.Partial)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpsertForecastSummary(summary); err != nil {
		return nil, err
	}

	log.Printf("projection: %s computed=%s rows=%d partial=%v bias=%+.2f",
		asg.ID, computedDate.Format("2006-01-02"), outcome.RowsWritten, outcome.Partial, bias.Value)
	return outcome, nil
}

// ProjectActive runs a projection for every active assignment, isolating
// per-assignment failures.
func (p *Projector) ProjectActive(computedDate time.Time) (map[string]*Outcome, error) {
	asgs, err := p.store.GetActiveAssignments()
	if err != nil {
		return nil, err
	}

	outcomes := make(map[string]*Outcome)
	var errs *multierror.Error
	for _, asg := range asgs {
		out, err := p.Project(asg.ID, computedDate)
		if err != nil {
			log.Printf("projection: %s: %v", asg.ID, err)
			errs = multierror.Append(errs, fmt.Errorf("assignment %s: %w", asg.ID, err))
			continue
		}
		outcomes[asg.ID] = out
	}
	return outcomes, errs.ErrorOrNil()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
