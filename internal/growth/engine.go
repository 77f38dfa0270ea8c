package growth

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fjordops/growthd/internal/metrics"
	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/scenario"
	"github.com/fjordops/growthd/internal/store"
)

const (
	// anchorPadDays widens the fetch window so segments straddling the
	// window boundary still see their far anchor.
	anchorPadDays = 2

	// Weight confidence decays with distance to the nearer anchor and
	// never drops below the floor.
	weightConfDecay = 0.1
	weightConfFloor = 0.3

	// Per-origin temperature confidence.
	sensorTempConf  = 0.9
	profileTempConf = 0.5
	carriedTempConf = 0.3

	// Population is derived from a baseline census plus the movement
	// ledger, never measured directly.
	popConf = 0.8

	feedConf = 1.0
)

// Provenance origins recorded in the sources map.
const (
	originInterpolated = "interpolated"
	originHeld         = "held"
	originCarried      = "carried"
	originSensor       = "sensor"
	originProfile      = "profile"
	originLedger       = "ledger"
	originFeedLedger   = "feed_ledger"
)

var (
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrNoScenario         = errors.New("no scenario pinned for batch")
)

// Result reports what one recompute pass saw and wrote.
type Result struct {
	AnchorCount int
	RowsCreated int
	RowsUpdated int
}

// Engine rebuilds the daily state series for assignments from their
// observation records.
type Engine struct {
	store     *store.Store
	scenarios *scenario.Provider
	source    *Source
}

func NewEngine(st *store.Store, scenarios *scenario.Provider) *Engine {
	return &Engine{store: st, scenarios: scenarios, source: NewSource(st)}
}

// RecomputeRange rebuilds the daily series for one assignment over
// [start, end], clamped to the assignment's active span. All dates in the
// window are upserted in a single transaction; rerunning with no new
// records writes identical values. Zero anchors in the padded window is a
// no-op, not an error.
func (e *Engine) RecomputeRange(assignmentID string, start, end time.Time, trigger string) (*Result, error) {
	start, end = dateOnly(start), dateOnly(end)
	if end.Before(start) {
		return nil, fmt.Errorf("invalid window %s..%s", dateKey(start), dateKey(end))
	}

	asg, err := e.store.GetAssignment(assignmentID)
	if err != nil {
		return nil, err
	}
	if asg == nil {
		return nil, fmt.Errorf("%w: %s", ErrAssignmentNotFound, assignmentID)
	}

	run, err := e.store.StartRecomputeRun(assignmentID, start, end, trigger)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	result, err := e.recompute(asg, start, end)
	metrics.RecomputeDuration.Observe(time.Since(began).Seconds())
	if err != nil {
		run.Success = false
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		metrics.RecomputeRuns.WithLabelValues(trigger, "error").Inc()
	} else {
		run.Success = true
		run.AnchorCount = int64(result.AnchorCount)
		run.RowsCreated = int64(result.RowsCreated)
		run.RowsUpdated = int64(result.RowsUpdated)
		metrics.RecomputeRuns.WithLabelValues(trigger, "ok").Inc()
	}
	if cerr := e.store.CompleteRecomputeRun(run); cerr != nil {
		log.Printf("growth: complete recompute run %d: %v", run.ID, cerr)
	}
	return result, err
}

func (e *Engine) recompute(asg *models.Assignment, start, end time.Time) (*Result, error) {
	if start.Before(asg.StartDate) {
		start = asg.StartDate
	}
	if asg.EndDate.Valid && end.After(asg.EndDate.Time) {
		end = asg.EndDate.Time
	}
	if end.Before(start) {
		log.Printf("growth: window outside active span for %s, nothing to do", asg.ID)
		return &Result{}, nil
	}

	batch, err := e.store.GetBatch(asg.BatchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, fmt.Errorf("batch %s not found", asg.BatchID)
	}
	sc, err := e.scenarios.Get(batch.ScenarioID)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoScenario, asg.BatchID)
	}

	fetchStart := start.AddDate(0, 0, -anchorPadDays)
	if fetchStart.Before(asg.StartDate) {
		fetchStart = asg.StartDate
	}
	fetchEnd := end.AddDate(0, 0, anchorPadDays)
	if asg.EndDate.Valid && fetchEnd.After(asg.EndDate.Time) {
		fetchEnd = asg.EndDate.Time
	}

	anchors, err := e.source.Fetch(asg.ID, fetchStart, fetchEnd)
	if err != nil {
		return nil, err
	}
	result := &Result{AnchorCount: len(anchors)}
	if len(anchors) == 0 {
		log.Printf("growth: no anchors for %s in %s..%s, skipping", asg.ID, dateKey(fetchStart), dateKey(fetchEnd))
		return result, nil
	}
	days := Resolve(anchors)

	n := daysBetween(fetchStart, fetchEnd) + 1
	idx := func(t time.Time) int { return daysBetween(fetchStart, t) }

	temps, tempOrigins, err := e.resolveTemps(asg.ContainerID, batch.StockedAt, sc, fetchStart, n)
	if err != nil {
		return nil, err
	}

	weights := make([]float64, n)
	wconf := make([]float64, n)
	wsrc := make([]models.FieldSource, n)
	atype := make([]string, n)

	wa := weightAnchors(days)
	if len(wa) == 0 {
		// No weight ground truth in the window. Carry the last stored
		// weight flat; with no stored basis either there is nothing to
		// assimilate from.
		prior, err := e.store.GetDailyStateBefore(asg.ID, fetchStart)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			log.Printf("growth: no weight basis for %s in %s..%s, skipping", asg.ID, dateKey(fetchStart), dateKey(fetchEnd))
			return result, nil
		}
		for d := 0; d < n; d++ {
			weights[d] = prior.AvgWeightG
			wconf[d] = weightConfFloor
			wsrc[d] = models.FieldSource{Origin: originCarried, Confidence: weightConfFloor}
		}
	} else {
		tgc := sc.TGCForStage(asg.Stage)
		if err := fillWeights(weights, wsrc, temps, wa, idx, tgc); err != nil {
			return nil, err
		}
		fillWeightConfidence(wconf, atype, wsrc, wa, idx, n)
	}

	pops, morts, err := e.marchPopulation(asg, days, fetchStart, n)
	if err != nil {
		return nil, err
	}

	biomass := make([]float64, n)
	for d := range biomass {
		biomass[d] = weights[d] * float64(pops[d]) / 1000
	}

	feed, err := e.store.GetDailyFeed(asg.ContainerID, start, end)
	if err != nil {
		return nil, err
	}

	// Biomass entering the first timeline day, for FCR on that day only.
	var priorBiomass float64
	havePriorBiomass := false
	if prev, err := e.store.GetDailyState(asg.ID, fetchStart.AddDate(0, 0, -1)); err != nil {
		return nil, err
	} else if prev != nil {
		priorBiomass, havePriorBiomass = prev.BiomassKG, true
	}

	now := time.Now().UTC()
	states := make([]models.DailyState, 0, daysBetween(start, end)+1)
	for d := idx(start); d <= idx(end); d++ {
		date := fetchStart.AddDate(0, 0, d)
		st := models.DailyState{
			AssignmentID:   asg.ID,
			StateDate:      date,
			AvgWeightG:     weights[d],
			Population:     pops[d],
			BiomassKG:      biomass[d],
			MortalityCount: morts[d],
			Sources:        map[string]models.FieldSource{"avg_weight_g": wsrc[d]},
			Confidence:     map[string]float64{"avg_weight_g": wconf[d], "population": popConf},
			LastComputedAt: now,
		}
		st.Sources["population"] = models.FieldSource{Origin: originLedger, Confidence: popConf}
		if atype[d] != "" {
			st.AnchorType = sql.NullString{String: atype[d], Valid: true}
		}
		if tempOrigins[d] != "" {
			conf := tempConfFor(tempOrigins[d])
			st.TempC = sql.NullFloat64{Float64: temps[d], Valid: true}
			st.Sources["temp_c"] = models.FieldSource{Origin: tempOrigins[d], Confidence: conf}
			st.Confidence["temp_c"] = conf
		}
		if kg, ok := feed[dateKey(date)]; ok {
			st.FeedKG = sql.NullFloat64{Float64: kg, Valid: true}
			st.Sources["feed_kg"] = models.FieldSource{Origin: originFeedLedger, Confidence: feedConf}
			st.Confidence["feed_kg"] = feedConf

			prev, havePrev := priorBiomass, havePriorBiomass
			if d > 0 {
				prev, havePrev = biomass[d-1], true
			}
			if havePrev {
				if gain := biomass[d] - prev; gain > 0 {
					st.ObservedFCR = sql.NullFloat64{Float64: kg / gain, Valid: true}
				}
			}
		}
		states = append(states, st)
	}

	created, updated, err := e.store.UpsertDailyStates(asg.ID, states)
	if err != nil {
		return nil, err
	}
	result.RowsCreated = created
	result.RowsUpdated = updated
	log.Printf("growth: %s %s..%s anchors=%d created=%d updated=%d",
		asg.ID, dateKey(start), dateKey(end), result.AnchorCount, created, updated)
	return result, nil
}

// resolveTemps builds the per-day temperature series for the timeline:
// sensor mean when the container logged readings, else the scenario profile,
// else the last known value carried forward. Days with no source at all stay
// unknown and contribute zero degree-days to the model.
func (e *Engine) resolveTemps(containerID string, stockedAt time.Time, sc *scenario.Scenario, fetchStart time.Time, n int) ([]float64, []string, error) {
	sensor, err := e.store.GetDailyTemps(containerID, fetchStart, fetchStart.AddDate(0, 0, n-1))
	if err != nil {
		return nil, nil, err
	}

	temps := make([]float64, n)
	origins := make([]string, n)
	var lastTemp float64
	haveLast := false
	for d := 0; d < n; d++ {
		date := fetchStart.AddDate(0, 0, d)
		if v, ok := sensor[dateKey(date)]; ok {
			temps[d], origins[d] = v, originSensor
		} else if v, ok := sc.TempForDay(scenario.DayNumber(stockedAt, date)); ok {
			temps[d], origins[d] = v, originProfile
		} else if haveLast {
			temps[d], origins[d] = lastTemp, originCarried
		} else {
			continue
		}
		lastTemp, haveLast = temps[d], true
	}
	return temps, origins, nil
}

// fillWeights writes the weight series: measured values exactly on anchor
// dates, the model march calibrated against the far anchor between them,
// and the nearest anchor's value held flat outside any bounded segment.
func fillWeights(weights []float64, wsrc []models.FieldSource, temps []float64, wa []DayAnchor, idx func(time.Time) int, tgc float64) error {
	for _, a := range wa {
		d := idx(a.Date)
		weights[d] = a.WeightG
		wsrc[d] = models.FieldSource{Origin: a.WeightKind, Ref: a.WeightRef, Confidence: 1}
	}

	first, last := wa[0], wa[len(wa)-1]
	for d := 0; d < idx(first.Date); d++ {
		weights[d] = first.WeightG
		wsrc[d] = models.FieldSource{Origin: originHeld, Ref: first.WeightRef}
	}
	for d := idx(last.Date) + 1; d < len(weights); d++ {
		weights[d] = last.WeightG
		wsrc[d] = models.FieldSource{Origin: originHeld, Ref: last.WeightRef}
	}

	for i := 0; i+1 < len(wa); i++ {
		d0, d1 := idx(wa[i].Date), idx(wa[i+1].Date)
		if d1-d0 < 2 {
			continue
		}
		traj, err := Trajectory(wa[i].WeightG, tgc, temps[d0+1:d1+1])
		if err != nil {
			return err
		}
		// Anchors are ground truth: spread the model's residual against
		// the far anchor linearly so the series lands on it exactly.
		resid := wa[i+1].WeightG - traj[len(traj)-1]
		span := float64(d1 - d0)
		for d := d0 + 1; d < d1; d++ {
			weights[d] = traj[d-d0-1] + resid*float64(d-d0)/span
			wsrc[d] = models.FieldSource{Origin: originInterpolated}
		}
	}
	return nil
}

// fillWeightConfidence scores each day by its distance to the nearer weight
// anchor: exactly 1.0 on the anchor date, decaying linearly to the floor.
// The nearer anchor's kind also becomes the day's anchor_type.
func fillWeightConfidence(wconf []float64, atype []string, wsrc []models.FieldSource, wa []DayAnchor, idx func(time.Time) int, n int) {
	const far = 1 << 30
	kindAt := make(map[int]string, len(wa))
	for _, a := range wa {
		kindAt[idx(a.Date)] = a.WeightKind
	}

	prevDist := make([]int, n)
	prevKind := make([]string, n)
	dist, kind := far, ""
	for d := 0; d < n; d++ {
		if k, ok := kindAt[d]; ok {
			dist, kind = 0, k
		} else if dist != far {
			dist++
		}
		prevDist[d], prevKind[d] = dist, kind
	}

	dist, kind = far, ""
	for d := n - 1; d >= 0; d-- {
		if k, ok := kindAt[d]; ok {
			dist, kind = 0, k
		} else if dist != far {
			dist++
		}
		nearest, nearestKind := prevDist[d], prevKind[d]
		if dist < nearest {
			nearest, nearestKind = dist, kind
		}
		conf := 1 - weightConfDecay*float64(nearest)
		if conf < weightConfFloor {
			conf = weightConfFloor
		}
		wconf[d] = conf
		atype[d] = nearestKind
		if wsrc[d].Confidence == 0 {
			wsrc[d].Confidence = conf
		}
	}
}

// marchPopulation runs the movement ledger forward from the assignment's
// baseline census. Mortality and out-transfers step the population down on
// their event date; only an explicit stocking transfer moves it up.
func (e *Engine) marchPopulation(asg *models.Assignment, days []DayAnchor, fetchStart time.Time, n int) ([]int64, []int64, error) {
	pop := asg.BaselinePopulation
	delta, err := e.store.PopulationDeltaBetween(asg.ID, asg.BaselineDate, fetchStart)
	if err != nil {
		return nil, nil, err
	}
	pop += delta

	byIdx := make(map[int]DayAnchor, len(days))
	for _, day := range days {
		byIdx[daysBetween(fetchStart, day.Date)] = day
	}

	pops := make([]int64, n)
	morts := make([]int64, n)
	for d := 0; d < n; d++ {
		if day, ok := byIdx[d]; ok {
			morts[d] = day.MortalityCount
			// Movements before the baseline census are already folded
			// into the baseline count.
			if !day.Date.Before(asg.BaselineDate) {
				pop += day.TransferDelta - day.MortalityCount
			}
		}
		if pop < 0 {
			pop = 0
		}
		pops[d] = pop
	}
	return pops, morts, nil
}

func tempConfFor(origin string) float64 {
	switch origin {
	case originSensor:
		return sensorTempConf
	case originProfile:
		return profileTempConf
	default:
		return carriedTempConf
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
