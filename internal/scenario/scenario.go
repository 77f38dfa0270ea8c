package scenario

import (
	"time"

	"github.com/fjordops/growthd/internal/models"
)

// Scenario is the growth plan pinned to a batch: the TGC coefficient (with
// optional per-stage overrides), an expected water temperature profile by
// day of cycle, a flat mortality assumption, and the weight thresholds that
// planning cares about.
type Scenario struct {
	ID                 string
	Name               string
	Species            string
	TGC                float64
	StageTGC           map[string]float64
	MortalityPctMonth  float64
	HarvestThresholdG  float64
	TransferThresholdG float64
	PlannedEndDate     time.Time
	HasPlannedEnd      bool
	HorizonDays        int

	profile []models.ScenarioTemp // sorted by day number
}

// DayNumber returns the 1-based day of cycle for a date. Day 1 is the batch's
// stocking date; profiles are seasonal from stocking, so container moves do
// not reset the count.
func DayNumber(stockedAt, date time.Time) int {
	return int(date.Sub(stockedAt).Hours()/24) + 1
}

func (s *Scenario) TGCForStage(stage string) float64 {
	if tgc, ok := s.StageTGC[stage]; ok {
		return tgc
	}
	return s.TGC
}

// TempForDay returns the profile temperature for a day of cycle, linearly
// interpolated between the sparse profile points. Days before the first point
// take the first point's value. Past the last point the profile has no
// opinion and ok is false.
func (s *Scenario) TempForDay(dayNumber int) (float64, bool) {
	if len(s.profile) == 0 {
		return 0, false
	}
	first := s.profile[0]
	if dayNumber <= first.DayNumber {
		return first.TempC, true
	}
	last := s.profile[len(s.profile)-1]
	if dayNumber > last.DayNumber {
		return 0, false
	}
	for i := 1; i < len(s.profile); i++ {
		p := s.profile[i]
		if dayNumber > p.DayNumber {
			continue
		}
		prev := s.profile[i-1]
		span := float64(p.DayNumber - prev.DayNumber)
		if span == 0 {
			return p.TempC, true
		}
		frac := float64(dayNumber-prev.DayNumber) / span
		return prev.TempC + frac*(p.TempC-prev.TempC), true
	}
	return last.TempC, true
}

// MaxProfileDay is the last day of cycle the profile covers.
func (s *Scenario) MaxProfileDay() int {
	if len(s.profile) == 0 {
		return 0
	}
	return s.profile[len(s.profile)-1].DayNumber
}

// DailyMortalityRate converts the monthly percentage into a per-day fraction.
func (s *Scenario) DailyMortalityRate() float64 {
	return s.MortalityPctMonth / 100 / 30.44
}
