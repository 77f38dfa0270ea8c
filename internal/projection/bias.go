// Package projection extrapolates assimilated growth state to the scenario
// horizon, corrects the temperature profile against recent sensor readings,
// and maintains the per-assignment forecast summary.
package projection

import (
	"time"

	"github.com/fjordops/growthd/internal/scenario"
	"github.com/fjordops/growthd/internal/store"
)

const (
	biasWindowDays = 14
	biasClampC     = 2.0
)

// Bias is the measured offset between a container's water and the scenario
// profile, applied to every projected day.
type Bias struct {
	Value      float64
	WindowDays int
	ClampMin   float64
	ClampMax   float64
	Samples    int
}

type BiasEstimator struct {
	store      *store.Store
	windowDays int
	clampC     float64
}

func NewBiasEstimator(s *store.Store) *BiasEstimator {
	return &BiasEstimator{store: s, windowDays: biasWindowDays, clampC: biasClampC}
}

// Estimate computes mean(sensor - profile) over the trailing window ending at
// asOf, using only days where both sides exist, clamped so a few anomalous
// readings cannot tilt the whole horizon. No overlapping days means zero bias.
func (b *BiasEstimator) Estimate(containerID string, stockedAt time.Time, sc *scenario.Scenario, asOf time.Time) (Bias, error) {
	bias := Bias{
		WindowDays: b.windowDays,
		ClampMin:   -b.clampC,
		ClampMax:   b.clampC,
	}

	windowStart := asOf.AddDate(0, 0, -(b.windowDays - 1))
	sensor, err := b.store.GetDailyTemps(containerID, windowStart, asOf)
	if err != nil {
		return bias, err
	}

	var sum float64
	for d := 0; d < b.windowDays; d++ {
		day := windowStart.AddDate(0, 0, d)
		observed, ok := sensor[day.Format("2006-01-02")]
		if !ok {
			continue
		}
		profile, ok := sc.TempForDay(scenario.DayNumber(stockedAt, day))
		if !ok {
			continue
		}
		sum += observed - profile
		bias.Samples++
	}
	if bias.Samples == 0 {
		return bias, nil
	}

	bias.Value = capBias(sum/float64(bias.Samples), b.clampC)
	return bias, nil
}

func capBias(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
