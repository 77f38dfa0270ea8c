package growth

import (
	"sort"
	"time"
)

// Anchor kinds, in weight-precedence order. A growth sample is a deliberate
// weighing and beats the incidental weights captured during transfers and
// treatments. Mortality records never carry a weight; they only move the
// population.
const (
	KindGrowthSample = "growth_sample"
	KindTransfer     = "transfer"
	KindTreatment    = "treatment"
	KindMortality    = "mortality"
)

var kindRank = map[string]int{
	KindGrowthSample: 3,
	KindTransfer:     2,
	KindTreatment:    1,
	KindMortality:    0,
}

// Anchor is the common projection of one observation record.
type Anchor struct {
	Date           time.Time
	Kind           string
	WeightG        float64
	HasWeight      bool
	TransferDelta  int64
	MortalityCount int64
	RecordedAt     time.Time
	Ref            string // originating record, e.g. "growth_sample:42"
}

// DayAnchor is the merged view of every record landing on one date: at most
// one winning weight, summed population movements.
type DayAnchor struct {
	Date           time.Time
	WeightG        float64
	HasWeight      bool
	WeightKind     string
	WeightRef      string
	TransferDelta  int64
	MortalityCount int64

	weightRecordedAt time.Time
}

// Resolve merges raw anchors into one DayAnchor per date, sorted by date.
// When several weight-bearing anchors share a date the highest-precedence
// kind wins; within a kind the most recently recorded one wins. Transfer
// deltas and mortality counts sum across all records on the date.
func Resolve(anchors []Anchor) []DayAnchor {
	byDate := make(map[string]*DayAnchor)
	for _, a := range anchors {
		key := a.Date.Format("2006-01-02")
		day, ok := byDate[key]
		if !ok {
			day = &DayAnchor{Date: a.Date}
			byDate[key] = day
		}

		day.TransferDelta += a.TransferDelta
		day.MortalityCount += a.MortalityCount

		if !a.HasWeight {
			continue
		}
		switch {
		case !day.HasWeight:
		case kindRank[a.Kind] > kindRank[day.WeightKind]:
		case kindRank[a.Kind] == kindRank[day.WeightKind] && a.RecordedAt.After(day.weightRecordedAt):
		default:
			continue
		}
		day.HasWeight = true
		day.WeightG = a.WeightG
		day.WeightKind = a.Kind
		day.WeightRef = a.Ref
		day.weightRecordedAt = a.RecordedAt
	}

	days := make([]DayAnchor, 0, len(byDate))
	for _, day := range byDate {
		days = append(days, *day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}

// weightAnchors filters the resolved days down to those carrying a weight.
func weightAnchors(days []DayAnchor) []DayAnchor {
	var out []DayAnchor
	for _, day := range days {
		if day.HasWeight {
			out = append(out, day)
		}
	}
	return out
}
