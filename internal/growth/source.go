package growth

import (
	"fmt"
	"sort"
	"time"

	"github.com/fjordops/growthd/internal/store"
)

// Source projects the four observation tables into the anchor shape.
type Source struct {
	store *store.Store
}

func NewSource(s *store.Store) *Source {
	return &Source{store: s}
}

// Fetch returns every anchor for an assignment over [start, end], sorted by
// date and then by precedence rank, strongest first.
func (s *Source) Fetch(assignmentID string, start, end time.Time) ([]Anchor, error) {
	var anchors []Anchor

	samples, err := s.store.GetGrowthSamples(assignmentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch growth samples: %w", err)
	}
	for _, g := range samples {
		anchors = append(anchors, Anchor{
			Date:       g.SampleDate,
			Kind:       KindGrowthSample,
			WeightG:    g.AvgWeightG,
			HasWeight:  true,
			RecordedAt: g.RecordedAt,
			Ref:        fmt.Sprintf("growth_sample:%d", g.ID),
		})
	}

	transfers, err := s.store.GetTransfers(assignmentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch transfers: %w", err)
	}
	for _, t := range transfers {
		a := Anchor{
			Date:          t.TransferDate,
			Kind:          KindTransfer,
			TransferDelta: t.DeltaCount,
			RecordedAt:    t.RecordedAt,
			Ref:           fmt.Sprintf("transfer:%d", t.ID),
		}
		if t.AvgWeightG.Valid {
			a.WeightG = t.AvgWeightG.Float64
			a.HasWeight = true
		}
		anchors = append(anchors, a)
	}

	treatments, err := s.store.GetTreatments(assignmentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch treatments: %w", err)
	}
	for _, t := range treatments {
		if !t.AvgWeightG.Valid {
			// A treatment without a weighing anchors nothing.
			continue
		}
		anchors = append(anchors, Anchor{
			Date:       t.TreatmentDate,
			Kind:       KindTreatment,
			WeightG:    t.AvgWeightG.Float64,
			HasWeight:  true,
			RecordedAt: t.RecordedAt,
			Ref:        fmt.Sprintf("treatment:%d", t.ID),
		})
	}

	events, err := s.store.GetMortalityEvents(assignmentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch mortality events: %w", err)
	}
	for _, m := range events {
		anchors = append(anchors, Anchor{
			Date:           m.EventDate,
			Kind:           KindMortality,
			MortalityCount: m.Count,
			RecordedAt:     m.RecordedAt,
			Ref:            fmt.Sprintf("mortality_event:%d", m.ID),
		})
	}

	sort.SliceStable(anchors, func(i, j int) bool {
		if !anchors[i].Date.Equal(anchors[j].Date) {
			return anchors[i].Date.Before(anchors[j].Date)
		}
		return kindRank[anchors[i].Kind] > kindRank[anchors[j].Kind]
	})
	return anchors, nil
}
