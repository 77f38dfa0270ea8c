package growth

import (
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
}

func recorded(hour int) time.Time {
	return time.Date(2026, 1, 20, hour, 0, 0, 0, time.UTC)
}

func TestResolve_WeightPrecedence(t *testing.T) {
	days := Resolve([]Anchor{
		{Date: day(5), Kind: KindTreatment, WeightG: 71, HasWeight: true, RecordedAt: recorded(3)},
		{Date: day(5), Kind: KindGrowthSample, WeightG: 70, HasWeight: true, RecordedAt: recorded(1)},
		{Date: day(5), Kind: KindTransfer, WeightG: 72, HasWeight: true, RecordedAt: recorded(2)},
	})
	if len(days) != 1 {
		t.Fatalf("len = %d, want 1", len(days))
	}
	if days[0].WeightKind != KindGrowthSample || days[0].WeightG != 70 {
		t.Errorf("winner = %s %v, want growth_sample 70", days[0].WeightKind, days[0].WeightG)
	}
}

func TestResolve_SameKindLatestRecordedWins(t *testing.T) {
	days := Resolve([]Anchor{
		{Date: day(5), Kind: KindGrowthSample, WeightG: 70, HasWeight: true, RecordedAt: recorded(1), Ref: "growth_sample:1"},
		{Date: day(5), Kind: KindGrowthSample, WeightG: 74, HasWeight: true, RecordedAt: recorded(2), Ref: "growth_sample:2"},
	})
	if days[0].WeightG != 74 || days[0].WeightRef != "growth_sample:2" {
		t.Errorf("winner = %v %s, want 74 growth_sample:2", days[0].WeightG, days[0].WeightRef)
	}
}

func TestResolve_MortalityAndTransfersSum(t *testing.T) {
	days := Resolve([]Anchor{
		{Date: day(5), Kind: KindMortality, MortalityCount: 40, RecordedAt: recorded(1)},
		{Date: day(5), Kind: KindMortality, MortalityCount: 60, RecordedAt: recorded(2)},
		{Date: day(5), Kind: KindTransfer, TransferDelta: -200, RecordedAt: recorded(3)},
		{Date: day(5), Kind: KindTransfer, TransferDelta: 500, RecordedAt: recorded(4)},
	})
	if len(days) != 1 {
		t.Fatalf("len = %d, want 1", len(days))
	}
	if days[0].MortalityCount != 100 {
		t.Errorf("mortality = %d, want 100", days[0].MortalityCount)
	}
	if days[0].TransferDelta != 300 {
		t.Errorf("transfer delta = %d, want 300", days[0].TransferDelta)
	}
	if days[0].HasWeight {
		t.Error("population-only anchors must not produce a weight")
	}
}

func TestResolve_SortedByDate(t *testing.T) {
	days := Resolve([]Anchor{
		{Date: day(9), Kind: KindGrowthSample, WeightG: 80, HasWeight: true},
		{Date: day(2), Kind: KindGrowthSample, WeightG: 50, HasWeight: true},
		{Date: day(6), Kind: KindMortality, MortalityCount: 10},
	})
	if len(days) != 3 {
		t.Fatalf("len = %d, want 3", len(days))
	}
	for i := 1; i < len(days); i++ {
		if !days[i-1].Date.Before(days[i].Date) {
			t.Errorf("days out of order: %v then %v", days[i-1].Date, days[i].Date)
		}
	}
}

func TestWeightAnchors_FiltersPopulationOnly(t *testing.T) {
	days := Resolve([]Anchor{
		{Date: day(2), Kind: KindGrowthSample, WeightG: 50, HasWeight: true},
		{Date: day(6), Kind: KindMortality, MortalityCount: 10},
		{Date: day(9), Kind: KindTransfer, TransferDelta: -100},
	})
	wa := weightAnchors(days)
	if len(wa) != 1 || wa[0].WeightG != 50 {
		t.Errorf("weightAnchors = %+v, want single 50 g anchor", wa)
	}
}
