package growth

import (
	"database/sql"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/scenario"
	"github.com/fjordops/growthd/internal/store"
)

func setupEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db, time.UTC)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewEngine(st, scenario.NewProvider(st)), st
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// seedFarm sets up one assignment of 10,000 fish stocked 2026-01-01 under a
// constant 12 degree scenario.
func seedFarm(t *testing.T, st *store.Store) {
	t.Helper()
	if err := st.UpsertScenario(models.ScenarioRow{
		ID: "steady", Name: "Steady 12C", Species: "atlantic_salmon",
		TGC: 0.025, MortalityPctMonth: 0.8,
		HarvestThresholdG: 4500, TransferThresholdG: 120, HorizonDays: 540,
	}, []models.ScenarioTemp{
		{ScenarioID: "steady", DayNumber: 1, TempC: 12},
		{ScenarioID: "steady", DayNumber: 540, TempC: 12},
	}, nil); err != nil {
		t.Fatalf("seed scenario: %v", err)
	}
	if err := st.UpsertContainer(models.Container{ID: "tank-1", Name: "Tank 1", Kind: "tank"}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertBatch(models.Batch{
		ID: "batch-1", Species: "atlantic_salmon", ScenarioID: "steady", StockedAt: date(2026, 1, 1),
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertAssignment(models.Assignment{
		ID: "asg-1", BatchID: "batch-1", ContainerID: "tank-1", Stage: "ongrow",
		StartDate: date(2026, 1, 1), BaselinePopulation: 10000, BaselineDate: date(2026, 1, 1),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}
}

func mustSample(t *testing.T, st *store.Store, asg string, d time.Time, weight float64) {
	t.Helper()
	if _, err := st.InsertGrowthSample(models.GrowthSample{
		AssignmentID: asg, SampleDate: d, AvgWeightG: weight, SampleSize: 30,
		Method: "average", RecordedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestRecomputeRange_CalibratesToAnchors(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)

	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	if _, err := st.InsertTransfer(models.Transfer{
		AssignmentID: "asg-1", TransferDate: date(2026, 1, 11), DeltaCount: 0,
		AvgWeightG: sql.NullFloat64{Float64: 80, Valid: true}, RecordedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	res, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual")
	if err != nil {
		t.Fatalf("RecomputeRange: %v", err)
	}
	if res.RowsCreated != 11 || res.RowsUpdated != 0 {
		t.Errorf("rows = %d created %d updated, want 11/0", res.RowsCreated, res.RowsUpdated)
	}
	if res.AnchorCount != 2 {
		t.Errorf("anchor count = %d, want 2", res.AnchorCount)
	}

	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 11 {
		t.Fatalf("len(rows) = %d, want 11", len(rows))
	}

	if rows[0].AvgWeightG != 50 {
		t.Errorf("day 0 weight = %v, want exactly 50", rows[0].AvgWeightG)
	}
	if rows[10].AvgWeightG != 80 {
		t.Errorf("day 10 weight = %v, want exactly 80", rows[10].AvgWeightG)
	}
	if rows[0].AnchorType.String != KindGrowthSample || rows[10].AnchorType.String != KindTransfer {
		t.Errorf("anchor types = %q/%q, want growth_sample/transfer",
			rows[0].AnchorType.String, rows[10].AnchorType.String)
	}

	for i, row := range rows {
		conf := row.Confidence["avg_weight_g"]
		if conf < 0 || conf > 1 {
			t.Errorf("day %d: confidence %v out of [0,1]", i, conf)
		}
		onAnchor := i == 0 || i == 10
		if onAnchor && conf != 1 {
			t.Errorf("day %d: confidence = %v, want 1.0 on anchor date", i, conf)
		}
		if !onAnchor && conf >= 1 {
			t.Errorf("day %d: confidence = %v, want below 1.0 off anchor", i, conf)
		}
		if i > 0 && rows[i].AvgWeightG <= rows[i-1].AvgWeightG {
			t.Errorf("day %d: weight %v not above day %d's %v", i, rows[i].AvgWeightG, i-1, rows[i-1].AvgWeightG)
		}
		if got := row.BiomassKG; math.Abs(got-row.AvgWeightG*float64(row.Population)/1000) > 1e-9 {
			t.Errorf("day %d: biomass %v inconsistent with weight and population", i, got)
		}
	}

	if rows[5].Sources["avg_weight_g"].Origin != originInterpolated {
		t.Errorf("day 5 origin = %q, want interpolated", rows[5].Sources["avg_weight_g"].Origin)
	}
	// Equidistant between anchors the march's start anchor drives the day.
	if rows[5].AnchorType.String != KindGrowthSample {
		t.Errorf("day 5 anchor type = %q, want growth_sample", rows[5].AnchorType.String)
	}
	if !rows[3].TempC.Valid || rows[3].TempC.Float64 != 12 {
		t.Errorf("day 3 temp = %+v, want profile 12", rows[3].TempC)
	}
	if rows[3].Sources["temp_c"].Origin != originProfile {
		t.Errorf("day 3 temp origin = %q, want profile", rows[3].Sources["temp_c"].Origin)
	}
}

func TestRecomputeRange_Idempotent(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	mustSample(t, st, "asg-1", date(2026, 1, 11), 80)

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual"); err != nil {
		t.Fatal(err)
	}
	first, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual")
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsCreated != 0 || res.RowsUpdated != 11 {
		t.Errorf("second run rows = %d created %d updated, want 0/11", res.RowsCreated, res.RowsUpdated)
	}
	second, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}

	for i := range first {
		a, b := first[i], second[i]
		a.LastComputedAt, b.LastComputedAt = time.Time{}, time.Time{}
		if !reflect.DeepEqual(a, b) {
			t.Errorf("day %d changed across identical recomputes:\n%+v\n%+v", i, a, b)
		}
	}
}

func TestRecomputeRange_MortalitySteps(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	mustSample(t, st, "asg-1", date(2026, 1, 11), 80)
	if _, err := st.InsertMortalityEvent(models.MortalityEvent{
		AssignmentID: "asg-1", EventDate: date(2026, 1, 6), Count: 100,
		Cause: "handling", RecordedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual"); err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}

	for i, row := range rows {
		want := int64(10000)
		if i >= 5 {
			want = 9900
		}
		if row.Population != want {
			t.Errorf("day %d: population = %d, want %d", i, row.Population, want)
		}
		if i > 0 && row.Population > rows[i-1].Population {
			t.Errorf("day %d: population increased without a stocking anchor", i)
		}
	}
	if rows[5].MortalityCount != 100 {
		t.Errorf("day 5 mortality = %d, want 100", rows[5].MortalityCount)
	}
	if rows[4].MortalityCount != 0 {
		t.Errorf("day 4 mortality = %d, want 0", rows[4].MortalityCount)
	}
}

func TestRecomputeRange_TransferDeltas(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	now := time.Now().UTC()
	if _, err := st.InsertTransfer(models.Transfer{
		AssignmentID: "asg-1", TransferDate: date(2026, 1, 6), DeltaCount: -500, RecordedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.InsertTransfer(models.Transfer{
		AssignmentID: "asg-1", TransferDate: date(2026, 1, 8), DeltaCount: 200, RecordedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual"); err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}

	wantPops := []int64{10000, 10000, 10000, 10000, 10000, 9500, 9500, 9700, 9700, 9700, 9700}
	for i, row := range rows {
		if row.Population != wantPops[i] {
			t.Errorf("day %d: population = %d, want %d", i, row.Population, wantPops[i])
		}
	}
}

func TestRecomputeRange_NoAnchorsIsNoOp(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)

	res, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual")
	if err != nil {
		t.Fatalf("RecomputeRange: %v", err)
	}
	if res.AnchorCount != 0 || res.RowsCreated != 0 || res.RowsUpdated != 0 {
		t.Errorf("result = %+v, want empty no-op", res)
	}

	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("wrote %d rows on a no-op", len(rows))
	}

	runs, err := st.GetRecentRecomputeRuns("asg-1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || !runs[0].Success {
		t.Errorf("runs = %+v, want one successful audit row", runs)
	}
}

func TestRecomputeRange_FlatHoldAndConfidenceFloor(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 6), 60)

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 16), "manual"); err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 16))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 16 {
		t.Fatalf("len(rows) = %d, want 16", len(rows))
	}

	for i, row := range rows {
		if row.AvgWeightG != 60 {
			t.Errorf("day %d: weight = %v, want 60 held flat", i, row.AvgWeightG)
		}
	}
	if c := rows[5].Confidence["avg_weight_g"]; c != 1 {
		t.Errorf("anchor day confidence = %v, want 1.0", c)
	}
	if c := rows[4].Confidence["avg_weight_g"]; math.Abs(c-0.9) > 1e-9 {
		t.Errorf("one day out confidence = %v, want 0.9", c)
	}
	if c := rows[10].Confidence["avg_weight_g"]; math.Abs(c-0.5) > 1e-9 {
		t.Errorf("five days out confidence = %v, want 0.5", c)
	}
	if c := rows[15].Confidence["avg_weight_g"]; c != weightConfFloor {
		t.Errorf("far day confidence = %v, want floor %v", c, weightConfFloor)
	}
	if rows[10].Sources["avg_weight_g"].Origin != originHeld {
		t.Errorf("held day origin = %q, want held", rows[10].Sources["avg_weight_g"].Origin)
	}
}

func TestRecomputeRange_PaddedAnchorBeyondWindow(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	mustSample(t, st, "asg-1", date(2026, 1, 13), 80)

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual"); err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 11 {
		t.Fatalf("len(rows) = %d, want 11", len(rows))
	}

	// The far anchor sits outside the window but inside the fetch padding,
	// so the window's tail interpolates toward it instead of holding flat.
	tail := rows[10]
	if tail.AvgWeightG <= 50 || tail.AvgWeightG >= 80 {
		t.Errorf("tail weight = %v, want strictly between the anchors", tail.AvgWeightG)
	}
	if tail.Sources["avg_weight_g"].Origin != originInterpolated {
		t.Errorf("tail origin = %q, want interpolated", tail.Sources["avg_weight_g"].Origin)
	}

	// Nothing outside the requested window is written.
	if st12, err := st.GetDailyState("asg-1", date(2026, 1, 12)); err != nil || st12 != nil {
		t.Errorf("date beyond window written: %+v, %v", st12, err)
	}
}

func TestRecomputeRange_ObservedFCR(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	mustSample(t, st, "asg-1", date(2026, 1, 11), 80)
	now := time.Now().UTC()
	for _, d := range []time.Time{date(2026, 1, 1), date(2026, 1, 4)} {
		if _, err := st.InsertFeedEntry(models.FeedEntry{
			ContainerID: "tank-1", FeedDate: d, FeedKG: 40, FeedType: "pellet-4mm", RecordedAt: now,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual"); err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}

	// First assimilated day has no prior biomass to compute a gain from.
	if !rows[0].FeedKG.Valid || rows[0].FeedKG.Float64 != 40 {
		t.Errorf("day 0 feed = %+v, want 40", rows[0].FeedKG)
	}
	if rows[0].ObservedFCR.Valid {
		t.Errorf("day 0 FCR = %+v, want null without a prior day", rows[0].ObservedFCR)
	}

	gain := rows[3].BiomassKG - rows[2].BiomassKG
	if gain <= 0 {
		t.Fatalf("day 3 biomass gain = %v, want positive", gain)
	}
	if !rows[3].ObservedFCR.Valid || math.Abs(rows[3].ObservedFCR.Float64-40/gain) > 1e-9 {
		t.Errorf("day 3 FCR = %+v, want %v", rows[3].ObservedFCR, 40/gain)
	}
	if rows[2].ObservedFCR.Valid {
		t.Errorf("day 2 FCR = %+v, want null without feed", rows[2].ObservedFCR)
	}
}

func TestRecomputeRange_FCRNullWithoutGain(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 6), 60)
	if _, err := st.InsertFeedEntry(models.FeedEntry{
		ContainerID: "tank-1", FeedDate: date(2026, 1, 8), FeedKG: 25,
		FeedType: "pellet-4mm", RecordedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual"); err != nil {
		t.Fatal(err)
	}
	row, err := st.GetDailyState("asg-1", date(2026, 1, 8))
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("day not written")
	}
	if !row.FeedKG.Valid || row.FeedKG.Float64 != 25 {
		t.Errorf("feed = %+v, want 25", row.FeedKG)
	}
	if row.ObservedFCR.Valid {
		t.Errorf("FCR = %+v, want null when weight is held flat", row.ObservedFCR)
	}
}

func TestRecomputeRange_SensorTempPreferred(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	for hour, temp := range map[int]float64{6: 11, 18: 13} {
		if err := st.InsertSensorReading(models.SensorReading{
			ContainerID: "tank-1",
			ReadAt:      time.Date(2026, 1, 2, hour, 0, 0, 0, time.UTC),
			TempC:       temp,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 5), "manual"); err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 1), date(2026, 1, 5))
	if err != nil {
		t.Fatal(err)
	}

	if !rows[1].TempC.Valid || rows[1].TempC.Float64 != 12 {
		t.Errorf("sensor day temp = %+v, want mean 12", rows[1].TempC)
	}
	if src := rows[1].Sources["temp_c"]; src.Origin != originSensor || src.Confidence != sensorTempConf {
		t.Errorf("sensor day source = %+v", src)
	}
	if src := rows[2].Sources["temp_c"]; src.Origin != originProfile || src.Confidence != profileTempConf {
		t.Errorf("profile day source = %+v", src)
	}
}

func TestRecomputeRange_TempCarriedPastProfile(t *testing.T) {
	e, st := setupEngine(t)
	if err := st.UpsertScenario(models.ScenarioRow{
		ID: "short", Name: "Short profile", Species: "atlantic_salmon",
		TGC: 0.025, MortalityPctMonth: 0.8, HorizonDays: 30,
	}, []models.ScenarioTemp{
		{ScenarioID: "short", DayNumber: 1, TempC: 10},
		{ScenarioID: "short", DayNumber: 3, TempC: 10},
	}, nil); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertContainer(models.Container{ID: "tank-2", Name: "Tank 2", Kind: "tank"}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertBatch(models.Batch{
		ID: "batch-2", Species: "atlantic_salmon", ScenarioID: "short", StockedAt: date(2026, 1, 1),
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertAssignment(models.Assignment{
		ID: "asg-2", BatchID: "batch-2", ContainerID: "tank-2", Stage: "ongrow",
		StartDate: date(2026, 1, 1), BaselinePopulation: 5000, BaselineDate: date(2026, 1, 1),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	mustSample(t, st, "asg-2", date(2026, 1, 1), 50)

	if _, err := e.RecomputeRange("asg-2", date(2026, 1, 1), date(2026, 1, 6), "manual"); err != nil {
		t.Fatal(err)
	}
	rows, err := st.GetDailyStates("asg-2", date(2026, 1, 1), date(2026, 1, 6))
	if err != nil {
		t.Fatal(err)
	}

	if src := rows[1].Sources["temp_c"]; src.Origin != originProfile {
		t.Errorf("covered day origin = %q, want profile", src.Origin)
	}
	for i := 3; i < len(rows); i++ {
		if !rows[i].TempC.Valid || rows[i].TempC.Float64 != 10 {
			t.Errorf("day %d temp = %+v, want carried 10", i, rows[i].TempC)
		}
		if src := rows[i].Sources["temp_c"]; src.Origin != originCarried || src.Confidence != carriedTempConf {
			t.Errorf("day %d source = %+v, want carried", i, src)
		}
	}
}

func TestRecomputeRange_CarriedBasisWithoutWeightAnchors(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	mustSample(t, st, "asg-1", date(2026, 1, 11), 80)
	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 1), date(2026, 1, 11), "manual"); err != nil {
		t.Fatal(err)
	}

	// A mortality-only window later on: no weight ground truth, the last
	// assimilated weight carries flat while the population still steps.
	if _, err := st.InsertMortalityEvent(models.MortalityEvent{
		AssignmentID: "asg-1", EventDate: date(2026, 1, 15), Count: 100,
		Cause: "predator", RecordedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RecomputeRange("asg-1", date(2026, 1, 14), date(2026, 1, 16), "event"); err != nil {
		t.Fatal(err)
	}

	rows, err := st.GetDailyStates("asg-1", date(2026, 1, 14), date(2026, 1, 16))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	wantPops := []int64{10000, 9900, 9900}
	for i, row := range rows {
		if row.AvgWeightG != 80 {
			t.Errorf("day %d: weight = %v, want carried 80", i, row.AvgWeightG)
		}
		if row.Population != wantPops[i] {
			t.Errorf("day %d: population = %d, want %d", i, row.Population, wantPops[i])
		}
		if row.AnchorType.Valid {
			t.Errorf("day %d: anchor type = %q, want null", i, row.AnchorType.String)
		}
		if c := row.Confidence["avg_weight_g"]; c != weightConfFloor {
			t.Errorf("day %d: confidence = %v, want floor", i, c)
		}
		if src := row.Sources["avg_weight_g"]; src.Origin != originCarried {
			t.Errorf("day %d: origin = %q, want carried", i, src.Origin)
		}
	}
}

func TestRecomputeRange_NoScenario(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	if err := st.UpsertBatch(models.Batch{
		ID: "batch-3", Species: "atlantic_salmon", ScenarioID: "", StockedAt: date(2026, 1, 1),
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertAssignment(models.Assignment{
		ID: "asg-3", BatchID: "batch-3", ContainerID: "tank-1", Stage: "ongrow",
		StartDate: date(2026, 1, 1), BaselinePopulation: 1000, BaselineDate: date(2026, 1, 1),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	mustSample(t, st, "asg-3", date(2026, 1, 2), 50)

	_, err := e.RecomputeRange("asg-3", date(2026, 1, 1), date(2026, 1, 5), "manual")
	if !errors.Is(err, ErrNoScenario) {
		t.Fatalf("err = %v, want ErrNoScenario", err)
	}

	runs, err := st.GetRecentRecomputeRuns("asg-3", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Success || !runs[0].ErrorMessage.Valid {
		t.Errorf("runs = %+v, want one failed audit row with message", runs)
	}
}

func TestRecomputeRange_UnknownAssignment(t *testing.T) {
	e, _ := setupEngine(t)
	_, err := e.RecomputeRange("nope", date(2026, 1, 1), date(2026, 1, 5), "manual")
	if !errors.Is(err, ErrAssignmentNotFound) {
		t.Fatalf("err = %v, want ErrAssignmentNotFound", err)
	}
}

func TestRecomputeRange_WindowOutsideSpan(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	if err := st.UpsertAssignment(models.Assignment{
		ID: "asg-1", BatchID: "batch-1", ContainerID: "tank-1", Stage: "ongrow",
		StartDate: date(2026, 1, 1), EndDate: sql.NullTime{Time: date(2026, 1, 5), Valid: true},
		BaselinePopulation: 10000, BaselineDate: date(2026, 1, 1), Active: false,
	}); err != nil {
		t.Fatal(err)
	}
	mustSample(t, st, "asg-1", date(2026, 1, 2), 50)

	res, err := e.RecomputeRange("asg-1", date(2026, 1, 10), date(2026, 1, 12), "manual")
	if err != nil {
		t.Fatalf("RecomputeRange: %v", err)
	}
	if res.AnchorCount != 0 || res.RowsCreated != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestCoordinator_IsolatesFailures(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	mustSample(t, st, "asg-1", date(2026, 1, 11), 80)

	// Second assignment in the same batch with a corrupt anchor weight that
	// blows up the growth model mid-march.
	if err := st.UpsertContainer(models.Container{ID: "tank-2", Name: "Tank 2", Kind: "tank"}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertAssignment(models.Assignment{
		ID: "asg-bad", BatchID: "batch-1", ContainerID: "tank-2", Stage: "ongrow",
		StartDate: date(2026, 1, 1), BaselinePopulation: 5000, BaselineDate: date(2026, 1, 1),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	mustSample(t, st, "asg-bad", date(2026, 1, 1), -5)
	mustSample(t, st, "asg-bad", date(2026, 1, 5), 60)

	c := NewCoordinator(e, st)
	results, err := c.RecomputeBatch("batch-1", date(2026, 1, 1), date(2026, 1, 11), "manual")
	if err == nil {
		t.Fatal("expected an error for the corrupt assignment")
	}
	var merr *ModelError
	if !errors.As(err, &merr) {
		t.Errorf("err = %v, want to unwrap to *ModelError", err)
	}

	res, ok := results["asg-1"]
	if !ok || res.RowsCreated != 11 {
		t.Errorf("healthy assignment result = %+v, want 11 rows", res)
	}
	if _, ok := results["asg-bad"]; ok {
		t.Error("failed assignment must not report a result")
	}

	rows, err := st.GetDailyStates("asg-bad", date(2026, 1, 1), date(2026, 1, 11))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("failed assignment wrote %d rows, want none", len(rows))
	}
}

func TestCoordinator_SkipsNonOverlapping(t *testing.T) {
	e, st := setupEngine(t)
	seedFarm(t, st)
	mustSample(t, st, "asg-1", date(2026, 1, 1), 50)
	if err := st.UpsertAssignment(models.Assignment{
		ID: "asg-old", BatchID: "batch-1", ContainerID: "tank-1", Stage: "smolt",
		StartDate: date(2025, 6, 1), EndDate: sql.NullTime{Time: date(2025, 12, 1), Valid: true},
		BaselinePopulation: 12000, BaselineDate: date(2025, 6, 1), Active: false,
	}); err != nil {
		t.Fatal(err)
	}

	c := NewCoordinator(e, st)
	results, err := c.RecomputeBatch("batch-1", date(2026, 1, 1), date(2026, 1, 5), "manual")
	if err != nil {
		t.Fatalf("RecomputeBatch: %v", err)
	}
	if _, ok := results["asg-old"]; ok {
		t.Error("ended assignment outside the window must be skipped")
	}
	if _, ok := results["asg-1"]; !ok {
		t.Error("overlapping assignment missing from results")
	}
}
