package api

import (
	"database/sql"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

// View types shape the JSON surface. Nullable columns become pointers
// so consumers see null rather than sql wrapper objects.

type assignmentView struct {
	ID                 string  `json:"id"`
	BatchID            string  `json:"batch_id"`
	ContainerID        string  `json:"container_id"`
	Stage              string  `json:"stage"`
	StartDate          string  `json:"start_date"`
	EndDate            *string `json:"end_date"`
	BaselinePopulation int64   `json:"baseline_population"`
	BaselineDate       string  `json:"baseline_date"`
	Active             bool    `json:"active"`
}

func toAssignmentView(a models.Assignment) assignmentView {
	return assignmentView{
		ID:                 a.ID,
		BatchID:            a.BatchID,
		ContainerID:        a.ContainerID,
		Stage:              a.Stage,
		StartDate:          dateStr(a.StartDate),
		EndDate:            nullDate(a.EndDate),
		BaselinePopulation: a.BaselinePopulation,
		BaselineDate:       dateStr(a.BaselineDate),
		Active:             a.Active,
	}
}

type stateView struct {
	Date           string                        `json:"date"`
	AvgWeightG     float64                       `json:"avg_weight_g"`
	Population     int64                         `json:"population"`
	BiomassKG      float64                       `json:"biomass_kg"`
	TempC          *float64                      `json:"temp_c"`
	MortalityCount int64                         `json:"mortality_count"`
	FeedKG         *float64                      `json:"feed_kg"`
	ObservedFCR    *float64                      `json:"observed_fcr"`
	AnchorType     *string                       `json:"anchor_type"`
	Sources        map[string]models.FieldSource `json:"sources"`
	Confidence     map[string]float64            `json:"confidence"`
	LastComputedAt time.Time                     `json:"last_computed_at"`
}

func toStateView(ds models.DailyState) stateView {
	return stateView{
		Date:           dateStr(ds.StateDate),
		AvgWeightG:     ds.AvgWeightG,
		Population:     ds.Population,
		BiomassKG:      ds.BiomassKG,
		TempC:          nullFloat(ds.TempC),
		MortalityCount: ds.MortalityCount,
		FeedKG:         nullFloat(ds.FeedKG),
		ObservedFCR:    nullFloat(ds.ObservedFCR),
		AnchorType:     nullString(ds.AnchorType),
		Sources:        ds.Sources,
		Confidence:     ds.Confidence,
		LastComputedAt: ds.LastComputedAt,
	}
}

type projectionRowView struct {
	Date       string  `json:"date"`
	WeightG    float64 `json:"weight_g"`
	Population int64   `json:"population"`
	BiomassKG  float64 `json:"biomass_kg"`
	TempUsedC  float64 `json:"temp_used_c"`
	TGC        float64 `json:"tgc"`
}

type projectionResponse struct {
	AssignmentID   string              `json:"assignment_id"`
	ComputedDate   string              `json:"computed_date"`
	TempBiasC      float64             `json:"temp_bias_c"`
	BiasWindowDays int64               `json:"bias_window_days"`
	Rows           []projectionRowView `json:"rows"`
}

func toProjectionResponse(assignmentID string, computedDate time.Time, rows []models.ForwardProjection) projectionResponse {
	resp := projectionResponse{
		AssignmentID: assignmentID,
		ComputedDate: dateStr(computedDate),
		Rows:         make([]projectionRowView, 0, len(rows)),
	}
	if len(rows) > 0 {
		resp.TempBiasC = rows[0].TempBiasC
		resp.BiasWindowDays = rows[0].TempBiasWindowDays
	}
	for _, r := range rows {
		resp.Rows = append(resp.Rows, projectionRowView{
			Date:       dateStr(r.ProjectionDate),
			WeightG:    r.ProjectedWeightG,
			Population: r.ProjectedPop,
			BiomassKG:  r.ProjectedBiomassKG,
			TempUsedC:  r.TemperatureUsedC,
			TGC:        r.TGCValueUsed,
		})
	}
	return resp
}

type summaryView struct {
	AssignmentID      string    `json:"assignment_id"`
	ComputedAt        time.Time `json:"computed_at"`
	StateDate         *string   `json:"state_date"`
	CurrentWeightG    float64   `json:"current_weight_g"`
	CurrentPopulation int64     `json:"current_population"`
	CurrentBiomassKG  float64   `json:"current_biomass_kg"`
	Stage             string    `json:"stage"`
	HarvestDate       *string   `json:"harvest_date"`
	HarvestWeightG    *float64  `json:"harvest_weight_g"`
	DaysToHarvest     *int64    `json:"days_to_harvest"`
	TransferDate      *string   `json:"transfer_date"`
	TransferWeightG   *float64  `json:"transfer_weight_g"`
	DaysToTransfer    *int64    `json:"days_to_transfer"`
	PlannedEndDate    *string   `json:"planned_end_date"`
	VarianceDays      *int64    `json:"variance_days"`
	ProjectionPartial bool      `json:"projection_partial"`
	Attention         bool      `json:"attention"`
	AttentionReason   *string   `json:"attention_reason"`
	Narrative         *string   `json:"narrative"`
}

func toSummaryView(f models.ForecastSummary) summaryView {
	return summaryView{
		AssignmentID:      f.AssignmentID,
		ComputedAt:        f.ComputedAt,
		StateDate:         nullDate(f.StateDate),
		CurrentWeightG:    f.CurrentWeightG,
		CurrentPopulation: f.CurrentPopulation,
		CurrentBiomassKG:  f.CurrentBiomassKG,
		Stage:             f.Stage,
		HarvestDate:       nullDate(f.HarvestDate),
		HarvestWeightG:    nullFloat(f.HarvestWeightG),
		DaysToHarvest:     nullInt(f.DaysToHarvest),
		TransferDate:      nullDate(f.TransferDate),
		TransferWeightG:   nullFloat(f.TransferWeightG),
		DaysToTransfer:    nullInt(f.DaysToTransfer),
		PlannedEndDate:    nullDate(f.PlannedEndDate),
		VarianceDays:      nullInt(f.VarianceDays),
		ProjectionPartial: f.ProjectionPartial,
		Attention:         f.Attention,
		AttentionReason:   nullString(f.AttentionReason),
		Narrative:         nullString(f.Narrative),
	}
}

func dateStr(t time.Time) string {
	return t.Format("2006-01-02")
}

func nullDate(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := dateStr(t.Time)
	return &s
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullInt(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	v := i.Int64
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
