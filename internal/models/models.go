package models

import (
	"database/sql"
	"time"
)

type Batch struct {
	ID         string
	Species    string
	ScenarioID string
	StockedAt  time.Time
	CreatedAt  time.Time
}

type Container struct {
	ID       string
	Name     string
	Kind     string // "tank", "cage", "raceway"
	LoggerID sql.NullString
}

type Assignment struct {
	ID                 string
	BatchID            string
	ContainerID        string
	Stage              string // "fry", "smolt", "ongrow", ...
	StartDate          time.Time
	EndDate            sql.NullTime
	BaselinePopulation int64
	BaselineDate       time.Time
	Active             bool
}

type GrowthSample struct {
	ID           int64
	AssignmentID string
	SampleDate   time.Time
	AvgWeightG   float64
	AvgLengthCM  sql.NullFloat64
	SampleSize   int64
	Method       string // "average", "largest", "smallest"
	RecordedAt   time.Time
}

type Transfer struct {
	ID           int64
	AssignmentID string
	TransferDate time.Time
	DeltaCount   int64 // positive = stocked in, negative = moved out
	AvgWeightG   sql.NullFloat64
	RecordedAt   time.Time
}

type Treatment struct {
	ID            int64
	AssignmentID  string
	TreatmentDate time.Time
	Kind          string
	AvgWeightG    sql.NullFloat64
	RecordedAt    time.Time
}

type MortalityEvent struct {
	ID           int64
	AssignmentID string
	EventDate    time.Time
	Count        int64
	Cause        string
	RecordedAt   time.Time
}

type FeedEntry struct {
	ID          int64
	ContainerID string
	FeedDate    time.Time
	FeedKG      float64
	FeedType    string
	RecordedAt  time.Time
}

type SensorReading struct {
	ID          int64
	ContainerID string
	ReadAt      time.Time
	TempC       float64
	OxygenMgL   sql.NullFloat64
	SalinityPPT sql.NullFloat64
}

type PlannedActivity struct {
	ID           int64
	AssignmentID string
	Kind         string // "harvest", "transfer"
	PlannedDate  time.Time
	Note         string
}

type ScenarioRow struct {
	ID                 string
	Name               string
	Species            string
	TGC                float64
	MortalityPctMonth  float64
	HarvestThresholdG  float64
	TransferThresholdG float64
	PlannedEndDate     sql.NullTime
	HorizonDays        int64
	UpdatedAt          time.Time
}

type ScenarioTemp struct {
	ScenarioID string
	DayNumber  int
	TempC      float64
}

type ScenarioStageTGC struct {
	ScenarioID string
	Stage      string
	TGC        float64
}

// FieldSource records where one daily-state field came from. Ref points at
// the originating record ("growth_sample:42") when there is one.
type FieldSource struct {
	Origin     string  `json:"origin"`
	Ref        string  `json:"ref,omitempty"`
	Confidence float64 `json:"confidence"`
}

type DailyState struct {
	AssignmentID   string
	StateDate      time.Time
	AvgWeightG     float64
	Population     int64
	BiomassKG      float64
	TempC          sql.NullFloat64
	MortalityCount int64
	FeedKG         sql.NullFloat64
	ObservedFCR    sql.NullFloat64
	AnchorType     sql.NullString
	Sources        map[string]FieldSource
	Confidence     map[string]float64
	LastComputedAt time.Time
}

type ForwardProjection struct {
	ComputedDate       time.Time
	AssignmentID       string
	ProjectionDate     time.Time
	ProjectedWeightG   float64
	ProjectedPop       int64
	ProjectedBiomassKG float64
	TemperatureUsedC   float64
	TGCValueUsed       float64
	TempBiasC          float64
	TempBiasWindowDays int64
	BiasClampMin       float64
	BiasClampMax       float64
}

type ForecastSummary struct {
	AssignmentID      string
	ComputedAt        time.Time
	StateDate         sql.NullTime
	CurrentWeightG    float64
	CurrentPopulation int64
	CurrentBiomassKG  float64
	Stage             string
	HarvestDate       sql.NullTime
	HarvestWeightG    sql.NullFloat64
	DaysToHarvest     sql.NullInt64
	TransferDate      sql.NullTime
	TransferWeightG   sql.NullFloat64
	DaysToTransfer    sql.NullInt64
	PlannedEndDate    sql.NullTime
	VarianceDays      sql.NullInt64
	ProjectionPartial bool
	Attention         bool
	AttentionReason   sql.NullString
	Narrative         sql.NullString
}

type RecomputeRun struct {
	ID           int64
	AssignmentID string
	WindowStart  time.Time
	WindowEnd    time.Time
	Trigger      string // "event", "daily", "manual"
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	AnchorCount  int64
	RowsCreated  int64
	RowsUpdated  int64
	Success      bool
	ErrorMessage sql.NullString
}

type ProjectionRun struct {
	ID           int64
	AssignmentID string
	ComputedDate time.Time
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	HorizonDays  int64
	RowsWritten  int64
	Partial      bool
	Success      bool
	ErrorMessage sql.NullString
}

type TelemetryRun struct {
	ID             int64
	Source         string // "ftp", "gateway"
	Endpoint       string
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	ReadingsParsed int64
	ReadingsStored int64
	ParseErrors    int64
	Success        bool
	ErrorMessage   sql.NullString
}
