package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fjordops/growthd/internal/models"
)

// Document is the on-disk YAML form of a scenario.
type Document struct {
	ID                 string             `yaml:"id"`
	Name               string             `yaml:"name"`
	Species            string             `yaml:"species"`
	TGC                float64            `yaml:"tgc"`
	StageTGC           map[string]float64 `yaml:"stage_tgc"`
	MortalityPctMonth  float64            `yaml:"mortality_pct_month"`
	HarvestThresholdG  float64            `yaml:"harvest_threshold_g"`
	TransferThresholdG float64            `yaml:"transfer_threshold_g"`
	PlannedEndDate     string             `yaml:"planned_end_date"`
	HorizonDays        int                `yaml:"horizon_days"`
	TemperatureProfile []ProfilePoint     `yaml:"temperature_profile"`
}

type ProfilePoint struct {
	Day   int     `yaml:"day"`
	TempC float64 `yaml:"temp_c"`
}

func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal scenario: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("scenario: id is required")
	}
	if d.TGC <= 0 {
		return fmt.Errorf("scenario %s: tgc must be positive, got %v", d.ID, d.TGC)
	}
	for stage, tgc := range d.StageTGC {
		if tgc <= 0 {
			return fmt.Errorf("scenario %s: stage_tgc[%s] must be positive, got %v", d.ID, stage, tgc)
		}
	}
	if d.MortalityPctMonth < 0 {
		return fmt.Errorf("scenario %s: mortality_pct_month must not be negative", d.ID)
	}
	if d.HorizonDays <= 0 {
		return fmt.Errorf("scenario %s: horizon_days must be positive, got %d", d.ID, d.HorizonDays)
	}
	if d.PlannedEndDate != "" {
		if _, err := time.Parse("2006-01-02", d.PlannedEndDate); err != nil {
			return fmt.Errorf("scenario %s: planned_end_date: %w", d.ID, err)
		}
	}
	if len(d.TemperatureProfile) == 0 {
		return fmt.Errorf("scenario %s: temperature_profile is required", d.ID)
	}
	seen := make(map[int]bool)
	for _, p := range d.TemperatureProfile {
		if p.Day < 1 {
			return fmt.Errorf("scenario %s: profile day %d must be >= 1", d.ID, p.Day)
		}
		if seen[p.Day] {
			return fmt.Errorf("scenario %s: duplicate profile day %d", d.ID, p.Day)
		}
		seen[p.Day] = true
	}
	return nil
}

// Rows converts the document into its store rows.
func (d *Document) Rows() (models.ScenarioRow, []models.ScenarioTemp, []models.ScenarioStageTGC) {
	row := models.ScenarioRow{
		ID:                 d.ID,
		Name:               d.Name,
		Species:            d.Species,
		TGC:                d.TGC,
		MortalityPctMonth:  d.MortalityPctMonth,
		HarvestThresholdG:  d.HarvestThresholdG,
		TransferThresholdG: d.TransferThresholdG,
		HorizonDays:        int64(d.HorizonDays),
	}
	if d.PlannedEndDate != "" {
		if t, err := time.Parse("2006-01-02", d.PlannedEndDate); err == nil {
			row.PlannedEndDate.Time = t
			row.PlannedEndDate.Valid = true
		}
	}

	points := make([]ProfilePoint, len(d.TemperatureProfile))
	copy(points, d.TemperatureProfile)
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })

	var temps []models.ScenarioTemp
	for _, p := range points {
		temps = append(temps, models.ScenarioTemp{ScenarioID: d.ID, DayNumber: p.Day, TempC: p.TempC})
	}

	stages := make([]string, 0, len(d.StageTGC))
	for stage := range d.StageTGC {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	var stageTGCs []models.ScenarioStageTGC
	for _, stage := range stages {
		stageTGCs = append(stageTGCs, models.ScenarioStageTGC{ScenarioID: d.ID, Stage: stage, TGC: d.StageTGC[stage]})
	}

	return row, temps, stageTGCs
}

// LoadDir parses every .yaml/.yml file in a directory.
func LoadDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	var docs []*Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read scenario %s: %w", name, err)
		}
		doc, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
