package narrative

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/fjordops/growthd/internal/models"
)

func TestNewGenerator_RequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewGenerator(); err == nil {
		t.Error("NewGenerator() succeeded without an API key")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	if _, err := NewGenerator(); err != nil {
		t.Errorf("NewGenerator() with key: %v", err)
	}
}

func TestPrompt_CarriesSummaryFacts(t *testing.T) {
	f := models.ForecastSummary{
		AssignmentID:      "asg-7",
		Stage:             "ongrow",
		CurrentWeightG:    2840,
		CurrentPopulation: 8200,
		CurrentBiomassKG:  23288,
		HarvestDate:       sql.NullTime{Time: time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC), Valid: true},
		DaysToHarvest:     sql.NullInt64{Int64: 19, Valid: true},
		VarianceDays:      sql.NullInt64{Int64: -6, Valid: true},
		Attention:         true,
		AttentionReason:   sql.NullString{String: "harvest crossing 2026-09-12 has no planned harvest within 7 days", Valid: true},
	}

	p := prompt(f)
	for _, want := range []string{
		"asg-7",
		"ongrow",
		"2840 g",
		"8200 fish",
		"2026-09-12",
		"19 days out",
		"-6 days",
		"no planned harvest",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestPrompt_OmitsAbsentFacts(t *testing.T) {
	f := models.ForecastSummary{
		AssignmentID:      "asg-1",
		Stage:             "smolt",
		CurrentWeightG:    94,
		CurrentPopulation: 40000,
		CurrentBiomassKG:  3760,
		ProjectionPartial: true,
	}

	p := prompt(f)
	if strings.Contains(p, "harvest threshold") || strings.Contains(p, "transfer threshold") {
		t.Errorf("prompt mentions crossings that do not exist:\n%s", p)
	}
	if !strings.Contains(p, "truncated") {
		t.Errorf("prompt missing the partial-projection note:\n%s", p)
	}
}
