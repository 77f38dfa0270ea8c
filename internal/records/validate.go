package records

import (
	"fmt"

	"github.com/fjordops/growthd/internal/models"
)

// ValidationError rejects a record that would corrupt the assimilated
// series if stored. Anchors are treated as ground truth downstream, so
// the write path is strict.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

func ValidateGrowthSample(g *models.GrowthSample) error {
	if g.AssignmentID == "" {
		return &ValidationError{"assignment_id", "required"}
	}
	if g.SampleDate.IsZero() {
		return &ValidationError{"sample_date", "required"}
	}
	if g.AvgWeightG <= 0 {
		return &ValidationError{"avg_weight_g", "must be positive"}
	}
	if g.AvgLengthCM.Valid && g.AvgLengthCM.Float64 <= 0 {
		return &ValidationError{"avg_length_cm", "must be positive"}
	}
	if g.SampleSize < 0 {
		return &ValidationError{"sample_size", "must not be negative"}
	}
	return nil
}

func ValidateTransfer(t *models.Transfer) error {
	if t.AssignmentID == "" {
		return &ValidationError{"assignment_id", "required"}
	}
	if t.TransferDate.IsZero() {
		return &ValidationError{"transfer_date", "required"}
	}
	if t.DeltaCount == 0 {
		return &ValidationError{"delta_count", "must not be zero"}
	}
	if t.AvgWeightG.Valid && t.AvgWeightG.Float64 <= 0 {
		return &ValidationError{"avg_weight_g", "must be positive"}
	}
	return nil
}

func ValidateTreatment(t *models.Treatment) error {
	if t.AssignmentID == "" {
		return &ValidationError{"assignment_id", "required"}
	}
	if t.TreatmentDate.IsZero() {
		return &ValidationError{"treatment_date", "required"}
	}
	if t.AvgWeightG.Valid && t.AvgWeightG.Float64 <= 0 {
		return &ValidationError{"avg_weight_g", "must be positive"}
	}
	return nil
}

func ValidateMortality(m *models.MortalityEvent) error {
	if m.AssignmentID == "" {
		return &ValidationError{"assignment_id", "required"}
	}
	if m.EventDate.IsZero() {
		return &ValidationError{"event_date", "required"}
	}
	if m.Count <= 0 {
		return &ValidationError{"count", "must be positive"}
	}
	return nil
}

func ValidateFeedEntry(f *models.FeedEntry) error {
	if f.ContainerID == "" {
		return &ValidationError{"container_id", "required"}
	}
	if f.FeedDate.IsZero() {
		return &ValidationError{"feed_date", "required"}
	}
	if f.FeedKG <= 0 {
		return &ValidationError{"feed_kg", "must be positive"}
	}
	return nil
}
