// Package records is the write path for field observations. Inserts are
// validated, persisted, and announced on the bus. Scheduling is advisory:
// a recompute that cannot be queued never fails the insert that
// triggered it.
package records

import (
	"time"

	"github.com/fjordops/growthd/internal/bus"
	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/store"
)

type Service struct {
	store *store.Store
	bus   *bus.Bus
}

// NewService wires the write path. The bus may be nil for batch imports
// that recompute explicitly afterwards.
func NewService(st *store.Store, b *bus.Bus) *Service {
	return &Service{store: st, bus: b}
}

func (s *Service) RecordGrowthSample(g models.GrowthSample) (int64, error) {
	if err := ValidateGrowthSample(&g); err != nil {
		return 0, err
	}
	if err := s.checkAssignment(g.AssignmentID); err != nil {
		return 0, err
	}
	if g.RecordedAt.IsZero() {
		g.RecordedAt = time.Now().UTC()
	}
	id, err := s.store.InsertGrowthSample(g)
	if err != nil {
		return 0, err
	}
	s.publish(g.AssignmentID, bus.KindGrowthSample, g.SampleDate, g.RecordedAt)
	return id, nil
}

func (s *Service) RecordTransfer(t models.Transfer) (int64, error) {
	if err := ValidateTransfer(&t); err != nil {
		return 0, err
	}
	if err := s.checkAssignment(t.AssignmentID); err != nil {
		return 0, err
	}
	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now().UTC()
	}
	id, err := s.store.InsertTransfer(t)
	if err != nil {
		return 0, err
	}
	s.publish(t.AssignmentID, bus.KindTransfer, t.TransferDate, t.RecordedAt)
	return id, nil
}

func (s *Service) RecordTreatment(t models.Treatment) (int64, error) {
	if err := ValidateTreatment(&t); err != nil {
		return 0, err
	}
	if err := s.checkAssignment(t.AssignmentID); err != nil {
		return 0, err
	}
	if t.RecordedAt.IsZero() {
		t.RecordedAt = time.Now().UTC()
	}
	id, err := s.store.InsertTreatment(t)
	if err != nil {
		return 0, err
	}
	// A treatment without a weighing does not move the series, so there
	// is nothing to recompute.
	if t.AvgWeightG.Valid {
		s.publish(t.AssignmentID, bus.KindTreatment, t.TreatmentDate, t.RecordedAt)
	}
	return id, nil
}

func (s *Service) RecordMortality(m models.MortalityEvent) (int64, error) {
	if err := ValidateMortality(&m); err != nil {
		return 0, err
	}
	if err := s.checkAssignment(m.AssignmentID); err != nil {
		return 0, err
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}
	id, err := s.store.InsertMortalityEvent(m)
	if err != nil {
		return 0, err
	}
	s.publish(m.AssignmentID, bus.KindMortality, m.EventDate, m.RecordedAt)
	return id, nil
}

// RecordFeed stores a feed ledger entry. Feed does not anchor the series;
// late entries are absorbed by the nightly trailing recompute.
func (s *Service) RecordFeed(f models.FeedEntry) (int64, error) {
	if err := ValidateFeedEntry(&f); err != nil {
		return 0, err
	}
	c, err := s.store.GetContainer(f.ContainerID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, &ValidationError{"container_id", "unknown"}
	}
	if f.RecordedAt.IsZero() {
		f.RecordedAt = time.Now().UTC()
	}
	return s.store.InsertFeedEntry(f)
}

func (s *Service) checkAssignment(id string) error {
	asg, err := s.store.GetAssignment(id)
	if err != nil {
		return err
	}
	if asg == nil {
		return &ValidationError{"assignment_id", "unknown"}
	}
	return nil
}

func (s *Service) publish(assignmentID, kind string, triggerDate, recordedAt time.Time) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		AssignmentID: assignmentID,
		Kind:         kind,
		TriggerDate:  triggerDate,
		RecordedAt:   recordedAt,
	})
}
