package growth

import (
	"fmt"
	"log"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/store"
)

// Coordinator fans a recompute across many assignments, one engine call
// each, isolating per-assignment failures so one bad assignment cannot
// block the rest.
type Coordinator struct {
	engine *Engine
	store  *store.Store
}

func NewCoordinator(engine *Engine, st *store.Store) *Coordinator {
	return &Coordinator{engine: engine, store: st}
}

// RecomputeBatch recomputes every assignment of the batch whose active span
// overlaps [start, end]. Failures are collected and returned together after
// all assignments have been attempted.
func (c *Coordinator) RecomputeBatch(batchID string, start, end time.Time, trigger string) (map[string]*Result, error) {
	asgs, err := c.store.GetAssignmentsForBatch(batchID)
	if err != nil {
		return nil, err
	}
	return c.recomputeAll(asgs, start, end, trigger)
}

// RecomputeActive recomputes every active assignment overlapping [start, end].
func (c *Coordinator) RecomputeActive(start, end time.Time, trigger string) (map[string]*Result, error) {
	asgs, err := c.store.GetActiveAssignments()
	if err != nil {
		return nil, err
	}
	return c.recomputeAll(asgs, start, end, trigger)
}

func (c *Coordinator) recomputeAll(asgs []models.Assignment, start, end time.Time, trigger string) (map[string]*Result, error) {
	results := make(map[string]*Result)
	var errs *multierror.Error
	for _, asg := range asgs {
		if !overlapsWindow(asg, start, end) {
			continue
		}
		res, err := c.engine.RecomputeRange(asg.ID, start, end, trigger)
		if err != nil {
			log.Printf("growth: recompute %s: %v", asg.ID, err)
			errs = multierror.Append(errs, fmt.Errorf("assignment %s: %w", asg.ID, err))
			continue
		}
		results[asg.ID] = res
	}
	return results, errs.ErrorOrNil()
}

func overlapsWindow(asg models.Assignment, start, end time.Time) bool {
	if asg.StartDate.After(end) {
		return false
	}
	if asg.EndDate.Valid && asg.EndDate.Time.Before(start) {
		return false
	}
	return true
}
