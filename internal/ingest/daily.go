package ingest

import (
	"context"
	"log"
	"time"

	"github.com/fjordops/growthd/internal/growth"
	"github.com/fjordops/growthd/internal/narrative"
	"github.com/fjordops/growthd/internal/projection"
	"github.com/fjordops/growthd/internal/store"
)

// catchupDays is how far back the nightly recompute reaches. Three days
// absorbs late paper records without rereading whole assignments.
const catchupDays = 3

type DailyJobs struct {
	store         *store.Store
	coordinator   *growth.Coordinator
	projector     *projection.Projector
	narrator      *narrative.Generator
	retentionDays int
}

// NewDailyJobs wires the nightly maintenance pass. narrator may be nil,
// in which case summaries keep whatever narrative they already have.
func NewDailyJobs(st *store.Store, coordinator *growth.Coordinator, projector *projection.Projector, narrator *narrative.Generator, retentionDays int) *DailyJobs {
	if retentionDays <= 0 {
		retentionDays = projection.RetentionDays
	}
	return &DailyJobs{
		store:         st,
		coordinator:   coordinator,
		projector:     projector,
		narrator:      narrator,
		retentionDays: retentionDays,
	}
}

// RunAll runs every nightly job for the given date. Individual job
// failures are logged and the rest still run.
func (d *DailyJobs) RunAll(forDate time.Time) error {
	log.Printf("daily: running jobs for %s", forDate.Format("2006-01-02"))

	if err := d.RecomputeTrailing(forDate); err != nil {
		log.Printf("daily: recompute error: %v", err)
	}

	if err := d.ProjectAll(forDate); err != nil {
		log.Printf("daily: projection error: %v", err)
	}

	if err := d.SweepRetention(forDate); err != nil {
		log.Printf("daily: retention error: %v", err)
	}

	if d.narrator != nil {
		if err := d.WriteNarratives(context.Background()); err != nil {
			log.Printf("daily: narrative error: %v", err)
		}
	}

	return nil
}

// RecomputeTrailing reassimilates the trailing window for every active
// assignment so records entered a day or two late still land.
func (d *DailyJobs) RecomputeTrailing(forDate time.Time) error {
	start := forDate.AddDate(0, 0, -catchupDays)
	results, err := d.coordinator.RecomputeActive(start, forDate, "daily")
	if err != nil {
		return err
	}
	log.Printf("daily: recomputed %d assignments for %s..%s",
		len(results), start.Format("2006-01-02"), forDate.Format("2006-01-02"))
	return nil
}

func (d *DailyJobs) ProjectAll(forDate time.Time) error {
	outcomes, err := d.projector.ProjectActive(forDate)
	if err != nil {
		return err
	}
	log.Printf("daily: projected %d assignments as of %s", len(outcomes), forDate.Format("2006-01-02"))
	return nil
}

func (d *DailyJobs) SweepRetention(forDate time.Time) error {
	cutoff := forDate.AddDate(0, 0, -d.retentionDays)
	deleted, err := d.store.DeleteProjectionsBefore(cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("daily: expired %d projection rows computed before %s", deleted, cutoff.Format("2006-01-02"))
	}

	payloads, err := d.store.CleanupOldTelemetryPayloads(d.retentionDays)
	if err != nil {
		return err
	}
	if payloads > 0 {
		log.Printf("daily: expired %d telemetry payloads", payloads)
	}
	return nil
}

// WriteNarratives asks for a short operations note on every summary that
// is flagged for attention. Summaries stand on their own without one.
func (d *DailyJobs) WriteNarratives(ctx context.Context) error {
	summaries, err := d.store.GetAllForecastSummaries()
	if err != nil {
		return err
	}

	written := 0
	for _, f := range summaries {
		if !f.Attention {
			continue
		}
		note, err := d.narrator.Generate(ctx, f)
		if err != nil {
			log.Printf("daily: narrative %s: %v", f.AssignmentID, err)
			continue
		}
		if err := d.store.SetSummaryNarrative(f.AssignmentID, note); err != nil {
			log.Printf("daily: store narrative %s: %v", f.AssignmentID, err)
			continue
		}
		written++
	}

	if written > 0 {
		log.Printf("daily: wrote %d narratives", written)
	}
	return nil
}
