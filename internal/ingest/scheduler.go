package ingest

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fjordops/growthd/internal/bus"
	"github.com/fjordops/growthd/internal/growth"
	"github.com/fjordops/growthd/internal/jobs"
	"github.com/fjordops/growthd/internal/metrics"
	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/store"
)

const defaultPollInterval = 10 * time.Minute

// Scheduler drives the background work: recompute jobs triggered by
// newly recorded observations, periodic telemetry polls, and the
// nightly maintenance pass.
type Scheduler struct {
	store        *store.Store
	engine       *growth.Engine
	queue        *jobs.Queue
	daily        *DailyJobs
	loggerFTP    *LoggerFTP
	gateway      *Gateway
	loc          *time.Location
	pollInterval time.Duration
	lastDaily    time.Time
}

func NewScheduler(st *store.Store, engine *growth.Engine, daily *DailyJobs, b *bus.Bus, cfg jobs.Config, loc *time.Location) *Scheduler {
	s := &Scheduler{
		store:        st,
		engine:       engine,
		daily:        daily,
		loc:          loc,
		pollInterval: defaultPollInterval,
	}
	s.queue = jobs.NewQueue(cfg, s.runJob)
	if b != nil {
		b.Subscribe(s.OnEvent)
	}
	return s
}

// SetLoggerFTP configures polling of the base station's CSV drops.
func (s *Scheduler) SetLoggerFTP(client *LoggerFTP) {
	s.loggerFTP = client
}

// SetGateway configures polling of the site gateway's readings API.
func (s *Scheduler) SetGateway(client *Gateway) {
	s.gateway = client
}

func (s *Scheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.queue.Start(ctx)
	defer s.queue.Stop()

	s.pollTelemetry()
	s.runDailyIfDue(time.Now().In(s.loc))

	pollTicker := time.NewTicker(s.pollInterval)
	dailyTicker := time.NewTicker(1 * time.Hour)
	defer pollTicker.Stop()
	defer dailyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-pollTicker.C:
			s.pollTelemetry()
		case <-dailyTicker.C:
			s.runDailyIfDue(time.Now().In(s.loc))
		}
	}
}

// OnEvent schedules a recompute window around a freshly recorded
// observation. It never blocks and never fails the recording that
// triggered it; a dropped job is picked up by the nightly catch-up.
func (s *Scheduler) OnEvent(ev bus.Event) {
	start, end := WindowFor(ev.Kind, ev.TriggerDate)
	id := s.queue.Enqueue(jobs.Job{
		AssignmentID: ev.AssignmentID,
		TriggerKind:  ev.Kind,
		TriggerDate:  ev.TriggerDate,
		Start:        start,
		End:          end,
	})
	if id != "" {
		log.Printf("scheduler: queued recompute for %s around %s (%s)",
			ev.AssignmentID, ev.TriggerDate.Format("2006-01-02"), ev.Kind)
	}
}

// WindowFor pads the recompute window by record kind. Weight-bearing
// records can bend the interpolated segments on either side of the
// anchor; mortality only rescales population from its date forward.
func WindowFor(kind string, day time.Time) (time.Time, time.Time) {
	pad := 2
	if kind == bus.KindMortality {
		pad = 1
	}
	return day.AddDate(0, 0, -pad), day.AddDate(0, 0, pad)
}

func (s *Scheduler) runJob(job jobs.Job) error {
	_, err := s.engine.RecomputeRange(job.AssignmentID, job.Start, job.End, "event")
	if err == nil {
		return nil
	}
	var modelErr *growth.ModelError
	if errors.As(err, &modelErr) ||
		errors.Is(err, growth.ErrAssignmentNotFound) ||
		errors.Is(err, growth.ErrNoScenario) {
		return backoff.Permanent(err)
	}
	return err
}

// runDailyIfDue fires the nightly jobs once per date, inside the quiet
// window after the previous day's paper records have usually been
// typed in.
func (s *Scheduler) runDailyIfDue(localNow time.Time) {
	if localNow.Hour() < 2 || localNow.Hour() >= 3 {
		return
	}
	day := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, time.UTC)
	if !s.lastDaily.Before(day) {
		return
	}
	s.lastDaily = day
	s.daily.RunAll(day.AddDate(0, 0, -1))
}

func (s *Scheduler) pollTelemetry() {
	s.pollLoggerFTP()
	s.pollGateway()
}

func (s *Scheduler) pollLoggerFTP() {
	if s.loggerFTP == nil {
		return
	}

	log.Println("scheduler: polling logger drops")
	run, _ := s.store.StartTelemetryRun("ftp", s.loggerFTP.Endpoint())
	readings, raw, badLines, err := s.loggerFTP.FetchDrops()

	if run != nil {
		run.Success = err == nil
		run.ReadingsParsed = int64(len(readings))
		run.ParseErrors = int64(badLines)
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
	}

	if len(raw) > 0 && run != nil {
		if _, err := s.store.StoreTelemetryPayload(run.ID, "ftp", raw); err != nil {
			log.Printf("scheduler: store ftp payload: %v", err)
		}
	}

	if err != nil {
		log.Printf("scheduler: fetch logger drops: %v", err)
	} else {
		stored := s.storeLoggerReadings(readings)
		if run != nil {
			run.ReadingsStored = stored
		}
	}

	if run != nil {
		s.store.CompleteTelemetryRun(run)
	}
}

// storeLoggerReadings maps logger serials to containers, drops flagged
// readings, and bulk-inserts the rest.
func (s *Scheduler) storeLoggerReadings(readings []LoggerReading) int64 {
	now := time.Now().UTC()
	containers := make(map[string]string)
	var batch []models.SensorReading
	dropped := 0

	for _, r := range readings {
		id, ok := containers[r.LoggerID]
		if !ok {
			c, err := s.store.GetContainerByLogger(r.LoggerID)
			if err != nil {
				log.Printf("scheduler: look up logger %s: %v", r.LoggerID, err)
				continue
			}
			if c == nil {
				log.Printf("scheduler: no container mapped for logger %s", r.LoggerID)
				containers[r.LoggerID] = ""
				continue
			}
			id = c.ID
			containers[r.LoggerID] = id
		}
		if id == "" {
			continue
		}

		sr := models.SensorReading{
			ContainerID: id,
			ReadAt:      r.ReadAt,
			TempC:       r.TempC,
			OxygenMgL:   r.OxygenMgL,
			SalinityPPT: r.SalinityPPT,
		}
		if flags := ValidateReading(&sr, now); len(flags) > 0 {
			dropped++
			continue
		}
		batch = append(batch, sr)
	}

	if dropped > 0 {
		log.Printf("scheduler: dropped %d flagged logger readings", dropped)
	}
	if len(batch) == 0 {
		return 0
	}

	inserted, err := s.store.InsertSensorReadings(batch)
	if err != nil {
		log.Printf("scheduler: insert logger readings: %v", err)
		return 0
	}
	metrics.TelemetryRows.WithLabelValues("ftp").Add(float64(inserted))
	log.Printf("scheduler: stored %d logger readings", inserted)
	return inserted
}

func (s *Scheduler) pollGateway() {
	if s.gateway == nil {
		return
	}

	asgs, err := s.store.GetActiveAssignments()
	if err != nil {
		log.Printf("scheduler: list active assignments: %v", err)
		return
	}

	seen := make(map[string]bool)
	for _, asg := range asgs {
		if seen[asg.ContainerID] {
			continue
		}
		seen[asg.ContainerID] = true
		s.pollGatewayContainer(asg.ContainerID)
	}
}

func (s *Scheduler) pollGatewayContainer(containerID string) {
	endpoint := "v1/containers/" + containerID + "/readings/latest"
	run, _ := s.store.StartTelemetryRun("gateway", endpoint)
	readings, raw, parseErrors, err := s.gateway.FetchLatest(containerID)

	if run != nil {
		run.Success = err == nil
		run.ReadingsParsed = int64(len(readings))
		run.ParseErrors = int64(parseErrors)
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
	}

	if len(raw) > 0 && run != nil {
		if _, err := s.store.StoreTelemetryPayload(run.ID, "gateway", raw); err != nil {
			log.Printf("scheduler: store gateway payload %s: %v", containerID, err)
		}
	}

	if err != nil {
		log.Printf("scheduler: fetch gateway %s: %v", containerID, err)
	} else {
		now := time.Now().UTC()
		var kept []models.SensorReading
		for i := range readings {
			if flags := ValidateReading(&readings[i], now); len(flags) > 0 {
				continue
			}
			kept = append(kept, readings[i])
		}
		if len(kept) > 0 {
			inserted, err := s.store.InsertSensorReadings(kept)
			if err != nil {
				log.Printf("scheduler: insert gateway readings %s: %v", containerID, err)
			} else {
				if run != nil {
					run.ReadingsStored = inserted
				}
				metrics.TelemetryRows.WithLabelValues("gateway").Add(float64(inserted))
			}
		}
	}

	if run != nil {
		s.store.CompleteTelemetryRun(run)
	}
}

// PollOnce runs a single telemetry pass, for the CLI's --once mode.
func (s *Scheduler) PollOnce() error {
	s.pollTelemetry()
	return nil
}

// RunDailyJobs runs the nightly pass for yesterday, for the CLI.
func (s *Scheduler) RunDailyJobs() error {
	y := time.Now().In(s.loc).AddDate(0, 0, -1)
	return s.daily.RunAll(time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, time.UTC))
}
