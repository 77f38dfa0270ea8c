package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/fjordops/growthd/internal/api"
	"github.com/fjordops/growthd/internal/bus"
	"github.com/fjordops/growthd/internal/growth"
	"github.com/fjordops/growthd/internal/ingest"
	"github.com/fjordops/growthd/internal/jobs"
	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/narrative"
	"github.com/fjordops/growthd/internal/projection"
	"github.com/fjordops/growthd/internal/records"
	"github.com/fjordops/growthd/internal/scenario"
	"github.com/fjordops/growthd/internal/store"
)

type Globals struct {
	DB       string `help:"Path to the SQLite database." env:"GROWTHD_DB" default:"data/growthd.db"`
	Timezone string `help:"Site timezone for the daily window." env:"GROWTHD_TZ" default:"Europe/Oslo"`
}

// openStore opens the database, applies pragmas and migrations, and resolves
// the site timezone. The caller closes the returned handle.
func (g *Globals) openStore() (*store.Store, *sql.DB, *time.Location, error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		log.Printf("Warning: could not load %s timezone, using UTC: %v", g.Timezone, err)
		loc = time.UTC
	}

	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, db, loc, nil
}

type ServeCmd struct {
	Listen      string `help:"HTTP listen address." env:"GROWTHD_LISTEN" default:":8080"`
	ScenarioDir string `help:"Directory of scenario documents to seed at startup." env:"GROWTHD_SCENARIO_DIR"`

	PollInterval time.Duration `help:"Telemetry poll interval." env:"GROWTHD_POLL_INTERVAL" default:"10m"`
	Workers      int           `help:"Recompute worker count." env:"GROWTHD_WORKERS" default:"4"`
	QueueSize    int           `help:"Recompute queue capacity." env:"GROWTHD_QUEUE_SIZE" default:"256"`
	DedupTTL     time.Duration `help:"Window for collapsing duplicate recompute triggers." env:"GROWTHD_DEDUP_TTL" default:"60s"`

	BiasWindow    int     `help:"Days of sensor readings behind the projection temperature correction." env:"GROWTHD_BIAS_WINDOW" default:"14"`
	BiasClamp     float64 `help:"Temperature correction bound in degrees C." env:"GROWTHD_BIAS_CLAMP" default:"2"`
	RetentionDays int     `help:"Days of historical projections and raw payloads to keep." env:"GROWTHD_RETENTION_DAYS" default:"90"`

	FTPHost string `help:"Logger FTP host:port." env:"GROWTHD_FTP_HOST"`
	FTPUser string `help:"Logger FTP user." env:"GROWTHD_FTP_USER"`
	FTPPass string `help:"Logger FTP password." env:"GROWTHD_FTP_PASS"`
	FTPDir  string `help:"Logger FTP drop directory." env:"GROWTHD_FTP_DIR" default:"/outbox"`

	GatewayURL   string `help:"Sensor gateway base URL." env:"GROWTHD_GATEWAY_URL"`
	GatewayToken string `help:"Sensor gateway bearer token." env:"GROWTHD_GATEWAY_TOKEN"`

	NoPoll bool `help:"Disable polling (server only, for local dev)."`
	Once   bool `help:"Poll telemetry once and exit (for testing)."`
	Daily  bool `help:"Run the daily jobs (recompute, projections, retention) and exit."`
}

func (c *ServeCmd) Run(g *Globals) error {
	st, db, loc, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Println("database migrated")

	provider := scenario.NewProvider(st)
	if c.ScenarioDir != "" {
		n, err := provider.SeedDir(c.ScenarioDir)
		if err != nil {
			return fmt.Errorf("seed scenarios: %w", err)
		}
		log.Printf("scenarios: seeded %d from %s", n, c.ScenarioDir)
	}
	if err := provider.SeedDefaults(); err != nil {
		return fmt.Errorf("seed default scenarios: %w", err)
	}

	engine := growth.NewEngine(st, provider)
	coordinator := growth.NewCoordinator(engine, st)
	projector := projection.NewProjector(st, provider)
	projector.SetBiasBounds(c.BiasWindow, c.BiasClamp)

	narrator, err := narrative.NewGenerator()
	if err != nil {
		log.Printf("narratives disabled: %v", err)
	}

	daily := ingest.NewDailyJobs(st, coordinator, projector, narrator, c.RetentionDays)

	sched := ingest.NewScheduler(st, engine, daily, bus.New(), jobs.Config{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
		DedupTTL:  c.DedupTTL,
	}, loc)
	sched.SetPollInterval(c.PollInterval)
	if c.FTPHost != "" {
		sched.SetLoggerFTP(ingest.NewLoggerFTP(c.FTPHost, c.FTPUser, c.FTPPass, c.FTPDir))
	}
	if c.GatewayURL != "" {
		sched.SetGateway(ingest.NewGateway(c.GatewayURL, c.GatewayToken))
	}

	if c.Daily {
		log.Println("running daily jobs")
		if err := sched.RunDailyJobs(); err != nil {
			return fmt.Errorf("daily jobs: %w", err)
		}
		log.Println("done")
		return nil
	}

	if c.Once {
		log.Println("running single telemetry poll")
		if err := sched.PollOnce(); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		log.Println("done")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !c.NoPoll {
		go sched.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	server := api.NewServer(st, provider, c.Listen, loc)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

type RecomputeCmd struct {
	Assignment string `help:"Assignment to recompute." xor:"target" required:""`
	Batch      string `help:"Recompute every assignment of the batch." xor:"target" required:""`
	Start      string `help:"Window start (YYYY-MM-DD)." required:""`
	End        string `help:"Window end (YYYY-MM-DD)." required:""`
}

func (c *RecomputeCmd) Run(g *Globals) error {
	start, err := time.Parse("2006-01-02", c.Start)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.End)
	if err != nil {
		return fmt.Errorf("parse --end: %w", err)
	}

	st, db, _, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	engine := growth.NewEngine(st, scenario.NewProvider(st))

	if c.Assignment != "" {
		res, err := engine.RecomputeRange(c.Assignment, start, end, "manual")
		if err != nil {
			return fmt.Errorf("recompute %s: %w", c.Assignment, err)
		}
		logRecompute(c.Assignment, res)
		return nil
	}

	results, err := growth.NewCoordinator(engine, st).RecomputeBatch(c.Batch, start, end, "manual")
	for id, res := range results {
		logRecompute(id, res)
	}
	if err != nil {
		return fmt.Errorf("recompute batch %s: %w", c.Batch, err)
	}
	return nil
}

func logRecompute(id string, res *growth.Result) {
	log.Printf("recompute %s: %d anchors, %d rows created, %d updated", id, res.AnchorCount, res.RowsCreated, res.RowsUpdated)
}

type ProjectCmd struct {
	Assignment string `help:"Assignment to project." xor:"target" required:""`
	All        bool   `help:"Project every active assignment." xor:"target" required:""`
	Date       string `help:"Computed date (YYYY-MM-DD, default today)."`
}

func (c *ProjectCmd) Run(g *Globals) error {
	st, db, loc, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	day := time.Now().In(loc)
	if c.Date != "" {
		day, err = time.Parse("2006-01-02", c.Date)
		if err != nil {
			return fmt.Errorf("parse --date: %w", err)
		}
	}

	projector := projection.NewProjector(st, scenario.NewProvider(st))

	if c.All {
		outcomes, err := projector.ProjectActive(day)
		for id, out := range outcomes {
			logProjection(id, out)
		}
		if err != nil {
			return fmt.Errorf("project: %w", err)
		}
		return nil
	}

	out, err := projector.Project(c.Assignment, day)
	if err != nil {
		return fmt.Errorf("project %s: %w", c.Assignment, err)
	}
	logProjection(c.Assignment, out)
	return nil
}

func logProjection(id string, out *projection.Outcome) {
	switch {
	case out.Skipped:
		log.Printf("project %s: skipped, no scenario pinned", id)
	case out.Partial:
		log.Printf("project %s: %d rows, profile exhausted short of horizon", id, out.RowsWritten)
	default:
		log.Printf("project %s: %d rows", id, out.RowsWritten)
	}
}

type SeedCmd struct {
	Dir string `help:"Directory of scenario YAML documents." required:"" type:"existingdir"`
}

func (c *SeedCmd) Run(g *Globals) error {
	st, db, _, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := scenario.NewProvider(st).SeedDir(c.Dir)
	if err != nil {
		return fmt.Errorf("seed scenarios: %w", err)
	}
	log.Printf("seeded %d scenarios", n)
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	_, db, _, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	log.Println("database migrated")
	return nil
}

type RecordCmd struct {
	Sample    RecordSampleCmd    `cmd:"" help:"Record a growth sample."`
	Transfer  RecordTransferCmd  `cmd:"" help:"Record a transfer movement."`
	Treatment RecordTreatmentCmd `cmd:"" help:"Record a treatment, with optional weighing."`
	Mortality RecordMortalityCmd `cmd:"" help:"Record a mortality count."`
	Feed      RecordFeedCmd      `cmd:"" help:"Record a feed ledger entry."`
}

// recordService wires the write path for one-shot commands. The daemon
// queues recomputes off the bus; here the subscriber runs them inline so
// the states are current when the command exits.
func recordService(g *Globals) (*records.Service, *sql.DB, error) {
	st, db, _, err := g.openStore()
	if err != nil {
		return nil, nil, err
	}

	engine := growth.NewEngine(st, scenario.NewProvider(st))
	b := bus.New()
	b.Subscribe(func(ev bus.Event) {
		start, end := ingest.WindowFor(ev.Kind, ev.TriggerDate)
		res, err := engine.RecomputeRange(ev.AssignmentID, start, end, "record")
		if err != nil {
			log.Printf("recompute %s: %v", ev.AssignmentID, err)
			return
		}
		logRecompute(ev.AssignmentID, res)
	})
	return records.NewService(st, b), db, nil
}

type RecordSampleCmd struct {
	Assignment string  `help:"Assignment the sample belongs to." required:""`
	Date       string  `help:"Sample date (YYYY-MM-DD)." required:""`
	Weight     float64 `help:"Average weight in grams." required:""`
	Length     float64 `help:"Average length in centimeters."`
	Size       int64   `help:"Number of fish in the sample." default:"30"`
	Method     string  `help:"Sampling method." enum:"average,largest,smallest" default:"average"`
}

func (c *RecordSampleCmd) Run(g *Globals) error {
	day, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return fmt.Errorf("parse --date: %w", err)
	}
	svc, db, err := recordService(g)
	if err != nil {
		return err
	}
	defer db.Close()

	sample := models.GrowthSample{
		AssignmentID: c.Assignment,
		SampleDate:   day,
		AvgWeightG:   c.Weight,
		SampleSize:   c.Size,
		Method:       c.Method,
	}
	if c.Length > 0 {
		sample.AvgLengthCM = sql.NullFloat64{Float64: c.Length, Valid: true}
	}
	id, err := svc.RecordGrowthSample(sample)
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	log.Printf("growth sample %d recorded for %s", id, c.Assignment)
	return nil
}

type RecordTransferCmd struct {
	Assignment string  `help:"Assignment the movement applies to." required:""`
	Date       string  `help:"Transfer date (YYYY-MM-DD)." required:""`
	Delta      int64   `help:"Fish moved; positive stocks in, negative moves out." required:""`
	Weight     float64 `help:"Average weight at transfer in grams."`
}

func (c *RecordTransferCmd) Run(g *Globals) error {
	day, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return fmt.Errorf("parse --date: %w", err)
	}
	svc, db, err := recordService(g)
	if err != nil {
		return err
	}
	defer db.Close()

	transfer := models.Transfer{
		AssignmentID: c.Assignment,
		TransferDate: day,
		DeltaCount:   c.Delta,
	}
	if c.Weight > 0 {
		transfer.AvgWeightG = sql.NullFloat64{Float64: c.Weight, Valid: true}
	}
	id, err := svc.RecordTransfer(transfer)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	log.Printf("transfer %d recorded for %s", id, c.Assignment)
	return nil
}

type RecordTreatmentCmd struct {
	Assignment string  `help:"Assignment treated." required:""`
	Date       string  `help:"Treatment date (YYYY-MM-DD)." required:""`
	Kind       string  `help:"Treatment kind (delousing, vaccination, ...)." required:""`
	Weight     float64 `help:"Average weight from the treatment weighing in grams."`
}

func (c *RecordTreatmentCmd) Run(g *Globals) error {
	day, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return fmt.Errorf("parse --date: %w", err)
	}
	svc, db, err := recordService(g)
	if err != nil {
		return err
	}
	defer db.Close()

	treatment := models.Treatment{
		AssignmentID:  c.Assignment,
		TreatmentDate: day,
		Kind:          c.Kind,
	}
	if c.Weight > 0 {
		treatment.AvgWeightG = sql.NullFloat64{Float64: c.Weight, Valid: true}
	}
	id, err := svc.RecordTreatment(treatment)
	if err != nil {
		return fmt.Errorf("record treatment: %w", err)
	}
	log.Printf("treatment %d recorded for %s", id, c.Assignment)
	return nil
}

type RecordMortalityCmd struct {
	Assignment string `help:"Assignment the loss applies to." required:""`
	Date       string `help:"Event date (YYYY-MM-DD)." required:""`
	Count      int64  `help:"Dead fish counted." required:""`
	Cause      string `help:"Recorded cause." default:"unspecified"`
}

func (c *RecordMortalityCmd) Run(g *Globals) error {
	day, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return fmt.Errorf("parse --date: %w", err)
	}
	svc, db, err := recordService(g)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := svc.RecordMortality(models.MortalityEvent{
		AssignmentID: c.Assignment,
		EventDate:    day,
		Count:        c.Count,
		Cause:        c.Cause,
	})
	if err != nil {
		return fmt.Errorf("record mortality: %w", err)
	}
	log.Printf("mortality event %d recorded for %s", id, c.Assignment)
	return nil
}

type RecordFeedCmd struct {
	Container string  `help:"Container fed." required:""`
	Date      string  `help:"Feed date (YYYY-MM-DD)." required:""`
	Kg        float64 `help:"Feed delivered in kilograms." required:""`
	Type      string  `help:"Feed product name."`
}

func (c *RecordFeedCmd) Run(g *Globals) error {
	day, err := time.Parse("2006-01-02", c.Date)
	if err != nil {
		return fmt.Errorf("parse --date: %w", err)
	}
	svc, db, err := recordService(g)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := svc.RecordFeed(models.FeedEntry{
		ContainerID: c.Container,
		FeedDate:    day,
		FeedKG:      c.Kg,
		FeedType:    c.Type,
	})
	if err != nil {
		return fmt.Errorf("record feed: %w", err)
	}
	log.Printf("feed entry %d recorded for %s", id, c.Container)
	return nil
}

type cli struct {
	Globals

	Serve     ServeCmd     `cmd:"" default:"withargs" help:"Run the telemetry scheduler and HTTP API."`
	Record    RecordCmd    `cmd:"" help:"Record a field observation and recompute around it."`
	Recompute RecomputeCmd `cmd:"" help:"Rebuild daily growth states over a window."`
	Project   ProjectCmd   `cmd:"" help:"Write forward projections from the latest assimilated state."`
	Seed      SeedCmd      `cmd:"" help:"Load scenario documents into the database."`
	Migrate   MigrateCmd   `cmd:"" help:"Apply schema migrations and exit."`
}

func main() {
	var app cli
	ctx := kong.Parse(&app,
		kong.Name("growthd"),
		kong.Description("Growth assimilation and forward projection for sea-pen aquaculture."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&app.Globals))
}
