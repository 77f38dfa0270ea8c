// Package api serves the read side over JSON: assignment listings, the
// assimilated daily series, forward projections, forecast summaries,
// rendered charts, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjordops/growthd/internal/chart"
	"github.com/fjordops/growthd/internal/metrics"
	"github.com/fjordops/growthd/internal/models"
	"github.com/fjordops/growthd/internal/scenario"
	"github.com/fjordops/growthd/internal/store"
)

const (
	defaultStatesDays = 30
	chartHistoryDays  = 120
	staleAfter        = 48 * time.Hour
)

type Server struct {
	store     *store.Store
	scenarios *scenario.Provider
	listen    string
	loc       *time.Location
	charts    *chart.Cache
}

func NewServer(st *store.Store, scenarios *scenario.Provider, listen string, loc *time.Location) *Server {
	return &Server{
		store:     st,
		scenarios: scenarios,
		listen:    listen,
		loc:       loc,
		charts:    chart.NewCache(0),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/assignments", s.handleAssignments)
	mux.HandleFunc("GET /api/assignments/{id}/states", s.handleStates)
	mux.HandleFunc("GET /api/assignments/{id}/projection", s.handleProjection)
	mux.HandleFunc("GET /api/assignments/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/assignments/{id}/chart.png", s.handleChart)
	mux.HandleFunc("GET /api/summaries", s.handleSummaries)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return withRequestMetrics(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// withRequestMetrics counts requests by matched route pattern, keeping
// label cardinality bounded regardless of path parameters.
func withRequestMetrics(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, route := mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(sr, r)
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(sr.status)).Inc()
	})
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.listen,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on %s", s.listen)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	asgs, err := s.store.GetActiveAssignments()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]assignmentView, 0, len(asgs))
	for _, a := range asgs {
		views = append(views, toAssignmentView(a))
	}
	writeJSON(w, views)
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asg, err := s.store.GetAssignment(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if asg == nil {
		http.Error(w, "unknown assignment", http.StatusNotFound)
		return
	}

	now := time.Now().In(s.loc)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -defaultStatesDays)

	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		if start, err = time.Parse("2006-01-02", v); err != nil {
			http.Error(w, "start must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = time.Parse("2006-01-02", v); err != nil {
			http.Error(w, "end must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if end.Before(start) {
		http.Error(w, "end before start", http.StatusBadRequest)
		return
	}

	states, err := s.store.GetDailyStates(id, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]stateView, 0, len(states))
	for _, ds := range states {
		views = append(views, toStateView(ds))
	}
	writeJSON(w, views)
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	computed, ok, err := s.store.GetLatestProjectionDate(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no projection", http.StatusNotFound)
		return
	}

	rows, err := s.store.GetProjections(id, computed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, toProjectionResponse(id, computed, rows))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.store.GetForecastSummary(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if f == nil {
		http.Error(w, "no summary", http.StatusNotFound)
		return
	}
	writeJSON(w, toSummaryView(*f))
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.GetAllForecastSummaries()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]summaryView, 0, len(summaries))
	for _, f := range summaries {
		views = append(views, toSummaryView(f))
	}
	writeJSON(w, views)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asg, err := s.store.GetAssignment(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if asg == nil {
		http.Error(w, "unknown assignment", http.StatusNotFound)
		return
	}

	latest, err := s.store.GetLatestDailyState(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var (
		computed time.Time
		projRows []models.ForwardProjection
	)
	if d, ok, err := s.store.GetLatestProjectionDate(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	} else if ok {
		computed = d
		if projRows, err = s.store.GetProjections(id, d); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	key := chartKey(id, latest, computed)
	if data, ok := s.charts.Get(key); ok {
		servePNG(w, data)
		return
	}

	in := chart.Input{Title: fmt.Sprintf("%s (%s) avg weight", asg.ID, asg.Stage)}
	if latest != nil {
		start := latest.StateDate.AddDate(0, 0, -chartHistoryDays)
		states, err := s.store.GetDailyStates(id, start, latest.StateDate)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, ds := range states {
			in.Actual = append(in.Actual, chart.Point{Date: ds.StateDate, WeightG: ds.AvgWeightG})
		}
	}
	for _, pr := range projRows {
		in.Projected = append(in.Projected, chart.Point{Date: pr.ProjectionDate, WeightG: pr.ProjectedWeightG})
	}
	if sc, err := s.scenarios.ForBatch(asg.BatchID); err == nil {
		in.TransferThresholdG = sc.TransferThresholdG
		in.HarvestThresholdG = sc.HarvestThresholdG
	}

	data, err := chart.Render(in)
	if errors.Is(err, chart.ErrNoData) {
		http.Error(w, "no data to chart", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.charts.Set(key, data)
	servePNG(w, data)
}

func chartKey(id string, latest *models.DailyState, computed time.Time) string {
	stateDate := "none"
	if latest != nil {
		stateDate = latest.StateDate.Format("2006-01-02")
	}
	return id + "|" + stateDate + "|" + computed.Format("2006-01-02")
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}

type HealthStatus struct {
	Status      string             `json:"status"`
	Assignments []AssignmentHealth `json:"assignments"`
	Telemetry   []TelemetryHealth  `json:"telemetry,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
}

type AssignmentHealth struct {
	AssignmentID string    `json:"assignment_id"`
	StateDate    string    `json:"state_date,omitempty"`
	LastComputed time.Time `json:"last_computed"`
	AgeHours     int       `json:"age_hours"`
	Stale        bool      `json:"stale"`
}

type TelemetryHealth struct {
	Source  string    `json:"source"`
	LastRun time.Time `json:"last_run"`
	Success bool      `json:"success"`
}

// handleHealth reports freshness per active assignment. An assignment
// whose series has not been recomputed within the stale window marks
// the whole service degraded; telemetry runs are informational.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	asgs, err := s.store.GetActiveAssignments()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{
		Status:      "ok",
		Assignments: make([]AssignmentHealth, 0, len(asgs)),
	}
	now := time.Now()

	for _, asg := range asgs {
		latest, err := s.store.GetLatestDailyState(asg.ID)
		if err != nil {
			health.Errors = append(health.Errors, asg.ID+": "+err.Error())
			continue
		}

		ah := AssignmentHealth{AssignmentID: asg.ID}
		if latest != nil {
			ah.StateDate = latest.StateDate.Format("2006-01-02")
			ah.LastComputed = latest.LastComputedAt
			ah.AgeHours = int(now.Sub(latest.LastComputedAt).Hours())
			ah.Stale = now.Sub(latest.LastComputedAt) > staleAfter
		} else {
			ah.Stale = true
			ah.AgeHours = -1
		}

		if ah.Stale {
			health.Status = "degraded"
		}
		health.Assignments = append(health.Assignments, ah)
	}

	for _, source := range []string{"ftp", "gateway"} {
		run, err := s.store.GetLatestTelemetryRun(source)
		if err != nil {
			health.Errors = append(health.Errors, source+": "+err.Error())
			continue
		}
		if run == nil {
			continue
		}
		health.Telemetry = append(health.Telemetry, TelemetryHealth{
			Source:  source,
			LastRun: run.StartedAt,
			Success: run.Success,
		})
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("api: write health response: %v", err)
	}
}
