// Package scheduler drives the pipeline on a cron schedule and exposes a
// small read-only HTTP status surface.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/c12i/bunge-bits-go/internal/log"
	"github.com/c12i/bunge-bits-go/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

// Runner executes one pipeline run. It is called on every cron tick that
// isn't skipped for already being in flight.
type Runner func(ctx context.Context) error

// Scheduler ticks a Runner on a cron schedule, dropping any tick that lands
// while a run is still in progress rather than queuing it.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	entryID cron.EntryID
	running atomic.Bool
	lastErr atomic.Value // string
}

// New parses cronExpr (standard 5-field plus seconds, per robfig/cron's
// WithSeconds parser) and wires runner to fire on each tick. Ticks, and the
// next_tick reported by the status surface, are evaluated in loc; a nil loc
// falls back to robfig/cron's own default of time.Local.
func New(cronExpr string, loc *time.Location, runner Runner) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	s := &Scheduler{cron: c, runner: runner}
	s.lastErr.Store("")

	id, err := c.AddFunc(cronExpr, s.tick)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins ticking in the background. It returns immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts future ticks and waits, bounded by ctx, for any in-flight run
// to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerSkippedTotal.Inc()
		log.L().Warn().Str("event", "scheduler.tick_skipped").Msg("previous run still in flight, dropping tick")
		return
	}
	defer s.running.Store(false)

	if err := s.runner(context.Background()); err != nil {
		s.lastErr.Store(err.Error())
		log.L().Error().Str("event", "scheduler.run_failed").Err(err).Msg("scheduled run failed")
		return
	}
	s.lastErr.Store("")
}

// nextTick reports the entry's next activation. Before Start, cron has not
// filled in entry.Next, so it is computed from the schedule in cron's location.
func (s *Scheduler) nextTick() time.Time {
	entry := s.cron.Entry(s.entryID)
	if entry.Next.IsZero() && entry.Schedule != nil {
		return entry.Schedule.Next(time.Now().In(s.cron.Location()))
	}
	return entry.Next
}

func (s *Scheduler) healthy() bool {
	errMsg, _ := s.lastErr.Load().(string)
	return errMsg == ""
}

type statusResponse struct {
	Healthy  bool      `json:"healthy"`
	NextTick time.Time `json:"next_tick"`
	LastErr  string    `json:"last_error,omitempty"`
}

func (s *Scheduler) handleStatus(w http.ResponseWriter, r *http.Request) {
	errMsg, _ := s.lastErr.Load().(string)
	resp := statusResponse{
		Healthy:  s.healthy(),
		NextTick: s.nextTick(),
		LastErr:  errMsg,
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Healthy {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Router returns the scheduler's status surface: GET /status and GET
// /metrics. It carries no auth or LAN guard, matching the scope of the
// operator-facing endpoints this pipeline exposes elsewhere.
func (s *Scheduler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(log.Middleware())
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}
