// Package planner drives the cyclic planning loop: every cycle
// interval of simulated time it collects the unplanned shipments of the
// upcoming window, runs the randomized route optimizer under a hard
// real-time budget, commits the winning reservations to the live
// capacity ledger, and persists and broadcasts the outcome.
package planner

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"aircargo/internal/capacity"
	"aircargo/internal/config"
	"aircargo/internal/metrics"
	"aircargo/internal/model"
	"aircargo/internal/opt"
	"aircargo/internal/simclock"
	"aircargo/internal/store"
)

// EventSink receives planning-cycle broadcasts.
type EventSink interface {
	Publish(topic, eventType string, data map[string]any)
}

const statsWindow = 50

// Scheduler owns the planning loop lifecycle. It starts stopped; Start
// runs one cycle immediately and then repeats at the configured
// interval until Stop.
type Scheduler struct {
	store   store.Store
	cfg     config.Config
	clock   *simclock.Clock
	tracker *simclock.Tracker
	ledger  *capacity.Ledger
	sink    EventSink
	seed    int64 // nonzero pins the optimizer rng, tests only

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	inCycle bool
	lastRun time.Time
	lastSol string
	stats   []model.CycleStat
}

func New(st store.Store, cfg config.Config, clock *simclock.Clock, tracker *simclock.Tracker, ledger *capacity.Ledger, sink EventSink) *Scheduler {
	return &Scheduler{store: st, cfg: cfg, clock: clock, tracker: tracker, ledger: ledger, sink: sink}
}

// Start launches the loop. Reports false when already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.loop(ctx)
	return true
}

// Stop halts the loop. A cycle in flight finishes its budgeted run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		s.cancel()
		s.running = false
	}
	s.mu.Unlock()
}

// Status reports the loop state and the last cycle's wall-clock instant
// and solution id.
func (s *Scheduler) Status() (running bool, lastRun time.Time, lastSolution string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.lastRun, s.lastSol
}

// Stats returns the rolling per-cycle statistics, most recent last.
func (s *Scheduler) Stats() []model.CycleStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CycleStat(nil), s.stats...)
}

// loop runs one cycle immediately, then once per cycle interval of
// simulated time (translated to real time through the clock velocity).
func (s *Scheduler) loop(ctx context.Context) {
	interval := time.Duration(float64(s.cfg.CycleInterval()) / s.clock.Velocity())
	if interval < time.Second {
		interval = time.Second
	}
	for {
		s.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// RunCycle executes a single planning cycle. Reentrant calls are
// rejected; the loop and any on-demand trigger share this path.
func (s *Scheduler) RunCycle(ctx context.Context) (model.Solution, bool) {
	s.mu.Lock()
	if s.inCycle {
		s.mu.Unlock()
		return model.Solution{}, false
	}
	s.inCycle = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inCycle = false
		s.mu.Unlock()
	}()

	started := time.Now()
	now := s.clock.Now().UTC()
	from := now
	// a backlog older than the window start still gets planned
	if earliest, ok, err := s.store.EarliestIngest(ctx); err == nil && ok && earliest.Before(from) {
		from = earliest.UTC()
	}
	to := now.Add(time.Duration(s.cfg.WindowCycles) * s.cfg.CycleInterval())

	sol := model.Solution{ID: uuid.New().String(), WindowStart: from, WindowEnd: to}

	shipments, err := s.store.ShipmentsInWindow(ctx, from, to)
	if err != nil {
		log.Printf("planner: window query failed: %v", err)
		return model.Solution{}, false
	}
	if len(shipments) == 0 {
		s.recordCycle(sol, started, true, false, 0)
		metrics.PlanCycles.WithLabelValues("empty").Inc()
		return sol, true
	}

	airports, templates, err := s.loadNetwork(ctx)
	if err != nil {
		log.Printf("planner: network load failed: %v", err)
		return model.Solution{}, false
	}
	s.registerCapacities(airports, templates, from, to)

	horizon := to.Add(time.Duration(s.cfg.InternationalDeadlineH) * time.Hour)
	instances := model.Materialize(templates, airports, from, horizon)

	window := s.ledger.Clone()
	gen := opt.NewGenerator(instances, window.Free, s.cfg.BeamWidth, s.cfg.MaxLegs, s.cfg.MinLayover())

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout())
	defer cancel()
	result, sm := opt.Solve(cycleCtx, opt.Problem{
		Shipments:  shipments,
		Gen:        gen,
		Ledger:     window,
		Alpha:      s.cfg.Alpha,
		Iterations: s.cfg.Iterations,
		Improve:    true,
	}, s.seed, s.cfg.CycleTimeout())

	// Stop cancels the parent context; only a blown budget is a timeout
	timedOut := errors.Is(cycleCtx.Err(), context.DeadlineExceeded)
	sol.Shipments = result.Shipments
	sol.Completed = result.Completed
	sol.Collapse = result.Collapse
	sol.MeanTransitM = result.MeanTransitM
	sol.TimedOut = timedOut

	// commit the winner's reservations, persist assignments, hand the
	// committed parts to the flight tracker. Part ids are minted here so
	// the tracker and the store see the same ids.
	s.ledger.Apply(window)
	committed := []model.AssignedPart{}
	for si := range sol.Shipments {
		sh := &sol.Shipments[si]
		if len(sh.Parts) == 0 {
			continue
		}
		for pi := range sh.Parts {
			if sh.Parts[pi].ID == "" {
				sh.Parts[pi].ID = uuid.New().String()
			}
			sh.Parts[pi].ShipmentID = sh.ID
		}
		if err := s.store.SaveAssignments(ctx, sh.ID, sh.Parts); err != nil {
			log.Printf("planner: save assignments for %s: %v", sh.ID, err)
			continue
		}
		committed = append(committed, sh.Parts...)
	}
	if s.tracker != nil && len(committed) > 0 {
		s.tracker.TrackParts(committed)
	}

	if err := s.store.SaveSolution(ctx, sol); err != nil {
		log.Printf("planner: save solution: %v", err)
	}
	opt.RecordMetrics(sol.ID, sm)

	outcome := "completed"
	if timedOut {
		outcome = "timeout"
	}
	metrics.PlanCycles.WithLabelValues(outcome).Inc()
	metrics.PlanCycleDuration.Observe(time.Since(started).Seconds())
	metrics.ShipmentsCompleted.Add(float64(sol.Completed))
	metrics.CapacityClamps.Set(float64(s.ledger.Clamps()))

	s.recordCycle(sol, started, false, timedOut, len(shipments))
	if s.sink != nil {
		assignments := []map[string]any{}
		for _, sh := range sol.Shipments {
			for _, p := range sh.Parts {
				assignments = append(assignments, map[string]any{
					"partId":     p.ID,
					"shipmentId": sh.ID,
					"quantity":   p.Quantity,
					"legs":       p.Legs,
					"arrival":    p.Arrival.UTC().Format(time.RFC3339),
				})
			}
		}
		payload := map[string]any{
			"solutionId":  sol.ID,
			"windowStart": sol.WindowStart.Format(time.RFC3339),
			"windowEnd":   sol.WindowEnd.Format(time.RFC3339),
			"processed":   len(shipments),
			"completed":   sol.Completed,
			"timedOut":    timedOut,
			"assignments": assignments,
			"occupancy":   s.airportOccupancy(airports),
		}
		if sol.Collapse != nil {
			payload["collapse"] = sol.Collapse.UTC().Format(time.RFC3339)
		}
		s.sink.Publish("plan", "plan.cycle.completed", payload)
	}
	log.Printf("planner: cycle %s window [%s, %s) processed=%d completed=%d iters=%d timeout=%v",
		sol.ID, from.Format(time.RFC3339), to.Format(time.RFC3339), len(shipments), sol.Completed, sm.Iterations, timedOut)
	return sol, true
}

func (s *Scheduler) loadNetwork(ctx context.Context) (map[string]model.Airport, []model.FlightTemplate, error) {
	list, err := s.store.ListAirports(ctx)
	if err != nil {
		return nil, nil, err
	}
	airports := make(map[string]model.Airport, len(list))
	for _, a := range list {
		airports[a.ID] = a
	}
	templates, err := s.store.ListFlightTemplates(ctx)
	if err != nil {
		return nil, nil, err
	}
	if s.tracker != nil {
		s.tracker.SetNetwork(airports, templates)
	}
	return airports, templates, nil
}

// registerCapacities seeds ledger entries for airports and for the
// window's flight instances. Existing entries keep their occupancy;
// counters survive across cycles.
func (s *Scheduler) registerCapacities(airports map[string]model.Airport, templates []model.FlightTemplate, from, to time.Time) {
	for id, a := range airports {
		if !s.ledger.Has(id) {
			s.ledger.Set(id, a.CapacityMax, a.Occupied)
		}
	}
	horizon := to.Add(time.Duration(s.cfg.InternationalDeadlineH) * time.Hour)
	for _, inst := range model.Materialize(templates, airports, from, horizon) {
		if !s.ledger.Has(inst.ID) {
			s.ledger.Set(inst.ID, inst.CapacityMax, 0)
		}
	}
}

// airportOccupancy filters the ledger snapshot to airport warehouses,
// dropping the per-flight-instance counters.
func (s *Scheduler) airportOccupancy(airports map[string]model.Airport) map[string]capacity.Counts {
	snap := s.ledger.Snapshot()
	out := make(map[string]capacity.Counts, len(airports))
	for id := range airports {
		if c, ok := snap[id]; ok {
			out[id] = c
		}
	}
	return out
}

func (s *Scheduler) recordCycle(sol model.Solution, started time.Time, empty, timedOut bool, processed int) {
	stat := model.CycleStat{
		At:          time.Now().UTC(),
		WindowStart: sol.WindowStart,
		WindowEnd:   sol.WindowEnd,
		DurationMs:  time.Since(started).Milliseconds(),
		Processed:   processed,
		Completed:   sol.Completed,
		TimedOut:    timedOut,
		Empty:       empty,
	}
	if processed > 0 {
		stat.SuccessRate = float64(sol.Completed) / float64(processed)
	}
	s.mu.Lock()
	s.lastRun = stat.At
	s.lastSol = sol.ID
	s.stats = append(s.stats, stat)
	if len(s.stats) > statsWindow {
		s.stats = s.stats[len(s.stats)-statsWindow:]
	}
	s.mu.Unlock()
}
