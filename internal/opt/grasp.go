package opt

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"aircargo/internal/capacity"
	"aircargo/internal/model"
)

// Problem describes one GRASP run over a planning window.
type Problem struct {
	Shipments []model.Shipment
	Gen       *Generator
	// Ledger is the window-scoped capacity snapshot. Solve mutates it so
	// that after returning it carries exactly the reservations of the
	// solution it returns; the caller commits it with live.Apply(Ledger).
	Ledger     *capacity.Ledger
	Alpha      float64 // RCL fraction, default 0.3
	Iterations int     // constructions per sub-window, default 40
	Improve    bool    // run the single-shipment reroute pass
}

// Metrics summarizes one Solve run.
type Metrics struct {
	Iterations   int
	Improvements int
	SubWindows   int
	CutoffHit    bool // abandoned remaining sub-windows at 80% of budget
	Seed         int64
}

// Solve builds a full shipment→route assignment with greedy-randomized
// construction restricted by an RCL, iterated with independent draws,
// keeping the best by (completed shipments, latest collapse instant).
// Shipments are processed in per-ingest-day sub-windows; once 80% of
// the budget has elapsed remaining sub-windows are abandoned and the
// best solution found so far is returned rather than none.
func Solve(ctx context.Context, p Problem, seed int64, budget time.Duration) (model.Solution, Metrics) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	if p.Alpha <= 0 || p.Alpha > 1 {
		p.Alpha = 0.3
	}
	if p.Iterations <= 0 {
		p.Iterations = 40
	}
	if budget <= 0 {
		budget = time.Hour
	}
	start := time.Now()
	deadline := start.Add(budget)
	cutoff := start.Add(budget * 8 / 10)
	m := Metrics{Seed: seed}

	sol := model.Solution{Shipments: []model.Shipment{}}
	if len(p.Shipments) == 0 {
		return sol, m
	}

	for _, day := range subWindows(p.Shipments) {
		m.SubWindows++
		var best model.Solution
		var bestLedger *capacity.Ledger
		for it := 0; it < p.Iterations; it++ {
			// the first construction of a sub-window always runs so a
			// tight budget yields a partial solution instead of none
			if it > 0 && (ctx.Err() != nil || !time.Now().Before(deadline)) {
				break
			}
			m.Iterations++
			led := p.Ledger.Clone()
			cand := construct(p, day, led, rng)
			if p.Improve {
				if rerouteImprove(p, &cand, led) {
					m.Improvements++
				}
			}
			if bestLedger == nil || cand.Better(best) {
				best = cand
				bestLedger = led
			}
		}
		if bestLedger != nil {
			p.Ledger.Apply(bestLedger)
			mergeSolutions(&sol, best)
		}
		if ctx.Err() != nil || !time.Now().Before(cutoff) {
			if m.SubWindows < countWindows(p.Shipments) {
				m.CutoffHit = true
			}
			break
		}
	}
	finalize(&sol)
	return sol, m
}

// subWindows groups shipments by UTC ingest day, earliest day first.
func subWindows(shipments []model.Shipment) [][]model.Shipment {
	byDay := map[time.Time][]model.Shipment{}
	for _, s := range shipments {
		d := s.Ingest.UTC().Truncate(24 * time.Hour)
		byDay[d] = append(byDay[d], s)
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })
	out := make([][]model.Shipment, len(days))
	for i, d := range days {
		out[i] = byDay[d]
	}
	return out
}

func countWindows(shipments []model.Shipment) int {
	seen := map[time.Time]struct{}{}
	for _, s := range shipments {
		seen[s.Ingest.UTC().Truncate(24*time.Hour)] = struct{}{}
	}
	return len(seen)
}

// construct runs one greedy-randomized construction over a sub-window.
// Reservations go to led: origin warehouse plus every leg, per assigned
// part. Destination warehouse space is checked but reserved only by the
// landing event path.
func construct(p Problem, shipments []model.Shipment, led *capacity.Ledger, rng *rand.Rand) model.Solution {
	ordered := make([]model.Shipment, len(shipments))
	for i, s := range shipments {
		ordered[i] = s.Clone()
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		if !ordered[a].Deadline.Equal(ordered[b].Deadline) {
			return ordered[a].Deadline.Before(ordered[b].Deadline)
		}
		return ordered[a].ID < ordered[b].ID
	})

	sol := model.Solution{Shipments: make([]model.Shipment, 0, len(ordered))}
	for i := range ordered {
		sh := &ordered[i]
		if sh.Quantity <= 0 {
			sol.Shipments = append(sol.Shipments, *sh)
			continue
		}
		assignShipment(p, sh, led, rng)
		sol.Shipments = append(sol.Shipments, *sh)
	}
	finalize(&sol)
	return sol
}

// assignShipment fills sh.Parts from its candidate routes. The first
// pick is a uniform draw from the RCL; remaining quantity is retried
// against the next-best remaining candidates until assigned or
// exhausted. Exhaustion is a normal outcome, not an error.
func assignShipment(p Problem, sh *model.Shipment, led *capacity.Ledger, rng *rand.Rand) {
	all := p.Gen.Routes(*sh)
	opts := make([]routeOption, len(all))
	for i, r := range all {
		opts[i] = routeOption{route: r}
	}

	remaining := sh.Quantity
	first := true
	for remaining > 0 {
		pick := -1
		if first {
			pick = rclPick(opts, p, led, remaining, rng)
			first = false
		} else {
			for i := range opts { // opts are score-ascending already
				if !opts[i].used && available(p, opts[i].route, led, remaining) > 0 {
					pick = i
					break
				}
			}
		}
		if pick < 0 {
			break
		}
		opts[pick].used = true
		r := opts[pick].route
		qty := available(p, r, led, remaining)
		if qty <= 0 {
			continue
		}
		if !reserveRoute(led, r, qty) {
			continue
		}
		sh.Parts = append(sh.Parts, model.AssignedPart{
			ShipmentID: sh.ID,
			Quantity:   qty,
			Legs:       append([]string(nil), r.Legs...),
			Origin:     r.Origin,
			Arrival:    r.Arrival,
		})
		remaining -= qty
	}
	if sh.AssignedQuantity() > 0 {
		sh.Status = model.StatusPlanned
	}
}

type routeOption struct {
	route model.CandidateRoute
	used  bool
}

// rclPick draws uniformly from the restricted candidate list: the
// max(1, round(n*alpha)) admissible candidates with the most slack to
// deadline.
func rclPick(opts []routeOption, p Problem, led *capacity.Ledger, remaining int, rng *rand.Rand) int {
	admissible := []int{}
	for i := range opts {
		if !opts[i].used && available(p, opts[i].route, led, remaining) > 0 {
			admissible = append(admissible, i)
		}
	}
	if len(admissible) == 0 {
		return -1
	}
	// slack descending; arrival order already deterministic from Routes
	sort.SliceStable(admissible, func(a, b int) bool {
		return opts[admissible[a]].route.Arrival.Before(opts[admissible[b]].route.Arrival)
	})
	size := int(math.Round(float64(len(admissible)) * p.Alpha))
	if size < 1 {
		size = 1
	}
	if size > len(admissible) {
		size = len(admissible)
	}
	return admissible[rng.Intn(size)]
}

// available returns how many units of remaining fit on the route given
// the ledger: bounded by each leg's free capacity, the origin
// warehouse, and space at the destination warehouse.
func available(p Problem, r model.CandidateRoute, led *capacity.Ledger, remaining int) int {
	qty := remaining
	if f := led.Free(r.Origin); f < qty {
		qty = f
	}
	for _, leg := range r.Legs {
		if f := led.Free(leg); f < qty {
			qty = f
		}
	}
	if len(r.Legs) > 0 {
		if f, ok := p.Gen.Instance(r.Legs[len(r.Legs)-1]); ok {
			if free := led.Free(f.Destination); free < qty {
				qty = free
			}
		}
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}

// reserveRoute reserves qty at the origin warehouse and on every leg,
// rolling back on a partial failure.
func reserveRoute(led *capacity.Ledger, r model.CandidateRoute, qty int) bool {
	if !led.Reserve(r.Origin, qty) {
		return false
	}
	done := []string{}
	for _, leg := range r.Legs {
		if !led.Reserve(leg, qty) {
			for _, u := range done {
				led.Release(u, qty)
			}
			led.Release(r.Origin, qty)
			return false
		}
		done = append(done, leg)
	}
	return true
}

// releaseRoute undoes reserveRoute.
func releaseRoute(led *capacity.Ledger, origin string, legs []string, qty int) {
	led.Release(origin, qty)
	for _, leg := range legs {
		led.Release(leg, qty)
	}
}

// rerouteImprove is the local-improvement hook: for each shipment
// assigned a single part, swap to a strictly better-scored route when
// capacity allows. Reports whether anything changed.
func rerouteImprove(p Problem, sol *model.Solution, led *capacity.Ledger) bool {
	changed := false
	for i := range sol.Shipments {
		sh := &sol.Shipments[i]
		if len(sh.Parts) != 1 {
			continue
		}
		part := sh.Parts[0]
		current := routeScore(len(part.Legs), part.Arrival, sh.Deadline)
		releaseRoute(led, part.Origin, part.Legs, part.Quantity)
		swapped := false
		for _, r := range p.Gen.Routes(*sh) {
			if r.Score >= current {
				break // routes are score-ascending
			}
			if available(p, r, led, part.Quantity) < part.Quantity {
				continue
			}
			if !reserveRoute(led, r, part.Quantity) {
				continue
			}
			sh.Parts[0] = model.AssignedPart{
				ShipmentID: sh.ID,
				Quantity:   part.Quantity,
				Legs:       append([]string(nil), r.Legs...),
				Origin:     r.Origin,
				Arrival:    r.Arrival,
			}
			swapped = true
			changed = true
			break
		}
		if !swapped {
			if !reserveRoute(led, model.CandidateRoute{Origin: part.Origin, Legs: part.Legs}, part.Quantity) {
				// should not happen; we just released these units
				continue
			}
		}
	}
	if changed {
		finalize(sol)
	}
	return changed
}

// mergeSolutions appends src's shipments into dst.
func mergeSolutions(dst *model.Solution, src model.Solution) {
	dst.Shipments = append(dst.Shipments, src.Shipments...)
}

// finalize recomputes completed count, collapse instant, and the
// quantity-weighted mean transit duration.
func finalize(sol *model.Solution) {
	sol.Completed = 0
	sol.Collapse = nil
	var wsum, qsum float64
	for _, sh := range sol.Shipments {
		if sh.Quantity <= 0 {
			continue
		}
		if sh.Complete() {
			sol.Completed++
		}
		if sh.AssignedQuantity() == 0 {
			d := sh.Deadline
			if sol.Collapse == nil || d.Before(*sol.Collapse) {
				sol.Collapse = &d
			}
		}
		for _, part := range sh.Parts {
			wsum += float64(part.Quantity) * part.Arrival.Sub(sh.Ingest).Minutes()
			qsum += float64(part.Quantity)
		}
	}
	if qsum > 0 {
		sol.MeanTransitM = wsum / qsum
	} else {
		sol.MeanTransitM = 0
	}
}
