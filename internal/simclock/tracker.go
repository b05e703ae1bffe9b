package simclock

import (
	"log"
	"sync"
	"time"

	"aircargo/internal/capacity"
	"aircargo/internal/model"
)

// EventSink receives tick and flight-event broadcasts.
type EventSink interface {
	Publish(topic, eventType string, data map[string]any)
}

type trackedPart struct {
	part      model.AssignedPart
	delivered bool
}

// Tracker classifies each flight template's current-day instance at
// every simulated tick, mutates the live capacity ledger on takeoff and
// landing, and schedules the deferred warehouse release once cargo has
// reached its final airport.
type Tracker struct {
	clock        *Clock
	ledger       *capacity.Ledger
	sink         EventSink
	releaseAfter time.Duration // simulated

	mu          sync.Mutex
	airports    map[string]model.Airport
	templates   []model.FlightTemplate
	phases      map[string]model.FlightPhase // instance id -> last phase
	endpoints   map[string][2]string         // instance id -> {origin, destination}
	byLeg       map[string][]*trackedPart    // instance id -> parts riding it
	onDelivered func(model.AssignedPart)
}

func NewTracker(clock *Clock, ledger *capacity.Ledger, sink EventSink, releaseAfter time.Duration) *Tracker {
	if releaseAfter <= 0 {
		releaseAfter = 2 * time.Hour
	}
	return &Tracker{
		clock:        clock,
		ledger:       ledger,
		sink:         sink,
		releaseAfter: releaseAfter,
		airports:     map[string]model.Airport{},
		phases:       map[string]model.FlightPhase{},
		endpoints:    map[string][2]string{},
		byLeg:        map[string][]*trackedPart{},
	}
}

// SetNetwork replaces the airport and template views used for
// classification. Called when imports change the schedule.
func (t *Tracker) SetNetwork(airports map[string]model.Airport, templates []model.FlightTemplate) {
	t.mu.Lock()
	t.airports = airports
	t.templates = append([]model.FlightTemplate(nil), templates...)
	t.mu.Unlock()
}

// OnDelivered registers the callback fired exactly once per part after
// its deferred release completes.
func (t *Tracker) OnDelivered(fn func(model.AssignedPart)) {
	t.mu.Lock()
	t.onDelivered = fn
	t.mu.Unlock()
}

// TrackParts registers committed assignments so takeoff/landing events
// know the quantity riding each flight instance.
func (t *Tracker) TrackParts(parts []model.AssignedPart) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range parts {
		tp := &trackedPart{part: p.Clone()}
		for _, leg := range p.Legs {
			t.byLeg[leg] = append(t.byLeg[leg], tp)
		}
	}
}

// Positions classifies every current-day instance at the clock's
// simulated now.
func (t *Tracker) Positions() []model.FlightPosition {
	return t.classify(t.clock.Now())
}

// Tick is the clock subscriber: classify, apply phase-transition
// effects, broadcast.
func (t *Tracker) Tick(sim time.Time) {
	positions := t.classify(sim)
	t.applyTransitions(positions)
	if t.sink != nil {
		t.sink.Publish("sim", "sim.tick", map[string]any{
			"clock":   t.clock.Name,
			"simTime": sim.UTC().Format(time.RFC3339),
			"flights": positions,
		})
	}
}

// classify derives the sim-day instance (and the previous day's, to
// catch overnight arrivals) for each template and interpolates
// positions linearly by elapsed fraction.
func (t *Tracker) classify(sim time.Time) []model.FlightPosition {
	t.mu.Lock()
	airports := t.airports
	templates := t.templates
	t.mu.Unlock()

	day := sim.UTC().Truncate(24 * time.Hour)
	out := []model.FlightPosition{}
	for _, tpl := range templates {
		for _, d := range []time.Time{day.Add(-24 * time.Hour), day} {
			inst, err := model.MaterializeOn(tpl, airports, d)
			if err != nil {
				continue
			}
			// yesterday's instance only matters while still airborne
			if d.Before(day) && !inst.Arrival.After(sim) {
				continue
			}
			org := airports[inst.Origin]
			dst := airports[inst.Destination]
			pos := model.FlightPosition{InstanceID: inst.ID, TemplateID: tpl.ID}
			switch {
			case sim.Before(inst.Departure):
				pos.Phase = model.AtOrigin
				pos.Lat, pos.Lng = org.Lat, org.Lng
			case sim.Before(inst.Arrival):
				pos.Phase = model.InFlight
				f := float64(sim.Sub(inst.Departure)) / float64(inst.Arrival.Sub(inst.Departure))
				pos.Fraction = f
				pos.Lat = org.Lat + (dst.Lat-org.Lat)*f
				pos.Lng = org.Lng + (dst.Lng-org.Lng)*f
			default:
				pos.Phase = model.AtDestination
				pos.Fraction = 1
				pos.Lat, pos.Lng = dst.Lat, dst.Lng
			}
			t.mu.Lock()
			t.endpoints[inst.ID] = [2]string{inst.Origin, inst.Destination}
			t.mu.Unlock()
			out = append(out, pos)
		}
	}
	return out
}

// applyTransitions fires takeoff/landing effects when an instance's
// phase changed since the previous tick.
func (t *Tracker) applyTransitions(positions []model.FlightPosition) {
	type event struct {
		typ  string
		inst string
	}
	events := []event{}

	t.mu.Lock()
	for _, pos := range positions {
		prev, seen := t.phases[pos.InstanceID]
		t.phases[pos.InstanceID] = pos.Phase
		if !seen {
			continue // no transition on first observation
		}
		if prev == model.AtOrigin && pos.Phase != model.AtOrigin {
			events = append(events, event{typ: "takeoff", inst: pos.InstanceID})
		}
		if prev != model.AtDestination && pos.Phase == model.AtDestination {
			events = append(events, event{typ: "landing", inst: pos.InstanceID})
		}
	}
	t.mu.Unlock()

	for _, ev := range events {
		switch ev.typ {
		case "takeoff":
			t.handleTakeoff(ev.inst)
		case "landing":
			t.handleLanding(ev.inst)
		}
	}
}

func (t *Tracker) instanceEndpoints(instID string) (origin, destination string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[instID]
	if !ok {
		return "", "", false
	}
	return ep[0], ep[1], true
}

// ridingQuantity sums tracked, undelivered part quantities on a leg.
func (t *Tracker) ridingQuantity(instID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := 0
	for _, tp := range t.byLeg[instID] {
		if !tp.delivered {
			q += tp.part.Quantity
		}
	}
	return q
}

// handleTakeoff frees the departure warehouse by the departing quantity.
func (t *Tracker) handleTakeoff(instID string) {
	origin, _, ok := t.instanceEndpoints(instID)
	if !ok {
		return
	}
	qty := t.ridingQuantity(instID)
	if qty > 0 {
		t.ledger.Release(origin, qty)
	}
	if t.sink != nil {
		t.sink.Publish("sim", "flight.takeoff", map[string]any{"instanceId": instID, "airport": origin, "quantity": qty})
	}
}

// handleLanding fills the arrival warehouse immediately, then schedules
// the deferred release for every part whose final leg is this instance.
func (t *Tracker) handleLanding(instID string) {
	_, dest, ok := t.instanceEndpoints(instID)
	if !ok {
		return
	}
	qty := t.ridingQuantity(instID)
	if qty > 0 {
		t.ledger.Add(dest, qty)
	}
	if t.sink != nil {
		t.sink.Publish("sim", "flight.landing", map[string]any{"instanceId": instID, "airport": dest, "quantity": qty})
	}

	t.mu.Lock()
	finals := []*trackedPart{}
	for _, tp := range t.byLeg[instID] {
		if !tp.delivered && tp.part.FinalLeg() == instID {
			finals = append(finals, tp)
		}
	}
	t.mu.Unlock()
	for _, tp := range finals {
		t.scheduleRelease(tp, dest)
	}
}

// scheduleRelease arms the one-shot deferred release: after the
// configured simulated dwell the warehouse is decremented and the part
// flips to delivered exactly once.
func (t *Tracker) scheduleRelease(tp *trackedPart, airport string) {
	t.clock.AfterSim(t.releaseAfter, func() {
		t.mu.Lock()
		if tp.delivered {
			t.mu.Unlock()
			return
		}
		tp.delivered = true
		tp.part.Delivered = true
		part := tp.part
		fn := t.onDelivered
		t.mu.Unlock()

		t.ledger.Release(airport, part.Quantity)
		log.Printf("simclock %s: part %s delivered at %s, released %d", t.clock.Name, part.ID, airport, part.Quantity)
		if t.sink != nil {
			t.sink.Publish("sim", "shipment.part.delivered", map[string]any{
				"partId": part.ID, "shipmentId": part.ShipmentID, "airport": airport, "quantity": part.Quantity,
			})
		}
		if fn != nil {
			fn(part)
		}
	})
}
