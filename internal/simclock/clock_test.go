package simclock

import (
	"sync"
	"testing"
	"time"

	"aircargo/internal/capacity"
	"aircargo/internal/model"
)

type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSink) Publish(topic, eventType string, data map[string]any) {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.mu.Unlock()
}

func (f *fakeSink) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func TestClockAdvancesAtVelocity(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := New("weekly", 3600, start) // one real second is one sim hour
	time.Sleep(20 * time.Millisecond)
	if got := c.Now().Sub(start); got < time.Minute {
		t.Fatalf("sim time advanced only %v", got)
	}
}

func TestClockStartTicksSubscribers(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := New("live", 1, start)
	c.interval = 5 * time.Millisecond
	ticked := make(chan time.Time, 1)
	c.OnTick(func(sim time.Time) {
		select {
		case ticked <- sim:
		default:
		}
	})
	c.Start()
	defer c.Stop()
	select {
	case sim := <-ticked:
		if sim.Before(start) {
			t.Fatalf("tick before anchor: %v", sim)
		}
	case <-time.After(time.Second):
		t.Fatal("no tick after Start")
	}
}

func TestClockResetBroadcasts(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := New("live", 1, start)
	var got time.Time
	c.OnTick(func(sim time.Time) { got = sim })
	target := start.Add(48 * time.Hour)
	c.Reset(target)
	if !got.Equal(target) {
		t.Fatalf("reset broadcast: got %v, want %v", got, target)
	}
	if c.Now().Before(target) {
		t.Fatalf("Now before reset target: %v", c.Now())
	}
}

func testNetwork() (map[string]model.Airport, []model.FlightTemplate) {
	airports := map[string]model.Airport{
		"LIM": {ID: "LIM", TZOffsetMin: 0, Lat: -12, Lng: -77, CapacityMax: 100},
		"MIA": {ID: "MIA", TZOffsetMin: 0, Lat: 25, Lng: -80, CapacityMax: 100},
	}
	templates := []model.FlightTemplate{
		{ID: "F1", Origin: "LIM", Destination: "MIA", DepLocal: "02:00", ArrLocal: "06:00", CapacityMax: 50},
	}
	return airports, templates
}

func TestTrackerClassification(t *testing.T) {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	airports, templates := testNetwork()
	led := capacity.New()
	c := New("live", 1, day)
	tr := NewTracker(c, led, nil, 2*time.Hour)
	tr.SetNetwork(airports, templates)

	find := func(positions []model.FlightPosition, id string) *model.FlightPosition {
		for i := range positions {
			if positions[i].InstanceID == id {
				return &positions[i]
			}
		}
		return nil
	}
	id := model.InstanceID("F1", day)

	pos := find(tr.classify(day.Add(1*time.Hour)), id)
	if pos == nil || pos.Phase != model.AtOrigin {
		t.Fatalf("at 01:00: %+v", pos)
	}
	pos = find(tr.classify(day.Add(4*time.Hour)), id)
	if pos == nil || pos.Phase != model.InFlight {
		t.Fatalf("at 04:00: %+v", pos)
	}
	if pos.Fraction < 0.49 || pos.Fraction > 0.51 {
		t.Fatalf("fraction at midpoint: %v", pos.Fraction)
	}
	// linear interpolation midpoint
	if pos.Lat < 6 || pos.Lat > 7 {
		t.Fatalf("interpolated lat: %v", pos.Lat)
	}
	pos = find(tr.classify(day.Add(7*time.Hour)), id)
	if pos == nil || pos.Phase != model.AtDestination {
		t.Fatalf("at 07:00: %+v", pos)
	}
}

func TestTakeoffLandingAndDeferredRelease(t *testing.T) {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	airports, templates := testNetwork()
	led := capacity.New()
	led.Set("LIM", 100, 5) // planned reservation waiting at origin
	led.Set("MIA", 100, 0)

	// 2 sim hours translate to 1ms real at this velocity
	c := New("live", 7_200_000, day)
	sink := &fakeSink{}
	tr := NewTracker(c, led, sink, 2*time.Hour)
	tr.SetNetwork(airports, templates)

	instID := model.InstanceID("F1", day)
	delivered := make(chan model.AssignedPart, 1)
	tr.OnDelivered(func(p model.AssignedPart) { delivered <- p })
	tr.TrackParts([]model.AssignedPart{{
		ID: "p1", ShipmentID: "s1", Quantity: 5, Legs: []string{instID}, Origin: "LIM", Arrival: day.Add(6 * time.Hour),
	}})

	tr.Tick(day.Add(1 * time.Hour)) // AT_ORIGIN, first observation
	tr.Tick(day.Add(3 * time.Hour)) // takeoff
	if got := led.Occupied("LIM"); got != 0 {
		t.Fatalf("origin occupancy after takeoff: got %d, want 0", got)
	}
	tr.Tick(day.Add(7 * time.Hour)) // landing
	if got := led.Occupied("MIA"); got != 5 {
		t.Fatalf("destination occupancy after landing: got %d, want 5", got)
	}

	select {
	case p := <-delivered:
		if p.ID != "p1" || !p.Delivered {
			t.Fatalf("delivered part: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("deferred release never fired")
	}
	if got := led.Occupied("MIA"); got != 0 {
		t.Fatalf("destination occupancy after release: got %d, want 0", got)
	}

	// further ticks must not re-fire events or deliveries
	tr.Tick(day.Add(8 * time.Hour))
	if n := sink.count("flight.landing"); n != 1 {
		t.Fatalf("landing events: got %d, want 1", n)
	}
	select {
	case <-delivered:
		t.Fatal("part delivered twice")
	case <-time.After(50 * time.Millisecond):
	}
	if n := sink.count("sim.tick"); n != 4 {
		t.Fatalf("tick broadcasts: got %d, want 4", n)
	}
}
