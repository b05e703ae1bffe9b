package opt

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"aircargo/internal/model"
)

// Generator produces ranked candidate routes for shipments via bounded
// beam search over the flight instances of the active horizon. One
// Generator lives for one planning window; results are cached per
// (destination, sorted origin set, quantity) signature since shipments
// frequently share it.
type Generator struct {
	BeamWidth  int
	MaxLegs    int
	MinLayover time.Duration

	instances []model.FlightInstance
	byID      map[string]model.FlightInstance
	byOrigin  map[string][]int // indices, sorted by departure then id
	free      func(id string) int

	mu    sync.Mutex
	cache map[string][]model.CandidateRoute
}

// pathState is a beam-search intermediate. Transient, never persisted.
type pathState struct {
	airport    string
	arrival    time.Time
	hasArrival bool
	legs       []int // indices into instances
	bottleneck int
}

// NewGenerator builds a Generator over the given instances. free
// reports remaining capacity per flight-instance id, typically bound to
// the window's capacity ledger.
func NewGenerator(instances []model.FlightInstance, free func(id string) int, beamWidth, maxLegs int, minLayover time.Duration) *Generator {
	if beamWidth <= 0 {
		beamWidth = 10
	}
	if maxLegs <= 0 {
		maxLegs = 4
	}
	g := &Generator{
		BeamWidth:  beamWidth,
		MaxLegs:    maxLegs,
		MinLayover: minLayover,
		instances:  instances,
		byID:       make(map[string]model.FlightInstance, len(instances)),
		byOrigin:   map[string][]int{},
		free:       free,
		cache:      map[string][]model.CandidateRoute{},
	}
	for i, f := range instances {
		g.byID[f.ID] = f
		g.byOrigin[f.Origin] = append(g.byOrigin[f.Origin], i)
	}
	for _, idxs := range g.byOrigin {
		sort.Slice(idxs, func(a, b int) bool {
			fa, fb := g.instances[idxs[a]], g.instances[idxs[b]]
			if !fa.Departure.Equal(fb.Departure) {
				return fa.Departure.Before(fb.Departure)
			}
			return fa.ID < fb.ID
		})
	}
	return g
}

// Instance resolves a flight instance by id.
func (g *Generator) Instance(id string) (model.FlightInstance, bool) {
	f, ok := g.byID[id]
	return f, ok
}

// routeScore ranks routes: heavily penalize extra hops, then prefer
// earlier absolute arrival, then reward slack to deadline. Lower is
// better.
func routeScore(legs int, arrival, deadline time.Time) float64 {
	arrivalMin := float64(arrival.Unix()) / 60
	slackMin := deadline.Sub(arrival).Minutes()
	return float64(legs)*10000 + arrivalMin - slackMin
}

func (g *Generator) cacheKey(sh model.Shipment) string {
	origins := append([]string(nil), sh.Origins...)
	sort.Strings(origins)
	return sh.Destination + "|" + strings.Join(origins, ",") + "|" + strconv.Itoa(sh.Quantity)
}

// Routes returns the pooled candidate routes for a shipment across all
// of its candidate origins, sorted ascending by score. Deterministic
// for a fixed (shipment signature, flight set).
func (g *Generator) Routes(sh model.Shipment) []model.CandidateRoute {
	key := g.cacheKey(sh)
	g.mu.Lock()
	if cached, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return cached
	}
	g.mu.Unlock()

	origins := append([]string(nil), sh.Origins...)
	sort.Strings(origins)
	pool := []model.CandidateRoute{}
	for _, origin := range origins {
		pool = append(pool, g.routesFrom(sh, origin)...)
	}
	sort.SliceStable(pool, func(a, b int) bool { return pool[a].Score < pool[b].Score })

	g.mu.Lock()
	g.cache[key] = pool
	g.mu.Unlock()
	return pool
}

// routesFrom runs the bounded beam search from one candidate origin.
func (g *Generator) routesFrom(sh model.Shipment, origin string) []model.CandidateRoute {
	beam := []pathState{{airport: origin}}
	routes := []model.CandidateRoute{}

	for depth := 0; depth < g.MaxLegs && len(beam) > 0; depth++ {
		next := []pathState{}
		for _, st := range beam {
			for _, idx := range g.byOrigin[st.airport] {
				f := g.instances[idx]
				if f.Departure.Before(sh.Ingest) {
					continue
				}
				if st.hasArrival && f.Departure.Before(st.arrival.Add(g.MinLayover)) {
					continue
				}
				if f.Arrival.After(sh.Deadline) {
					continue
				}
				free := g.free(f.ID)
				if free <= 0 {
					continue
				}
				bottleneck := free
				if len(st.legs) > 0 && st.bottleneck < free {
					bottleneck = st.bottleneck
				}
				legs := append(append([]int(nil), st.legs...), idx)
				if f.Destination == sh.Destination {
					ids := make([]string, len(legs))
					for i, li := range legs {
						ids[i] = g.instances[li].ID
					}
					routes = append(routes, model.CandidateRoute{
						Legs:       ids,
						Origin:     origin,
						Arrival:    f.Arrival,
						Score:      routeScore(len(legs), f.Arrival, sh.Deadline),
						Bottleneck: bottleneck,
					})
					continue
				}
				next = append(next, pathState{
					airport:    f.Destination,
					arrival:    f.Arrival,
					hasArrival: true,
					legs:       legs,
					bottleneck: bottleneck,
				})
			}
		}
		// keep the best BeamWidth partial paths before the next level
		sort.SliceStable(next, func(a, b int) bool {
			sa := routeScore(len(next[a].legs), next[a].arrival, sh.Deadline)
			sb := routeScore(len(next[b].legs), next[b].arrival, sh.Deadline)
			return sa < sb
		})
		if len(next) > g.BeamWidth {
			next = next[:g.BeamWidth]
		}
		beam = next
	}
	return routes
}
