package model

import "time"

// Shipment lifecycle states.
const (
	StatusPending   = "pending"
	StatusPlanned   = "planned"
	StatusDelivered = "delivered"
)

// Airport is a network node with warehouse capacity. Occupied is a live
// counter owned by the capacity ledger; the copy here is a snapshot.
type Airport struct {
	ID          string  `json:"id"` // IATA code
	Name        string  `json:"name,omitempty"`
	Continent   string  `json:"continent,omitempty"`
	TZOffsetMin int     `json:"tzOffsetMin"` // minutes east of UTC
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CapacityMax int     `json:"capacityMax"`
	Occupied    int     `json:"occupied"`
	Hub         bool    `json:"hub,omitempty"` // valid shipment origin candidate
}

// FlightTemplate is a daily scheduled flight in local times-of-day.
// Immutable once loaded for a planning cycle.
type FlightTemplate struct {
	ID          string `json:"id"`
	Origin      string `json:"origin"`      // airport id
	Destination string `json:"destination"` // airport id
	DepLocal    string `json:"depLocal"`    // "HH:MM" at origin
	ArrLocal    string `json:"arrLocal"`    // "HH:MM" at destination
	CapacityMax int    `json:"capacityMax"`
}

// FlightInstance is a template materialized on a calendar day with
// absolute instants. Instances are regenerated per planning cycle and
// carry their own capacity counter in the ledger, keyed by ID.
type FlightInstance struct {
	ID          string    `json:"id"` // templateID + "@" + yyyy-mm-dd
	TemplateID  string    `json:"templateId"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Departure   time.Time `json:"departure"`
	Arrival     time.Time `json:"arrival"`
	CapacityMax int       `json:"capacityMax"`
}

// Shipment is a discrete parcel batch to route from one of several
// candidate origin hubs to a single destination before its deadline.
type Shipment struct {
	ID          string         `json:"id"`
	Origins     []string       `json:"origins"` // candidate origin airport ids
	Destination string         `json:"destination"`
	Quantity    int            `json:"quantity"`
	Ingest      time.Time      `json:"ingest"`
	Deadline    time.Time      `json:"deadline"`
	Status      string         `json:"status"`
	Parts       []AssignedPart `json:"parts,omitempty"`
}

// AssignedQuantity sums quantities over the shipment's parts.
func (s Shipment) AssignedQuantity() int {
	q := 0
	for _, p := range s.Parts {
		q += p.Quantity
	}
	return q
}

// Complete reports whether the full quantity has been assigned.
func (s Shipment) Complete() bool {
	return s.Quantity > 0 && s.AssignedQuantity() == s.Quantity
}

// Clone returns an independent copy so a planning cycle can mutate its
// window without leaking into other cycles' inputs.
func (s Shipment) Clone() Shipment {
	out := s
	out.Origins = append([]string(nil), s.Origins...)
	out.Parts = make([]AssignedPart, len(s.Parts))
	for i, p := range s.Parts {
		out.Parts[i] = p.Clone()
	}
	return out
}

// AssignedPart is a sub-quantity of a shipment routed over an ordered
// list of flight-instance legs. Legs hold ids, not live references;
// lookups go through the owning instance index.
type AssignedPart struct {
	ID         string    `json:"id"`
	ShipmentID string    `json:"shipmentId"`
	Quantity   int       `json:"quantity"`
	Legs       []string  `json:"legs"` // flight instance ids, in order
	Origin     string    `json:"origin"`
	Arrival    time.Time `json:"arrival"`
	Delivered  bool      `json:"delivered"`
}

// FinalLeg returns the last leg id, or "" for an empty part.
func (p AssignedPart) FinalLeg() string {
	if len(p.Legs) == 0 {
		return ""
	}
	return p.Legs[len(p.Legs)-1]
}

func (p AssignedPart) Clone() AssignedPart {
	out := p
	out.Legs = append([]string(nil), p.Legs...)
	return out
}

// CandidateRoute is a ranked multi-leg route option for one shipment.
// Lower score is better. Bottleneck is the minimum free capacity seen
// across legs at generation time; selection re-checks the live ledger.
type CandidateRoute struct {
	Legs       []string  `json:"legs"`
	Origin     string    `json:"origin"`
	Arrival    time.Time `json:"arrival"`
	Score      float64   `json:"score"`
	Bottleneck int       `json:"bottleneck"`
}

// Solution is the outcome of one planning cycle over one window.
type Solution struct {
	ID           string     `json:"id"`
	WindowStart  time.Time  `json:"windowStart"`
	WindowEnd    time.Time  `json:"windowEnd"`
	Shipments    []Shipment `json:"shipments"`
	Completed    int        `json:"completed"`
	Collapse     *time.Time `json:"collapse,omitempty"` // earliest unmet deadline
	MeanTransitM float64    `json:"meanTransitMinutes"` // quantity-weighted
	TimedOut     bool       `json:"timedOut,omitempty"`
}

// Better reports whether s beats other under the planning comparator:
// more completed shipments wins; on a tie a later (or absent) collapse
// instant wins.
func (s Solution) Better(other Solution) bool {
	if s.Completed != other.Completed {
		return s.Completed > other.Completed
	}
	if s.Collapse == nil {
		return other.Collapse != nil
	}
	if other.Collapse == nil {
		return false
	}
	return s.Collapse.After(*other.Collapse)
}

// CycleStat is one rolling planning-cycle statistics record.
type CycleStat struct {
	At          time.Time `json:"at"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	DurationMs  int64     `json:"durationMs"`
	Processed   int       `json:"processed"`
	Completed   int       `json:"completed"`
	SuccessRate float64   `json:"successRate"`
	TimedOut    bool      `json:"timedOut,omitempty"`
	Empty       bool      `json:"empty,omitempty"`
}

// ShipmentIn is the write model for shipment ingest. Deadline is
// derived from the ingest instant and whether origin and destination
// share a continent.
type ShipmentIn struct {
	Origins     []string   `json:"origins"`
	Destination string     `json:"destination"`
	Quantity    int        `json:"quantity"`
	Ingest      *time.Time `json:"ingest,omitempty"`
}

// SubscriptionRequest registers a webhook endpoint for event types.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// FlightPhase classifies a flight instance at a simulated instant.
type FlightPhase string

const (
	AtOrigin      FlightPhase = "AT_ORIGIN"
	InFlight      FlightPhase = "IN_FLIGHT"
	AtDestination FlightPhase = "AT_DESTINATION"
)

// FlightPosition is one per-flight entry of a simulated-time tick.
type FlightPosition struct {
	InstanceID string      `json:"instanceId"`
	TemplateID string      `json:"templateId"`
	Phase      FlightPhase `json:"phase"`
	Lat        float64     `json:"lat"`
	Lng        float64     `json:"lng"`
	Fraction   float64     `json:"fraction"` // 0..1 of leg elapsed
}
