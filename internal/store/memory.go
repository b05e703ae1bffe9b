package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aircargo/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	airports   map[string]model.Airport
	templates  map[string]model.FlightTemplate
	shipments  map[string]model.Shipment
	shipOrder  []string // ids in insertion order for stable listing
	solutions  map[string]model.Solution
	solOrder   []string
	subs       []model.Subscription
	deliveries map[string]*memDelivery
	delOrder   []string
}

func NewMemory() *Memory {
	return &Memory{
		airports:   map[string]model.Airport{},
		templates:  map[string]model.FlightTemplate{},
		shipments:  map[string]model.Shipment{},
		solutions:  map[string]model.Solution{},
		deliveries: map[string]*memDelivery{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics state.
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) UpsertAirports(ctx context.Context, airports []model.Airport) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range airports {
		m.airports[a.ID] = a
	}
	return len(airports), nil
}

func (m *Memory) ListAirports(ctx context.Context) ([]model.Airport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.airports))
	for id := range m.airports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Airport, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.airports[id])
	}
	return out, nil
}

func (m *Memory) UpsertFlightTemplates(ctx context.Context, templates []model.FlightTemplate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range templates {
		if t.ID == "" {
			t.ID = fmt.Sprintf("%s-%s-%s", t.Origin, t.Destination, t.DepLocal)
		}
		m.templates[t.ID] = t
	}
	return len(templates), nil
}

func (m *Memory) ListFlightTemplates(ctx context.Context) ([]model.FlightTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.templates))
	for id := range m.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.FlightTemplate, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.templates[id])
	}
	return out, nil
}

func (m *Memory) CreateShipments(ctx context.Context, shipments []model.Shipment) (string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, s := range shipments {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if s.Status == "" {
			s.Status = model.StatusPending
		}
		if _, exists := m.shipments[s.ID]; !exists {
			m.shipOrder = append(m.shipOrder, s.ID)
		}
		m.shipments[s.ID] = s.Clone()
		created++
	}
	return fmt.Sprintf("imp_%d", time.Now().UnixNano()), created, nil
}

func (m *Memory) ListShipments(ctx context.Context, status, cursor string, limit int) ([]model.Shipment, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	start := 0
	if cursor != "" {
		for i, id := range m.shipOrder {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Shipment{}
	next := ""
	for i := start; i < len(m.shipOrder) && len(out) < limit; i++ {
		s := m.shipments[m.shipOrder[i]]
		if status != "" && s.Status != status {
			continue
		}
		out = append(out, s.Clone())
		next = s.ID
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) GetShipment(ctx context.Context, id string) (model.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return model.Shipment{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) ShipmentsInWindow(ctx context.Context, from, to time.Time) ([]model.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Shipment{}
	for _, id := range m.shipOrder {
		s := m.shipments[id]
		if s.Status == model.StatusDelivered {
			continue
		}
		if len(s.Parts) > 0 {
			continue // already planned; replanning happens via status reset
		}
		if !s.Ingest.Before(from) && s.Ingest.Before(to) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

// EarliestIngest anchors the planning window. Only shipments that a
// window query would still return count; planned and delivered ones
// must not pin the window start to old ingest instants.
func (m *Memory) EarliestIngest(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest time.Time
	found := false
	for _, s := range m.shipments {
		if s.Status == model.StatusDelivered || len(s.Parts) > 0 {
			continue
		}
		if !found || s.Ingest.Before(earliest) {
			earliest = s.Ingest
			found = true
		}
	}
	return earliest, found, nil
}

func (m *Memory) SaveAssignments(ctx context.Context, shipmentID string, parts []model.AssignedPart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[shipmentID]
	if !ok {
		return ErrNotFound
	}
	s.Parts = nil
	for _, p := range parts {
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.ShipmentID = shipmentID
		s.Parts = append(s.Parts, p.Clone())
	}
	if len(s.Parts) > 0 {
		s.Status = model.StatusPlanned
	}
	m.shipments[shipmentID] = s
	return nil
}

func (m *Memory) UpdateShipmentStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	m.shipments[id] = s
	return nil
}

func (m *Memory) MarkPartDelivered(ctx context.Context, partID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.shipments {
		changed := false
		for i := range s.Parts {
			if s.Parts[i].ID == partID {
				s.Parts[i].Delivered = true
				changed = true
			}
		}
		if !changed {
			continue
		}
		delivered := true
		for _, p := range s.Parts {
			if !p.Delivered {
				delivered = false
				break
			}
		}
		if delivered && s.Complete() {
			s.Status = model.StatusDelivered
		}
		m.shipments[id] = s
		return nil
	}
	return ErrNotFound
}

func (m *Memory) SaveSolution(ctx context.Context, sol model.Solution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sol.ID == "" {
		sol.ID = uuid.New().String()
	}
	if _, exists := m.solutions[sol.ID]; !exists {
		m.solOrder = append(m.solOrder, sol.ID)
	}
	m.solutions[sol.ID] = sol
	return nil
}

func (m *Memory) GetSolution(ctx context.Context, id string) (model.Solution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sol, ok := m.solutions[id]
	if !ok {
		return model.Solution{}, ErrNotFound
	}
	return sol, nil
}

func (m *Memory) ListSolutions(ctx context.Context, cursor string, limit int) ([]model.Solution, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	start := 0
	if cursor != "" {
		for i, id := range m.solOrder {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Solution{}
	next := ""
	for i := start; i < len(m.solOrder) && len(out) < limit; i++ {
		out = append(out, m.solutions[m.solOrder[i]])
		next = m.solOrder[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.subs {
		for _, e := range s.Events {
			if e == eventType {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	start := 0
	if cursor != "" {
		for i := range m.subs {
			if m.subs[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(m.subs) {
		end = len(m.subs)
	}
	items := append([]model.Subscription(nil), m.subs[start:end]...)
	next := ""
	if end < len(m.subs) {
		next = m.subs[end-1].ID
	}
	return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.ID != id {
			out = append(out, s)
		}
	}
	m.subs = out
	return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &memDelivery{
		WebhookDelivery: WebhookDelivery{
			ID: id, SubscriptionID: subscriptionID, EventType: eventType,
			URL: url, Secret: secret, Payload: payload, Status: "pending",
		},
		NextAttemptAt: time.Now(),
	}
	m.delOrder = append(m.delOrder, id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.delOrder {
		d := m.deliveries[id]
		if d.Status != "pending" || d.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, d.WebhookDelivery)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}
