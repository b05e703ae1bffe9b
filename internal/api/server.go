package api

import (
    "context"
    "log"
    "os"
    "strings"
    "time"

    "aircargo/internal/auth"
    "aircargo/internal/capacity"
    "aircargo/internal/config"
    "aircargo/internal/model"
    "aircargo/internal/planner"
    "aircargo/internal/simclock"
    "aircargo/internal/store"
    "aircargo/internal/webhooks"

    "github.com/google/uuid"
)

type Server struct {
    Store  store.Store
    Pub    *webhooks.Publisher
    Auth   *auth.Verifier
    Broker EventBroker
    Cfg    config.Config

    Ledger  *capacity.Ledger
    Live    *simclock.Clock
    Weekly  *simclock.Clock
    Tracker *simclock.Tracker // live tracker, mutates the shared ledger
    Preview *simclock.Tracker // weekly fast-forward tracker, isolated ledger
    Planner *planner.Scheduler
}

// NewServer wires the store, broker, clocks, trackers and planner.
// If DATABASE_URL is unset, uses the in-memory store.
func NewServer() (*Server, error) {
    cfg, err := config.Load()
    if err != nil {
        return nil, err
    }
    dsn := os.Getenv("DATABASE_URL")
    var st store.Store
    if strings.TrimSpace(dsn) == "" {
        st = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(dsn)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        if os.Getenv("DB_MIGRATE") != "false" {
            _ = sp.MigrateDir("db/migrations")
        }
        st = sp
    }
    // Broker selection
    var broker EventBroker
    if os.Getenv("REDIS_URL") != "" {
        if rb, err := NewRedisBroker(); err == nil { broker = rb } else { broker = NewBroker() }
    } else {
        broker = NewBroker()
    }

    s := &Server{
        Store:  st,
        Pub:    webhooks.NewPublisher(st),
        Auth:   auth.NewVerifierFromEnv(),
        Broker: broker,
        Cfg:    cfg,
        Ledger: capacity.New(),
    }

    now := time.Now().UTC()
    s.Live = simclock.New("live", cfg.LiveVelocity, now)
    s.Weekly = simclock.New("weekly", cfg.WeeklyVelocity, now.Truncate(24*time.Hour))

    s.Tracker = simclock.NewTracker(s.Live, s.Ledger, s, cfg.ReleaseAfter())
    s.Preview = simclock.NewTracker(s.Weekly, capacity.New(), s, cfg.ReleaseAfter())
    s.Live.OnTick(s.Tracker.Tick)
    s.Weekly.OnTick(s.Preview.Tick)
    s.Tracker.OnDelivered(s.onPartDelivered)

    s.Planner = planner.New(st, cfg, s.Live, s.Tracker, s.Ledger, s)
    return s, nil
}

// Publish implements the event sink shared by the planner and the
// trackers: every event goes to the broker stream; anything but the
// once-a-second tick also fans out to webhook subscribers.
func (s *Server) Publish(topic, eventType string, data map[string]any) {
    s.Broker.Publish(topic, SSEEvent{Type: eventType, Data: data})
    if eventType == "sim.tick" {
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    s.Pub.Emit(ctx, eventType, data)
}

// onPartDelivered persists the delivered flag after the deferred
// warehouse release and announces fully delivered shipments.
func (s *Server) onPartDelivered(part model.AssignedPart) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := s.Store.MarkPartDelivered(ctx, part.ID); err != nil {
        log.Printf("api: mark part %s delivered: %v", part.ID, err)
        return
    }
    sh, err := s.Store.GetShipment(ctx, part.ShipmentID)
    if err != nil || sh.Status != model.StatusDelivered {
        return
    }
    s.Publish("plan", "shipment.delivered", map[string]any{
        "shipmentId":  sh.ID,
        "destination": sh.Destination,
        "quantity":    sh.Quantity,
    })
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}

// SeedDemo loads a small network and a few shipments when the store is
// empty. Dev helper behind SEED_DEMO=1.
func (s *Server) SeedDemo(ctx context.Context) error {
    existing, err := s.Store.ListAirports(ctx)
    if err != nil || len(existing) > 0 {
        return err
    }
    airports := []model.Airport{
        {ID: "LIM", Name: "Lima", Continent: "SA", TZOffsetMin: -300, Lat: -12.02, Lng: -77.11, CapacityMax: 400, Hub: true},
        {ID: "BOG", Name: "Bogota", Continent: "SA", TZOffsetMin: -300, Lat: 4.70, Lng: -74.15, CapacityMax: 300, Hub: true},
        {ID: "MIA", Name: "Miami", Continent: "NA", TZOffsetMin: -300, Lat: 25.79, Lng: -80.29, CapacityMax: 500},
        {ID: "MAD", Name: "Madrid", Continent: "EU", TZOffsetMin: 60, Lat: 40.47, Lng: -3.56, CapacityMax: 500},
    }
    templates := []model.FlightTemplate{
        {ID: "AC100", Origin: "LIM", Destination: "MIA", DepLocal: "02:00", ArrLocal: "08:30", CapacityMax: 120},
        {ID: "AC101", Origin: "BOG", Destination: "MIA", DepLocal: "04:30", ArrLocal: "09:00", CapacityMax: 100},
        {ID: "AC200", Origin: "MIA", Destination: "MAD", DepLocal: "18:00", ArrLocal: "08:00", CapacityMax: 150},
        {ID: "AC201", Origin: "LIM", Destination: "BOG", DepLocal: "07:00", ArrLocal: "10:00", CapacityMax: 80},
    }
    if _, err := s.Store.UpsertAirports(ctx, airports); err != nil {
        return err
    }
    if _, err := s.Store.UpsertFlightTemplates(ctx, templates); err != nil {
        return err
    }
    byID := map[string]model.Airport{}
    for _, a := range airports {
        byID[a.ID] = a
    }
    now := s.Live.Now().UTC()
    shipments := []model.Shipment{}
    for _, in := range []model.ShipmentIn{
        {Origins: []string{"LIM", "BOG"}, Destination: "MIA", Quantity: 40},
        {Origins: []string{"LIM"}, Destination: "MAD", Quantity: 25},
        {Origins: []string{"BOG"}, Destination: "MAD", Quantity: 15},
    } {
        shipments = append(shipments, model.Shipment{
            ID:          uuid.New().String(),
            Origins:     in.Origins,
            Destination: in.Destination,
            Quantity:    in.Quantity,
            Ingest:      now,
            Deadline: model.DeriveDeadline(now, in.Origins, in.Destination, byID,
                time.Duration(s.Cfg.DomesticDeadlineH)*time.Hour,
                time.Duration(s.Cfg.InternationalDeadlineH)*time.Hour),
            Status: model.StatusPending,
        })
    }
    _, n, err := s.Store.CreateShipments(ctx, shipments)
    if err == nil {
        log.Printf("api: seeded demo network, %d shipments", n)
    }
    return err
}
