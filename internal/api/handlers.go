package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "aircargo/internal/model"
    "aircargo/internal/opt"
    "aircargo/internal/simclock"
    "aircargo/internal/store"

    "github.com/google/uuid"
)

// AirportsHandler handles POST/GET /v1/airports
func (s *Server) AirportsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanOperate() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        var req struct {
            Airports []model.Airport `json:"airports"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateAirports(req.Airports); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid airports", err.Error(), r.URL.Path)
            return
        }
        n, err := s.Store.UpsertAirports(r.Context(), req.Airports)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Upsert airports failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusAccepted, map[string]any{"imported": n})
    case http.MethodGet:
        items, err := s.Store.ListAirports(r.Context())
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List airports failed", err.Error(), r.URL.Path)
            return
        }
        // overlay live occupancy where the ledger knows the airport
        for i := range items {
            if s.Ledger.Has(items[i].ID) { items[i].Occupied = s.Ledger.Occupied(items[i].ID) }
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// FlightsHandler handles POST/GET /v1/flights (daily templates)
func (s *Server) FlightsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanOperate() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        var req struct {
            Flights []model.FlightTemplate `json:"flights"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateTemplates(req.Flights); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid flights", err.Error(), r.URL.Path)
            return
        }
        n, err := s.Store.UpsertFlightTemplates(r.Context(), req.Flights)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Upsert flights failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusAccepted, map[string]any{"imported": n})
    case http.MethodGet:
        items, err := s.Store.ListFlightTemplates(r.Context())
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List flights failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// ShipmentsHandler handles POST/GET /v1/shipments
func (s *Server) ShipmentsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var req struct {
            Shipments []model.ShipmentIn `json:"shipments"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        airports, err := s.airportIndex(r.Context())
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Load airports failed", err.Error(), r.URL.Path)
            return
        }
        if err := validateShipments(req.Shipments, airports); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid shipments", err.Error(), r.URL.Path)
            return
        }
        imp, created, err := s.Store.CreateShipments(r.Context(), s.buildShipments(req.Shipments, airports))
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create shipments failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusAccepted, map[string]any{"importId": imp, "created": created})
    case http.MethodGet:
        status := r.URL.Query().Get("status")
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListShipments(r.Context(), status, cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List shipments failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// ShipmentByIDHandler handles GET /v1/shipments/{id}
func (s *Server) ShipmentByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/shipments/")
    if id == "" || id == r.URL.Path {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    sh, err := s.Store.GetShipment(r.Context(), id)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Shipment not found", id, r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Get shipment failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, sh)
}

// PlannerHandler handles /v1/planner/{start,stop,run,status,stats}
func (s *Server) PlannerHandler(w http.ResponseWriter, r *http.Request) {
    action := strings.TrimPrefix(r.URL.Path, "/v1/planner/")
    switch action {
    case "start":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        p := s.getPrincipal(r)
        if !p.CanOperate() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        started := s.Planner.Start()
        writeJSON(w, http.StatusOK, map[string]any{"running": true, "started": started})
    case "stop":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        p := s.getPrincipal(r)
        if !p.CanOperate() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        s.Planner.Stop()
        writeJSON(w, http.StatusOK, map[string]any{"running": false})
    case "run":
        // one on-demand cycle outside the loop
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        p := s.getPrincipal(r)
        if !p.CanOperate() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        sol, ok := s.Planner.RunCycle(r.Context())
        if !ok {
            writeProblem(w, http.StatusConflict, "Cycle busy", "a planning cycle is already in flight", r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, sol)
    case "status":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        running, lastRun, lastSol := s.Planner.Status()
        out := map[string]any{"running": running, "lastSolution": lastSol}
        if !lastRun.IsZero() { out["lastRun"] = lastRun.Format(time.RFC3339) }
        writeJSON(w, http.StatusOK, out)
    case "stats":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": s.Planner.Stats()})
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

// SolutionsHandler handles GET /v1/solutions
func (s *Server) SolutionsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/solutions" { writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListSolutions(r.Context(), cursor, limit)
    if err != nil { writeProblem(w, 500, "List solutions failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// SolutionByIDHandler handles GET /v1/solutions/{id}
func (s *Server) SolutionByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/solutions/")
    if id == "" || id == r.URL.Path {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    sol, err := s.Store.GetSolution(r.Context(), id)
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Solution not found", id, r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Get solution failed", err.Error(), r.URL.Path)
        return
    }
    out := map[string]any{"solution": sol}
    if m, ok := opt.GetMetrics(id); ok {
        out["optimizer"] = map[string]any{
            "iterations":   m.Iterations,
            "improvements": m.Improvements,
            "subWindows":   m.SubWindows,
            "cutoffHit":    m.CutoffHit,
            "seed":         m.Seed,
        }
    }
    writeJSON(w, http.StatusOK, out)
}

// CapacityHandler handles GET /v1/capacity (live ledger snapshot)
func (s *Server) CapacityHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    writeJSON(w, http.StatusOK, map[string]any{
        "entries": s.Ledger.Snapshot(),
        "clamps":  s.Ledger.Clamps(),
    })
}

// SimHandler handles /v1/sim/{reset,status,positions}
func (s *Server) SimHandler(w http.ResponseWriter, r *http.Request) {
    action := strings.TrimPrefix(r.URL.Path, "/v1/sim/")
    switch action {
    case "reset":
        if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
        p := s.getPrincipal(r)
        if !p.CanOperate() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        var req struct {
            Clock   string `json:"clock"`
            Instant string `json:"instant"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        clock, _, ok := s.clockByName(req.Clock)
        if !ok { writeProblem(w, 400, "Unknown clock", req.Clock, r.URL.Path); return }
        instant, err := time.Parse(time.RFC3339, req.Instant)
        if err != nil { writeProblem(w, 400, "Invalid instant", err.Error(), r.URL.Path); return }
        clock.Reset(instant.UTC())
        writeJSON(w, http.StatusOK, map[string]any{
            "clock":    clock.Name,
            "now":      clock.Now().UTC().Format(time.RFC3339),
            "velocity": clock.Velocity(),
        })
    case "status":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        writeJSON(w, http.StatusOK, map[string]any{
            "live":   map[string]any{"now": s.Live.Now().UTC().Format(time.RFC3339), "velocity": s.Live.Velocity()},
            "weekly": map[string]any{"now": s.Weekly.Now().UTC().Format(time.RFC3339), "velocity": s.Weekly.Velocity()},
        })
    case "positions":
        if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
        name := r.URL.Query().Get("clock")
        if name == "" { name = "live" }
        clock, tracker, ok := s.clockByName(name)
        if !ok { writeProblem(w, 400, "Unknown clock", name, r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{
            "clock":   clock.Name,
            "simTime": clock.Now().UTC().Format(time.RFC3339),
            "flights": tracker.Positions(),
        })
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

func (s *Server) clockByName(name string) (*simclock.Clock, *simclock.Tracker, bool) {
    switch name {
    case "", "live":
        return s.Live, s.Tracker, true
    case "weekly":
        return s.Weekly, s.Preview, true
    }
    return nil, nil, false
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Subscription not found", id, r.URL.Path); return }
        writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path)
        return
    }
    w.WriteHeader(204)
}

// EventsStreamHandler handles GET /v1/events/stream?topic=plan|sim (SSE)
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    topic := r.URL.Query().Get("topic")
    if topic == "" { topic = "plan" }
    if topic != "plan" && topic != "sim" {
        writeProblem(w, http.StatusBadRequest, "Unknown topic", topic, r.URL.Path)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(topic)
    defer s.Broker.Unsubscribe(topic, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"topic\":\"%s\",\"ts\":\"%s\"}\n\n", topic, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"topic\":\"%s\",\"ts\":\"%s\"}\n\n", topic, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

// buildShipments turns validated write models into pending shipments:
// ids assigned, ingest defaulted to the live clock, deadline derived
// from continent spread.
func (s *Server) buildShipments(in []model.ShipmentIn, airports map[string]model.Airport) []model.Shipment {
    now := s.Live.Now().UTC()
    domestic := time.Duration(s.Cfg.DomesticDeadlineH) * time.Hour
    international := time.Duration(s.Cfg.InternationalDeadlineH) * time.Hour
    rows := make([]model.Shipment, 0, len(in))
    for _, sh := range in {
        ingest := now
        if sh.Ingest != nil { ingest = sh.Ingest.UTC() }
        rows = append(rows, model.Shipment{
            ID:          uuid.New().String(),
            Origins:     sh.Origins,
            Destination: sh.Destination,
            Quantity:    sh.Quantity,
            Ingest:      ingest,
            Deadline:    model.DeriveDeadline(ingest, sh.Origins, sh.Destination, airports, domestic, international),
            Status:      model.StatusPending,
        })
    }
    return rows
}

func (s *Server) airportIndex(ctx context.Context) (map[string]model.Airport, error) {
    list, err := s.Store.ListAirports(ctx)
    if err != nil {
        return nil, err
    }
    out := make(map[string]model.Airport, len(list))
    for _, a := range list {
        out[a.ID] = a
    }
    return out, nil
}
