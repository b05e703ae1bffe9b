package api

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "aircargo/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    t.Setenv("DATABASE_URL", "")
    t.Setenv("REDIS_URL", "")
    t.Setenv("CONFIG_FILE", "")
    s, err := NewServer()
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

func seedNetwork(t *testing.T, s *Server) {
    t.Helper()
    body := []byte(`{"airports":[
        {"id":"LIM","continent":"SA","tzOffsetMin":-300,"lat":-12.02,"lng":-77.11,"capacityMax":200,"hub":true},
        {"id":"BOG","continent":"SA","tzOffsetMin":-300,"lat":4.7,"lng":-74.15,"capacityMax":200,"hub":true},
        {"id":"MIA","continent":"NA","tzOffsetMin":-300,"lat":25.79,"lng":-80.29,"capacityMax":300}
    ]}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/airports", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.AirportsHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("seed airports: %d %s", rr.Code, rr.Body.String()) }

    body = []byte(`{"flights":[
        {"id":"AC100","origin":"LIM","destination":"MIA","depLocal":"02:00","arrLocal":"08:30","capacityMax":120},
        {"id":"AC101","origin":"BOG","destination":"MIA","depLocal":"04:30","arrLocal":"09:00","capacityMax":100},
        {"id":"AC201","origin":"LIM","destination":"BOG","depLocal":"07:00","arrLocal":"10:00","capacityMax":80}
    ]}`)
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/flights", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.FlightsHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("seed flights: %d %s", rr.Code, rr.Body.String()) }
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestAirportsImportAndList(t *testing.T) {
    s := newTestServer(t)
    seedNetwork(t, s)
    rr := httptest.NewRecorder()
    s.AirportsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/airports", nil))
    if rr.Code != 200 { t.Fatalf("list: %d", rr.Code) }
    var res struct{ Items []map[string]any `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatalf("decode: %v", err) }
    if len(res.Items) != 3 { t.Fatalf("want 3 airports, got %d", len(res.Items)) }
}

func TestFlightsRejectBadClock(t *testing.T) {
    s := newTestServer(t)
    body := []byte(`{"flights":[{"id":"X1","origin":"AAA","destination":"BBB","depLocal":"25:99","arrLocal":"08:00","capacityMax":10}]}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/flights", bytes.NewReader(body))
    s.FlightsHandler(rr, req)
    if rr.Code != http.StatusBadRequest { t.Fatalf("want 400, got %d", rr.Code) }
}

func TestShipmentsCreateAndDeadlines(t *testing.T) {
    s := newTestServer(t)
    seedNetwork(t, s)

    body := []byte(`{"shipments":[
        {"origins":["LIM","BOG"],"destination":"MIA","quantity":10},
        {"origins":["LIM"],"destination":"BOG","quantity":5}
    ]}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/shipments", bytes.NewReader(body))
    s.ShipmentsHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("create: %d %s", rr.Code, rr.Body.String()) }
    var cres struct {
        ImportID string `json:"importId"`
        Created  int    `json:"created"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &cres); err != nil { t.Fatalf("decode: %v", err) }
    if cres.Created != 2 { t.Fatalf("want 2 created, got %d", cres.Created) }

    rr = httptest.NewRecorder()
    s.ShipmentsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/shipments?status=pending", nil))
    if rr.Code != 200 { t.Fatalf("list: %d", rr.Code) }
    var lres struct {
        Items []struct {
            ID          string    `json:"id"`
            Destination string    `json:"destination"`
            Ingest      time.Time `json:"ingest"`
            Deadline    time.Time `json:"deadline"`
        } `json:"items"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &lres); err != nil { t.Fatalf("decode: %v", err) }
    if len(lres.Items) != 2 { t.Fatalf("want 2 shipments, got %d", len(lres.Items)) }
    for _, it := range lres.Items {
        want := 48 * time.Hour // same continent
        if it.Destination == "MIA" { want = 96 * time.Hour }
        if got := it.Deadline.Sub(it.Ingest); got != want {
            t.Fatalf("shipment to %s: deadline offset %v, want %v", it.Destination, got, want)
        }
    }

    // GET by id
    rr = httptest.NewRecorder()
    s.ShipmentByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/shipments/"+lres.Items[0].ID, nil))
    if rr.Code != 200 { t.Fatalf("get by id: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ShipmentByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/shipments/nope", nil))
    if rr.Code != 404 { t.Fatalf("get missing: want 404, got %d", rr.Code) }
}

func TestShipmentsRejectNonHubOrigin(t *testing.T) {
    s := newTestServer(t)
    seedNetwork(t, s)
    body := []byte(`{"shipments":[{"origins":["MIA"],"destination":"LIM","quantity":3}]}`)
    rr := httptest.NewRecorder()
    s.ShipmentsHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/shipments", bytes.NewReader(body)))
    if rr.Code != http.StatusBadRequest { t.Fatalf("want 400, got %d", rr.Code) }
}

func TestPlannerRunAndSolutions(t *testing.T) {
    s := newTestServer(t)
    seedNetwork(t, s)
    body := []byte(`{"shipments":[{"origins":["LIM","BOG"],"destination":"MIA","quantity":10}]}`)
    rr := httptest.NewRecorder()
    s.ShipmentsHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/shipments", bytes.NewReader(body)))
    if rr.Code != http.StatusAccepted { t.Fatalf("create: %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.PlannerHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/planner/run", nil))
    if rr.Code != 200 { t.Fatalf("run: %d %s", rr.Code, rr.Body.String()) }
    var sol struct {
        ID        string `json:"id"`
        Completed int    `json:"completed"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &sol); err != nil { t.Fatalf("decode: %v", err) }
    if sol.Completed != 1 { t.Fatalf("want 1 completed, got %d", sol.Completed) }

    rr = httptest.NewRecorder()
    s.SolutionsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions", nil))
    if rr.Code != 200 { t.Fatalf("solutions list: %d", rr.Code) }
    var lres struct{ Items []struct{ ID string `json:"id"` } `json:"items"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &lres); err != nil { t.Fatalf("decode: %v", err) }
    if len(lres.Items) == 0 { t.Fatalf("expected a stored solution") }

    rr = httptest.NewRecorder()
    s.SolutionByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/solutions/"+sol.ID, nil))
    if rr.Code != 200 { t.Fatalf("solution by id: %d", rr.Code) }
    var one struct {
        Optimizer map[string]any `json:"optimizer"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &one); err != nil { t.Fatalf("decode: %v", err) }
    if one.Optimizer == nil { t.Fatalf("expected optimizer metrics attached") }

    // live ledger carries the committed reservations
    rr = httptest.NewRecorder()
    s.CapacityHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/capacity", nil))
    if rr.Code != 200 { t.Fatalf("capacity: %d", rr.Code) }
    if !strings.Contains(rr.Body.String(), "\"occupied\":10") {
        t.Fatalf("expected an entry with occupied 10: %s", rr.Body.String())
    }
}

func TestPlannerRBAC(t *testing.T) {
    s := newTestServer(t)
    req := httptest.NewRequest(http.MethodPost, "/v1/planner/start", nil)
    req.Header.Set("X-Role", "viewer")
    rr := httptest.NewRecorder()
    s.PlannerHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer start: want 403, got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.PlannerHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/planner/status", nil))
    if rr.Code != 200 { t.Fatalf("status: %d", rr.Code) }
    var st struct{ Running bool `json:"running"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &st)
    if st.Running { t.Fatalf("planner should start stopped") }
}

func TestPlannerStartStopStatus(t *testing.T) {
    s := newTestServer(t)
    seedNetwork(t, s)
    rr := httptest.NewRecorder()
    s.PlannerHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/planner/start", nil))
    if rr.Code != 200 { t.Fatalf("start: %d", rr.Code) }
    defer s.Planner.Stop()
    rr = httptest.NewRecorder()
    s.PlannerHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/planner/start", nil))
    var again struct{ Started bool `json:"started"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &again)
    if again.Started { t.Fatalf("second start should report started=false") }
    rr = httptest.NewRecorder()
    s.PlannerHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/planner/stop", nil))
    if rr.Code != 200 { t.Fatalf("stop: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.PlannerHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/planner/stats", nil))
    if rr.Code != 200 { t.Fatalf("stats: %d", rr.Code) }
}

func TestSubscriptionsCRUD(t *testing.T) {
    s := newTestServer(t)
    body := []byte(`{"url":"https://example.invalid/hook","events":["plan.cycle.completed"],"secret":"shh"}`)
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", bytes.NewReader(body))
    s.SubscriptionsHandler(rr, req)
    if rr.Code != http.StatusCreated { t.Fatalf("create: %d", rr.Code) }
    var sub struct{ ID string `json:"id"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &sub); err != nil || sub.ID == "" { t.Fatalf("bad sub: %v %s", err, rr.Body.String()) }

    // viewer may not manage subscriptions
    req = httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil)
    req.Header.Set("X-Role", "viewer")
    rr = httptest.NewRecorder()
    s.SubscriptionsHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer list: want 403, got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.SubscriptionsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil))
    if rr.Code != 200 { t.Fatalf("list: %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
    if rr.Code != 204 { t.Fatalf("delete: %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.SubscriptionByIDHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil))
    if rr.Code != 404 { t.Fatalf("delete again: want 404, got %d", rr.Code) }
}

func TestSimStatusResetPositions(t *testing.T) {
    s := newTestServer(t)
    seedNetwork(t, s)

    rr := httptest.NewRecorder()
    s.SimHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/sim/status", nil))
    if rr.Code != 200 { t.Fatalf("status: %d", rr.Code) }

    body := []byte(`{"clock":"weekly","instant":"2026-09-01T00:00:00Z"}`)
    rr = httptest.NewRecorder()
    s.SimHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/sim/reset", bytes.NewReader(body)))
    if rr.Code != 200 { t.Fatalf("reset: %d %s", rr.Code, rr.Body.String()) }

    rr = httptest.NewRecorder()
    s.SimHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/sim/reset", bytes.NewReader([]byte(`{"clock":"lunar","instant":"2026-09-01T00:00:00Z"}`))))
    if rr.Code != 400 { t.Fatalf("bad clock: want 400, got %d", rr.Code) }

    // positions require the tracker to know the network
    s.Tracker.SetNetwork(mustAirports(t, s), mustTemplates(t, s))
    rr = httptest.NewRecorder()
    s.SimHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/sim/positions?clock=live", nil))
    if rr.Code != 200 { t.Fatalf("positions: %d", rr.Code) }
    var pres struct{ Flights []map[string]any `json:"flights"` }
    if err := json.Unmarshal(rr.Body.Bytes(), &pres); err != nil { t.Fatalf("decode: %v", err) }
    if len(pres.Flights) == 0 { t.Fatalf("expected classified flights") }
}

func mustAirports(t *testing.T, s *Server) map[string]model.Airport {
    t.Helper()
    m, err := s.airportIndex(context.Background())
    if err != nil { t.Fatalf("airports: %v", err) }
    return m
}

func mustTemplates(t *testing.T, s *Server) []model.FlightTemplate {
    t.Helper()
    tpl, err := s.Store.ListFlightTemplates(context.Background())
    if err != nil { t.Fatalf("templates: %v", err) }
    return tpl
}

func TestCSVImports(t *testing.T) {
    s := newTestServer(t)
    airports := "id,name,continent,tz_offset_min,lat,lng,capacity,hub\nLIM,Lima,SA,-300,-12.02,-77.11,400,true\nMIA,Miami,NA,-300,25.79,-80.29,500,0\n"
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/imports/airports", strings.NewReader(airports))
    req.Header.Set("Content-Type", "text/csv")
    s.ImportsHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("import airports: %d %s", rr.Code, rr.Body.String()) }

    flights := "id,origin,destination,dep_local,arr_local,capacity\nAC100,LIM,MIA,02:00,08:30,120\n"
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/imports/flights", strings.NewReader(flights))
    s.ImportsHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("import flights: %d %s", rr.Code, rr.Body.String()) }

    shipments := "origins,destination,quantity,ingest\nLIM,MIA,12,\n"
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/imports/shipments", strings.NewReader(shipments))
    s.ImportsHandler(rr, req)
    if rr.Code != http.StatusAccepted { t.Fatalf("import shipments: %d %s", rr.Code, rr.Body.String()) }

    // adapter errors surface as 400 with the offending line
    rr = httptest.NewRecorder()
    req = httptest.NewRequest(http.MethodPost, "/v1/imports/shipments", strings.NewReader("origins,destination,quantity,ingest\nLIM,MIA,-2,\n"))
    s.ImportsHandler(rr, req)
    if rr.Code != 400 { t.Fatalf("bad row: want 400, got %d", rr.Code) }
}

// sseRecorder is a minimal ResponseWriter that implements http.Flusher
// and captures writes for SSE tests.
type sseRecorder struct {
    hdr  http.Header
    buf  bytes.Buffer
    code int
}

func (r *sseRecorder) Header() http.Header { if r.hdr == nil { r.hdr = http.Header{} }; return r.hdr }
func (r *sseRecorder) WriteHeader(c int) { r.code = c }
func (r *sseRecorder) Write(p []byte) (int, error) { return r.buf.Write(p) }
func (r *sseRecorder) Flush() {}

func TestEventsStreamSSE(t *testing.T) {
    s := newTestServer(t)
    sseReq := httptest.NewRequest(http.MethodGet, "/v1/events/stream?topic=plan", nil)
    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    sseReq = sseReq.WithContext(ctx)

    rec := &sseRecorder{}
    done := make(chan struct{})
    go func() {
        s.EventsStreamHandler(rec, sseReq)
        close(done)
    }()

    // Give the handler time to subscribe and send its heartbeat
    time.Sleep(50 * time.Millisecond)
    s.Publish("plan", "plan.cycle.completed", map[string]any{"solutionId": "sol-1"})

    deadline := time.Now().Add(500 * time.Millisecond)
    for time.Now().Before(deadline) {
        if bytes.Contains(rec.buf.Bytes(), []byte("event: plan.cycle.completed")) {
            break
        }
        time.Sleep(10 * time.Millisecond)
    }
    if !bytes.Contains(rec.buf.Bytes(), []byte("event: plan.cycle.completed")) {
        t.Fatalf("SSE did not contain expected event. Body: %s", rec.buf.String())
    }
    cancel()
    select {
    case <-done:
    case <-time.After(200 * time.Millisecond):
        t.Fatal("handler did not exit after cancel")
    }
}
