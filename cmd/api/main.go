package main

import (
    "context"
    "log"
    "net/http"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "golang.org/x/time/rate"

    "aircargo/internal/api"
    "aircargo/internal/metrics"
)

func main() {
    srv, err := api.NewServer()
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    if os.Getenv("SEED_DEMO") == "1" {
        ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        if err := srv.SeedDemo(ctx); err != nil {
            log.Printf("seed demo: %v", err)
        }
        cancel()
    }

    mux := http.NewServeMux()

    // Network
    mux.HandleFunc("/v1/airports", srv.AirportsHandler)
    mux.HandleFunc("/v1/flights", srv.FlightsHandler)
    mux.HandleFunc("/v1/imports/", srv.ImportsHandler)

    // Shipments
    mux.HandleFunc("/v1/shipments", srv.ShipmentsHandler)
    mux.HandleFunc("/v1/shipments/", srv.ShipmentByIDHandler)

    // Planner
    mux.HandleFunc("/v1/planner/", srv.PlannerHandler)
    mux.HandleFunc("/v1/solutions", srv.SolutionsHandler)
    mux.HandleFunc("/v1/solutions/", srv.SolutionByIDHandler)
    mux.HandleFunc("/v1/capacity", srv.CapacityHandler)

    // Simulation
    mux.HandleFunc("/v1/sim/ws", srv.SimWSHandler)
    mux.HandleFunc("/v1/sim/", srv.SimHandler)

    // Events and webhooks
    mux.HandleFunc("/v1/events/stream", srv.EventsStreamHandler)
    mux.HandleFunc("/v1/subscriptions", srv.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srv.SubscriptionByIDHandler)

    // Health, docs, ops
    mux.HandleFunc("/healthz", srv.HealthHandler)
    mux.HandleFunc("/readyz", srv.ReadyHandler)
    mux.HandleFunc("/openapi.yaml", srv.OpenAPIHandler)
    mux.HandleFunc("/docs", srv.DocsHandler)
    mux.HandleFunc("/v1/admin/debug", srv.DebugJSON)

    metrics.RegisterDefault()
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    addr := ":8080"
    if v := os.Getenv("PORT"); v != "" {
        addr = ":" + v
    }

    handler := logMiddleware(rateLimitMiddleware(mux))
    httpSrv := &http.Server{
        Addr:              addr,
        Handler:           handler,
        ReadHeaderTimeout: 5 * time.Second,
    }

    // background machinery: clocks tick the trackers, the worker drains
    // the webhook queue, the planner loop is opt-in
    srv.Live.Start()
    srv.Weekly.Start()
    srv.NewWebhookWorker().Start()
    if os.Getenv("PLANNER_AUTOSTART") == "1" {
        srv.Planner.Start()
    }

    log.Printf("API listening on %s", addr)
    if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        sw := &statusWriter{ResponseWriter: w, status: 200}
        next.ServeHTTP(sw, r)
        dur := time.Since(start)
        status := strconv.Itoa(sw.status)
        path := routeLabel(r.URL.Path)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
        log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, sw.status, dur)
    })
}

type statusWriter struct {
    http.ResponseWriter
    status int
}

func (w *statusWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
    if f, ok := w.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}

// routeLabel collapses ids so metric cardinality stays bounded.
func routeLabel(path string) string {
    parts := strings.Split(strings.Trim(path, "/"), "/")
    if len(parts) > 3 {
        parts = parts[:3]
    }
    for i, p := range parts {
        if i >= 2 && len(p) > 12 {
            parts[i] = ":id"
        }
    }
    return "/" + strings.Join(parts, "/")
}

func rateLimitMiddleware(next http.Handler) http.Handler {
    rps := 50.0
    burst := 100
    if v := os.Getenv("RATE_RPS"); v != "" {
        if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
            rps = f
        }
    }
    if v := os.Getenv("RATE_BURST"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 {
            burst = n
        }
    }
    limiter := rate.NewLimiter(rate.Limit(rps), burst)
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        // streams hold a slot for their lifetime; don't rate-limit them
        if r.URL.Path == "/v1/events/stream" || r.URL.Path == "/v1/sim/ws" {
            next.ServeHTTP(w, r)
            return
        }
        if !limiter.Allow() {
            http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
            return
        }
        next.ServeHTTP(w, r)
    })
}
