package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // PlanCycles counts planning cycles by outcome: completed, empty, timeout
    PlanCycles = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "plan_cycles_total", Help: "Planning cycles by outcome."},
        []string{"outcome"},
    )
    // PlanCycleDuration records planning cycle wall time in seconds
    PlanCycleDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "plan_cycle_duration_seconds", Help: "Planning cycle duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60}},
    )
    // ShipmentsCompleted counts shipments fully assigned by planning cycles
    ShipmentsCompleted = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "shipments_completed_total", Help: "Shipments fully assigned by planning."},
    )
    // CapacityClamps tracks absorbed over-release/overflow clamp events
    CapacityClamps = prometheus.NewGauge(
        prometheus.GaugeOpts{Name: "capacity_clamp_events", Help: "Clamp events absorbed by the capacity ledger."},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(PlanCycles)
        Registry.MustRegister(PlanCycleDuration)
        Registry.MustRegister(ShipmentsCompleted)
        Registry.MustRegister(CapacityClamps)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
