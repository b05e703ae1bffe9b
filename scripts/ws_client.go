// Package main runs a demo WebSocket client for the simulated-time
// flight stream: fast-forward the weekly clock, then print ticks.
package main

import (
    "bytes"
    "fmt"
    "log"
    "net/http"
    "net/url"
    "os"
    "time"

    "github.com/gorilla/websocket"
)

func main() {
    port := os.Getenv("PORT")
    if port == "" {
        port = "8080"
    }
    base := fmt.Sprintf("http://localhost:%s", port)

    // Re-anchor the weekly clock to the start of today so the first
    // departures of the schedule come up quickly.
    day := time.Now().UTC().Truncate(24 * time.Hour)
    body := []byte(fmt.Sprintf(`{"clock":"weekly","instant":"%s"}`, day.Format(time.RFC3339)))
    req, _ := http.NewRequest(http.MethodPost, base+"/v1/sim/reset", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Role", "admin")
    resp, err := http.DefaultClient.Do(req)
    if err != nil {
        log.Fatal(err)
    }
    _ = resp.Body.Close()
    log.Printf("weekly clock reset to %s", day.Format(time.RFC3339))

    u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/sim/ws"}
    c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
    if err != nil {
        log.Fatal("dial:", err)
    }
    defer func() { _ = c.Close() }()

    done := make(chan struct{})
    go func() {
        defer close(done)
        for {
            var m struct {
                Type string         `json:"type"`
                Data map[string]any `json:"data"`
            }
            if err := c.ReadJSON(&m); err != nil {
                log.Printf("read: %v", err)
                return
            }
            switch m.Type {
            case "sim.tick":
                log.Printf("tick %v: %d flights", m.Data["simTime"], lenAny(m.Data["flights"]))
            default:
                log.Printf("WS <- %s: %v", m.Type, m.Data)
            }
        }
    }()

    select {
    case <-time.After(30 * time.Second):
    case <-done:
    }
}

func lenAny(v any) int {
    if l, ok := v.([]any); ok {
        return len(l)
    }
    return 0
}
