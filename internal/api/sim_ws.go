package api

import (
    "net/http"
    "time"

    "github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data,omitempty"`
}

// SimWSHandler handles GET /v1/sim/ws: a WebSocket stream of simulated
// ticks, flight phase transitions and delivery events. The first frame
// is a hello carrying the current clock states; then every broker event
// on the sim topic is forwarded as {"type", "data"}.
func (s *Server) SimWSHandler(w http.ResponseWriter, r *http.Request) {
    conn, err := upgrader.Upgrade(w, r, nil)
    if err != nil {
        return
    }
    defer func() { _ = conn.Close() }()

    conn.SetReadLimit(1 << 20)
    _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
    conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

    ch := s.Broker.Subscribe("sim")
    defer s.Broker.Unsubscribe("sim", ch)

    _ = conn.WriteJSON(wsMessage{Type: "hello", Data: map[string]any{
        "live":   map[string]any{"now": s.Live.Now().UTC().Format(time.RFC3339), "velocity": s.Live.Velocity()},
        "weekly": map[string]any{"now": s.Weekly.Now().UTC().Format(time.RFC3339), "velocity": s.Weekly.Velocity()},
    }})

    done := make(chan struct{})
    // read loop: consume control frames, detect close
    go func() {
        defer close(done)
        for {
            if _, _, err := conn.ReadMessage(); err != nil {
                return
            }
        }
    }()

    ticker := time.NewTicker(20 * time.Second)
    defer ticker.Stop()
    for {
        select {
        case <-done:
            return
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok {
                return
            }
            if err := conn.WriteJSON(wsMessage{Type: evt.Type, Data: evt.Data}); err != nil {
                return
            }
        case <-ticker.C:
            if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
                return
            }
        }
    }
}
