package api

import (
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"
)

func TestSimWSHelloAndEvents(t *testing.T) {
    s := newTestServer(t)
    srv := httptest.NewServer(http.HandlerFunc(s.SimWSHandler))
    defer srv.Close()

    url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sim/ws"
    conn, _, err := websocket.DefaultDialer.Dial(url, nil)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer func() { _ = conn.Close() }()

    _ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
    var hello wsMessage
    if err := conn.ReadJSON(&hello); err != nil { t.Fatalf("read hello: %v", err) }
    if hello.Type != "hello" { t.Fatalf("first frame %q, want hello", hello.Type) }

    // give the handler time to subscribe before publishing
    time.Sleep(50 * time.Millisecond)
    s.Broker.Publish("sim", SSEEvent{Type: "flight.takeoff", Data: map[string]any{"instanceId": "AC100@2026-09-01"}})

    var evt wsMessage
    if err := conn.ReadJSON(&evt); err != nil { t.Fatalf("read event: %v", err) }
    if evt.Type != "flight.takeoff" { t.Fatalf("got %q, want flight.takeoff", evt.Type) }
}
