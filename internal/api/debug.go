package api

import (
    "encoding/json"
    "net/http"
    "os"
    "time"

    "aircargo/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    running, lastRun, lastSol := s.Planner.Status()
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "clocks": map[string]any{
            "live":   map[string]any{"now": s.Live.Now().UTC().Format(time.RFC3339), "velocity": s.Live.Velocity()},
            "weekly": map[string]any{"now": s.Weekly.Now().UTC().Format(time.RFC3339), "velocity": s.Weekly.Velocity()},
        },
        "planner": map[string]any{"running": running, "lastRun": lastRun, "lastSolution": lastSol},
        "config": map[string]any{
            "PORT":                 os.Getenv("PORT"),
            "AUTH_MODE":            os.Getenv("AUTH_MODE"),
            "RATE_RPS":             os.Getenv("RATE_RPS"),
            "RATE_BURST":           os.Getenv("RATE_BURST"),
            "WEBHOOK_MAX_ATTEMPTS": os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
            "HAS_DATABASE_URL":     os.Getenv("DATABASE_URL") != "",
            "HAS_REDIS_URL":        os.Getenv("REDIS_URL") != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
