package api

import (
    "net/http"
    "strings"

    "aircargo/internal/integrations"
    "aircargo/internal/integrations/csvfeed"
)

// feed is the CSV import adapter used by the bulk endpoints.
var feed integrations.FeedAdapter = csvfeed.Adapter{}

// ImportsHandler handles POST /v1/imports/{airports,flights,shipments}
// with a text/csv body. Rows are validated by the adapter and then by
// the same checks the JSON endpoints apply.
func (s *Server) ImportsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !p.CanOperate() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }

    kind := strings.TrimPrefix(r.URL.Path, "/v1/imports/")
    switch kind {
    case "airports":
        airports, err := feed.ParseAirports(r.Body)
        if err != nil { writeProblem(w, 400, "Invalid feed", err.Error(), r.URL.Path); return }
        if err := validateAirports(airports); err != nil { writeProblem(w, 400, "Invalid airports", err.Error(), r.URL.Path); return }
        n, err := s.Store.UpsertAirports(r.Context(), airports)
        if err != nil { writeProblem(w, 500, "Upsert airports failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusAccepted, map[string]any{"adapter": feed.Name(), "imported": n})
    case "flights":
        flights, err := feed.ParseFlights(r.Body)
        if err != nil { writeProblem(w, 400, "Invalid feed", err.Error(), r.URL.Path); return }
        if err := validateTemplates(flights); err != nil { writeProblem(w, 400, "Invalid flights", err.Error(), r.URL.Path); return }
        n, err := s.Store.UpsertFlightTemplates(r.Context(), flights)
        if err != nil { writeProblem(w, 500, "Upsert flights failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusAccepted, map[string]any{"adapter": feed.Name(), "imported": n})
    case "shipments":
        in, err := feed.ParseShipments(r.Body)
        if err != nil { writeProblem(w, 400, "Invalid feed", err.Error(), r.URL.Path); return }
        airports, err := s.airportIndex(r.Context())
        if err != nil { writeProblem(w, 500, "Load airports failed", err.Error(), r.URL.Path); return }
        if err := validateShipments(in, airports); err != nil { writeProblem(w, 400, "Invalid shipments", err.Error(), r.URL.Path); return }
        imp, created, err := s.Store.CreateShipments(r.Context(), s.buildShipments(in, airports))
        if err != nil { writeProblem(w, 500, "Create shipments failed", err.Error(), r.URL.Path); return }
        writeJSON(w, http.StatusAccepted, map[string]any{"adapter": feed.Name(), "importId": imp, "created": created})
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}
