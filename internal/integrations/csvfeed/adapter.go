// Package csvfeed parses CSV exports of the airport network, the daily
// flight schedule and shipment batches.
package csvfeed

import (
    "encoding/csv"
    "fmt"
    "io"
    "strconv"
    "strings"
    "time"

    "aircargo/internal/integrations"
    "aircargo/internal/model"
)

// Adapter implements integrations.FeedAdapter for CSV files with a
// header row. Column order is fixed per feed; extra columns are
// rejected so silently truncated exports surface early.
type Adapter struct{}

func (Adapter) Name() string { return "csv" }

var airportHeader = []string{"id", "name", "continent", "tz_offset_min", "lat", "lng", "capacity", "hub"}

func (Adapter) ParseAirports(r io.Reader) ([]model.Airport, error) {
    rows, err := readAll(r, airportHeader)
    if err != nil {
        return nil, err
    }
    out := make([]model.Airport, 0, len(rows))
    for i, rec := range rows {
        line := i + 2 // after header
        tz, err := strconv.Atoi(rec[3])
        if err != nil {
            return nil, integrations.RowError{Line: line, Reason: "bad tz_offset_min " + rec[3]}
        }
        lat, err1 := strconv.ParseFloat(rec[4], 64)
        lng, err2 := strconv.ParseFloat(rec[5], 64)
        if err1 != nil || err2 != nil {
            return nil, integrations.RowError{Line: line, Reason: "bad lat/lng"}
        }
        cap, err := strconv.Atoi(rec[6])
        if err != nil || cap <= 0 {
            return nil, integrations.RowError{Line: line, Reason: "bad capacity " + rec[6]}
        }
        out = append(out, model.Airport{
            ID:          strings.ToUpper(strings.TrimSpace(rec[0])),
            Name:        rec[1],
            Continent:   strings.ToUpper(rec[2]),
            TZOffsetMin: tz,
            Lat:         lat,
            Lng:         lng,
            CapacityMax: cap,
            Hub:         parseBool(rec[7]),
        })
    }
    return out, nil
}

var flightHeader = []string{"id", "origin", "destination", "dep_local", "arr_local", "capacity"}

func (Adapter) ParseFlights(r io.Reader) ([]model.FlightTemplate, error) {
    rows, err := readAll(r, flightHeader)
    if err != nil {
        return nil, err
    }
    out := make([]model.FlightTemplate, 0, len(rows))
    for i, rec := range rows {
        line := i + 2
        if _, _, err := model.ParseLocalClock(rec[3]); err != nil {
            return nil, integrations.RowError{Line: line, Reason: err.Error()}
        }
        if _, _, err := model.ParseLocalClock(rec[4]); err != nil {
            return nil, integrations.RowError{Line: line, Reason: err.Error()}
        }
        cap, err := strconv.Atoi(rec[5])
        if err != nil || cap <= 0 {
            return nil, integrations.RowError{Line: line, Reason: "bad capacity " + rec[5]}
        }
        out = append(out, model.FlightTemplate{
            ID:          strings.TrimSpace(rec[0]),
            Origin:      strings.ToUpper(strings.TrimSpace(rec[1])),
            Destination: strings.ToUpper(strings.TrimSpace(rec[2])),
            DepLocal:    rec[3],
            ArrLocal:    rec[4],
            CapacityMax: cap,
        })
    }
    return out, nil
}

var shipmentHeader = []string{"origins", "destination", "quantity", "ingest"}

// ParseShipments reads shipment rows. Origins are pipe-separated
// candidate hubs; ingest is optional RFC3339 and defaults to the
// receiver's clock when empty.
func (Adapter) ParseShipments(r io.Reader) ([]model.ShipmentIn, error) {
    rows, err := readAll(r, shipmentHeader)
    if err != nil {
        return nil, err
    }
    out := make([]model.ShipmentIn, 0, len(rows))
    for i, rec := range rows {
        line := i + 2
        origins := []string{}
        for _, o := range strings.Split(rec[0], "|") {
            if o = strings.ToUpper(strings.TrimSpace(o)); o != "" {
                origins = append(origins, o)
            }
        }
        if len(origins) == 0 {
            return nil, integrations.RowError{Line: line, Reason: "no origins"}
        }
        qty, err := strconv.Atoi(rec[2])
        if err != nil || qty <= 0 {
            return nil, integrations.RowError{Line: line, Reason: "bad quantity " + rec[2]}
        }
        in := model.ShipmentIn{
            Origins:     origins,
            Destination: strings.ToUpper(strings.TrimSpace(rec[1])),
            Quantity:    qty,
        }
        if rec[3] != "" {
            ts, err := time.Parse(time.RFC3339, rec[3])
            if err != nil {
                return nil, integrations.RowError{Line: line, Reason: "bad ingest " + rec[3]}
            }
            in.Ingest = &ts
        }
        out = append(out, in)
    }
    return out, nil
}

func readAll(r io.Reader, header []string) ([][]string, error) {
    cr := csv.NewReader(r)
    cr.FieldsPerRecord = len(header)
    cr.TrimLeadingSpace = true
    rows, err := cr.ReadAll()
    if err != nil {
        return nil, err
    }
    if len(rows) == 0 {
        return nil, fmt.Errorf("empty feed, expected header %s", strings.Join(header, ","))
    }
    for i, col := range rows[0] {
        if !strings.EqualFold(strings.TrimSpace(col), header[i]) {
            return nil, fmt.Errorf("unexpected column %q, want %q", col, header[i])
        }
    }
    return rows[1:], nil
}

func parseBool(s string) bool {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "1", "true", "yes", "y":
        return true
    }
    return false
}
