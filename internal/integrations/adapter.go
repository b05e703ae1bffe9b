// Package integrations defines the ingest surface for external network
// and shipment feeds. Adapters validate and normalize rows before
// anything reaches the store; the core never sees malformed input.
package integrations

import (
    "fmt"
    "io"

    "aircargo/internal/model"
)

// FeedAdapter parses an external feed format into domain entities.
type FeedAdapter interface {
    Name() string
    ParseAirports(r io.Reader) ([]model.Airport, error)
    ParseFlights(r io.Reader) ([]model.FlightTemplate, error)
    ParseShipments(r io.Reader) ([]model.ShipmentIn, error)
}

// RowError reports a rejected feed row with its 1-based line number.
type RowError struct {
    Line   int
    Reason string
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Reason) }
