package api

import (
    "fmt"

    "aircargo/internal/model"
)

func validateAirports(airports []model.Airport) error {
    for i, a := range airports {
        if a.ID == "" {
            return fmt.Errorf("airport %d: missing id", i)
        }
        if a.CapacityMax <= 0 {
            return fmt.Errorf("airport %s: capacityMax must be > 0", a.ID)
        }
        if a.TZOffsetMin < -12*60 || a.TZOffsetMin > 14*60 {
            return fmt.Errorf("airport %s: tzOffsetMin out of range", a.ID)
        }
    }
    return nil
}

func validateTemplates(templates []model.FlightTemplate) error {
    for i, t := range templates {
        if t.ID == "" {
            return fmt.Errorf("template %d: missing id", i)
        }
        if t.Origin == "" || t.Destination == "" || t.Origin == t.Destination {
            return fmt.Errorf("template %s: bad origin/destination", t.ID)
        }
        if t.CapacityMax <= 0 {
            return fmt.Errorf("template %s: capacityMax must be > 0", t.ID)
        }
        if _, _, err := model.ParseLocalClock(t.DepLocal); err != nil {
            return fmt.Errorf("template %s: %v", t.ID, err)
        }
        if _, _, err := model.ParseLocalClock(t.ArrLocal); err != nil {
            return fmt.Errorf("template %s: %v", t.ID, err)
        }
    }
    return nil
}

// validateShipments checks write-model shipments against the known
// airports: every candidate origin must be a hub, the destination must
// exist and quantity must be positive.
func validateShipments(in []model.ShipmentIn, airports map[string]model.Airport) error {
    for i, sh := range in {
        if len(sh.Origins) == 0 {
            return fmt.Errorf("shipment %d: at least one origin required", i)
        }
        if sh.Quantity <= 0 {
            return fmt.Errorf("shipment %d: quantity must be > 0", i)
        }
        dst, ok := airports[sh.Destination]
        if !ok {
            return fmt.Errorf("shipment %d: unknown destination %s", i, sh.Destination)
        }
        for _, o := range sh.Origins {
            org, ok := airports[o]
            if !ok {
                return fmt.Errorf("shipment %d: unknown origin %s", i, o)
            }
            if !org.Hub {
                return fmt.Errorf("shipment %d: origin %s is not a hub", i, o)
            }
            if o == dst.ID {
                return fmt.Errorf("shipment %d: origin equals destination", i)
            }
        }
    }
    return nil
}
