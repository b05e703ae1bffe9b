package model

import (
	"fmt"
	"time"
)

// ParseLocalClock parses "HH:MM" into hours and minutes.
func ParseLocalClock(s string) (h, m int, err error) {
	if _, err = fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("bad clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("bad clock %q", s)
	}
	return h, m, nil
}

// InstanceID derives the id of a template's instance on a given day.
func InstanceID(templateID string, day time.Time) string {
	return templateID + "@" + day.UTC().Format("2006-01-02")
}

// Materialize produces one FlightInstance per template per calendar day
// whose departure falls in [from, to). Local times-of-day are resolved
// against each airport's fixed UTC offset; an arrival clock earlier
// than the departure clock lands the following day.
func Materialize(templates []FlightTemplate, airports map[string]Airport, from, to time.Time) []FlightInstance {
	out := []FlightInstance{}
	day := from.UTC().Truncate(24 * time.Hour)
	for !day.After(to) {
		for _, t := range templates {
			inst, err := MaterializeOn(t, airports, day)
			if err != nil {
				continue
			}
			if inst.Departure.Before(from) || !inst.Departure.Before(to) {
				continue
			}
			out = append(out, inst)
		}
		day = day.Add(24 * time.Hour)
	}
	return out
}

// MaterializeOn materializes a single template on a UTC calendar day.
func MaterializeOn(t FlightTemplate, airports map[string]Airport, day time.Time) (FlightInstance, error) {
	org, ok := airports[t.Origin]
	if !ok {
		return FlightInstance{}, fmt.Errorf("unknown origin %s", t.Origin)
	}
	dst, ok := airports[t.Destination]
	if !ok {
		return FlightInstance{}, fmt.Errorf("unknown destination %s", t.Destination)
	}
	dh, dm, err := ParseLocalClock(t.DepLocal)
	if err != nil {
		return FlightInstance{}, err
	}
	ah, am, err := ParseLocalClock(t.ArrLocal)
	if err != nil {
		return FlightInstance{}, err
	}
	day = day.UTC().Truncate(24 * time.Hour)
	dep := day.Add(time.Duration(dh)*time.Hour + time.Duration(dm)*time.Minute).
		Add(-time.Duration(org.TZOffsetMin) * time.Minute)
	arr := day.Add(time.Duration(ah)*time.Hour + time.Duration(am)*time.Minute).
		Add(-time.Duration(dst.TZOffsetMin) * time.Minute)
	for !arr.After(dep) {
		arr = arr.Add(24 * time.Hour)
	}
	return FlightInstance{
		ID:          InstanceID(t.ID, day),
		TemplateID:  t.ID,
		Origin:      t.Origin,
		Destination: t.Destination,
		Departure:   dep,
		Arrival:     arr,
		CapacityMax: t.CapacityMax,
	}, nil
}

// DeriveDeadline picks the domestic or international offset depending
// on whether every candidate origin shares the destination's continent.
func DeriveDeadline(ingest time.Time, origins []string, destination string, airports map[string]Airport, domestic, international time.Duration) time.Time {
	dst, ok := airports[destination]
	if !ok {
		return ingest.Add(international)
	}
	for _, o := range origins {
		org, ok := airports[o]
		if !ok || org.Continent != dst.Continent {
			return ingest.Add(international)
		}
	}
	return ingest.Add(domestic)
}
