package routing

import (
	"github.com/google/uuid"

	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/geo"
)

// LegInfo is the travel leg into one appointment. Miles and Minutes are nil
// when either end of the leg is unresolved.
type LegInfo struct {
	Miles          *float64 `json:"miles" yaml:"miles"`
	Minutes        *int     `json:"minutes" yaml:"minutes"`
	FromHome       bool     `json:"from_home" yaml:"from_home"`
	IsRealDistance bool     `json:"is_real_distance" yaml:"is_real_distance"`
}

// RealLeg is a routed driving distance reported by the distance service.
type RealLeg struct {
	Miles   float64 `json:"miles"`
	Minutes int     `json:"minutes"`
}

// CoordLookup returns the resolved coordinate of a patient.
type CoordLookup func(patientID uuid.UUID) (geo.Coord, bool)

// ComputeLegs derives the leg into every appointment. Each day is walked in
// start order; the first stop of a day is reached from home. A real leg
// recorded for an appointment wins over the estimate.
func ComputeLegs(appts []*visit.Appointment, coords CoordLookup, home *geo.Coord, realLegs map[uuid.UUID]RealLeg) map[uuid.UUID]LegInfo {
	out := make(map[uuid.UUID]LegInfo, len(appts))
	for _, day := range byDay(appts) {
		var prev *geo.Coord
		if home != nil && home.Valid() {
			h := *home
			prev = &h
		}
		for i, a := range day {
			info := LegInfo{FromHome: i == 0}
			cur, ok := lookup(coords, a.PatientID)

			if r, hasReal := realLegs[a.ID]; hasReal {
				miles, minutes := r.Miles, r.Minutes
				info.Miles, info.Minutes, info.IsRealDistance = &miles, &minutes, true
			} else if ok && prev != nil {
				miles := geo.RoundMiles(geo.GreatCircleMiles(*prev, cur))
				minutes := geo.EstimateDriveMinutes(miles)
				info.Miles, info.Minutes = &miles, &minutes
			}
			out[a.ID] = info

			if ok {
				c := cur
				prev = &c
			} else {
				prev = nil
			}
		}
	}
	return out
}

func lookup(coords CoordLookup, patientID uuid.UUID) (geo.Coord, bool) {
	if coords == nil {
		return geo.Coord{}, false
	}
	c, ok := coords(patientID)
	if !ok || !c.Valid() {
		return geo.Coord{}, false
	}
	return c, true
}

// byDay splits appointments into per-date slices sorted by start, dates
// ascending.
func byDay(appts []*visit.Appointment) [][]*visit.Appointment {
	sorted := make([]*visit.Appointment, len(appts))
	copy(sorted, appts)
	visit.SortByStart(sorted)

	var days [][]*visit.Appointment
	for i, a := range sorted {
		if i == 0 || a.Date != sorted[i-1].Date {
			days = append(days, nil)
		}
		days[len(days)-1] = append(days[len(days)-1], a)
	}
	return days
}
