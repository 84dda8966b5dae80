package routing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/geo"
)

// StopLeg is one appointment of a day with the leg into it.
type StopLeg struct {
	AppointmentID uuid.UUID `json:"appointment_id" yaml:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id" yaml:"patient_id"`
	StartTime     string    `json:"start_time" yaml:"start_time"`
	Duration      int       `json:"duration" yaml:"duration"`
	LegInfo       `yaml:",inline"`
}

// DayLegs is the derived travel view of one clinician day.
type DayLegs struct {
	Date         string    `json:"date" yaml:"date"`
	Stops        []StopLeg `json:"stops" yaml:"stops"`
	TotalMiles   float64   `json:"total_miles" yaml:"total_miles"`
	TotalMinutes int       `json:"total_minutes" yaml:"total_minutes"`
	Unrouted     int       `json:"unrouted" yaml:"unrouted"`
}

type dayKey struct {
	clinicianID string
	date        string
}

// LegTracker serves leg views and keeps the real distances fetched for each
// day. Any change to a day bumps its generation and drops its real distances;
// a fetch that started under an older generation is discarded on completion.
type LegTracker struct {
	store  AppointmentStore
	loc    locator
	matrix geo.DistanceMatrix
	home   *geo.Location
	logger zerolog.Logger

	mu   sync.Mutex
	gens map[dayKey]uint64
	real map[dayKey]map[uuid.UUID]RealLeg
}

// TrackerOption configures a LegTracker.
type TrackerOption func(*LegTracker)

func WithDistanceMatrix(m geo.DistanceMatrix) TrackerOption {
	return func(t *LegTracker) { t.matrix = m }
}

func WithTrackerHome(loc *geo.Location) TrackerOption {
	return func(t *LegTracker) { t.home = loc }
}

func WithTrackerLogger(l zerolog.Logger) TrackerOption {
	return func(t *LegTracker) {
		t.logger = l
		t.loc.logger = l
	}
}

func NewLegTracker(store AppointmentStore, patients PatientSource, resolver *geo.Resolver, opts ...TrackerOption) *LegTracker {
	t := &LegTracker{
		store:  store,
		loc:    locator{patients: patients, resolver: resolver, logger: zerolog.Nop()},
		logger: zerolog.Nop(),
		gens:   make(map[dayKey]uint64),
		real:   make(map[dayKey]map[uuid.UUID]RealLeg),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// AppointmentsChanged invalidates the given days.
func (t *LegTracker) AppointmentsChanged(_ context.Context, clinicianID string, dates []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range dates {
		k := dayKey{clinicianID, d}
		t.gens[k]++
		delete(t.real, k)
	}
}

// PatientMoved forgets the patient's cached coordinate and invalidates every
// known day of the clinician, since any of them may route through the
// patient.
func (t *LegTracker) PatientMoved(ctx context.Context, clinicianID string, patientID uuid.UUID) {
	if err := t.loc.resolver.Forget(ctx, patientID.String()); err != nil {
		t.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("failed to forget cached coordinate")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.gens {
		if k.clinicianID == clinicianID {
			t.gens[k]++
			delete(t.real, k)
		}
	}
}

// generation returns the day's generation, registering the day so that a
// later PatientMoved can invalidate a fetch already in flight.
func (t *LegTracker) generation(k dayKey) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.gens[k]
	t.gens[k] = g
	return g
}

func (t *LegTracker) realLegs(k dayKey) map[uuid.UUID]RealLeg {
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.real[k]
	out := make(map[uuid.UUID]RealLeg, len(src))
	for id, l := range src {
		out[id] = l
	}
	return out
}

// Legs recomputes the whole day from the current appointments, coordinates
// and any real distances on record.
func (t *LegTracker) Legs(ctx context.Context, clinicianID, date string) (*DayLegs, error) {
	appts, err := t.store.ListDay(ctx, clinicianID, date)
	if err != nil {
		return nil, fmt.Errorf("list day %s: %w", date, err)
	}
	coords := t.loc.locate(ctx, appts)
	home := t.loc.home(ctx, t.home)
	legs := ComputeLegs(appts, lookupIn(coords), home, t.realLegs(dayKey{clinicianID, date}))

	out := &DayLegs{Date: date, Stops: make([]StopLeg, 0, len(appts))}
	for _, a := range appts {
		info := legs[a.ID]
		out.Stops = append(out.Stops, StopLeg{
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			StartTime:     a.StartTime,
			Duration:      a.Duration,
			LegInfo:       info,
		})
		if _, ok := coords[a.PatientID]; !ok {
			out.Unrouted++
		}
		if info.Miles != nil {
			out.TotalMiles += *info.Miles
			out.TotalMinutes += *info.Minutes
		}
	}
	out.TotalMiles = geo.RoundMiles(out.TotalMiles)
	return out, nil
}

// Refresh fetches real driving distances for the day's current chain. It
// reports false when the distances were discarded because the day changed
// during the fetch, or when no fetch was possible.
func (t *LegTracker) Refresh(ctx context.Context, clinicianID, date string) (bool, error) {
	if t.matrix == nil {
		return false, nil
	}
	k := dayKey{clinicianID, date}
	gen := t.generation(k)

	appts, err := t.store.ListDay(ctx, clinicianID, date)
	if err != nil {
		return false, fmt.Errorf("list day %s: %w", date, err)
	}
	if len(appts) == 0 {
		return false, nil
	}
	coords := t.loc.locate(ctx, appts)
	origin, stops, ok := chain(appts, coords, t.loc.home(ctx, t.home))
	if !ok {
		t.logger.Debug().Str("date", date).Msg("day has unresolved stops, keeping estimates")
		return false, nil
	}

	legs, err := t.matrix.Distances(ctx, origin, stops)
	if err != nil {
		return false, fmt.Errorf("distance matrix: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gens[k] != gen {
		t.logger.Debug().Str("date", date).Msg("discarding distances for a changed day")
		return false, nil
	}
	fetched := make(map[uuid.UUID]RealLeg, len(legs))
	for _, l := range legs {
		id, err := uuid.Parse(l.DestinationID)
		if err != nil {
			continue
		}
		fetched[id] = RealLeg{Miles: geo.RoundMiles(l.DistanceMiles), Minutes: l.DurationMinutes}
	}
	t.real[k] = fetched
	return true, nil
}

// chain builds the distance request for a fully resolved day. Without a home
// base the first stop is the origin and has no leg.
func chain(appts []*visit.Appointment, coords map[uuid.UUID]geo.Coord, home *geo.Coord) (geo.Coord, []geo.Stop, bool) {
	stops := make([]geo.Stop, 0, len(appts))
	for _, a := range appts {
		c, ok := coords[a.PatientID]
		if !ok {
			return geo.Coord{}, nil, false
		}
		stops = append(stops, geo.Stop{ID: a.ID.String(), Coord: c})
	}
	if home != nil {
		return *home, stops, true
	}
	if len(stops) < 2 {
		return geo.Coord{}, nil, false
	}
	return stops[0].Coord, stops[1:], true
}
