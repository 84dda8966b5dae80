package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/geo"
	"github.com/homevisit/visitgrid/internal/platform/timegrid"
)

// Policy selects how routable stops are ordered.
type Policy string

const (
	// PolicyNearest repeatedly visits the closest remaining stop, starting
	// from home.
	PolicyNearest Policy = "nearest-neighbor"
	// PolicyFarthest visits stops by descending distance from home.
	PolicyFarthest Policy = "farthest-first"
)

// AnchorMinutes is the start of the first arranged visit (09:00).
const AnchorMinutes = 9 * 60

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyNearest:
		return PolicyNearest, nil
	case PolicyFarthest:
		return PolicyFarthest, nil
	}
	return "", fmt.Errorf("unknown route policy %q", s)
}

// Assignment is the planned slot of one appointment.
type Assignment struct {
	AppointmentID uuid.UUID `json:"appointment_id" yaml:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id" yaml:"patient_id"`
	From          string    `json:"from" yaml:"from"`
	To            string    `json:"to" yaml:"to"`
	Duration      int       `json:"duration" yaml:"duration"`
	Routed        bool      `json:"routed" yaml:"routed"`
	Changed       bool      `json:"changed" yaml:"changed"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// ArrangeResult reports a planned or applied arrangement.
type ArrangeResult struct {
	Date      string       `json:"date" yaml:"date"`
	Policy    Policy       `json:"policy" yaml:"policy"`
	DryRun    bool         `json:"dry_run" yaml:"dry_run"`
	Plan      []Assignment `json:"plan" yaml:"plan"`
	Updated   int          `json:"updated" yaml:"updated"`
	Unchanged int          `json:"unchanged" yaml:"unchanged"`
	Unrouted  int          `json:"unrouted" yaml:"unrouted"`
	Failed    int          `json:"failed" yaml:"failed"`
	Summary   string       `json:"summary" yaml:"summary"`
}

type Arranger struct {
	store    AppointmentStore
	loc      locator
	home     *geo.Location
	policy   Policy
	dayStart int
	logger   zerolog.Logger
}

// ArrangerOption configures an Arranger.
type ArrangerOption func(*Arranger)

func WithHome(loc *geo.Location) ArrangerOption {
	return func(a *Arranger) { a.home = loc }
}

func WithPolicy(p Policy) ArrangerOption {
	return func(a *Arranger) { a.policy = p }
}

// WithDayStart sets the earliest minute a visit may be placed at.
func WithDayStart(minutes int) ArrangerOption {
	return func(a *Arranger) { a.dayStart = minutes }
}

func WithArrangerLogger(l zerolog.Logger) ArrangerOption {
	return func(a *Arranger) {
		a.logger = l
		a.loc.logger = l
	}
}

func NewArranger(store AppointmentStore, patients PatientSource, resolver *geo.Resolver, opts ...ArrangerOption) *Arranger {
	a := &Arranger{
		store:  store,
		loc:    locator{patients: patients, resolver: resolver, logger: zerolog.Nop()},
		policy: PolicyNearest,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Plan computes the arrangement of a day without writing it.
func (a *Arranger) Plan(ctx context.Context, clinicianID, date string) (*ArrangeResult, error) {
	appts, err := a.store.ListDay(ctx, clinicianID, date)
	if err != nil {
		return nil, fmt.Errorf("list day %s: %w", date, err)
	}
	res := &ArrangeResult{Date: date, Policy: a.policy, DryRun: true}
	if len(appts) < 2 {
		// No route is computed, so nothing is reported as routed.
		res.Summary = "nothing to arrange"
		res.Unchanged = len(appts)
		for _, ap := range appts {
			res.Plan = append(res.Plan, Assignment{AppointmentID: ap.ID, PatientID: ap.PatientID,
				From: ap.StartTime, To: ap.StartTime, Duration: ap.Duration})
		}
		return res, nil
	}

	coords := a.loc.locate(ctx, appts)
	var routable, unroutable []*visit.Appointment
	for _, ap := range appts {
		if _, ok := coords[ap.PatientID]; ok {
			routable = append(routable, ap)
		} else {
			unroutable = append(unroutable, ap)
		}
	}
	home := a.loc.home(ctx, a.home)
	ordered := orderStops(a.policy, routable, coords, home)

	cursor := max(AnchorMinutes, timegrid.SnapToSlot(a.dayStart))
	for i, ap := range append(ordered, unroutable...) {
		start := max(timegrid.SnapToSlot(cursor), a.dayStart)
		as := Assignment{
			AppointmentID: ap.ID,
			PatientID:     ap.PatientID,
			From:          ap.StartTime,
			Duration:      ap.Duration,
			Routed:        i < len(ordered),
		}
		if start+ap.Duration > timegrid.MinutesPerDay {
			as.To = ap.StartTime
			as.Error = "does not fit before midnight"
		} else {
			as.To = timegrid.MinutesToTime(start)
			as.Changed = as.To != ap.StartTime
		}
		res.Plan = append(res.Plan, as)
		cursor = start + ap.Duration
	}
	res.Unrouted = len(unroutable)
	a.summarise(res)
	return res, nil
}

// ArrangeDay reorders and retimes a day's appointments to shorten travel.
// Writes are skipped for appointments whose slot does not change; a failed
// write is recorded and the rest of the day is still processed.
func (a *Arranger) ArrangeDay(ctx context.Context, clinicianID, date string) (*ArrangeResult, error) {
	res, err := a.Plan(ctx, clinicianID, date)
	if err != nil {
		return nil, err
	}
	res.DryRun = false
	for i := range res.Plan {
		as := &res.Plan[i]
		if !as.Changed || as.Error != "" {
			continue
		}
		if err := a.store.MoveAppointment(ctx, as.AppointmentID, date, as.To); err != nil {
			as.Error = err.Error()
			a.logger.Warn().Err(err).Str("appointment_id", as.AppointmentID.String()).
				Str("date", date).Msg("arrange write failed")
		}
	}
	a.summarise(res)
	if res.Failed > 0 {
		a.logger.Warn().Str("clinician_id", clinicianID).Str("date", date).
			Int("failed", res.Failed).Msg("arrange incomplete")
	}
	return res, nil
}

func (a *Arranger) summarise(res *ArrangeResult) {
	res.Updated, res.Unchanged, res.Failed = 0, 0, 0
	for _, as := range res.Plan {
		switch {
		case as.Error != "":
			res.Failed++
		case as.Changed:
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	res.Summary = fmt.Sprintf("arranged %d of %d", res.Updated+res.Unchanged, len(res.Plan))
	if res.Unrouted > 0 {
		res.Summary += fmt.Sprintf("; %d unrouted", res.Unrouted)
	}
	if res.Failed > 0 {
		res.Summary += "; press again"
	}
}

// orderStops orders the routable appointments, which arrive in time order.
func orderStops(policy Policy, appts []*visit.Appointment, coords map[uuid.UUID]geo.Coord, home *geo.Coord) []*visit.Appointment {
	if len(appts) < 2 {
		return appts
	}
	switch policy {
	case PolicyFarthest:
		return farthestFirst(appts, coords, home)
	default:
		return nearestNeighbor(appts, coords, home)
	}
}

// nearestNeighbor walks from home to the closest unvisited stop each step.
// Ties go to the earlier scheduled stop. Without a home base the walk starts
// at the earliest stop.
func nearestNeighbor(appts []*visit.Appointment, coords map[uuid.UUID]geo.Coord, home *geo.Coord) []*visit.Appointment {
	remaining := make([]*visit.Appointment, len(appts))
	copy(remaining, appts)
	out := make([]*visit.Appointment, 0, len(appts))

	var cur geo.Coord
	if home != nil {
		cur = *home
	} else {
		out = append(out, remaining[0])
		cur = coords[remaining[0].PatientID]
		remaining = remaining[1:]
	}
	for len(remaining) > 0 {
		best := 0
		bestMiles := geo.GreatCircleMiles(cur, coords[remaining[0].PatientID])
		for i := 1; i < len(remaining); i++ {
			if d := geo.GreatCircleMiles(cur, coords[remaining[i].PatientID]); d < bestMiles {
				best, bestMiles = i, d
			}
		}
		next := remaining[best]
		out = append(out, next)
		cur = coords[next.PatientID]
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return out
}

// farthestFirst sorts by descending distance from home, keeping time order
// for ties or when home is unknown.
func farthestFirst(appts []*visit.Appointment, coords map[uuid.UUID]geo.Coord, home *geo.Coord) []*visit.Appointment {
	out := make([]*visit.Appointment, len(appts))
	copy(out, appts)
	if home == nil {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return geo.GreatCircleMiles(*home, coords[out[i].PatientID]) > geo.GreatCircleMiles(*home, coords[out[j].PatientID])
	})
	return out
}
