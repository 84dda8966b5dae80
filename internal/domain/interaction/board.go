// Package interaction is the gesture state machine behind the schedule
// board: pointer drag, edge resize, long-press create, click-to-place and
// touch drag. A Board holds at most one session at a time and applies
// mutations optimistically to its own copy of the week before writing them
// through the Store.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homevisit/visitgrid/internal/domain/visit"
	"github.com/homevisit/visitgrid/internal/platform/timegrid"
)

// Gesture timings and thresholds.
const (
	LongPressDelay   = 350 * time.Millisecond
	TouchActivation  = 200 * time.Millisecond
	ClickSuppression = 250 * time.Millisecond
	MoveThreshold    = 10.0 // px
)

var (
	ErrNoSession          = errors.New("no matching interaction session")
	ErrUnknownAppointment = errors.New("appointment is not on this board")
	ErrOffBoard           = errors.New("date is not on this board")
	ErrInvalidInput       = errors.New("invalid input")
)

type State string

const (
	StateIdle             State = "idle"
	StateDragging         State = "dragging"
	StateResizing         State = "resizing"
	StatePendingPlacement State = "pending_placement"
	StateTouchPending     State = "touch_pending"
	StateTouchActive      State = "touch_active"
)

type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
)

type Mode string

const (
	ModeMove Mode = "move"
	ModeCopy Mode = "copy"
)

// Notice kinds.
const (
	NoticeCreate = "create" // open the create flow for Date/StartTime
	NoticeHaptic = "haptic" // touch drag activated
	NoticeError  = "error"  // a store write failed
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Preview is the not-yet-persisted drop target of a drag.
type Preview struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
}

// Override is the transient geometry of a block being resized.
type Override struct {
	StartTime string `json:"start_time"`
	Duration  int    `json:"duration"`
}

// Notice is a user-facing event produced by the board.
type Notice struct {
	Kind          string     `json:"kind"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	Date          string     `json:"date,omitempty"`
	StartTime     string     `json:"start_time,omitempty"`
	Message       string     `json:"message,omitempty"`
	At            time.Time  `json:"at"`
}

// Store is the write path for committed gestures. visit.Service satisfies it.
type Store interface {
	ListAppointments(ctx context.Context, clinicianID, from, to string) ([]*visit.Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, date, start string) error
	ResizeAppointment(ctx context.Context, id uuid.UUID, start string, duration int) error
	CopyAppointment(ctx context.Context, id uuid.UUID, date, start string) (*visit.Appointment, error)
}

// NoticeSink receives every notice as it is raised.
type NoticeSink interface {
	BoardNotice(ctx context.Context, boardID uuid.UUID, n Notice)
}

type session struct {
	state        State
	id           uuid.UUID
	edge         Edge
	mode         Mode
	origin       Point
	initStart    int
	initDuration int
	timer        Timer
}

type press struct {
	date   string
	start  int
	origin Point
	timer  Timer
}

const (
	opMove   = "move"
	opResize = "resize"
	opCopy   = "copy"
)

type mutation struct {
	op       string
	id       uuid.UUID
	date     string
	start    string
	duration int

	provisional uuid.UUID // local id of an optimistic copy
}

// Board is one clinician's week under direct manipulation.
type Board struct {
	ID          uuid.UUID
	ClinicianID string
	Dates       []string

	grid          timegrid.Grid
	store         Store
	sink          NoticeSink
	clock         Clock
	logger        zerolog.Logger
	clickToCreate bool

	mu            sync.Mutex
	appts         map[uuid.UUID]*visit.Appointment
	sess          session
	gen           uint64
	press         *press
	pressGen      uint64
	preview       *Preview
	ghost         *Point
	overrides     map[uuid.UUID]Override
	suppressed    bool
	suppressGen   uint64
	suppressTimer Timer
	notices       []Notice
	scroll        viewport
	stale         bool
	lastUsed      time.Time
}

// BoardOption configures a Board.
type BoardOption func(*Board)

func WithGrid(g timegrid.Grid) BoardOption {
	return func(b *Board) { b.grid = g }
}

func WithClock(c Clock) BoardOption {
	return func(b *Board) { b.clock = c }
}

func WithNoticeSink(s NoticeSink) BoardOption {
	return func(b *Board) { b.sink = s }
}

// WithClickToCreate makes a plain slot click open the create flow.
func WithClickToCreate(on bool) BoardOption {
	return func(b *Board) { b.clickToCreate = on }
}

func WithLogger(l zerolog.Logger) BoardOption {
	return func(b *Board) { b.logger = l }
}

// Open loads the week starting at weekStart into a new board.
func Open(ctx context.Context, store Store, clinicianID, weekStart string, opts ...BoardOption) (*Board, error) {
	dates, err := visit.WeekDates(weekStart)
	if err != nil {
		return nil, fmt.Errorf("%w: week_start must be YYYY-MM-DD", ErrInvalidInput)
	}
	b := &Board{
		ID:          uuid.New(),
		ClinicianID: clinicianID,
		Dates:       dates,
		grid:        timegrid.New(0, timegrid.MinutesPerDay, 20),
		store:       store,
		clock:       realClock{},
		logger:      zerolog.Nop(),
		appts:       make(map[uuid.UUID]*visit.Appointment),
		overrides:   make(map[uuid.UUID]Override),
		sess:        session{state: StateIdle},
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.With().Str("board", b.ID.String()).Logger()
	if err := b.Refresh(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Refresh reloads the week from the store. Transient session state is kept.
func (b *Board) Refresh(ctx context.Context) error {
	list, err := b.store.ListAppointments(ctx, b.ClinicianID, b.Dates[0], b.Dates[len(b.Dates)-1])
	if err != nil {
		return fmt.Errorf("load board appointments: %w", err)
	}
	appts := make(map[uuid.UUID]*visit.Appointment, len(list))
	for _, a := range list {
		appts[a.ID] = a.Clone()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.appts = appts
	b.stale = false
	b.lastUsed = b.clock.Now()
	return nil
}

// MarkStale flags the board for reload before its next use.
func (b *Board) MarkStale() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stale = true
}

func (b *Board) Stale() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stale
}

// State returns the current session state.
func (b *Board) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess.state
}

// Appointment returns the board's local copy of an appointment.
func (b *Board) Appointment(id uuid.UUID) (*visit.Appointment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.appts[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// ---------------------------------------------------------------------------
// Pointer drag
// ---------------------------------------------------------------------------

// BeginDrag starts moving an appointment. The preview starts on the
// appointment's current slot.
func (b *Board) BeginDrag(id uuid.UUID, origin Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.appts[id]
	if !ok {
		return ErrUnknownAppointment
	}
	b.teardownLocked()
	b.sess = session{state: StateDragging, id: id, origin: origin}
	b.preview = &Preview{AppointmentID: id, Date: a.Date, StartTime: a.StartTime}
	return nil
}

// DragOver moves the preview to the slot under y in the date's column.
func (b *Board) DragOver(date string, y, zoom float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.state != StateDragging {
		return ErrNoSession
	}
	return b.previewLocked(date, y, zoom)
}

// Drop ends the drag on the slot under y. It reports whether a move was
// issued; dropping onto the current slot issues nothing.
func (b *Board) Drop(ctx context.Context, date string, y, zoom float64) (bool, error) {
	b.mu.Lock()
	if b.sess.state != StateDragging {
		b.mu.Unlock()
		return false, ErrNoSession
	}
	id := b.sess.id
	b.teardownLocked()
	b.suppressLocked()
	m, err := b.placeLocked(id, date, b.grid.PixelYToSlotStart(y, zoom))
	b.mu.Unlock()
	if err != nil || m == nil {
		return false, err
	}
	return true, b.commit(ctx, m)
}

func (b *Board) CancelDrag() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.state == StateDragging {
		b.teardownLocked()
	}
}

// ---------------------------------------------------------------------------
// Edge resize
// ---------------------------------------------------------------------------

// BeginResize grabs the top or bottom edge of an appointment at pointerY.
func (b *Board) BeginResize(id uuid.UUID, edge Edge, pointerY float64) error {
	if edge != EdgeTop && edge != EdgeBottom {
		return fmt.Errorf("%w: unknown edge %q", ErrInvalidInput, edge)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.appts[id]
	if !ok {
		return ErrUnknownAppointment
	}
	b.teardownLocked()
	b.sess = session{
		state:        StateResizing,
		id:           id,
		edge:         edge,
		origin:       Point{Y: pointerY},
		initStart:    a.StartMinutes(),
		initDuration: a.Duration,
	}
	b.overrides[id] = Override{StartTime: a.StartTime, Duration: a.Duration}
	return nil
}

// ResizeMove updates the render override for the pointer's new position.
func (b *Board) ResizeMove(pointerY, zoom float64) (Override, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.state != StateResizing {
		return Override{}, ErrNoSession
	}
	slots := slotDelta(pointerY-b.sess.origin.Y, b.grid.ScaledSlotHeight(zoom))
	start, dur := resizeTo(b.grid, b.sess.edge, b.sess.initStart, b.sess.initDuration, slots)
	ov := Override{StartTime: timegrid.MinutesToTime(start), Duration: dur}
	b.overrides[b.sess.id] = ov
	return ov, nil
}

// EndResize commits the override if it differs from where the gesture began.
func (b *Board) EndResize(ctx context.Context) (bool, error) {
	b.mu.Lock()
	if b.sess.state != StateResizing {
		b.mu.Unlock()
		return false, ErrNoSession
	}
	id := b.sess.id
	ov := b.overrides[id]
	initStart, initDur := b.sess.initStart, b.sess.initDuration
	b.teardownLocked()
	b.suppressLocked()

	a, ok := b.appts[id]
	if !ok || (timegrid.TimeToMinutes(ov.StartTime) == initStart && ov.Duration == initDur) {
		b.mu.Unlock()
		return false, nil
	}
	a.StartTime, a.Duration = ov.StartTime, ov.Duration
	b.mu.Unlock()

	return true, b.commit(ctx, &mutation{op: opResize, id: id, start: ov.StartTime, duration: ov.Duration})
}

func (b *Board) CancelResize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.state == StateResizing {
		b.teardownLocked()
	}
}

// slotDelta converts a pointer displacement into whole slots, bounded to a
// day either way.
func slotDelta(dy, slotHeight float64) int {
	f := math.Round(dy / slotHeight)
	limit := float64(timegrid.MinutesPerDay / timegrid.SlotMinutes)
	switch {
	case math.IsNaN(f):
		return 0
	case f > limit:
		f = limit
	case f < -limit:
		f = -limit
	}
	return int(f)
}

// resizeTo applies a slot delta to one edge. The top edge keeps the end
// fixed and never starts before DayStart; the bottom edge never ends after
// DayEnd. An appointment already outside the window is bounded by its own
// edge instead, so no displacement means no change. Neither edge goes below
// one slot, which wins over the window bounds.
func resizeTo(g timegrid.Grid, edge Edge, start, duration, slots int) (int, int) {
	if slots == 0 {
		return start, duration
	}
	delta := slots * timegrid.SlotMinutes
	if edge == EdgeTop {
		end := start + duration
		s := timegrid.SnapToSlot(start + delta)
		s = max(s, min(start, g.DayStart))
		s = min(s, end-timegrid.SlotMinutes)
		return s, end - s
	}
	d := timegrid.SnapToSlot(duration + delta)
	d = min(d, max(g.DayEnd-start, duration))
	d = max(d, timegrid.SlotMinutes)
	return start, d
}

// ---------------------------------------------------------------------------
// Long-press create
// ---------------------------------------------------------------------------

// PressSlot starts the long-press timer on an empty slot. It is ignored
// while another gesture is in progress.
func (b *Board) PressSlot(date string, p Point, zoom float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasDate(date) {
		return ErrOffBoard
	}
	if b.sess.state != StateIdle {
		return nil
	}
	b.cancelPressLocked()
	b.pressGen++
	g := b.pressGen
	b.press = &press{date: date, start: b.grid.PixelYToSlotStart(p.Y, zoom), origin: p}
	b.press.timer = b.clock.AfterFunc(LongPressDelay, func() { b.firePress(g) })
	return nil
}

func (b *Board) firePress(g uint64) {
	b.mu.Lock()
	if b.press == nil || b.pressGen != g {
		b.mu.Unlock()
		return
	}
	pr := b.press
	b.press = nil
	// the release that follows the hold must not also count as a click
	b.suppressLocked()
	b.mu.Unlock()

	b.notify(context.Background(), Notice{Kind: NoticeCreate, Date: pr.date, StartTime: timegrid.MinutesToTime(pr.start)})
}

// PointerMove cancels a pending long-press once the pointer strays.
func (b *Board) PointerMove(p Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.press != nil && p.dist(b.press.origin) > MoveThreshold {
		b.cancelPressLocked()
	}
}

// ReleaseSlot ends a press. Before the threshold it has no effect.
func (b *Board) ReleaseSlot() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelPressLocked()
}

// ---------------------------------------------------------------------------
// Click-to-place
// ---------------------------------------------------------------------------

type ClickOutcome string

const (
	ClickSuppressed ClickOutcome = "suppressed"
	ClickIgnored    ClickOutcome = "ignored"
	ClickCreate     ClickOutcome = "create"
	ClickPlaced     ClickOutcome = "placed"
	ClickUnchanged  ClickOutcome = "unchanged"
)

// ArmPlacement makes the next slot click move or copy the appointment.
func (b *Board) ArmPlacement(id uuid.UUID, mode Mode) error {
	if mode != ModeMove && mode != ModeCopy {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, mode)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.appts[id]; !ok {
		return ErrUnknownAppointment
	}
	b.teardownLocked()
	b.sess = session{state: StatePendingPlacement, id: id, mode: mode}
	return nil
}

func (b *Board) Disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess.state == StatePendingPlacement {
		b.teardownLocked()
	}
}

// ClickSlot handles a plain click on a slot.
func (b *Board) ClickSlot(ctx context.Context, date string, y, zoom float64) (ClickOutcome, error) {
	b.mu.Lock()
	if b.suppressed {
		b.mu.Unlock()
		return ClickSuppressed, nil
	}
	if !b.hasDate(date) {
		b.mu.Unlock()
		return "", ErrOffBoard
	}
	start := b.grid.PixelYToSlotStart(y, zoom)

	switch b.sess.state {
	case StatePendingPlacement:
		id, mode := b.sess.id, b.sess.mode
		b.teardownLocked()
		var m *mutation
		var err error
		if mode == ModeCopy {
			m, err = b.copyLocked(id, date, start)
		} else {
			m, err = b.placeLocked(id, date, start)
		}
		b.mu.Unlock()
		if err != nil {
			return "", err
		}
		if m == nil {
			return ClickUnchanged, nil
		}
		return ClickPlaced, b.commit(ctx, m)
	case StateIdle:
		create := b.clickToCreate
		b.mu.Unlock()
		if !create {
			return ClickIgnored, nil
		}
		b.notify(ctx, Notice{Kind: NoticeCreate, Date: date, StartTime: timegrid.MinutesToTime(start)})
		return ClickCreate, nil
	default:
		b.mu.Unlock()
		return ClickIgnored, nil
	}
}

// ---------------------------------------------------------------------------
// Touch drag
// ---------------------------------------------------------------------------

// TouchStart begins a touch on an appointment. Holding still for
// TouchActivation turns it into a drag.
func (b *Board) TouchStart(id uuid.UUID, p Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.appts[id]; !ok {
		return ErrUnknownAppointment
	}
	b.teardownLocked()
	g := b.gen
	b.sess = session{state: StateTouchPending, id: id, origin: p}
	b.sess.timer = b.clock.AfterFunc(TouchActivation, func() { b.activateTouch(g) })
	return nil
}

func (b *Board) activateTouch(g uint64) {
	b.mu.Lock()
	if b.gen != g || b.sess.state != StateTouchPending {
		b.mu.Unlock()
		return
	}
	id := b.sess.id
	a, ok := b.appts[id]
	if !ok {
		b.teardownLocked()
		b.mu.Unlock()
		return
	}
	b.sess.state = StateTouchActive
	b.sess.timer = nil
	b.preview = &Preview{AppointmentID: id, Date: a.Date, StartTime: a.StartTime}
	ghost := b.sess.origin
	b.ghost = &ghost
	b.mu.Unlock()

	b.notify(context.Background(), Notice{Kind: NoticeHaptic, AppointmentID: &id})
}

// TouchMove follows the finger. It reports whether the touch is captured
// as a drag, in which case the page must not scroll. Moving past
// MoveThreshold before activation abandons the drag in favour of scrolling.
func (b *Board) TouchMove(p Point, date string, y, zoom float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.sess.state {
	case StateTouchPending:
		if p.dist(b.sess.origin) > MoveThreshold {
			b.teardownLocked()
		}
		return false, nil
	case StateTouchActive:
		ghost := p
		b.ghost = &ghost
		if b.hasDate(date) {
			if err := b.previewLocked(date, y, zoom); err != nil {
				return true, err
			}
		}
		return true, nil
	default:
		return false, ErrNoSession
	}
}

// TouchEnd lifts the finger. An active drag drops like a pointer drag; a
// touch that never activated ends with no effect.
func (b *Board) TouchEnd(ctx context.Context, date string, y, zoom float64) (bool, error) {
	b.mu.Lock()
	switch b.sess.state {
	case StateTouchPending:
		b.teardownLocked()
		b.mu.Unlock()
		return false, nil
	case StateTouchActive:
	default:
		b.mu.Unlock()
		return false, ErrNoSession
	}
	id := b.sess.id
	b.teardownLocked()
	b.suppressLocked()
	m, err := b.placeLocked(id, date, b.grid.PixelYToSlotStart(y, zoom))
	b.mu.Unlock()
	if err != nil || m == nil {
		return false, err
	}
	return true, b.commit(ctx, m)
}

// Cancel abandons whatever gesture is in progress.
func (b *Board) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

// View is the renderable state of the board.
type View struct {
	BoardID          uuid.UUID              `json:"board_id"`
	ClinicianID      string                 `json:"clinician_id"`
	Dates            []string               `json:"dates"`
	State            State                  `json:"state"`
	ActiveID         *uuid.UUID             `json:"active_id,omitempty"`
	Edge             Edge                   `json:"edge,omitempty"`
	Mode             Mode                   `json:"mode,omitempty"`
	Preview          *Preview               `json:"preview,omitempty"`
	Ghost            *Point                 `json:"ghost,omitempty"`
	Overrides        map[uuid.UUID]Override `json:"overrides"`
	Suppressed       bool                   `json:"suppressed"`
	LongPressPending bool                   `json:"long_press_pending"`
	Notices          []Notice               `json:"notices"`
	Appointments     []*visit.Appointment   `json:"appointments"`
}

// View returns the board's state and drains the queued notices.
func (b *Board) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := View{
		BoardID:          b.ID,
		ClinicianID:      b.ClinicianID,
		Dates:            b.Dates,
		State:            b.sess.state,
		Edge:             b.sess.edge,
		Mode:             b.sess.mode,
		Suppressed:       b.suppressed,
		LongPressPending: b.press != nil,
		Overrides:        make(map[uuid.UUID]Override, len(b.overrides)),
		Notices:          b.notices,
		Appointments:     make([]*visit.Appointment, 0, len(b.appts)),
	}
	if b.sess.state != StateIdle {
		id := b.sess.id
		v.ActiveID = &id
	}
	if b.preview != nil {
		p := *b.preview
		v.Preview = &p
	}
	if b.ghost != nil {
		g := *b.ghost
		v.Ghost = &g
	}
	for id, ov := range b.overrides {
		v.Overrides[id] = ov
	}
	for _, a := range b.appts {
		v.Appointments = append(v.Appointments, a.Clone())
	}
	visit.SortByStart(v.Appointments)
	b.lastUsed = b.clock.Now()
	if v.Notices == nil {
		v.Notices = []Notice{}
	}
	b.notices = nil
	return v
}

// ---------------------------------------------------------------------------
// internals; *Locked methods require b.mu
// ---------------------------------------------------------------------------

// teardownLocked ends every session and clears all transient state.
func (b *Board) teardownLocked() {
	if b.sess.timer != nil {
		b.sess.timer.Stop()
	}
	b.cancelPressLocked()
	b.sess = session{state: StateIdle}
	b.preview = nil
	b.ghost = nil
	if len(b.overrides) > 0 {
		b.overrides = make(map[uuid.UUID]Override)
	}
	b.gen++
	b.lastUsed = b.clock.Now()
}

func (b *Board) cancelPressLocked() {
	if b.press == nil {
		return
	}
	if b.press.timer != nil {
		b.press.timer.Stop()
	}
	b.press = nil
	b.pressGen++
}

func (b *Board) suppressLocked() {
	if b.suppressTimer != nil {
		b.suppressTimer.Stop()
	}
	b.suppressed = true
	b.suppressGen++
	g := b.suppressGen
	b.suppressTimer = b.clock.AfterFunc(ClickSuppression, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.suppressGen == g {
			b.suppressed = false
			b.suppressTimer = nil
		}
	})
}

func (b *Board) hasDate(date string) bool {
	for _, d := range b.Dates {
		if d == date {
			return true
		}
	}
	return false
}

func (b *Board) previewLocked(date string, y, zoom float64) error {
	if !b.hasDate(date) {
		return ErrOffBoard
	}
	b.preview = &Preview{
		AppointmentID: b.sess.id,
		Date:          date,
		StartTime:     timegrid.MinutesToTime(b.grid.PixelYToSlotStart(y, zoom)),
	}
	return nil
}

// placeLocked moves the local copy and returns the write to make, or nil
// when the appointment is already there.
func (b *Board) placeLocked(id uuid.UUID, date string, start int) (*mutation, error) {
	a, ok := b.appts[id]
	if !ok {
		return nil, ErrUnknownAppointment
	}
	if !b.hasDate(date) {
		return nil, ErrOffBoard
	}
	hhmm := timegrid.MinutesToTime(start)
	if a.Date == date && a.StartMinutes() == start {
		return nil, nil
	}
	a.Date, a.StartTime = date, hhmm
	return &mutation{op: opMove, id: id, date: date, start: hhmm}, nil
}

// copyLocked adds a provisional copy to the board. It is replaced by the
// stored appointment once the write succeeds.
func (b *Board) copyLocked(id uuid.UUID, date string, start int) (*mutation, error) {
	src, ok := b.appts[id]
	if !ok {
		return nil, ErrUnknownAppointment
	}
	hhmm := timegrid.MinutesToTime(start)
	cp := src.Clone()
	cp.ID = uuid.New()
	cp.Date, cp.StartTime = date, hhmm
	cp.SyncStatus = visit.SyncLocal
	b.appts[cp.ID] = cp
	return &mutation{op: opCopy, id: id, date: date, start: hhmm, duration: cp.Duration, provisional: cp.ID}, nil
}

// commit writes a mutation through the store. Failures become error notices;
// the optimistic local change stays until the next refresh.
func (b *Board) commit(ctx context.Context, m *mutation) error {
	var err error
	switch m.op {
	case opMove:
		err = b.store.MoveAppointment(ctx, m.id, m.date, m.start)
	case opResize:
		err = b.store.ResizeAppointment(ctx, m.id, m.start, m.duration)
	case opCopy:
		var cp *visit.Appointment
		cp, err = b.store.CopyAppointment(ctx, m.id, m.date, m.start)
		if err == nil {
			b.adoptCopy(m, cp)
		}
	}
	if err == nil {
		return nil
	}

	b.logger.Warn().Err(err).Str("op", m.op).Str("appointment", m.id.String()).Msg("board mutation failed")
	id := m.id
	b.notify(ctx, Notice{
		Kind:          NoticeError,
		AppointmentID: &id,
		Date:          m.date,
		StartTime:     m.start,
		Message:       fmt.Sprintf("could not %s appointment: %v", m.op, err),
	})
	return fmt.Errorf("%s appointment %s: %w", m.op, m.id, err)
}

func (b *Board) adoptCopy(m *mutation, stored *visit.Appointment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.appts, m.provisional)
	b.appts[stored.ID] = stored.Clone()
}

func (b *Board) notify(ctx context.Context, n Notice) {
	n.At = b.clock.Now().UTC()
	b.mu.Lock()
	b.notices = append(b.notices, n)
	b.mu.Unlock()
	if b.sink != nil {
		b.sink.BoardNotice(ctx, b.ID, n)
	}
}
