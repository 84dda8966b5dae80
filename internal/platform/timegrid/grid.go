// Package timegrid converts between minutes-of-day, grid slots and pixel
// offsets for the day columns of the schedule board.
package timegrid

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	// SlotMinutes is the grid granularity for start times and durations.
	SlotMinutes = 15
	// MinutesPerDay bounds every minute-of-day value.
	MinutesPerDay = 24 * 60
	// BlockInset is the vertical gap, in pixels, kept on each side of a block.
	BlockInset = 1.0
)

// Grid describes the visible day window.
type Grid struct {
	DayStart   int     // minutes from midnight, inclusive
	DayEnd     int     // minutes from midnight, exclusive
	SlotHeight float64 // pixels per slot at zoom 1
}

// New returns a Grid for the given window. Bounds are snapped to the slot
// grid and the end is forced past the start.
func New(dayStart, dayEnd int, slotHeight float64) Grid {
	dayStart = clamp(SnapToSlot(dayStart), 0, MinutesPerDay-SlotMinutes)
	dayEnd = clamp(SnapToSlot(dayEnd), dayStart+SlotMinutes, MinutesPerDay)
	if slotHeight <= 0 {
		slotHeight = 20
	}
	return Grid{DayStart: dayStart, DayEnd: dayEnd, SlotHeight: slotHeight}
}

// SlotCount is the number of slots in the visible window.
func (g Grid) SlotCount() int {
	return (g.DayEnd - g.DayStart) / SlotMinutes
}

// PixelsPerMinute returns the vertical scale at the given zoom.
func (g Grid) PixelsPerMinute(zoom float64) float64 {
	return g.SlotHeight * normZoom(zoom) / SlotMinutes
}

// ScaledSlotHeight is the pixel height of one slot at the given zoom.
func (g Grid) ScaledSlotHeight(zoom float64) float64 {
	return g.SlotHeight * normZoom(zoom)
}

// PixelYToSlotStart maps a y offset inside a day column to the start minute of
// the slot under it. Offsets above or below the grid land on the first or last
// slot.
func (g Grid) PixelYToSlotStart(y, zoom float64) int {
	f := math.Floor(y / g.ScaledSlotHeight(zoom))
	last := float64(g.SlotCount() - 1)
	switch {
	case math.IsNaN(f) || f < 0:
		f = 0
	case f > last:
		f = last
	}
	return g.DayStart + int(f)*SlotMinutes
}

// SlotStartToPixelY is the inverse of PixelYToSlotStart for in-window minutes.
func (g Grid) SlotStartToPixelY(minutes int, zoom float64) float64 {
	return float64(minutes-g.DayStart) * g.PixelsPerMinute(zoom)
}

// Contains reports whether minutes falls inside [DayStart, DayEnd).
func (g Grid) Contains(minutes int) bool {
	return minutes >= g.DayStart && minutes < g.DayEnd
}

// Rect is the vertical extent of a rendered block.
type Rect struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Block returns the rendered extent of [start, start+duration) clipped to the
// window. The second result is false when nothing of the block is visible.
func (g Grid) Block(start, duration int, zoom float64) (Rect, bool) {
	from := max(start, g.DayStart)
	to := min(start+duration, g.DayEnd)
	if to <= from {
		return Rect{}, false
	}
	ppm := g.PixelsPerMinute(zoom)
	h := float64(to-from)*ppm - 2*BlockInset
	if h < 0 {
		h = 0
	}
	return Rect{
		Top:    float64(from-g.DayStart)*ppm + BlockInset,
		Height: h,
	}, true
}

// Item is one appointment to lay out in a day column.
type Item struct {
	ID       string
	Start    int
	Duration int
}

// Placed is an Item with its computed geometry. Left and Width are fractions
// of the column width.
type Placed struct {
	ID    string  `json:"id"`
	Rect  Rect    `json:"rect"`
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// Layout positions the visible items of one day column. Items whose clipped
// start is identical share the row side by side, ordered by id. Overlapping
// items with different starts are not reflowed.
func (g Grid) Layout(items []Item, zoom float64) []Placed {
	groups := make(map[int][]Placed)
	var starts []int
	for _, it := range items {
		r, ok := g.Block(it.Start, it.Duration, zoom)
		if !ok {
			continue
		}
		key := max(it.Start, g.DayStart)
		if _, seen := groups[key]; !seen {
			starts = append(starts, key)
		}
		groups[key] = append(groups[key], Placed{ID: it.ID, Rect: r})
	}
	sort.Ints(starts)

	out := make([]Placed, 0, len(items))
	for _, s := range starts {
		group := groups[s]
		sort.SliceStable(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		w := 1.0 / float64(len(group))
		for i := range group {
			group[i].Left = float64(i) * w
			group[i].Width = w
			out = append(out, group[i])
		}
	}
	return out
}

// SnapToSlot rounds minutes to the nearest slot boundary.
func SnapToSlot(minutes int) int {
	return int(math.Round(float64(minutes)/SlotMinutes)) * SlotMinutes
}

// MinutesToTime formats a minute-of-day as "HH:MM". Values outside a day wrap.
func MinutesToTime(minutes int) string {
	m := ((minutes % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// TimeToMinutes parses "HH:MM" leniently, returning 0 for malformed input.
func TimeToMinutes(s string) int {
	m, err := ParseClock(s)
	if err != nil {
		return 0
	}
	return m
}

// ParseClock parses "HH:MM" (or "H:MM") into minutes from midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	if len(mm) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// IsQuarterHour reports whether s is a valid "HH:MM" whose minute is 0, 15, 30
// or 45.
func IsQuarterHour(s string) bool {
	m, err := ParseClock(s)
	if err != nil {
		return false
	}
	return m%SlotMinutes == 0
}

func normZoom(zoom float64) float64 {
	if zoom <= 0 {
		return 1
	}
	return zoom
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
