package interaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Input types accepted by Dispatch.
const (
	InputDragBegin     = "drag.begin"
	InputDragOver      = "drag.over"
	InputDrop          = "drag.drop"
	InputDragCancel    = "drag.cancel"
	InputResizeBegin   = "resize.begin"
	InputResizeMove    = "resize.move"
	InputResizeEnd     = "resize.end"
	InputResizeCancel  = "resize.cancel"
	InputPress         = "press"
	InputPointerMove   = "pointer.move"
	InputRelease       = "release"
	InputArm           = "placement.arm"
	InputDisarm        = "placement.disarm"
	InputClick         = "click"
	InputTouchStart    = "touch.start"
	InputTouchMove     = "touch.move"
	InputTouchEnd      = "touch.end"
	InputScrollCapture = "scroll.capture"
	InputScrollUser    = "scroll.user"
	InputScrollSettle  = "scroll.settle"
	InputCancel        = "cancel"
)

// Input is one gesture event from a client. Y is the offset inside the
// Date column; X and Y together are the raw pointer position for inputs
// that track movement.
type Input struct {
	Type          string    `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Edge          Edge      `json:"edge,omitempty"`
	Mode          Mode      `json:"mode,omitempty"`
	Date          string    `json:"date,omitempty"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Zoom          float64   `json:"zoom,omitempty"`
	Offset        int       `json:"offset,omitempty"`
}

// Result reports what an input did.
type Result struct {
	Mutated       bool         `json:"mutated"`
	Click         ClickOutcome `json:"click,omitempty"`
	Captured      bool         `json:"captured"`
	ScrollRestore *int         `json:"scroll_restore,omitempty"`
	Override      *Override    `json:"override,omitempty"`
}

// Dispatch routes an input to the matching board operation.
func (b *Board) Dispatch(ctx context.Context, in Input) (Result, error) {
	var (
		res Result
		err error
	)
	p := Point{X: in.X, Y: in.Y}

	switch in.Type {
	case InputDragBegin:
		err = b.BeginDrag(in.AppointmentID, p)
	case InputDragOver:
		err = b.DragOver(in.Date, in.Y, in.Zoom)
	case InputDrop:
		res.Mutated, err = b.Drop(ctx, in.Date, in.Y, in.Zoom)
	case InputDragCancel:
		b.CancelDrag()
	case InputResizeBegin:
		err = b.BeginResize(in.AppointmentID, in.Edge, in.Y)
	case InputResizeMove:
		var ov Override
		ov, err = b.ResizeMove(in.Y, in.Zoom)
		if err == nil {
			res.Override = &ov
		}
	case InputResizeEnd:
		res.Mutated, err = b.EndResize(ctx)
	case InputResizeCancel:
		b.CancelResize()
	case InputPress:
		err = b.PressSlot(in.Date, p, in.Zoom)
	case InputPointerMove:
		b.PointerMove(p)
	case InputRelease:
		b.ReleaseSlot()
	case InputArm:
		err = b.ArmPlacement(in.AppointmentID, in.Mode)
	case InputDisarm:
		b.Disarm()
	case InputClick:
		res.Click, err = b.ClickSlot(ctx, in.Date, in.Y, in.Zoom)
		res.Mutated = res.Click == ClickPlaced
	case InputTouchStart:
		err = b.TouchStart(in.AppointmentID, p)
	case InputTouchMove:
		res.Captured, err = b.TouchMove(p, in.Date, in.Y, in.Zoom)
	case InputTouchEnd:
		res.Mutated, err = b.TouchEnd(ctx, in.Date, in.Y, in.Zoom)
	case InputScrollCapture:
		b.CaptureScroll(in.Offset)
	case InputScrollUser:
		b.UserScrolled(in.Offset)
	case InputScrollSettle:
		if off, ok := b.SettleScroll(); ok {
			res.ScrollRestore = &off
		}
	case InputCancel:
		b.Cancel()
	default:
		err = fmt.Errorf("%w: unknown input type %q", ErrInvalidInput, in.Type)
	}
	return res, err
}
