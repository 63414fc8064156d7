// Package timeline turns a segment plan into the frame-accurate overlay
// timeline the editor imports.
package timeline

import (
	"fmt"
	"math"

	"github.com/bobarin/beatcut/internal/models"
)

// boundaryTolerance bounds how far a segment's end may drift from
// start+duration before the plan is rejected.
const boundaryTolerance = 1e-6

// InvalidPlanError rejects a plan that cannot be laid out.
type InvalidPlanError struct {
	Index  int // -1 for plan-level problems
	Reason string
}

func (e *InvalidPlanError) Error() string {
	if e.Index < 0 {
		return "invalid plan: " + e.Reason
	}
	return fmt.Sprintf("invalid plan: segment %d: %s", e.Index, e.Reason)
}

// Cursor is the running state of the layout fold.
//
// Song is the position inside the backing song, Timeline the position on the
// output timeline and Overhang the total pause overhang so far. Timeline
// always equals leadIn + Song + Overhang.
type Cursor struct {
	Song     float64
	Timeline float64
	Overhang float64
}

// Placement is where one segment lands.
type Placement struct {
	Index int

	// SongStart is the song position the segment's beat starts at, and
	// SongAdvance how far the song moves while the segment plays.
	SongStart   float64
	SongAdvance float64

	TimelineStart float64
	TimelineEnd   float64

	BeatWindow float64
	Overhang   float64
	Pause      bool
}

// Step places seg at the cursor and returns the advanced cursor.
//
// A paused segment running past its beat window only advances the song by the
// window; the excess is overhang and pushes every later segment back.
func (c Cursor) Step(index int, seg models.PlanSegment) (Cursor, Placement) {
	duration := seg.DurationSeconds
	window := seg.BeatMetadata.BeatWindowSeconds
	pause := seg.BeatMetadata.ClipSlot.PauseMusic

	advance := duration
	if pause && window > 0 && duration > window {
		advance = window
	}
	overhang := duration - advance

	p := Placement{
		Index:         index,
		SongStart:     c.Song,
		SongAdvance:   advance,
		TimelineStart: c.Timeline,
		TimelineEnd:   c.Timeline + duration,
		BeatWindow:    window,
		Overhang:      overhang,
		Pause:         pause,
	}

	return Cursor{
		Song:     c.Song + advance,
		Timeline: p.TimelineEnd,
		Overhang: c.Overhang + overhang,
	}, p
}

// Place folds Step over the segments, starting leadIn seconds into the
// timeline. Upstream start times are ignored; each segment begins exactly
// where the previous one ended.
func Place(segments []models.PlanSegment, leadIn float64) ([]Placement, Cursor) {
	acc := Cursor{Timeline: leadIn}
	out := make([]Placement, 0, len(segments))
	for i, seg := range segments {
		var p Placement
		acc, p = acc.Step(i, seg)
		out = append(out, p)
	}
	return out, acc
}

func validate(plan *models.GenerateEditPlan) error {
	if plan == nil {
		return &InvalidPlanError{Index: -1, Reason: "plan is nil"}
	}
	if plan.Fps <= 0 || math.IsNaN(plan.Fps) || math.IsInf(plan.Fps, 0) {
		return &InvalidPlanError{Index: -1, Reason: fmt.Sprintf("fps must be positive, got %g", plan.Fps)}
	}
	for i, seg := range plan.Segments {
		if !(seg.DurationSeconds > 0) {
			return &InvalidPlanError{Index: i, Reason: fmt.Sprintf("duration must be positive, got %g", seg.DurationSeconds)}
		}
		if math.Abs(seg.StartSeconds+seg.DurationSeconds-seg.EndSeconds) > boundaryTolerance {
			return &InvalidPlanError{Index: i, Reason: fmt.Sprintf("end %.6f does not equal start %.6f + duration %.6f",
				seg.EndSeconds, seg.StartSeconds, seg.DurationSeconds)}
		}
		if seg.BeatMetadata.BeatWindowSeconds < 0 {
			return &InvalidPlanError{Index: i, Reason: "beat window must not be negative"}
		}
	}
	return nil
}
