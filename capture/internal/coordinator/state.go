package coordinator

import (
	"github.com/hazyhaar/snapflow/capture/shot"
	"github.com/hazyhaar/snapflow/geom"
)

// State is a coordinator state.
type State int

const (
	StateIdle State = iota
	StateInjecting
	StateMeasuring
	StatePreparing
	StateSelecting
	StateCapturing
	StateFinishing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateInjecting: "injecting",
	StateMeasuring: "measuring",
	StatePreparing: "preparing",
	StateSelecting: "selecting",
	StateCapturing: "capturing",
	StateFinishing: "finishing",
	StateDone:      "done",
	StateFailed:    "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Session is the coordinator's working state for one capture.
type Session struct {
	ID      string
	Mode    shot.Mode
	URL     string
	Title   string
	Metrics shot.PageMetrics
	Region  *shot.RegionRect
	Tiles   []shot.Tile

	CursorX, CursorY   int
	StepX, StepY       int
	OverlapX, OverlapY int
	TotalSteps         int

	State State
	// Path lists every state the session went through, in order.
	Path []State
	Err  error
}

// Overlap converts a percentage of the viewport to pixels, clamped so the
// step stays at least one pixel.
func Overlap(viewport, percent int) int {
	percent = min(max(percent, 0), MaxOverlapPercent)
	ov := geom.Round(float64(viewport) * float64(percent) / 100)
	if ov >= viewport {
		ov = viewport - 1
	}
	return max(ov, 0)
}

// Steps is the number of tiles along one axis.
func Steps(full, viewport, overlap int) int {
	return geom.CeilDiv(full-overlap, viewport-overlap)
}
