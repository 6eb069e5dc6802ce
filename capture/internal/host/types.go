package host

import (
	"fmt"
	"time"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// ScrollRequest is the scroll_to payload. Index and Total drive the
// progress indicator only.
type ScrollRequest struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Index int `json:"index"`
	Total int `json:"total"`
}

// Position is a scroll offset reported by the page.
type Position struct {
	X int `json:"actualX"`
	Y int `json:"actualY"`
}

// Event is an out-of-band message from the page.
type Event struct {
	Type    string  `json:"type"`  // pointer | key
	Phase   string  `json:"phase"` // down | move | up
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
	DPR     float64 `json:"dpr"`
	Key     string  `json:"key"`
}

// ErrCallTimeout is returned when the page does not answer within the
// configured timeout. It matches shot.ErrCommunicationTimeout.
type ErrCallTimeout struct {
	Action string
	After  time.Duration
}

func (e *ErrCallTimeout) Error() string {
	return fmt.Sprintf("host: %s: no response after %s", e.Action, e.After)
}

func (e *ErrCallTimeout) Unwrap() error { return shot.ErrCommunicationTimeout }

// ErrActionFailed is returned when the page rejects a request, answers
// with an error status, or the transport fails.
type ErrActionFailed struct {
	Action  string
	Message string
	Cause   error
}

func (e *ErrActionFailed) Error() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("host: %s: %s: %v", e.Action, e.Message, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("host: %s: %v", e.Action, e.Cause)
	}
	return fmt.Sprintf("host: %s: %s", e.Action, e.Message)
}

func (e *ErrActionFailed) Unwrap() error { return e.Cause }
