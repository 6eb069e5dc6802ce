// Package region picks the rectangle a region capture crops to: a pointer
// state machine driven by events from the in-page overlay, or a fixed
// rectangle given up front.
package region

import (
	"image"
	"sync"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Selector tracks one drag. Coordinates are viewport CSS pixels.
type Selector struct {
	mu       sync.Mutex
	active   bool
	dragging bool
	origin   image.Point
}

// Open activates the selector. It returns false, changing nothing, if a
// selection is already active.
func (s *Selector) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	s.dragging = false
	return true
}

// Active reports whether a selection is open.
func (s *Selector) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Down starts a drag at p.
func (s *Selector) Down(p image.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.dragging = true
	s.origin = p
}

// Move returns the live box between the drag origin and p, normalised so
// its size is never negative. ok is false when no drag is in progress.
func (s *Selector) Move(p image.Point) (r image.Rectangle, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || !s.dragging {
		return image.Rectangle{}, false
	}
	return image.Rect(s.origin.X, s.origin.Y, p.X, p.Y), true
}

// Up ends the drag. The box commits, closing the selector, only if both
// sides exceed shot.MinRegionExtent; otherwise it is discarded and the
// selector stays open for another attempt.
func (s *Selector) Up(p image.Point) (r image.Rectangle, committed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || !s.dragging {
		return image.Rectangle{}, false
	}
	s.dragging = false
	r = image.Rect(s.origin.X, s.origin.Y, p.X, p.Y)
	if r.Dx() <= shot.MinRegionExtent || r.Dy() <= shot.MinRegionExtent {
		return image.Rectangle{}, false
	}
	s.active = false
	return r, true
}

// Escape cancels and closes the selector. It reports whether one was open.
func (s *Selector) Escape() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.active
	s.active = false
	s.dragging = false
	return was
}
