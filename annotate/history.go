package annotate

import "image"

// history is a fixed-capacity ring of canvas snapshots. The oldest entry
// is evicted when a push would exceed capacity; pop never removes the
// last remaining entry.
type history struct {
	buf   []*image.RGBA
	start int
	n     int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]*image.RGBA, capacity)}
}

func (h *history) push(img *image.RGBA) {
	if h.n == len(h.buf) {
		h.buf[h.start] = nil
		h.start = (h.start + 1) % len(h.buf)
		h.n--
	}
	h.buf[(h.start+h.n)%len(h.buf)] = img
	h.n++
}

// pop drops the newest snapshot and reports whether it did.
func (h *history) pop() bool {
	if h.n <= 1 {
		return false
	}
	h.n--
	h.buf[(h.start+h.n)%len(h.buf)] = nil
	return true
}

func (h *history) top() *image.RGBA {
	return h.buf[(h.start+h.n-1)%len(h.buf)]
}

func (h *history) len() int { return h.n }
