package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/snapflow/capture/shot"
)

// Stdout writes one JSON line per announcement.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink writing to w, or os.Stdout if nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) SendReady(_ context.Context, r shot.Ready) error {
	return s.write(envelope{Type: "ready", Data: r})
}

func (s *Stdout) SendFailed(_ context.Context, f Failed) error {
	return s.write(envelope{Type: "failed", Data: f})
}

func (s *Stdout) write(e envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}

func (s *Stdout) Close() error { return nil }
