package commands

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/macforge/macforge/pkg/engine"
)

// eventStream writes pipeline events as JSON lines for --json output.
type eventStream struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventStream(w io.Writer) *eventStream {
	return &eventStream{enc: json.NewEncoder(w)}
}

func (s *eventStream) Publish(_ context.Context, event *engine.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(event)
}
