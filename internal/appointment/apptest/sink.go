package apptest

import (
	"context"
	"sync"

	"github.com/hackgods/telehealth-booking/internal/audit"
)

// Sink keeps audit events in memory.
type Sink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *Sink) Record(_ context.Context, ev audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Types returns recorded event types in order.
func (s *Sink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}
