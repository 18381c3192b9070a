package api

import (
	"sync"

	"neurodiff/domain/run"
	"neurodiff/ports"
)

// EventRecorder keeps the latest event per run and forwards every event to
// the next sink, typically the SSE hub.
type EventRecorder struct {
	next   ports.ProgressSink
	mu     sync.RWMutex
	latest map[string]run.StageEvent
}

// NewEventRecorder wraps next, which may be nil
func NewEventRecorder(next ports.ProgressSink) *EventRecorder {
	return &EventRecorder{next: next, latest: make(map[string]run.StageEvent)}
}

// Publish implements ports.ProgressSink
func (r *EventRecorder) Publish(event run.StageEvent) {
	r.mu.Lock()
	r.latest[string(event.RunID)] = event
	r.mu.Unlock()
	if r.next != nil {
		r.next.Publish(event)
	}
}

// Latest returns the last event seen for runID
func (r *EventRecorder) Latest(runID string) (run.StageEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.latest[runID]
	return e, ok
}
