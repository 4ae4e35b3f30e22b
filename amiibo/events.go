package amiibo

import "sync"

// Signal is a one-shot edge-triggered event. Raising it makes exactly one
// Consume return true; raising again before consumption is a no-op.
type Signal struct {
	mu     sync.Mutex
	raised bool
}

func (s *Signal) raise() {
	s.mu.Lock()
	s.raised = true
	s.mu.Unlock()
}

func (s *Signal) clear() {
	s.mu.Lock()
	s.raised = false
	s.mu.Unlock()
}

// Consume reports whether the signal was raised since the last call, and
// clears it.
func (s *Signal) Consume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	raised := s.raised
	s.raised = false
	return raised
}

// ActivationEvents tracks tag arrival and departure edges. The two signals
// are mutually exclusive: raising one clears the other, so a caller polling
// after a quick tap-and-remove only sees the most recent transition.
type ActivationEvents struct {
	arrived  Signal
	departed Signal
}

func (e *ActivationEvents) TagArrived() {
	e.departed.clear()
	e.arrived.raise()
}

func (e *ActivationEvents) TagDeparted() {
	e.arrived.clear()
	e.departed.raise()
}

// ConsumeArrived reports and clears a pending arrival edge.
func (e *ActivationEvents) ConsumeArrived() bool {
	return e.arrived.Consume()
}

// ConsumeDeparted reports and clears a pending departure edge.
func (e *ActivationEvents) ConsumeDeparted() bool {
	return e.departed.Consume()
}
