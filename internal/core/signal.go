package core

// Signal wakes the processor ahead of its fallback poll. Notifications coalesce: while one is
// pending, further calls are dropped.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *Signal) C() <-chan struct{} {
	return s.ch
}
