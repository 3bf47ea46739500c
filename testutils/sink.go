// testutils/sink.go
package testutils

import (
	"context"
	"sync"
)

// Delivered is one line handed to a RecordingSink.
type Delivered struct {
	Target string
	Line   string
}

// RecordingSink records every delivery. When Signal is buffered, each
// delivery is also sent on it so tests can wait for asynchronous output.
type RecordingSink struct {
	mu        sync.Mutex
	delivered []Delivered
	err       error
	Signal    chan Delivered
}

func NewRecordingSink(bufferSize int) *RecordingSink {
	return &RecordingSink{Signal: make(chan Delivered, bufferSize)}
}

func (s *RecordingSink) Deliver(ctx context.Context, target, line string) error {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	d := Delivered{Target: target, Line: line}
	s.delivered = append(s.delivered, d)
	s.mu.Unlock()

	select {
	case s.Signal <- d:
	default:
	}
	return nil
}

// FailWith makes subsequent deliveries return err.
func (s *RecordingSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *RecordingSink) Delivered() []Delivered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivered(nil), s.delivered...)
}
