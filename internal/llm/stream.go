package llm

import (
	"context"
	"io"
)

// eventStream adapts a producer function to the Stream interface. The
// producer runs in its own goroutine and must send through emit (or an
// equivalent ctx-aware select) so Close can always unblock it.
type eventStream struct {
	events chan Event
	errCh  chan error
	cancel context.CancelFunc

	done bool
	err  error
}

// newEventStream starts run in a goroutine and returns a Stream over the
// events it produces. The error returned by run is surfaced from Recv
// after the last event; a nil error yields io.EOF.
func newEventStream(ctx context.Context, run func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		err := run(ctx, s.events)
		s.errCh <- err
		close(s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		return Event{}, s.err
	}
	event, ok := <-s.events
	if ok {
		return event, nil
	}
	s.done = true
	if err := <-s.errCh; err != nil {
		s.err = err
	} else {
		s.err = io.EOF
	}
	return Event{}, s.err
}

func (s *eventStream) Close() error {
	s.cancel()
	return nil
}

// emit sends an event unless the stream context is done.
// Returns false once the context is canceled.
func emit(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
