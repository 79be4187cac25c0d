package objectplugin

import "sync"

// MessageStream is one direction of a bidirectional channel tied to a
// single exported object. Object types receive one to send messages to the
// client and return one to receive the client's messages.
type MessageStream interface {
	// OnData delivers one complete message: a payload and the server
	// objects it references. Payload and references always travel
	// together.
	OnData(payload []byte, references []any) error

	// OnClose closes the stream on both ends. No further messages are
	// sent or received. OnClose may be called more than once.
	OnClose()
}

// StreamFuncs adapts a pair of functions to MessageStream. Nil functions
// are no-ops.
type StreamFuncs struct {
	Data  func(payload []byte, references []any) error
	Close func()
}

// OnData calls f.Data.
func (f StreamFuncs) OnData(payload []byte, references []any) error {
	if f.Data == nil {
		return nil
	}
	return f.Data(payload, references)
}

// OnClose calls f.Close.
func (f StreamFuncs) OnClose() {
	if f.Close != nil {
		f.Close()
	}
}

// StreamState is the lifecycle state of a GuardedStream.
type StreamState int

const (
	// StreamOpen permits messages in both directions.
	StreamOpen StreamState = iota

	// StreamClosed is terminal.
	StreamClosed
)

func (s StreamState) String() string {
	if s == StreamClosed {
		return "closed"
	}
	return "open"
}

// GuardedStream enforces the MessageStream state machine around another
// stream:
//
//   - OnData calls are serialized and delivered in call order.
//   - The first OnClose closes the wrapped stream exactly once; later
//     OnClose and OnData calls are no-ops.
//   - A close that arrives during a delivery (including from inside the
//     wrapped stream's own OnData) takes effect once that delivery returns.
//   - Closing propagates to a linked peer (see Link).
type GuardedStream struct {
	inner MessageStream

	// deliverMu serializes deliveries.
	deliverMu sync.Mutex

	mu           sync.Mutex
	state        StreamState
	delivering   bool
	closePending bool
	peer         *GuardedStream
	onClosed     []func()
}

// NewGuardedStream wraps inner.
func NewGuardedStream(inner MessageStream) *GuardedStream {
	return &GuardedStream{inner: inner}
}

// Link makes closing either stream close the other.
func Link(a, b *GuardedStream) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()

	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// OnData delivers the message to the wrapped stream unless the stream is
// closed.
func (s *GuardedStream) OnData(payload []byte, references []any) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.state == StreamClosed {
		s.mu.Unlock()
		return nil
	}
	s.delivering = true
	s.mu.Unlock()

	err := s.inner.OnData(payload, references)

	s.mu.Lock()
	s.delivering = false
	finish := s.closePending
	s.closePending = false
	s.mu.Unlock()

	if finish {
		s.finishClose()
	}
	return err
}

// OnClose closes the stream and its peer. It is safe to call repeatedly
// and from any goroutine.
func (s *GuardedStream) OnClose() {
	s.mu.Lock()
	if s.state == StreamClosed {
		s.mu.Unlock()
		return
	}
	s.state = StreamClosed
	deferred := s.delivering
	if deferred {
		s.closePending = true
	}
	peer := s.peer
	s.mu.Unlock()

	if !deferred {
		s.finishClose()
	}
	if peer != nil {
		peer.OnClose()
	}
}

// NotifyClose registers fn to run after the wrapped stream has been closed.
// If the stream is already closed, fn runs immediately.
func (s *GuardedStream) NotifyClose(fn func()) {
	s.mu.Lock()
	if s.state == StreamClosed && !s.closePending {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClosed = append(s.onClosed, fn)
	s.mu.Unlock()
}

// Exporter returns the exporter of the wrapped stream when it is an
// ExportingStream, or nil.
func (s *GuardedStream) Exporter() *TableExporter {
	if es, ok := s.inner.(ExportingStream); ok {
		return es.Exporter()
	}
	return nil
}

// State returns the current state.
func (s *GuardedStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Closed reports whether the stream has been closed.
func (s *GuardedStream) Closed() bool {
	return s.State() == StreamClosed
}

func (s *GuardedStream) finishClose() {
	s.inner.OnClose()

	s.mu.Lock()
	callbacks := s.onClosed
	s.onClosed = nil
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
