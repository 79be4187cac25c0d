package objectplugin

import (
	"fmt"
	"sync"
)

// MessageSender mints references and sends messages to one attached client.
type MessageSender interface {
	Exporter

	// SendMessage sends payload to the client together with every
	// reference minted since the previous message.
	SendMessage(payload []byte) error
}

// ExportingStream is implemented by server-to-client streams that own the
// reference table of their stream. Senders built on such a stream mint
// references into that table, so the indices they embed match the indices
// the client sees.
type ExportingStream interface {
	MessageStream
	Exporter() *TableExporter
}

// StreamSender is the MessageSender for one server-to-client stream.
type StreamSender struct {
	conn     MessageStream
	exporter *TableExporter
}

// NewStreamSender returns a sender over conn. If conn is an
// ExportingStream its table is used; otherwise the sender keeps its own.
func NewStreamSender(conn MessageStream, resolver TypeResolver) *StreamSender {
	var exporter *TableExporter
	if es, ok := conn.(ExportingStream); ok {
		exporter = es.Exporter()
	}
	if exporter == nil {
		exporter = NewExporter(NewReferenceTable(resolver))
	}
	return &StreamSender{conn: conn, exporter: exporter}
}

// Reference implements Exporter.
func (s *StreamSender) Reference(obj any, opts ...ReferenceOption) (Reference, bool) {
	return s.exporter.Reference(obj, opts...)
}

// NewReference implements Exporter.
func (s *StreamSender) NewReference(obj any) Reference {
	return s.exporter.NewReference(obj)
}

// SendMessage implements MessageSender.
func (s *StreamSender) SendMessage(payload []byte) error {
	pending := s.exporter.Drain()
	refs := make([]any, len(pending))
	for i, p := range pending {
		refs[i] = p
	}
	return s.conn.OnData(payload, refs)
}

// Close closes the underlying stream.
func (s *StreamSender) Close() {
	s.conn.OnClose()
}

// AttachableSender holds at most one MessageSender. Embed it in an object
// to give the object a lossy channel to its client: the last attached
// sender wins, and while nothing is attached references and messages are
// dropped rather than queued.
type AttachableSender struct {
	mu     sync.Mutex
	sender MessageSender
}

// AttachSender makes sender the current sender, replacing any other.
func (a *AttachableSender) AttachSender(sender MessageSender) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sender = sender
}

// DetachSender removes sender if it is still the current sender. A sender
// that was already replaced by a later attach is ignored.
func (a *AttachableSender) DetachSender(sender MessageSender) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sender == sender {
		a.sender = nil
	}
}

// Attached reports whether a sender is attached.
func (a *AttachableSender) Attached() bool {
	return a.current() != nil
}

// Reference returns the client-side reference to obj through the current
// sender. Unexported objects are queued and sent with the next message.
// It returns false when no sender is attached.
func (a *AttachableSender) Reference(obj any, opts ...ReferenceOption) (Reference, bool) {
	s := a.current()
	if s == nil {
		return Reference{}, false
	}
	return s.Reference(obj, opts...)
}

// SendMessage sends payload to the attached client. With no client
// attached the message is dropped.
func (a *AttachableSender) SendMessage(payload []byte) error {
	s := a.current()
	if s == nil {
		return nil
	}
	return s.SendMessage(payload)
}

// SendString sends msg as UTF-8.
func (a *AttachableSender) SendString(msg string) error {
	return a.SendMessage([]byte(msg))
}

func (a *AttachableSender) current() MessageSender {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sender
}

// BidiObject is an object that talks to its client itself. Objects
// usually get AttachSender and DetachSender by embedding AttachableSender.
type BidiObject interface {
	AttachSender(sender MessageSender)
	DetachSender(sender MessageSender)

	// HandleMessage receives one client message and the server objects
	// the client referenced in it.
	HandleMessage(payload []byte, objects []any) error
}

// BidiAdapter serves BidiObjects through a fetch-only object type: the
// type's ToBytes output is the initial message, client messages go to
// HandleMessage, and closing the stream detaches the sender.
type BidiAdapter struct {
	Type     FetchOnlyObjectType
	Resolver TypeResolver
}

// Name implements Plugin.
func (a *BidiAdapter) Name() string {
	return a.Type.Name()
}

// IsType accepts objects the wrapped type accepts that are also BidiObjects.
func (a *BidiAdapter) IsType(obj any) bool {
	if _, ok := obj.(BidiObject); !ok {
		return false
	}
	return a.Type.IsType(obj)
}

// CreateClientConnection implements BidirectionalObjectType.
func (a *BidiAdapter) CreateClientConnection(obj any, conn MessageStream) (MessageStream, error) {
	bidi, ok := obj.(BidiObject)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a BidiObject", ErrNotStreamable, obj)
	}

	sender := NewStreamSender(conn, a.Resolver)
	payload, err := ToBytes(a.Type, sender.exporter, obj)
	if err != nil {
		return nil, err
	}
	if err := sender.SendMessage(payload); err != nil {
		return nil, err
	}

	bidi.AttachSender(sender)
	return StreamFuncs{
		Data: bidi.HandleMessage,
		Close: func() {
			bidi.DetachSender(sender)
		},
	}, nil
}
