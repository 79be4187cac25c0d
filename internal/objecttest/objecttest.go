// Package objecttest provides object types and streams for tests.
package objecttest

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"time"

	objectplugin "github.com/masegraye/object-plugin-go"
)

// Type names registered by Registration.
const (
	TextTypeName = "objecttest.Text"
	EchoTypeName = "objecttest.Echo"
)

// Text is a server object with nested server objects.
type Text struct {
	Value    string
	Children []any
}

// TextType serializes *Text as its value followed by "|<index>" for every
// child reference.
type TextType struct{}

func (TextType) Name() string { return TextTypeName }

func (TextType) IsType(obj any) bool {
	_, ok := obj.(*Text)
	return ok
}

func (TextType) ToBytes(exporter objectplugin.Exporter, obj any) ([]byte, error) {
	text := obj.(*Text)
	var buf bytes.Buffer
	buf.WriteString(text.Value)
	for _, child := range text.Children {
		ref, ok := exporter.Reference(child, objectplugin.AllowUnknownType())
		if !ok {
			return nil, fmt.Errorf("cannot reference %T", child)
		}
		buf.WriteByte('|')
		buf.WriteString(strconv.Itoa(ref.Index))
	}
	return buf.Bytes(), nil
}

// Echo replies to every message with the same payload and references.
type Echo struct {
	objectplugin.AttachableSender

	Greeting string

	mu       sync.Mutex
	received [][]byte
}

// HandleMessage implements objectplugin.BidiObject.
func (e *Echo) HandleMessage(payload []byte, objects []any) error {
	e.mu.Lock()
	e.received = append(e.received, append([]byte(nil), payload...))
	e.mu.Unlock()

	for _, obj := range objects {
		if _, ok := e.Reference(obj, objectplugin.AllowUnknownType()); !ok {
			return nil
		}
	}
	return e.SendMessage(payload)
}

// Received returns the payloads handled so far.
func (e *Echo) Received() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.received...)
}

// EchoType is a fetch-only type for *Echo; it is streamed through
// objectplugin.BidiAdapter.
type EchoType struct{}

func (EchoType) Name() string { return EchoTypeName }

func (EchoType) IsType(obj any) bool {
	_, ok := obj.(*Echo)
	return ok
}

func (EchoType) ToBytes(_ objectplugin.Exporter, obj any) ([]byte, error) {
	return []byte(obj.(*Echo).Greeting), nil
}

// Registration registers TextType and EchoType.
func Registration() objectplugin.Registration {
	return objectplugin.RegistrationFunc(func(cb objectplugin.Callback) {
		cb.Register(TextType{})
		cb.RegisterFactory(func() objectplugin.Plugin { return EchoType{} })
	})
}

// Message is one recorded OnData call.
type Message struct {
	Payload    []byte
	References []any
}

// Recorder is a MessageStream that records what it receives.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	closes   int
	notify   chan struct{}

	// Err is returned from OnData when set.
	Err error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) OnData(payload []byte, references []any) error {
	r.mu.Lock()
	r.messages = append(r.messages, Message{
		Payload:    append([]byte(nil), payload...),
		References: append([]any(nil), references...),
	})
	err := r.Err
	r.mu.Unlock()
	r.wake()
	return err
}

func (r *Recorder) OnClose() {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()
	r.wake()
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Closes returns how many times OnClose was called.
func (r *Recorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// WaitMessages blocks until n messages are recorded or timeout passes.
func (r *Recorder) WaitMessages(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(r.Messages()) >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline:
			return false
		}
	}
}

func (r *Recorder) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
