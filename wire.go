package objectplugin

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire messages of the objectplugin.v1.ObjectService. They are encoded in
// the protobuf wire format by wireCodec, so the service can be called from
// any protobuf-speaking Connect, gRPC or gRPC-Web client with the matching
// schema:
//
//	message Empty {}
//	message SessionInfo { string id = 1; }
//	message ObjectTarget { string name = 1; optional uint32 ticket = 2; }
//	message FetchRequest { ObjectTarget target = 1; }
//	message TypedTicket { uint32 index = 1; string type = 2; uint32 ticket = 3; }
//	message FetchResponse { string type = 1; bytes payload = 2; repeated TypedTicket references = 3; }
//	message StreamRequest { ObjectTarget open = 1; bytes payload = 2; repeated uint32 references = 3; }
//	message StreamResponse { bytes payload = 1; repeated TypedTicket references = 2; }

// Empty is a message with no fields.
type Empty struct{}

// SessionInfo identifies a session.
type SessionInfo struct {
	ID string
}

// ObjectTarget names the object a request is about: either a name
// published in the server's scope or a ticket exported into the session.
type ObjectTarget struct {
	Name     string
	Ticket   uint32
	ByTicket bool
}

// NameTarget targets the object published under name.
func NameTarget(name string) ObjectTarget {
	return ObjectTarget{Name: name}
}

// TicketTarget targets the object exported under ticket.
func TicketTarget(ticket uint32) ObjectTarget {
	return ObjectTarget{Ticket: ticket, ByTicket: true}
}

func (t ObjectTarget) String() string {
	if t.ByTicket {
		return fmt.Sprintf("ticket %d", t.Ticket)
	}
	return fmt.Sprintf("%q", t.Name)
}

// FetchRequest asks for the one-shot serialization of an object.
type FetchRequest struct {
	Target ObjectTarget
}

// TypedTicket is a reference as the client sees it: the index the payload
// embeds, the object type (empty if unknown), and the session ticket that
// fetches or connects to the object.
type TypedTicket struct {
	Index  uint32
	Type   string
	Ticket uint32
}

// FetchResponse is a serialized object and the references it embeds.
type FetchResponse struct {
	Type       string
	Payload    []byte
	References []TypedTicket
}

// StreamRequest is a client-to-server stream message. The first message
// of a stream sets Open; later messages carry a payload and the tickets of
// the session objects the client references.
type StreamRequest struct {
	Open       *ObjectTarget
	Payload    []byte
	References []uint32
}

// StreamResponse is a server-to-client stream message. Reference indices
// count from the start of the stream.
type StreamResponse struct {
	Payload    []byte
	References []TypedTicket
}

// wireMessage is implemented by every message wireCodec handles.
type wireMessage interface {
	appendWire(b []byte) []byte
	consumeWire(b []byte) error
}

// wireCodec is the Connect codec for the service messages. It registers
// under the "proto" name so clients negotiate it by default.
type wireCodec struct{}

func (wireCodec) Name() string { return "proto" }

func (wireCodec) Marshal(msg any) ([]byte, error) {
	m, ok := msg.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("wire codec: cannot marshal %T", msg)
	}
	return m.appendWire(nil), nil
}

func (wireCodec) Unmarshal(data []byte, msg any) error {
	m, ok := msg.(wireMessage)
	if !ok {
		return fmt.Errorf("wire codec: cannot unmarshal into %T", msg)
	}
	return m.consumeWire(data)
}

var errWireType = errors.New("wire codec: unexpected wire type")

// consumeFields walks the fields of b. fn returns the number of bytes it
// consumed for the field value, or -1 to skip the field.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeBytesField(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeUint32Field(typ protowire.Type, b []byte) (uint32, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return uint32(v), n, nil
}

// cloneBytes copies wire bytes; Connect recycles the buffers it decodes from.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func (*Empty) appendWire(b []byte) []byte { return b }

func (m *Empty) consumeWire(b []byte) error {
	return consumeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) {
		return -1, nil
	})
}

func (m *SessionInfo) appendWire(b []byte) []byte {
	if m.ID != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.ID)
	}
	return b
}

func (m *SessionInfo) consumeWire(b []byte) error {
	*m = SessionInfo{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return -1, nil
		}
		v, n, err := consumeBytesField(typ, b)
		m.ID = string(v)
		return n, err
	})
}

func (m *ObjectTarget) appendWire(b []byte) []byte {
	if m.Name != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Name)
	}
	if m.ByTicket {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Ticket))
	}
	return b
}

func (m *ObjectTarget) consumeWire(b []byte) error {
	*m = ObjectTarget{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytesField(typ, b)
			m.Name = string(v)
			return n, err
		case 2:
			v, n, err := consumeUint32Field(typ, b)
			m.Ticket, m.ByTicket = v, true
			return n, err
		}
		return -1, nil
	})
}

func (m *FetchRequest) appendWire(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	return protowire.AppendBytes(b, m.Target.appendWire(nil))
}

func (m *FetchRequest) consumeWire(b []byte) error {
	*m = FetchRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return -1, nil
		}
		v, n, err := consumeBytesField(typ, b)
		if err != nil {
			return 0, err
		}
		return n, m.Target.consumeWire(v)
	})
}

func (m *TypedTicket) appendWire(b []byte) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Index))
	if m.Type != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, m.Type)
	}
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(m.Ticket))
}

func (m *TypedTicket) consumeWire(b []byte) error {
	*m = TypedTicket{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeUint32Field(typ, b)
			m.Index = v
			return n, err
		case 2:
			v, n, err := consumeBytesField(typ, b)
			m.Type = string(v)
			return n, err
		case 3:
			v, n, err := consumeUint32Field(typ, b)
			m.Ticket = v
			return n, err
		}
		return -1, nil
	})
}

func appendTypedTickets(b []byte, num protowire.Number, refs []TypedTicket) []byte {
	for i := range refs {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, refs[i].appendWire(nil))
	}
	return b
}

func consumeTypedTicket(typ protowire.Type, b []byte) (TypedTicket, int, error) {
	v, n, err := consumeBytesField(typ, b)
	if err != nil {
		return TypedTicket{}, 0, err
	}
	var t TypedTicket
	if err := t.consumeWire(v); err != nil {
		return TypedTicket{}, 0, err
	}
	return t, n, nil
}

func (m *FetchResponse) appendWire(b []byte) []byte {
	if m.Type != "" {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, m.Type)
	}
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	return appendTypedTickets(b, 3, m.References)
}

func (m *FetchResponse) consumeWire(b []byte) error {
	*m = FetchResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytesField(typ, b)
			m.Type = string(v)
			return n, err
		case 2:
			v, n, err := consumeBytesField(typ, b)
			m.Payload = cloneBytes(v)
			return n, err
		case 3:
			t, n, err := consumeTypedTicket(typ, b)
			m.References = append(m.References, t)
			return n, err
		}
		return -1, nil
	})
}

func (m *StreamRequest) appendWire(b []byte) []byte {
	if m.Open != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Open.appendWire(nil))
	}
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	if len(m.References) > 0 {
		var packed []byte
		for _, r := range m.References {
			packed = protowire.AppendVarint(packed, uint64(r))
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

func (m *StreamRequest) consumeWire(b []byte) error {
	*m = StreamRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytesField(typ, b)
			if err != nil {
				return 0, err
			}
			m.Open = &ObjectTarget{}
			return n, m.Open.consumeWire(v)
		case 2:
			v, n, err := consumeBytesField(typ, b)
			m.Payload = cloneBytes(v)
			return n, err
		case 3:
			if typ == protowire.VarintType {
				v, n, err := consumeUint32Field(typ, b)
				m.References = append(m.References, v)
				return n, err
			}
			packed, n, err := consumeBytesField(typ, b)
			if err != nil {
				return 0, err
			}
			for len(packed) > 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					return 0, protowire.ParseError(k)
				}
				m.References = append(m.References, uint32(v))
				packed = packed[k:]
			}
			return n, nil
		}
		return -1, nil
	})
}

func (m *StreamResponse) appendWire(b []byte) []byte {
	if len(m.Payload) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Payload)
	}
	return appendTypedTickets(b, 2, m.References)
}

func (m *StreamResponse) consumeWire(b []byte) error {
	*m = StreamResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytesField(typ, b)
			m.Payload = cloneBytes(v)
			return n, err
		case 2:
			t, n, err := consumeTypedTicket(typ, b)
			m.References = append(m.References, t)
			return n, err
		}
		return -1, nil
	})
}
