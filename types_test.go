package objectplugin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// node is a server object with children, served by nodeType.
type node struct {
	name     string
	children []any
}

// nodeType writes "<name>" followed by "|<index>" per child. Children
// without an object type are written as "|-".
type nodeType struct {
	allowUnknown bool
}

func (nodeType) Name() string { return "test.Node" }

func (nodeType) IsType(obj any) bool {
	_, ok := obj.(*node)
	return ok
}

func (t nodeType) ToBytes(exporter Exporter, obj any) ([]byte, error) {
	n := obj.(*node)
	var b strings.Builder
	b.WriteString(n.name)
	for _, child := range n.children {
		var opts []ReferenceOption
		if t.allowUnknown {
			opts = append(opts, AllowUnknownType())
		}
		ref, ok := exporter.Reference(child, opts...)
		if !ok {
			b.WriteString("|-")
			continue
		}
		b.WriteString("|" + strconv.Itoa(ref.Index))
	}
	return []byte(b.String()), nil
}

// leaf is a plain server object.
type leaf struct {
	value string
}

type leafType struct{}

func (leafType) Name() string { return "test.Leaf" }

func (leafType) IsType(obj any) bool {
	_, ok := obj.(*leaf)
	return ok
}

func (leafType) ToBytes(_ Exporter, obj any) ([]byte, error) {
	return []byte(obj.(*leaf).value), nil
}

var errBroken = errors.New("broken object")

// failingType accepts everything named "fail" and always errors.
type failingType struct{}

func (failingType) Name() string { return "test.Failing" }

func (failingType) IsType(obj any) bool {
	s, ok := obj.(string)
	return ok && s == "fail"
}

func (failingType) ToBytes(Exporter, any) ([]byte, error) {
	return nil, errBroken
}

// chatRoom is a bidirectional type that sends "joined" on connect and
// echoes every message with an "echo:" prefix.
type chatRoom struct {
	mu      sync.Mutex
	members int
}

type chatRoomType struct {
	// silent skips the initial message.
	silent bool
	// failConnect makes CreateClientConnection fail.
	failConnect error
}

func (chatRoomType) Name() string { return "test.ChatRoom" }

func (chatRoomType) IsType(obj any) bool {
	_, ok := obj.(*chatRoom)
	return ok
}

func (t chatRoomType) CreateClientConnection(obj any, conn MessageStream) (MessageStream, error) {
	if t.failConnect != nil {
		return nil, t.failConnect
	}
	room := obj.(*chatRoom)
	room.mu.Lock()
	room.members++
	members := room.members
	room.mu.Unlock()

	if !t.silent {
		if err := conn.OnData([]byte(fmt.Sprintf("joined:%d", members)), nil); err != nil {
			return nil, err
		}
	}

	return StreamFuncs{
		Data: func(payload []byte, references []any) error {
			return conn.OnData(append([]byte("echo:"), payload...), references)
		},
		Close: func() {
			room.mu.Lock()
			room.members--
			room.mu.Unlock()
		},
	}, nil
}

// counter is a BidiObject served through BidiAdapter with leafType's
// fetch-only twin, counterType.
type counter struct {
	AttachableSender

	mu    sync.Mutex
	value int
}

func (c *counter) HandleMessage(payload []byte, objects []any) error {
	c.mu.Lock()
	switch string(payload) {
	case "inc":
		c.value++
	case "dec":
		c.value--
	}
	value := c.value
	c.mu.Unlock()

	for _, obj := range objects {
		c.Reference(obj, AllowUnknownType())
	}
	return c.SendString(strconv.Itoa(value))
}

type counterType struct{}

func (counterType) Name() string { return "test.Counter" }

func (counterType) IsType(obj any) bool {
	_, ok := obj.(*counter)
	return ok
}

func (counterType) ToBytes(_ Exporter, obj any) ([]byte, error) {
	c := obj.(*counter)
	c.mu.Lock()
	defer c.mu.Unlock()
	return []byte(strconv.Itoa(c.value)), nil
}

// testRegistrations registers every test type.
func testRegistrations() []Registration {
	return []Registration{
		RegistrationFunc(func(cb Callback) {
			cb.Register(nodeType{allowUnknown: true})
			cb.Register(leafType{})
			cb.Register(failingType{})
		}),
		RegistrationFunc(func(cb Callback) {
			cb.RegisterFactory(func() Plugin { return chatRoomType{} })
			cb.Register(counterType{})
		}),
	}
}

// recorder is a MessageStream that records deliveries.
type recorder struct {
	mu       sync.Mutex
	payloads []string
	refs     [][]any
	closes   int
	err      error
}

func (r *recorder) OnData(payload []byte, references []any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, string(payload))
	r.refs = append(r.refs, references)
	return r.err
}

func (r *recorder) OnClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func (r *recorder) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}
