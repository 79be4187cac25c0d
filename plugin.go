package objectplugin

import (
	"fmt"
)

// Plugin is the interface implemented by everything a Registration hands
// to the host. Object types are the plugins the host acts on; any other
// plugin is carried through registration and ignored by type resolution.
type Plugin interface {
	// Name returns the plugin's unique identifier (e.g., "example.Table").
	Name() string
}

// ObjectType is an object type plugin. It decides which host objects it
// serves and is paired with at least one capability interface:
// FetchOnlyObjectType and/or BidirectionalObjectType.
type ObjectType interface {
	Plugin

	// IsType reports whether obj is compatible with this object type.
	// It must be cheap and must not retain obj.
	IsType(obj any) bool
}

// FetchOnlyObjectType serializes an object once. No state is kept after
// ToBytes returns.
type FetchOnlyObjectType interface {
	ObjectType

	// ToBytes serializes obj. It must only be called with an object that
	// satisfies IsType. References to nested server objects are minted
	// through exporter; the payload embeds their Index values.
	ToBytes(exporter Exporter, obj any) ([]byte, error)
}

// BidirectionalObjectType keeps talking to the client after the object is
// delivered.
type BidirectionalObjectType interface {
	ObjectType

	// CreateClientConnection attaches one client to obj. conn carries
	// messages to the client; the returned stream receives the client's
	// messages.
	//
	// Before returning, implementations must call conn.OnData at least once
	// so the client has an initial view of the object.
	CreateClientConnection(obj any, conn MessageStream) (MessageStream, error)
}

// Capability is the set of interaction shapes an object type supports.
type Capability uint8

const (
	// CapabilityFetchOnly marks types that implement FetchOnlyObjectType.
	CapabilityFetchOnly Capability = 1 << iota

	// CapabilityBidirectional marks types that implement BidirectionalObjectType.
	CapabilityBidirectional
)

// Has reports whether c includes every capability in other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	switch c {
	case 0:
		return "none"
	case CapabilityFetchOnly:
		return "fetch-only"
	case CapabilityBidirectional:
		return "bidirectional"
	case CapabilityFetchOnly | CapabilityBidirectional:
		return "fetch-only|bidirectional"
	default:
		return fmt.Sprintf("Capability(%d)", uint8(c))
	}
}

// CapabilitiesOf returns the capabilities declared by t.
func CapabilitiesOf(t ObjectType) Capability {
	var c Capability
	if _, ok := t.(FetchOnlyObjectType); ok {
		c |= CapabilityFetchOnly
	}
	if _, ok := t.(BidirectionalObjectType); ok {
		c |= CapabilityBidirectional
	}
	return c
}

// streamingTypeFor returns the bidirectional form of t for obj. Types that
// implement BidirectionalObjectType are used directly; fetch-only types are
// adapted when obj itself speaks BidiObject.
func streamingTypeFor(t ObjectType, obj any, resolver TypeResolver) (BidirectionalObjectType, bool) {
	if bidi, ok := t.(BidirectionalObjectType); ok {
		return bidi, true
	}
	fetch, ok := t.(FetchOnlyObjectType)
	if !ok {
		return nil, false
	}
	if _, ok := obj.(BidiObject); !ok {
		return nil, false
	}
	return &BidiAdapter{Type: fetch, Resolver: resolver}, true
}

// ToBytes serializes obj with t after checking compatibility.
// It returns ErrIncompatibleObject rather than calling t with an object it
// rejects. Errors from t are returned as is.
func ToBytes(t FetchOnlyObjectType, exporter Exporter, obj any) ([]byte, error) {
	if !t.IsType(obj) {
		return nil, fmt.Errorf("%w: %s rejects %T", ErrIncompatibleObject, t.Name(), obj)
	}
	return t.ToBytes(exporter, obj)
}

// LookupObjectType returns the registered object type with the given name
// as T.
//
// Example:
//
//	counters, err := objectplugin.LookupObjectType[objectplugin.BidirectionalObjectType](registry, "example.Counter")
func LookupObjectType[T ObjectType](r *Registry, name string) (T, error) {
	var zero T
	for _, t := range r.ObjectTypes() {
		if t.Name() != name {
			continue
		}
		typed, ok := t.(T)
		if !ok {
			return zero, fmt.Errorf("object type %q (%T) does not have the requested capability", name, t)
		}
		return typed, nil
	}
	return zero, fmt.Errorf("%w: %q", ErrNoObjectType, name)
}
