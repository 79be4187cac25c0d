package objectplugin

import (
	"reflect"
	"sync"
)

// Reference identifies an exported server object within one export context.
// Index is assigned in order of first export and is what payloads embed.
// Type is the name of the object type serving the object, or "" when the
// object was exported without a known type.
type Reference struct {
	Index int
	Type  string
}

// HasType reports whether the reference carries an object type name.
func (r Reference) HasType() bool {
	return r.Type != ""
}

// TypeResolver finds the object type serving an object. *Registry is the
// usual implementation.
type TypeResolver interface {
	FindObjectType(obj any) ObjectType
}

// TypeResolverFunc adapts a function to TypeResolver.
type TypeResolverFunc func(obj any) ObjectType

// FindObjectType calls f(obj).
func (f TypeResolverFunc) FindObjectType(obj any) ObjectType {
	return f(obj)
}

// ReferenceOption modifies a single Reference call.
type ReferenceOption func(*referenceOptions)

type referenceOptions struct {
	allowUnknownType bool
	forceNew         bool
}

// AllowUnknownType exports the object even when no object type accepts it.
// The resulting reference has an empty Type.
func AllowUnknownType() ReferenceOption {
	return func(o *referenceOptions) { o.allowUnknownType = true }
}

// ForceNew mints a new reference even if the object was already exported.
// The earlier reference stays valid.
func ForceNew() ReferenceOption {
	return func(o *referenceOptions) { o.forceNew = true }
}

// ExportedObject pairs a reference with the object it names.
type ExportedObject struct {
	Reference Reference
	Object    any
}

// ReferenceTable tracks the objects exported into one context (a client
// session, one fetch, or one message stream). Entries are only ever
// appended; indices start at zero and are never reused.
//
// A ReferenceTable is safe for concurrent use.
type ReferenceTable struct {
	mu       sync.Mutex
	resolver TypeResolver
	entries  []ExportedObject
	// byIdentity holds the first reference minted for each object.
	byIdentity map[any]Reference
}

// NewReferenceTable creates an empty table. resolver may be nil, in which
// case every object is of unknown type.
func NewReferenceTable(resolver TypeResolver) *ReferenceTable {
	return &ReferenceTable{
		resolver:   resolver,
		byIdentity: make(map[any]Reference),
	}
}

// Reference returns the reference for obj, exporting it if needed.
//
// If obj is already in the table and ForceNew is not given, the existing
// reference is returned. Otherwise the object's type is resolved; when no
// object type accepts obj and AllowUnknownType is not given, Reference
// returns false and leaves the table untouched.
func (t *ReferenceTable) Reference(obj any, opts ...ReferenceOption) (Reference, bool) {
	var o referenceOptions
	for _, opt := range opts {
		opt(&o)
	}

	key, keyed := identityOf(obj)

	if !o.forceNew && keyed {
		if ref, ok := t.Lookup(obj); ok {
			return ref, true
		}
	}

	// Object types are plugin code and run without the table lock held.
	typeName := ""
	if t.resolver != nil {
		if ot := t.resolver.FindObjectType(obj); ot != nil {
			typeName = ot.Name()
		}
	}
	if typeName == "" && !o.allowUnknownType {
		return Reference{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !o.forceNew && keyed {
		if ref, ok := t.byIdentity[key]; ok {
			return ref, true
		}
	}

	ref := Reference{Index: len(t.entries), Type: typeName}
	t.entries = append(t.entries, ExportedObject{Reference: ref, Object: obj})
	if keyed {
		if _, exists := t.byIdentity[key]; !exists {
			t.byIdentity[key] = ref
		}
	}
	return ref, true
}

// NewReference always mints a new reference for obj, whether or not it was
// exported before and whether or not an object type accepts it.
func (t *ReferenceTable) NewReference(obj any) Reference {
	ref, _ := t.Reference(obj, AllowUnknownType(), ForceNew())
	return ref
}

// Lookup returns the existing reference for obj without exporting it.
func (t *ReferenceTable) Lookup(obj any) (Reference, bool) {
	key, keyed := identityOf(obj)
	if !keyed {
		return Reference{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ref, ok := t.byIdentity[key]
	return ref, ok
}

// Object returns the object exported at index.
func (t *ReferenceTable) Object(index int) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.entries) {
		return nil, false
	}
	return t.entries[index].Object, true
}

// Entry returns the reference and object exported at index.
func (t *ReferenceTable) Entry(index int) (ExportedObject, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.entries) {
		return ExportedObject{}, false
	}
	return t.entries[index], true
}

// Len returns the number of references minted so far.
func (t *ReferenceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Entries returns the exported objects from index from onward, in index order.
func (t *ReferenceTable) Entries(from int) []ExportedObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(t.entries) {
		return nil
	}
	out := make([]ExportedObject, len(t.entries)-from)
	copy(out, t.entries[from:])
	return out
}

// identityKey keys reference-like values by address so that two distinct
// slices or maps never collide, even when their contents are equal.
type identityKey struct {
	typ  reflect.Type
	addr uintptr
	len  int
}

// identityOf returns the map key that identifies obj. The second result is
// false for values that have no usable identity (non-comparable values that
// are not reference kinds); such objects are never de-duplicated.
func identityOf(obj any) (any, bool) {
	if obj == nil {
		return nil, false
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return identityKey{typ: v.Type(), addr: v.Pointer()}, true
	case reflect.Slice:
		return identityKey{typ: v.Type(), addr: v.Pointer(), len: v.Len()}, true
	}
	if !v.Comparable() {
		return nil, false
	}
	return obj, true
}
