package objectplugin

import (
	"fmt"
	"sort"
	"sync"
)

// Scope is the host's namespace of published objects. Clients reach
// objects by name through a Scope and then follow references.
type Scope struct {
	mu      sync.RWMutex
	objects map[string]any
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{objects: make(map[string]any)}
}

// Publish makes obj available under name, replacing any earlier object.
func (s *Scope) Publish(name string, obj any) error {
	if err := ValidateScopeName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = obj
	return nil
}

// Remove unpublishes name. Sessions that already exported the object keep
// their references.
func (s *Scope) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
}

// Lookup returns the object published under name.
func (s *Scope) Lookup(name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObject, name)
	}
	return obj, nil
}

// Names returns all published names in sorted order.
func (s *Scope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
