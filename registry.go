package objectplugin

import (
	"sync"

	"go.uber.org/zap"
)

// Callback receives the plugins of one Registration.
type Callback interface {
	// Register adds a ready plugin instance.
	Register(plugin Plugin)

	// RegisterFactory adds a plugin that is built on first use. The
	// factory is called at most once; the instance is reused afterwards.
	RegisterFactory(factory func() Plugin)
}

// Registration is the entry point a plugin package exposes to the host.
// RegisterInto must register the same plugins in the same order every
// time it is called.
type Registration interface {
	RegisterInto(cb Callback)
}

// RegistrationFunc adapts a function to Registration.
type RegistrationFunc func(cb Callback)

// RegisterInto calls f(cb).
func (f RegistrationFunc) RegisterInto(cb Callback) {
	f(cb)
}

// registryEntry is one registered plugin, instantiated lazily.
type registryEntry struct {
	once     sync.Once
	factory  func() Plugin
	instance Plugin
	// usable is false when the instance failed validation.
	usable bool
}

func (e *registryEntry) plugin(logger *zap.Logger) (Plugin, bool) {
	e.once.Do(func() {
		if e.instance == nil && e.factory != nil {
			e.instance = e.factory()
		}
		e.usable = e.instance != nil
		if ot, ok := e.instance.(ObjectType); ok {
			if err := ValidateTypeName(ot.Name()); err != nil {
				logger.Warn("skipping object type with invalid name", zap.Error(err))
				e.usable = false
			}
		}
	})
	return e.instance, e.usable
}

// Registry resolves host objects to object types. It holds the plugins of
// every Registration in a fixed order: registrations in the order given,
// plugins in the order each registration registered them.
type Registry struct {
	mu      sync.RWMutex
	entries []*registryEntry
	logger  *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry enumerates regs once and returns a registry over their plugins.
func NewRegistry(regs []Registration, opts ...RegistryOption) *Registry {
	r := &Registry{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	c := &collector{}
	for _, reg := range regs {
		if reg == nil {
			continue
		}
		reg.RegisterInto(c)
	}
	r.entries = c.entries
	return r
}

// Add appends the plugins of reg after every plugin already registered.
func (r *Registry) Add(reg Registration) {
	c := &collector{}
	reg.RegisterInto(c)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, c.entries...)
}

// FindObjectType returns the first registered object type whose IsType
// accepts obj, or nil when none does. Plugins that are not object types
// are skipped.
func (r *Registry) FindObjectType(obj any) ObjectType {
	for _, e := range r.snapshot() {
		p, ok := e.plugin(r.logger)
		if !ok {
			continue
		}
		ot, ok := p.(ObjectType)
		if !ok {
			continue
		}
		if ot.IsType(obj) {
			return ot
		}
	}
	return nil
}

// ObjectTypes instantiates and returns every registered object type in
// registration order.
func (r *Registry) ObjectTypes() []ObjectType {
	var out []ObjectType
	for _, e := range r.snapshot() {
		p, ok := e.plugin(r.logger)
		if !ok {
			continue
		}
		if ot, ok := p.(ObjectType); ok {
			out = append(out, ot)
		}
	}
	return out
}

// Plugins instantiates and returns every registered plugin in order.
func (r *Registry) Plugins() []Plugin {
	var out []Plugin
	for _, e := range r.snapshot() {
		if p, ok := e.plugin(r.logger); ok {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of registered plugins, instantiated or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) snapshot() []*registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries
}

// CollectPlugins returns the plugins reg registers, building factory
// plugins eagerly.
func CollectPlugins(reg Registration) []Plugin {
	c := &collector{}
	reg.RegisterInto(c)
	out := make([]Plugin, 0, len(c.entries))
	for _, e := range c.entries {
		if p, ok := e.plugin(zap.NewNop()); ok {
			out = append(out, p)
		}
	}
	return out
}

// collector is the Callback the registry hands to registrations.
type collector struct {
	entries []*registryEntry
}

func (c *collector) Register(plugin Plugin) {
	if plugin == nil {
		return
	}
	c.entries = append(c.entries, &registryEntry{instance: plugin})
}

func (c *collector) RegisterFactory(factory func() Plugin) {
	if factory == nil {
		return
	}
	c.entries = append(c.entries, &registryEntry{factory: factory})
}
