package objectplugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type namedPlugin string

func (p namedPlugin) Name() string { return string(p) }

// anyType accepts everything.
type anyType struct{ name string }

func (t anyType) Name() string { return t.name }

func (anyType) IsType(any) bool { return true }

func (anyType) ToBytes(Exporter, any) ([]byte, error) { return nil, nil }

func TestRegistry_FirstMatchWins(t *testing.T) {
	registry := NewRegistry([]Registration{
		RegistrationFunc(func(cb Callback) {
			cb.Register(leafType{})
			cb.Register(anyType{name: "first.Any"})
		}),
		RegistrationFunc(func(cb Callback) {
			cb.Register(anyType{name: "second.Any"})
		}),
	})

	ot := registry.FindObjectType(&leaf{})
	require.NotNil(t, ot)
	assert.Equal(t, "test.Leaf", ot.Name())

	ot = registry.FindObjectType(42)
	require.NotNil(t, ot)
	assert.Equal(t, "first.Any", ot.Name())
}

func TestRegistry_NoMatch(t *testing.T) {
	registry := NewRegistry([]Registration{
		RegistrationFunc(func(cb Callback) { cb.Register(leafType{}) }),
	})
	assert.Nil(t, registry.FindObjectType("nothing serves strings"))
}

func TestRegistry_SkipsNonObjectTypePlugins(t *testing.T) {
	registry := NewRegistry([]Registration{
		RegistrationFunc(func(cb Callback) {
			cb.Register(namedPlugin("not.AType"))
			cb.Register(leafType{})
		}),
	})

	assert.Equal(t, 2, registry.Len())
	assert.Len(t, registry.Plugins(), 2)
	types := registry.ObjectTypes()
	require.Len(t, types, 1)
	assert.Equal(t, "test.Leaf", types[0].Name())
}

func TestRegistry_FactoryCalledOnce(t *testing.T) {
	calls := 0
	registry := NewRegistry([]Registration{
		RegistrationFunc(func(cb Callback) {
			cb.RegisterFactory(func() Plugin {
				calls++
				return leafType{}
			})
		}),
	})

	assert.Equal(t, 0, calls, "factories are lazy")
	registry.FindObjectType(&leaf{})
	registry.FindObjectType(&leaf{})
	registry.ObjectTypes()
	assert.Equal(t, 1, calls)
}

func TestRegistry_EnumeratesRegistrationsOnce(t *testing.T) {
	enumerations := 0
	registry := NewRegistry([]Registration{
		RegistrationFunc(func(cb Callback) {
			enumerations++
			cb.Register(leafType{})
		}),
	})

	for range 3 {
		registry.FindObjectType(&leaf{})
	}
	assert.Equal(t, 1, enumerations)
}

func TestRegistry_InvalidTypeNameSkipped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	registry := NewRegistry([]Registration{
		RegistrationFunc(func(cb Callback) {
			cb.RegisterFactory(func() Plugin { return anyType{name: "bad name!"} })
			cb.Register(anyType{name: "good.Any"})
		}),
	}, WithRegistryLogger(zap.New(core)))

	ot := registry.FindObjectType(1)
	require.NotNil(t, ot)
	assert.Equal(t, "good.Any", ot.Name())
	assert.Equal(t, 1, logs.FilterMessage("skipping object type with invalid name").Len())
}

func TestRegistry_Add(t *testing.T) {
	registry := NewRegistry(nil)
	assert.Nil(t, registry.FindObjectType(&leaf{}))

	registry.Add(RegistrationFunc(func(cb Callback) { cb.Register(leafType{}) }))
	assert.NotNil(t, registry.FindObjectType(&leaf{}))
}

func TestRegistry_NilEntriesIgnored(t *testing.T) {
	registry := NewRegistry([]Registration{
		nil,
		RegistrationFunc(func(cb Callback) {
			cb.Register(nil)
			cb.RegisterFactory(nil)
			cb.RegisterFactory(func() Plugin { return nil })
		}),
	})
	assert.Empty(t, registry.Plugins())
}

func TestCollectPlugins(t *testing.T) {
	plugins := CollectPlugins(RegistrationFunc(func(cb Callback) {
		cb.Register(leafType{})
		cb.RegisterFactory(func() Plugin { return namedPlugin("other") })
	}))

	require.Len(t, plugins, 2)
	assert.Equal(t, "test.Leaf", plugins[0].Name())
	assert.Equal(t, "other", plugins[1].Name())
}

func TestLookupObjectType(t *testing.T) {
	registry := NewRegistry(testRegistrations())

	fetch, err := LookupObjectType[FetchOnlyObjectType](registry, "test.Leaf")
	require.NoError(t, err)
	assert.Equal(t, "test.Leaf", fetch.Name())

	_, err = LookupObjectType[BidirectionalObjectType](registry, "test.Leaf")
	assert.Error(t, err)

	_, err = LookupObjectType[ObjectType](registry, "missing")
	assert.ErrorIs(t, err, ErrNoObjectType)
}
