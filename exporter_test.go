package objectplugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_ExportedCoversOperationOnly(t *testing.T) {
	table := NewReferenceTable(testResolver())
	earlier := &leaf{value: "earlier"}
	table.Reference(earlier)

	exporter := NewExporter(table)
	fresh := &leaf{value: "fresh"}
	ref, ok := exporter.Reference(fresh)
	require.True(t, ok)
	assert.Equal(t, 1, ref.Index)

	// Re-exporting an object minted before the operation mints nothing.
	again, _ := exporter.Reference(earlier)
	assert.Equal(t, 0, again.Index)

	exported := exporter.Exported()
	require.Len(t, exported, 1)
	assert.Same(t, fresh, exported[0].Object)
	assert.Same(t, table, exporter.Table())
}

func TestExporter_Drain(t *testing.T) {
	exporter := NewExporter(NewReferenceTable(testResolver()))

	exporter.Reference(&leaf{value: "a"})
	exporter.NewReference(&leaf{value: "b"})
	first := exporter.Drain()
	require.Len(t, first, 2)
	assert.Equal(t, 0, first[0].Reference.Index)
	assert.Equal(t, 1, first[1].Reference.Index)

	assert.Empty(t, exporter.Drain())

	exporter.Reference(&leaf{value: "c"})
	second := exporter.Drain()
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].Reference.Index)

	assert.Len(t, exporter.Exported(), 3)
}

func TestToBytes_NestedReferences(t *testing.T) {
	registry := NewRegistry(testRegistrations())
	shared := &leaf{value: "shared"}
	root := &node{name: "root", children: []any{shared, &leaf{value: "other"}, shared, 3.5}}

	exporter := NewExporter(NewReferenceTable(registry))
	payload, err := ToBytes(nodeType{allowUnknown: true}, exporter, root)
	require.NoError(t, err)

	assert.Equal(t, "root|0|1|0|2", string(payload))
	exported := exporter.Exported()
	require.Len(t, exported, 3)
	assert.Equal(t, "test.Leaf", exported[0].Reference.Type)
	assert.Equal(t, "", exported[2].Reference.Type)
}

func TestToBytes_NullReferenceWhenUnknown(t *testing.T) {
	exporter := NewExporter(NewReferenceTable(testResolver()))
	payload, err := ToBytes(nodeType{}, exporter, &node{name: "n", children: []any{3.5, &leaf{}}})
	require.NoError(t, err)

	assert.Equal(t, "n|-|0", string(payload))
	assert.Len(t, exporter.Exported(), 1)
}

func TestToBytes_Incompatible(t *testing.T) {
	exporter := NewExporter(NewReferenceTable(nil))
	_, err := ToBytes(leafType{}, exporter, "not a leaf")
	assert.ErrorIs(t, err, ErrIncompatibleObject)
}

func TestToBytes_HandlerErrorUnchanged(t *testing.T) {
	exporter := NewExporter(NewReferenceTable(nil))
	_, err := ToBytes(failingType{}, exporter, "fail")
	assert.Same(t, errBroken, err)
}

func TestExporter_ShipSkipsDrain(t *testing.T) {
	exporter := NewExporter(NewReferenceTable(testResolver()))
	pending := &leaf{value: "pending"}
	shipped := &leaf{value: "shipped"}

	exporter.Reference(pending)
	ref, ok := exporter.Ship(shipped)
	require.True(t, ok)
	assert.Equal(t, 1, ref.Index)

	drained := exporter.Drain()
	require.Len(t, drained, 1)
	assert.Same(t, pending, drained[0].Object)
	assert.Empty(t, exporter.Drain())

	// Shipping an object that is already out does not hide later ones.
	_, ok = exporter.Ship(pending)
	require.True(t, ok)
	exporter.Reference(&leaf{value: "later"})
	assert.Len(t, exporter.Drain(), 1)
}
