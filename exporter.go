package objectplugin

import "sync"

// Exporter mints references while an object type serializes or streams an
// object. It is the only way an object type may export nested objects.
type Exporter interface {
	// Reference returns the reference for obj, exporting it if needed.
	// It returns false when obj cannot be exported (no object type accepts
	// it and AllowUnknownType was not given); callers should encode a null
	// reference in that case.
	Reference(obj any, opts ...ReferenceOption) (Reference, bool)

	// NewReference always mints a new reference for obj.
	NewReference(obj any) Reference
}

// TableExporter is the Exporter for one export operation over a
// ReferenceTable. It remembers where the operation started so the
// transport can ship exactly the references the operation minted.
type TableExporter struct {
	table *ReferenceTable

	mu      sync.Mutex
	start   int
	flushed int
	// shipped holds indices past flushed that already went out with a
	// message.
	shipped map[int]struct{}
}

// NewExporter opens an export operation on table.
func NewExporter(table *ReferenceTable) *TableExporter {
	n := table.Len()
	return &TableExporter{
		table:   table,
		start:   n,
		flushed: n,
	}
}

// Reference implements Exporter.
func (e *TableExporter) Reference(obj any, opts ...ReferenceOption) (Reference, bool) {
	return e.table.Reference(obj, opts...)
}

// NewReference implements Exporter.
func (e *TableExporter) NewReference(obj any) Reference {
	return e.table.NewReference(obj)
}

// Table returns the table backing the exporter.
func (e *TableExporter) Table() *ReferenceTable {
	return e.table
}

// Exported returns every reference minted since the exporter was opened.
func (e *TableExporter) Exported() []ExportedObject {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table.Entries(e.start)
}

// Drain returns the references minted since the previous Drain (or since
// the exporter was opened) and marks them as sent.
func (e *TableExporter) Drain() []ExportedObject {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := e.table.Entries(e.flushed)
	e.flushed += len(pending)
	if len(e.shipped) == 0 {
		return pending
	}
	out := make([]ExportedObject, 0, len(pending))
	for _, p := range pending {
		if _, ok := e.shipped[p.Reference.Index]; ok {
			delete(e.shipped, p.Reference.Index)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Ship returns the reference for obj like Reference and marks it as sent,
// so a later Drain does not return it again.
func (e *TableExporter) Ship(obj any, opts ...ReferenceOption) (Reference, bool) {
	ref, ok := e.table.Reference(obj, opts...)
	if !ok {
		return ref, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ref.Index >= e.flushed {
		if e.shipped == nil {
			e.shipped = make(map[int]struct{})
		}
		e.shipped[ref.Index] = struct{}{}
	}
	return ref, true
}
