// Package objectplugin lets a host application expose server-side objects to
// remote clients through registered object type plugins.
//
// # Overview
//
// An object type plugin recognizes a class of host objects and either
// serializes them once (fetch-only) or attaches them to a live bidirectional
// message stream. While serializing, a plugin may reference other server
// objects through an Exporter; the client receives the references alongside
// the payload and can fetch or connect to them in turn.
//
// # Object Types
//
// Implement ObjectType plus one of the capability interfaces:
//
//	type TableType struct{}
//
//	func (TableType) Name() string          { return "example.Table" }
//	func (TableType) IsType(obj any) bool   { _, ok := obj.(*Table); return ok }
//
//	func (TableType) ToBytes(exp objectplugin.Exporter, obj any) ([]byte, error) {
//	    t := obj.(*Table)
//	    var out []byte
//	    for _, child := range t.Children {
//	        ref, ok := exp.Reference(child)
//	        if !ok {
//	            continue // no object type for child
//	        }
//	        out = binary.AppendUvarint(out, uint64(ref.Index))
//	    }
//	    return out, nil
//	}
//
// # Registration
//
// Plugins reach the host through Registrations, enumerated in a stable order:
//
//	type Plugins struct{}
//
//	func (Plugins) RegisterInto(cb objectplugin.Callback) {
//	    cb.Register(TableType{})
//	    cb.RegisterFactory(func() objectplugin.Plugin { return NewCounterType() })
//	}
//
//	registry := objectplugin.NewRegistry([]objectplugin.Registration{Plugins{}})
//
// # Plugin Host
//
// The host publishes named objects into a Scope and serves them:
//
//	scope := objectplugin.NewScope()
//	scope.Publish("sales", salesTable)
//
//	objectplugin.Serve(&objectplugin.ServeConfig{
//	    Registrations: []objectplugin.Registration{Plugins{}},
//	    Scope:         scope,
//	})
//
// # Client
//
//	client, _ := objectplugin.NewClient(objectplugin.ClientConfig{Endpoint: "http://localhost:8080"})
//	defer client.Close(ctx)
//
//	obj, _ := client.Fetch(ctx, "sales")
//	stream, _ := client.Connect(ctx, objectplugin.TicketTarget(obj.References[0].Ticket))
package objectplugin
