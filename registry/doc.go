// Package registry is the cell directory.
//
// Every process that registers cells on the bus can record them here, so
// operators and other cells can see what is running, where, and which
// subjects it serves. The directory is informational: routing on the bus
// never consults it.
//
// # Implementations
//
//   - MemoryRegistry: in-memory, for tests and single-process runs
//   - NATSRegistry: shared across processes through a JetStream KV bucket
//     (default "cbs-cells")
//
// # Usage
//
//	reg, _ := registry.NewNATSRegistry(natsBus.Conn(), registry.DefaultNATSRegistryConfig())
//	reg.Register(registry.CellInfo{
//	    ID:       "logic_greet",
//	    App:      "hello_world",
//	    Subjects: []string{"cbs.greeter.say_hello"},
//	})
//
//	cells, _ := reg.FindBySubject("cbs.greeter.say_hello")
//
// Entries written with a TTL expire unless re-registered; the NATS bucket
// enforces the TTL itself.
package registry
