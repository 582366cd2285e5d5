// Package scriptbridge lets an external controller run scripts inside an already
// running, single-threaded host application through the host's own scripting
// entry point.
//
// The bridge discovers the host's object layout from debug symbols at load time,
// shims one virtual method of the host's script control record, marshals each
// request onto the host's message loop and returns the script result through a
// one-shot reply.
//
// # Architecture Overview
//
//	scriptbridge/        Root package with the Memory and Allocator interfaces
//	├── errors/          Structured error types
//	├── native/          Native call descriptors, callbacks and process memory
//	├── symbols/         Type layout resolution from debug information
//	├── locate/          Function and global address lookup by name
//	├── hook/            Inline hook transactions
//	├── vtable/          Virtual dispatch table shims
//	├── mainthread/      Work marshaling onto the host's message loop
//	├── bridge/          Script execution bridge and request state machine
//	├── config/          Configuration file and persisted port store
//	├── server/          HTTP and Connect front-end
//	├── history/         SQLite audit log
//	└── simhost/         Simulated host process for development and tests
//
// # Quick Start
//
// In the host process (see cmd/lctwitch) the platform is assembled from the
// native packages and the host window's message loop:
//
//	b, err := bridge.Open(bridge.Platform{
//	    Memory:    native.Process{},
//	    Caller:    native.Win64{},
//	    Callbacks: native.Win64{},
//	    Code:      hook.ProcessCode{},
//	    Threads:   []hook.Thread{mainThread},
//	    Symbols:   session,
//	    Locator:   locate.DbgHelp{Session: session},
//	    Module:    module,
//	    Marshaler: window,
//	}, bridge.DefaultOptions())
//	if err != nil {
//	    return err // initialization failures are fatal
//	}
//	defer b.Close()
//
//	result, err := b.RunScript(ctx, "GetPlayerCount()")
//
// cmd/simhost wires the same bridge to the simulated host in simhost.
//
// # Memory
//
// All host state is reached through Memory using absolute addresses. Offsets are
// resolved once into a bridge.Binding and never re-derived per call.
//
// # Thread Safety
//
// Bridge.RunScript is safe for concurrent use. Everything that touches host
// objects runs on the host's own thread through the mainthread.Marshaler.
package scriptbridge
