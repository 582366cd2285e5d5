// Package native describes calls across the host's ABI boundary.
//
// A Func is an opaque call descriptor (address plus calling convention) resolved
// once at initialization. Calls go through the narrow Caller capability and Go
// functions are exposed to the host through Callbacks, so the rest of the bridge
// never performs ad hoc pointer casts.
//
// Process implements scriptbridge.Memory over the current process's address
// space. Heap implements scriptbridge.Allocator on top of the host's own
// allocation functions so the host can free what the bridge hands it.
//
// Only the Windows x64 calling convention is implemented natively. On that
// target member functions take this in the first integer register and a
// by-value class return is a hidden pointer passed right after this.
package native
