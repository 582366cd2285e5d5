// Package bridge runs scripts inside a running game host.
//
// Open resolves every address and layout the bridge depends on from the
// host's debug data, builds a patched copy of the script control packet's
// vtable whose Execute slot points at a Go trampoline, and optionally
// redirects the host's script error reporter so parse failures can be told
// apart from ordinary results.
//
// RunScript validates the host state without touching the host thread. A
// request that passes is turned into a control packet on the host thread and
// submitted through the host's normal input path. When the host later
// executes the packet, the trampoline runs the script through the host's
// engine, converts the value to text and hands it back to the waiting caller.
//
//	b, err := bridge.Open(platform, bridge.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer b.Close()
//
//	result, err := b.RunScript(ctx, "GetPlayerCount()")
//	var se *bridge.ScriptError
//	if errors.As(err, &se) && se.Reason == bridge.ReasonNotHost {
//		// this instance is a network client
//	}
package bridge
