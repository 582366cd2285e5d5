// Package simhost is a simulated game host process for exercising the
// script bridge without the real binary.
//
// It provides an Arena address space, an Image that answers debug-information
// and symbol queries for the host module, a Machine that executes calls into
// that module (following inline patches and relocated prologues the way a CPU
// would), and a Host that lays out the game objects, implements the native
// functions the bridge calls and runs a message loop standing in for the
// host's main thread. Script text is evaluated by an Engine; the default one
// evaluates CUE expressions.
package simhost
