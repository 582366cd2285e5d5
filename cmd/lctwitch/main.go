// Command lctwitch is the in-process entry point. Built with
// -buildmode=c-shared it is loaded into the game process; the bridge starts
// from the library's initializer and serves until the game's main thread
// exits.
package main

func main() {}
