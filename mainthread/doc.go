// Package mainthread runs work on a host's single message-loop thread.
//
// Work is boxed in a Registry and identified by a two-word payload that
// travels through the host's message queue. The receiving side looks the
// payload up, runs the item exactly once and drops it. Payloads that do not
// name a live item are ignored.
//
// Window subclasses a real host window on Windows. Loop is a goroutine
// locked to one OS thread that stands in for the host loop.
package mainthread
