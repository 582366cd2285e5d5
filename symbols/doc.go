// Package symbols resolves the layout of the host's composite types from debug
// information.
//
// A Resolver wraps a Service backend. On Windows the backend is a single DbgHelp
// session bound to the current process, opened once with Open and never torn
// down. Any other backend (the simulated host's image, a test table) implements
// the same five queries.
//
//	syms := symbols.NewResolver(session, module.Base)
//	game, err := syms.Lookup("C4Game")
//	off, err := game.Offset("IsRunning")
//
// Members enumerates lazily and skips children whose offset or name cannot be
// queried, so partially stripped symbol data still yields every member that is
// described. A member the type does not declare is reported as an
// errors.KindFieldMissing error naming the type and the member.
package symbols
