// Package async holds the small pieces of asynchronous plumbing the engine
// and its hosts share: a write-once Deferred result, a multi-listener
// Observer, and the Generator interface for cells that produce a sequence
// of values over time.
//
// Nothing here schedules work. The engine decides when a Generator is
// stepped and on which goroutine a Deferred's continuation is applied.
package async
