// Package task implements the bridge through which script workers ask the
// single-threaded host loop to run an operation on their behalf.
//
// # Why task Exists
//
// Some host operations (mutating a monitor, running a command, touching
// world state) are only safe on the main loop. A script worker cannot call
// them directly, so it submits a closure and parks on the returned Pending
// until the main loop has run it.
//
// # Lifecycle of a Request
//
//  1. A worker calls Submit. The request gets the next sequence number and
//     is appended to the bridge's FIFO.
//  2. Once per host tick the main loop calls Drain. Requests that have
//     waited longer than the timeout are resolved with ErrTaskTimeout; then
//     queued requests are executed in submission order until the per-tick
//     budget is spent.
//  3. The closure's result (or its error, or a recovered panic) is delivered
//     to the Pending. A Pending resolves exactly once: a result arriving
//     after a timeout or a cancellation is discarded.
//
// Every queued closure runs exactly once, even if its caller already gave
// up, unless its owner was cancelled before the drain reached it.
package task
