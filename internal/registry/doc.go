// Package registry tracks every loaded computer executor and performs the
// per-tick housekeeping for all of them: keep-alive eviction, ticking and
// state broadcasts.
//
// Executors are keyed by a per-load instance id, distinct from the persistent
// computer id, so a computer that is unloaded and loaded again is a new
// instance. A Registry is constructed by the simulation root and passed down;
// there is no process-wide instance.
package registry
