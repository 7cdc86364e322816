// Package vfs implements the virtual filesystem seen by every computer.
//
// # Why vfs Exists
//
// A computer's script never touches the host filesystem. Instead it sees a
// single namespace assembled from several mounts: a read-only ROM, the
// computer's own capacity-limited save directory, and any disks inserted into
// attached drives. This package owns the path rules and the capacity
// accounting for that namespace.
//
// # Paths
//
// All paths are relative to the namespace root and use "/" separators.
// Sanitize normalises "." and ".." segments and rejects anything that would
// escape the root or that contains control characters or one of the
// characters "*:<>?| and the double quote. The root itself is the empty
// string.
//
// # Composition
//
// A FileSystem is an ordered list of (prefix, mount) bindings. Resolution
// picks the longest prefix covering the path; two bindings may never share a
// prefix. Listing a directory that contains mount points returns the union
// of the backing mount's entries and the mount point names.
//
// # Capacity
//
// Writable mounts charge every byte against a Quota. The quota check and the
// size update happen under one mutex, so two computers sharing a save
// directory can never both succeed past the limit. Deleting, truncating or
// overwriting a file releases its bytes before the call returns.
package vfs
