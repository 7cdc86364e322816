// Package wired implements the peripheral network: an undirected graph of
// nodes, each owning zero or more named peripherals, and the cached map of
// peripherals reachable from every node.
//
// # Reachability
//
// The reachable map of a node is the union of the local peripherals of every
// node in its connected component. It is cached per node and recomputed on
// every topology change. A mutation produces a set of seed nodes (the
// endpoints of a changed edge, the owner of a changed peripheral). Only the
// components containing those seeds are rescanned; when a batch of mutations
// produces more seeds than Options.FullScanThreshold, every component is
// rescanned instead.
//
// Traversal keeps a visited set, so self-loops and cycles never double count
// or loop. Edges are stored as a set keyed by the neighbour, so repeated
// Connect calls between the same pair collapse into one edge.
//
// # Notifications
//
// A Listener attached to a node is told when that node's reachable map
// changes. Old and new maps are diffed by name using the peripheral equality
// relation, so a peripheral that stays reachable (for example through a
// second path after one path is cut) produces no notification.
//
// Notifications are dispatched after the graph lock is released but before
// the next mutation may start, so listeners observe changes in mutation
// order and may read from the network. A listener must not mutate the
// network from inside its callback.
//
// # Concurrency
//
//	mutations ──► mutation mutex ──► write lock ──► recompute ──► unlock ──► notify
//	readers   ──► read lock ──► copy ──► unlock
//
// Readers always receive copies and never observe a half-recomputed graph.
//
// # Transmission
//
// Transmit walks the graph from the source node in order of accumulated
// edge distance and hands the packet once to every Receiver peripheral on
// each node within range.
package wired
