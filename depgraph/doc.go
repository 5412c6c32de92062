// Package depgraph builds the directed acyclic graph of inter-service
// dependencies and derives safe orderings from it.
//
// Build validates the graph eagerly: a cycle is a hard configuration error
// reported with the participating service names, never silently broken.
// StartupOrder returns a dependency-first topological order, ShutdownOrder
// its exact reverse, and Levels groups services into layers whose members
// can be started concurrently.
//
// Graphs are derived data. The registry rebuilds one whenever its instance
// set changes; a graph is never consulted with a stale node list.
package depgraph
