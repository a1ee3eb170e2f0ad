// ABOUTME: Root cyclecollector package providing version information and package documentation
// ABOUTME: The collector itself lives in the collector package

// Package cyclecollector reclaims cycles of reference-counted objects shared
// between several runtimes. Reference counting frees acyclic garbage on its
// own; this module finds groups of objects that only keep each other alive
// and asks their runtimes to cut the links.
//
// The packages are layered leaf first: graph (per-pass nodes, table and
// walker), purple (candidate buffer), participant (runtime adapter
// contract), collector (the collection driver and public API), diag
// (optional instrumentation), config and refheap (a reference runtime).
package cyclecollector

// Version is the semantic version of the cycle collector
const Version = "0.1.0-dev"
