// Package core defines the signature graph and the rules that keep it valid.
//
// # Architecture Overview
//
// The core package provides:
//   - Graph, Node and Edge, mutated through explicit commands
//   - Document serialization with tolerant import
//   - Indicator, the closed set of typed detection primitives decoded from nodes
//   - Validate, a pure structural and parameter check over a graph
//   - EventBus, synchronous ordered delivery of graph mutation events
//
// Everything in core is synchronous and does no I/O. Callers that share a
// Graph between goroutines must serialize access themselves (see
// service.Session).
package core
