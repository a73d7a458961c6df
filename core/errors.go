package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownComponent is returned when a component id is not in the catalog.
	ErrUnknownComponent = errors.New("unknown component")
	// ErrInvalidEndpoint is returned when an edge references a missing node or port.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrNodeNotFound is returned when a node id does not exist.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEdgeNotFound is returned when an edge id does not exist.
	ErrEdgeNotFound = errors.New("edge not found")
	// ErrInvalidOperator is returned for an operator outside AND/OR/NOT/XOR/NAND/NOR.
	ErrInvalidOperator = errors.New("invalid operator")
	// ErrMalformedDocument is returned when a serialized graph cannot be imported.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrUnsupportedFormat is returned for an unknown compile target.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrEmptyGraph is returned when compiling a graph with no nodes.
	ErrEmptyGraph = errors.New("empty graph")
	// ErrValidationFailed is returned when a graph with validation errors is compiled.
	ErrValidationFailed = errors.New("validation failed")
	// ErrTestExecution marks a test that panicked or timed out.
	ErrTestExecution = errors.New("test execution failed")
)

// MaxErrorMessageLength bounds error text handed to external callers.
const MaxErrorMessageLength = 500

// GraphError carries the operation and the id it failed on.
type GraphError struct {
	Op  string // Operation that failed, e.g. "connect"
	ID  string // Node, edge or component id involved
	Err error  // Sentinel or underlying error
}

// Error implements the error interface
func (e *GraphError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As
func (e *GraphError) Unwrap() error {
	return e.Err
}

func graphErr(op, id string, err error) error {
	return &GraphError{Op: op, ID: id, Err: err}
}

// ValidationError is returned by callers that refuse to proceed on an
// invalid graph. It wraps ErrValidationFailed.
type ValidationError struct {
	Result ValidationResult
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if len(e.Result.Errors) == 0 {
		return ErrValidationFailed.Error()
	}
	return fmt.Sprintf("%v: %s", ErrValidationFailed, e.Result.Errors[0])
}

// Unwrap implements error unwrapping for errors.Is/As
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}
