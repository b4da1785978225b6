package xap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is returned when graph contains a cycle reachable from the
	// output node.
	ErrCycle = errors.New("cycle in graph")
	// ErrQueueFull is returned when request can't be sent to the audio
	// goroutine. Caller can retry after next processed block.
	ErrQueueFull = errors.New("queue is full")
	// ErrUnknownNode is returned when node doesn't exist.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNodeExists is returned when node id is already used.
	ErrNodeExists = errors.New("node already exists")
	// ErrNodeCapacity is returned when graph can't hold more nodes without
	// allocations on the audio goroutine.
	ErrNodeCapacity = errors.New("node capacity exceeded")
	// ErrInvalidConnection is returned when connection doesn't match ports
	// or parameters of its nodes.
	ErrInvalidConnection = errors.New("invalid connection")
	// ErrNoNodes is returned when graph without nodes is activated.
	ErrNoNodes = errors.New("graph has no nodes")
	// ErrNotActive is returned when operation requires active graph.
	ErrNotActive = errors.New("graph is not active")
	// ErrActive is returned when operation requires inactive graph.
	ErrActive = errors.New("graph is active")
	// ErrOutputNode is returned on attempt to remove output node.
	ErrOutputNode = errors.New("output node cannot be removed")
	// ErrUnknownProcessor is returned when processor is not registered.
	ErrUnknownProcessor = errors.New("unknown processor")
)

// CycleError is reported when topological sort meets a node that is
// already being resolved.
type CycleError struct {
	Node NodeID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v at node %d", ErrCycle, e.Node)
}

// Is allows to match CycleError with ErrCycle.
func (e *CycleError) Is(err error) bool {
	return err == ErrCycle
}

// activateErrors wraps errors that might occur when multiple processors
// fail to activate.
type activateErrors []error

func (e activateErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Unwrap allows to match any of wrapped errors.
func (e activateErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error is list is empty.
func (e activateErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
