package core

import (
	"errors"
	"fmt"
)

// Conditions that abort the engine. Every one of them signals a bug in graph
// construction, never a data condition, so they are raised with Fatalf.
var (
	// resource exhaustion
	ErrArenaExhausted = errors.New("arena exhausted")
	ErrRegistryFull   = errors.New("kernel registry full")

	// shape and contract violations
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrRank            = errors.New("unsupported rank")
	ErrArity           = errors.New("wrong number of inputs")
	ErrInvalidArgument = errors.New("invalid argument")

	// graph integrity
	ErrCycle           = errors.New("graph has a cycle or disconnected nodes")
	ErrUnregistered    = errors.New("operation not registered")
	ErrDuplicateKernel = errors.New("kernel already registered")
	ErrNilReference    = errors.New("nil reference")
)

// Fatalf aborts with a descriptive message wrapping sentinel. The panic value is
// an error, so a test harness can recover it and match it with errors.Is.
// The engine never swallows it.
func Fatalf(sentinel error, format string, args ...any) {
	panic(fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel))
}
