// Package failure implements the terminal error kinds of a training
// run. None of these errors are retried: each one means that the data
// or parameters of the current run can no longer be trusted.
package failure

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a training failure
type Kind int

const (
	// ShapeMismatch reports a disagreement between configured sizes
	// and the sizes an environment or network actually has. It is
	// raised at initialization.
	ShapeMismatch Kind = iota + 1

	// SimulationFault reports that an environment returned a batch
	// with inconsistent world, agent or observation counts in the
	// middle of a rollout.
	SimulationFault

	// NumericalInstability reports a non-finite loss or gradient.
	NumericalInstability
)

// String implements the fmt.Stringer interface
func (k Kind) String() string {
	switch k {
	case ShapeMismatch:
		return "ShapeMismatch"
	case SimulationFault:
		return "SimulationFault"
	case NumericalInstability:
		return "NumericalInstability"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// NoIteration is the Iteration of an Error raised outside of any
// training iteration, e.g. during initialization.
const NoIteration = -1

// Error implements a terminal training error. Op names the operation
// that failed and Iteration the outer training iteration it failed in.
type Error struct {
	Kind      Kind
	Op        string
	Iteration int
	Err       error
}

// Error satisfies the error interface
func (e *Error) Error() string {
	if e.Iteration == NoIteration {
		return fmt.Sprintf("%v: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%v: %v at iteration %d: %v", e.Op, e.Kind,
		e.Iteration, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a new *Error of kind k raised by op outside of any
// iteration. The message is formatted according to format and args.
func New(k Kind, op, format string, args ...interface{}) error {
	return &Error{
		Kind:      k,
		Op:        op,
		Iteration: NoIteration,
		Err:       pkgerrors.Errorf(format, args...),
	}
}

// Wrap wraps err as an *Error of kind k raised by op. If err is nil,
// Wrap returns nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      k,
		Op:        op,
		Iteration: NoIteration,
		Err:       pkgerrors.WithStack(err),
	}
}

// AtIteration records the iteration at which err occurred. If err is
// not an *Error, it is returned unchanged.
func AtIteration(err error, iteration int) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	tagged := *e
	tagged.Iteration = iteration
	return &tagged
}

// KindOf returns the Kind of err and whether err is an *Error at all
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Kind, true
}

// IterationOf returns the iteration recorded in err, or NoIteration
func IterationOf(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return NoIteration
	}
	return e.Iteration
}

// IsShapeMismatch returns whether err reports a ShapeMismatch
func IsShapeMismatch(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ShapeMismatch
}

// IsSimulationFault returns whether err reports a SimulationFault
func IsSimulationFault(err error) bool {
	k, ok := KindOf(err)
	return ok && k == SimulationFault
}

// IsNumericalInstability returns whether err reports a
// NumericalInstability
func IsNumericalInstability(err error) bool {
	k, ok := KindOf(err)
	return ok && k == NumericalInstability
}
