package mirv

import (
	"fmt"

	"github.com/pkg/errors"
)

// UBKind identifies the class of undefined behavior detected on a path.
type UBKind string

// Undefined behavior kinds.
const (
	UBOutOfBoundsOffset     = UBKind("OutOfBoundsOffset")
	UBCrossAllocationOffset = UBKind("CrossAllocationOffset")
	UBMisalignedDereference = UBKind("MisalignedDereference")
	UBInvalidDiscriminant   = UBKind("InvalidDiscriminant")
	UBInvalidValue          = UBKind("InvalidValue")
	UBArithmeticOverflow    = UBKind("ArithmeticOverflow")
	UBShiftOutOfRange       = UBKind("ShiftOutOfRange")
	UBDivisionByZero        = UBKind("DivisionByZero")
	UBInexactDivision       = UBKind("InexactDivision")
	UBDanglingPointer       = UBKind("DanglingPointer")
	UBOutOfBoundsAccess     = UBKind("OutOfBoundsAccess")
	UBUseAfterFree          = UBKind("UseAfterFree")
	UBInvalidTransmute      = UBKind("InvalidTransmute")
	UBWriteToImmutable      = UBKind("WriteToImmutable")
	UBUnreachable           = UBKind("Unreachable")
)

// Fault represents the termination of a path. It is returned as an error by
// executor methods and converted into the state's status.
type Fault struct {
	Status ExecutionStatus
	Kind   UBKind // set if Status is ExecutionStatusUndefined
	Detail string
	Cause  error
}

// NewFault returns a fault terminating a path with the given status.
func NewFault(status ExecutionStatus) *Fault {
	return &Fault{Status: status}
}

// WithKind sets the undefined behavior kind and returns f.
func (f *Fault) WithKind(kind UBKind) *Fault {
	f.Kind = kind
	return f
}

// WithDetailf sets a formatted detail message and returns f.
func (f *Fault) WithDetailf(format string, args ...interface{}) *Fault {
	f.Detail = fmt.Sprintf(format, args...)
	return f
}

// WithCause sets the underlying error and returns f.
func (f *Fault) WithCause(err error) *Fault {
	f.Cause = err
	return f
}

// Error implements the error interface.
func (f *Fault) Error() string {
	s := string(f.Status)
	if f.Kind != "" {
		s += "(" + string(f.Kind) + ")"
	}
	if f.Detail != "" {
		s += ": " + f.Detail
	}
	if f.Cause != nil {
		s += ": " + f.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (f *Fault) Unwrap() error { return f.Cause }

// AsFault returns the fault within err's chain, if any.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func ubFault(kind UBKind, format string, args ...interface{}) *Fault {
	return NewFault(ExecutionStatusUndefined).WithKind(kind).WithDetailf(format, args...)
}

func stuckFault(format string, args ...interface{}) *Fault {
	return NewFault(ExecutionStatusStuck).WithDetailf(format, args...)
}

func panicFault(msg string) *Fault {
	return NewFault(ExecutionStatusPanicked).WithDetailf("%s", msg)
}

func assertionFault(msg string) *Fault {
	return NewFault(ExecutionStatusFailed).WithDetailf("%s", msg)
}

func undeterminedFault(cause error) *Fault {
	return NewFault(ExecutionStatusUndetermined).WithCause(cause)
}

func exitFault(code int) *Fault {
	return NewFault(ExecutionStatusExited).WithDetailf("exit code %d", code)
}

func pruneFault(format string, args ...interface{}) *Fault {
	return NewFault(ExecutionStatusPruned).WithDetailf(format, args...)
}
