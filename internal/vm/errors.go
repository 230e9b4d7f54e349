package vm

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// KindValidation means an argument or the descriptor is malformed.
	KindValidation Kind = iota + 1
	// KindPrecondition means the inputs are fine but the machine is in the
	// wrong state (running, missing, target exists...).
	KindPrecondition
	// KindExternal means an external program or the host failed.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindExternal:
		return "external"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every operation in this package.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func preconditionf(op, format string, args ...any) error {
	return &Error{Kind: KindPrecondition, Op: op, Err: fmt.Errorf(format, args...)}
}

func externalf(op, format string, args ...any) error {
	return &Error{Kind: KindExternal, Op: op, Err: fmt.Errorf(format, args...)}
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsPrecondition reports whether err is an unmet precondition.
func IsPrecondition(err error) bool { return isKind(err, KindPrecondition) }

// IsExternal reports whether err came from an external program.
func IsExternal(err error) bool { return isKind(err, KindExternal) }
