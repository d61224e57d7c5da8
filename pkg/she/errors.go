package she

import "fmt"

// ErrorCode is one of the SHE-defined status codes carried in every reply's
// rc field.
type ErrorCode byte

const (
	ErcNoError ErrorCode = iota
	ErcSequenceError
	ErcKeyNotAvailable
	ErcKeyInvalid
	ErcKeyEmpty
	ErcNoSecureBoot
	ErcWriteProtected
	ErcKeyUpdateError
	ErcRngSeed
	ErcNoDebugging
	ErcBusy
	ErcMemoryFailure
	ErcGeneralError
)

func (c ErrorCode) String() string {
	switch c {
	case ErcNoError:
		return "NO_ERROR"
	case ErcSequenceError:
		return "SEQUENCE_ERROR"
	case ErcKeyNotAvailable:
		return "KEY_NOT_AVAILABLE"
	case ErcKeyInvalid:
		return "KEY_INVALID"
	case ErcKeyEmpty:
		return "KEY_EMPTY"
	case ErcNoSecureBoot:
		return "NO_SECURE_BOOT"
	case ErcWriteProtected:
		return "WRITE_PROTECTED"
	case ErcKeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case ErcRngSeed:
		return "RNG_SEED"
	case ErcNoDebugging:
		return "NO_DEBUGGING"
	case ErcBusy:
		return "BUSY"
	case ErcMemoryFailure:
		return "MEMORY_FAILURE"
	case ErcGeneralError:
		return "GENERAL_ERROR"
	default:
		return fmt.Sprintf("ErrorCode(%d)", byte(c))
	}
}

// sheStandard is the closed set of codes a handler is allowed to return
// directly. Anything else is coerced to ErcGeneralError by the dispatcher,
// collapsing the source's long "if (ret != X && ret != Y ...)" chain into a
// lookup.
var sheStandard = map[ErrorCode]bool{
	ErcSequenceError:   true,
	ErcKeyNotAvailable: true,
	ErcKeyInvalid:      true,
	ErcKeyEmpty:        true,
	ErcNoSecureBoot:    true,
	ErcWriteProtected:  true,
	ErcKeyUpdateError:  true,
	ErcRngSeed:         true,
	ErcNoDebugging:     true,
	ErcBusy:            true,
	ErcMemoryFailure:   true,
}

// Error represents a SHE protocol failure that the dispatcher will encode
// into a reply's rc field.
type Error struct {
	Code  ErrorCode
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "she: <nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("she: %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("she: %s", e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// sheErr wraps code as a *Error, optionally carrying an underlying cause for
// logging.
func sheErr(code ErrorCode, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// coerce maps an arbitrary error to a reply ErrorCode: a *Error with a
// standard code passes through unchanged, anything else becomes
// ErcGeneralError.
func coerce(err error) ErrorCode {
	if err == nil {
		return ErcNoError
	}
	var sheErr *Error
	if as, ok := err.(*Error); ok {
		sheErr = as
	}
	if sheErr == nil {
		return ErcGeneralError
	}
	if sheStandard[sheErr.Code] {
		return sheErr.Code
	}
	return ErcGeneralError
}

// ErrBadArgs is returned by Dispatcher.Handle itself (not as a reply) when
// called with a nil session or payload.
var ErrBadArgs = fmt.Errorf("she: bad arguments")
