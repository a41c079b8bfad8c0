// Package harerr defines the error-kind taxonomy shared across harlite's
// storage, import, merge, redaction, and query components.
package harerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for caller-side dispatch (exit codes, retry
// policy, whether a transaction is safe to continue).
type Kind int

const (
	// InputInvalid covers malformed archives, unparseable URLs, bad size
	// specs, invalid regexes, empty/duplicated SQL, unsupported dedup
	// strategies.
	InputInvalid Kind = iota
	// IOFault covers file-not-found, permission-denied, disk-full, and
	// external blob read failures.
	IOFault
	// StorageCorruption covers SQLite constraint or foreign-key failures.
	StorageCorruption
	// ProtocolFault covers CDP socket errors and command error responses.
	ProtocolFault
	// PolicyViolation covers attempts to execute a non-read-only query
	// through the Safe Query Gateway, path traversal, or multi-statement
	// SQL.
	PolicyViolation
)

func (k Kind) String() string {
	switch k {
	case InputInvalid:
		return "InputInvalid"
	case IOFault:
		return "IOFault"
	case StorageCorruption:
		return "StorageCorruption"
	case ProtocolFault:
		return "ProtocolFault"
	case PolicyViolation:
		return "PolicyViolation"
	default:
		return "Unknown"
	}
}

// Error is a kind-tagged, wrapped error. Op names the failing operation
// (e.g. "blobstore.Store", "querygate.Execute") for diagnostics.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err under op with the given kind. Returns nil if err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
