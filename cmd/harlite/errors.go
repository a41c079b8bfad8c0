package main

import (
	"errors"

	"github.com/brucehart/harlite/internal/harerr"
)

// exitCodeFor maps a harerr.Kind to a process exit code so scripts can
// branch on failure class without parsing stderr (spec §7).
func exitCodeFor(err error) int {
	var e *harerr.Error
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Kind {
	case harerr.InputInvalid:
		return 2
	case harerr.IOFault:
		return 3
	case harerr.StorageCorruption:
		return 4
	case harerr.ProtocolFault:
		return 5
	case harerr.PolicyViolation:
		return 6
	default:
		return 1
	}
}
