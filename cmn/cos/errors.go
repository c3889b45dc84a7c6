// Package cos provides common low-level types and utilities shared by every
// PMD package: error kinds, assertions, and small helpers that don't deserve
// their own package.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure the way the PMD core's public API distinguishes
// them (see the error-handling design: propagation is by discriminated
// result, not by sentinel error identity).
type Kind int

const (
	InvalidArg Kind = iota
	NoSpace
	NotFound
	Exists
	Busy
	Gone
	Corrupt
	Unsupported // metadata too new for this binary
	ParmMismatch
	Zombie
	InsufficientGood
	IoError
	TooBig
	OutOfMemory
	PermissionDenied // upgrade not permitted
	Critical         // invariant broken; always logged
)

func (k Kind) String() string {
	switch k {
	case InvalidArg:
		return "invalid-arg"
	case NoSpace:
		return "no-space"
	case NotFound:
		return "not-found"
	case Exists:
		return "exists"
	case Busy:
		return "busy"
	case Gone:
		return "gone"
	case Corrupt:
		return "corrupt"
	case Unsupported:
		return "unsupported"
	case ParmMismatch:
		return "parm-mismatch"
	case Zombie:
		return "zombie"
	case InsufficientGood:
		return "insufficient-good"
	case IoError:
		return "io-error"
	case TooBig:
		return "too-big"
	case OutOfMemory:
		return "out-of-memory"
	case PermissionDenied:
		return "permission-denied"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is the discriminated result every PMD operation returns on failure.
type Error struct {
	cause error
	msg   string
	Kind  Kind
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target carries the same Kind — callers branch on Kind,
// never on a specific *Error identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// Errf builds a new *Error of the given kind, wrapping cause (if any) with
// github.com/pkg/errors so a stack trace is attached at the creation site.
func Errf(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, msg: msg, cause: cause}
}

// KindOf extracts the Kind of err, defaulting to IoError for errors the PMD
// core did not originate itself (e.g. a raw fs error bubbling up from an
// external collaborator).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IoError
}

func IsKind(err error, k Kind) bool { return KindOf(err) == k }
