// Package faults classifies the errors the transfer pipeline can surface.
// Every failure reported to a caller falls into one of four kinds:
// configuration, protocol, io, or connection. None of them are retried
// inside the data plane; a failing chunk fails only its owning job.
package faults

import (
	"errors"
	"fmt"
)

// Kind identifies the failure category of a Fault.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers invalid chunk sizes, zero worker counts,
	// unknown policy names, and missing required flags.
	KindConfiguration
	// KindProtocol covers truncated or invalid frame headers and streams
	// that end before the announced payload length.
	KindProtocol
	// KindIO covers file open, seek, read, and write failures.
	KindIO
	// KindConnection covers name resolution, connect, and bind failures.
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProtocol:
		return "protocol"
	case KindIO:
		return "io"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Fault is an error tagged with a Kind. It wraps an optional cause.
type Fault struct {
	kind Kind
	msg  string
	err  error
}

func (f *Fault) Error() string {
	if f.err != nil {
		return f.msg + ": " + f.err.Error()
	}
	return f.msg
}

func (f *Fault) Unwrap() error { return f.err }

// Kind returns the failure category.
func (f *Fault) Kind() Kind { return f.kind }

// New creates a Fault of the given kind.
func New(kind Kind, msg string) error {
	return &Fault{kind: kind, msg: msg}
}

// Wrap creates a Fault of the given kind around an existing error.
// Returns nil if err is nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Fault{kind: kind, msg: msg, err: err}
}

func Config(msg string) error { return New(KindConfiguration, msg) }

func Protocol(msg string) error { return New(KindProtocol, msg) }

func IO(msg string) error { return New(KindIO, msg) }

func Configf(format string, args ...any) error {
	return New(KindConfiguration, fmt.Sprintf(format, args...))
}

func Protocolf(format string, args ...any) error {
	return New(KindProtocol, fmt.Sprintf(format, args...))
}

func IOf(format string, args ...any) error {
	return New(KindIO, fmt.Sprintf(format, args...))
}

func Connectionf(format string, args ...any) error {
	return New(KindConnection, fmt.Sprintf(format, args...))
}

// WrapIO tags err as an io failure.
func WrapIO(err error, msg string) error { return Wrap(KindIO, err, msg) }

// WrapConnection tags err as a connection failure.
func WrapConnection(err error, msg string) error { return Wrap(KindConnection, err, msg) }

// WrapProtocol tags err as a protocol failure.
func WrapProtocol(err error, msg string) error { return Wrap(KindProtocol, err, msg) }

// KindOf returns the Kind of the first Fault in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

func IsConfiguration(err error) bool { return IsKind(err, KindConfiguration) }

func IsProtocol(err error) bool { return IsKind(err, KindProtocol) }

func IsIO(err error) bool { return IsKind(err, KindIO) }

func IsConnection(err error) bool { return IsKind(err, KindConnection) }
