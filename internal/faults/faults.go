package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide between rejecting the
// request, reporting a processing failure, or tearing down a connection
// without matching on message strings.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no classification.
	KindUnknown Kind = iota
	// KindInput marks bad caller input: wrong content type, undecodable bytes.
	KindInput
	// KindPipeline marks a frame-processing failure: preprocess, postprocess,
	// or overlay errors, including shape mismatches.
	KindPipeline
	// KindEngine marks an unavailable or failing inference engine.
	KindEngine
	// KindTransport marks a connection-level failure that ends a session.
	KindTransport
)

// String returns a short label for the kind.
func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindPipeline:
		return "pipeline"
	case KindEngine:
		return "engine"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error annotates an underlying error with a kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New wraps err with a kind and operation. It returns nil when err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Input wraps err as a caller-input failure.
func Input(op string, err error) error { return New(KindInput, op, err) }

// Pipeline wraps err as a frame-processing failure.
func Pipeline(op string, err error) error { return New(KindPipeline, op, err) }

// Engine wraps err as an inference-engine failure.
func Engine(op string, err error) error { return New(KindEngine, op, err) }

// Transport wraps err as a connection-level failure.
func Transport(op string, err error) error { return New(KindTransport, op, err) }

// KindOf walks the error chain and returns the first classification found.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Transient reports whether the error looks retryable: a deadline, a network
// timeout, or an error advertising itself as temporary.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
