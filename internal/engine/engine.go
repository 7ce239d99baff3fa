// Package engine defines the inference engine contract. The engine is an
// opaque capability: given a fixed-shape input buffer it produces a
// fixed-shape raw score buffer. It is constructed once at startup and
// injected into the frame pipeline.
package engine

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no engine is loaded. Handlers translate it
// into an explicit "model service not available" response instead of
// crashing the session.
var ErrUnavailable = errors.New("model service not available")

// Engine runs a forward pass over a flattened NCHW float32 buffer. Infer is
// synchronous and may block on compute; implementations own whatever
// serialization their runtime requires for concurrent callers.
type Engine interface {
	Infer(ctx context.Context, input []float32) ([]float32, error)
	InputShape() []int64
	OutputShape() []int64
	Close() error
}

func elementCount(shape []int64) int {
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	return n
}
