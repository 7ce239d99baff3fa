package vision

import "fmt"

// Tensor is a normalized NCHW float32 buffer ready for inference, always
// batch 1 and 3 channels.
type Tensor struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
}

// Shape returns the tensor dimensions as expected by the inference runtime.
func (t *Tensor) Shape() []int64 {
	return []int64{1, int64(t.Channels), int64(t.Height), int64(t.Width)}
}

// Validate checks the buffer against its declared shape.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	want := t.Channels * t.Height * t.Width
	if len(t.Data) != want {
		return fmt.Errorf("tensor buffer length %d does not match shape %v", len(t.Data), t.Shape())
	}
	return nil
}

// ScoreMap is the raw model output: shape (1, 1, Height, Width), real valued
// and unbounded. It only exists between inference and postprocessing.
type ScoreMap struct {
	Data   []float32
	Height int
	Width  int
}

// Shape returns the score map dimensions.
func (s *ScoreMap) Shape() []int64 {
	return []int64{1, 1, int64(s.Height), int64(s.Width)}
}

// Validate checks the buffer against its declared shape.
func (s *ScoreMap) Validate() error {
	if s == nil {
		return fmt.Errorf("nil score map")
	}
	if len(s.Data) != s.Height*s.Width {
		return fmt.Errorf("score buffer length %d does not match shape %v", len(s.Data), s.Shape())
	}
	return nil
}
