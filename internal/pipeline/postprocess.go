package pipeline

import (
	"fmt"
	"math"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/vision"
)

// Postprocessor converts raw model scores into an 8-bit mask at the
// original frame's resolution.
type Postprocessor struct {
	height int
	width  int
}

// NewPostprocessor returns a postprocessor expecting model-shaped scores.
func NewPostprocessor() *Postprocessor {
	return &Postprocessor{height: InputHeight, width: InputWidth}
}

// Finalize squashes scores through a sigmoid, scales to [0,255], and
// resizes the mask back to origHeight x origWidth. The resize back is the
// same bilinear policy as preprocessing, so the round trip preserves shape
// but not exact pixel values.
func (p *Postprocessor) Finalize(scores *vision.ScoreMap, origHeight, origWidth int) (*vision.Image, error) {
	if err := scores.Validate(); err != nil {
		return nil, faults.Pipeline("pipeline.postprocess", err)
	}
	if scores.Height != p.height || scores.Width != p.width {
		return nil, faults.Pipeline("pipeline.postprocess",
			fmt.Errorf("unexpected score shape %v, want (1,1,%d,%d)", scores.Shape(), p.height, p.width))
	}
	if origHeight <= 0 || origWidth <= 0 {
		return nil, faults.Pipeline("pipeline.postprocess",
			fmt.Errorf("target shape %dx%d has zero area", origHeight, origWidth))
	}

	mask := vision.NewImage(p.width, p.height, 1, vision.OrderRGB)
	for i, s := range scores.Data {
		prob := 1.0 / (1.0 + math.Exp(-float64(s)))
		mask.Pix[i] = uint8(math.Round(prob * 255.0))
	}

	resized, err := mask.ResizeBilinear(origWidth, origHeight)
	if err != nil {
		return nil, faults.Pipeline("pipeline.postprocess", fmt.Errorf("resize: %w", err))
	}
	return resized, nil
}
