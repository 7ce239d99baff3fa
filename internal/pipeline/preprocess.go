// Package pipeline implements the fixed five-stage frame transform:
// preprocess, infer, postprocess, composite, done. Each stage owns its
// buffers until handoff; the pipeline holds no per-frame state.
package pipeline

import (
	"fmt"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/vision"
)

// Model input dimensions the segmentation network was trained on.
const (
	InputHeight = 560
	InputWidth  = 690
)

// Preprocessor converts an arbitrary-size image into the model's fixed
// input tensor. It is a pure function of its input and the two dimension
// constants.
type Preprocessor struct {
	height int
	width  int
}

// NewPreprocessor returns a preprocessor targeting the model input shape.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{height: InputHeight, width: InputWidth}
}

// Prepare converts the image to RGB, resizes it (bilinear, not aspect
// preserving) to the model input shape, scales samples to [0,1], and lays
// the result out as NCHW planes. The per-channel normalization the model
// was trained with is mean 0 / std 1, so no further arithmetic is applied
// beyond the [0,1] scaling.
func (p *Preprocessor) Prepare(img *vision.Image) (*vision.Tensor, error) {
	if err := img.Validate(); err != nil {
		return nil, faults.Pipeline("pipeline.preprocess", err)
	}

	rgb := img.ToOrder(vision.OrderRGB)
	resized, err := rgb.ResizeBilinear(p.width, p.height)
	if err != nil {
		return nil, faults.Pipeline("pipeline.preprocess", fmt.Errorf("resize: %w", err))
	}

	plane := p.height * p.width
	tensor := &vision.Tensor{
		Data:     make([]float32, 3*plane),
		Channels: 3,
		Height:   p.height,
		Width:    p.width,
	}

	if resized.Channels == 1 {
		// Single-channel input: replicate luma across all three planes.
		for i := 0; i < plane; i++ {
			v := float32(resized.Pix[i]) / 255.0
			tensor.Data[i] = v
			tensor.Data[plane+i] = v
			tensor.Data[2*plane+i] = v
		}
		return tensor, nil
	}

	for i := 0; i < plane; i++ {
		tensor.Data[i] = float32(resized.Pix[i*3]) / 255.0
		tensor.Data[plane+i] = float32(resized.Pix[i*3+1]) / 255.0
		tensor.Data[2*plane+i] = float32(resized.Pix[i*3+2]) / 255.0
	}
	return tensor, nil
}
