package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/kidney-seg/internal/engine"
	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/vision"
)

// FrameResult is the all-or-nothing outcome of processing one frame.
type FrameResult struct {
	Mask           *vision.Image
	Overlay        *vision.Image
	ProcessingTime time.Duration
}

// FramePipeline runs the full transform for one frame. It is stateless
// across invocations; identical input always re-runs every stage. The
// engine is injected and shared across sessions, which serialize nothing
// themselves — any locking the runtime needs lives inside the engine.
type FramePipeline struct {
	eng    engine.Engine
	pre    *Preprocessor
	post   *Postprocessor
	alpha  float64
	logger *zap.Logger
}

// NewFramePipeline builds a pipeline around the injected engine. The engine
// may be nil when the model failed to load; processing then reports an
// engine fault per frame instead of crashing.
func NewFramePipeline(eng engine.Engine, logger *zap.Logger) *FramePipeline {
	return &FramePipeline{
		eng:    eng,
		pre:    NewPreprocessor(),
		post:   NewPostprocessor(),
		alpha:  DefaultOverlayAlpha,
		logger: logger.Named("pipeline"),
	}
}

// Ready reports whether an engine is loaded.
func (p *FramePipeline) Ready() bool {
	return p.eng != nil
}

// Process runs preprocess, inference, postprocess, and overlay composition
// for one frame. The elapsed wall-clock time is returned on success and
// failure alike; the caller decides whether to surface a failed frame's
// timing. No partial FrameResult is ever returned.
func (p *FramePipeline) Process(ctx context.Context, img *vision.Image) (*FrameResult, time.Duration, error) {
	start := time.Now()
	fail := func(err error) (*FrameResult, time.Duration, error) {
		elapsed := time.Since(start)
		p.logger.Warn("frame processing failed",
			zap.Error(err),
			zap.Duration("elapsed", elapsed))
		return nil, elapsed, err
	}

	if p.eng == nil {
		return fail(faults.Engine("pipeline.process", engine.ErrUnavailable))
	}

	tensor, err := p.pre.Prepare(img)
	if err != nil {
		return fail(err)
	}

	raw, err := p.eng.Infer(ctx, tensor.Data)
	if err != nil {
		return fail(err)
	}
	if len(raw) != InputHeight*InputWidth {
		return fail(faults.Engine("pipeline.process",
			fmt.Errorf("engine returned %d scores, want %d", len(raw), InputHeight*InputWidth)))
	}
	scores := &vision.ScoreMap{Data: raw, Height: InputHeight, Width: InputWidth}

	mask, err := p.post.Finalize(scores, img.Height, img.Width)
	if err != nil {
		return fail(err)
	}

	overlay, err := OverlayMask(img, mask, p.alpha)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	p.logger.Debug("frame processed",
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Duration("elapsed", elapsed))

	return &FrameResult{
		Mask:           mask,
		Overlay:        overlay,
		ProcessingTime: elapsed,
	}, elapsed, nil
}
