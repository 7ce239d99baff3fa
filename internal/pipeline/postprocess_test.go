package pipeline

import (
	"testing"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/vision"
)

func modelScores(fill float32) *vision.ScoreMap {
	data := make([]float32, InputHeight*InputWidth)
	for i := range data {
		data[i] = fill
	}
	return &vision.ScoreMap{Data: data, Height: InputHeight, Width: InputWidth}
}

func TestFinalizeMatchesOriginalShape(t *testing.T) {
	post := NewPostprocessor()

	shapes := [][2]int{{123, 77}, {560, 690}, {1, 1}, {1080, 1920}}
	for _, s := range shapes {
		mask, err := post.Finalize(modelScores(0), s[0], s[1])
		if err != nil {
			t.Fatalf("finalize to %dx%d failed: %v", s[1], s[0], err)
		}
		if mask.Height != s[0] || mask.Width != s[1] {
			t.Fatalf("expected %dx%d, got %dx%d", s[1], s[0], mask.Width, mask.Height)
		}
		if mask.Channels != 1 {
			t.Fatalf("expected single-channel mask, got %d channels", mask.Channels)
		}
	}
}

func TestFinalizeSigmoidScaling(t *testing.T) {
	post := NewPostprocessor()

	// Score 0 squashes to 0.5, which scales to round(127.5) = 128.
	mask, err := post.Finalize(modelScores(0), InputHeight, InputWidth)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if mask.Pix[0] != 128 {
		t.Fatalf("expected 128 for zero score, got %d", mask.Pix[0])
	}

	high, _ := post.Finalize(modelScores(50), InputHeight, InputWidth)
	if high.Pix[0] != 255 {
		t.Fatalf("expected saturated 255, got %d", high.Pix[0])
	}
	low, _ := post.Finalize(modelScores(-50), InputHeight, InputWidth)
	if low.Pix[0] != 0 {
		t.Fatalf("expected 0, got %d", low.Pix[0])
	}
}

func TestFinalizeRejectsWrongScoreShape(t *testing.T) {
	post := NewPostprocessor()
	bad := &vision.ScoreMap{Data: make([]float32, 10*10), Height: 10, Width: 10}

	_, err := post.Finalize(bad, 100, 100)
	if !faults.Is(err, faults.KindPipeline) {
		t.Fatalf("expected pipeline fault, got %v", err)
	}
}

func TestFinalizeRejectsZeroAreaTarget(t *testing.T) {
	post := NewPostprocessor()
	if _, err := post.Finalize(modelScores(0), 0, 100); !faults.Is(err, faults.KindPipeline) {
		t.Fatal("expected pipeline fault for zero-height target")
	}
	if _, err := post.Finalize(modelScores(0), 100, 0); !faults.Is(err, faults.KindPipeline) {
		t.Fatal("expected pipeline fault for zero-width target")
	}
}

// The resize back to the original resolution reuses the preprocessing
// interpolation, so prepare-then-finalize preserves shape but is not an
// exact pixel-level inverse. This pins down the shape half of that contract.
func TestResizeRoundTripPreservesShapeOnly(t *testing.T) {
	post := NewPostprocessor()
	mask, err := post.Finalize(modelScores(1.5), 333, 444)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if mask.Width != 444 || mask.Height != 333 {
		t.Fatalf("round trip lost shape: %dx%d", mask.Width, mask.Height)
	}
	if len(mask.Pix) != 444*333 {
		t.Fatalf("unexpected mask buffer length %d", len(mask.Pix))
	}
}
