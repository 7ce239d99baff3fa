package pipeline

import (
	"fmt"
	"math"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/vision"
)

// DefaultOverlayAlpha is the blend weight of the mask highlight.
const DefaultOverlayAlpha = 0.5

// highlightChannel is the channel index the mask is written into. Index 1 is
// green in both RGB and BGR layouts, so the highlight is order independent.
const highlightChannel = 1

// OverlayMask blends the mask into the image's green channel:
// out = image*(1-alpha) + colored*alpha, rounded and clamped to [0,255].
// The image and mask must share spatial dimensions; the caller is expected
// to have resized the mask via Finalize.
func OverlayMask(img, mask *vision.Image, alpha float64) (*vision.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, faults.Pipeline("pipeline.overlay", err)
	}
	if err := mask.Validate(); err != nil {
		return nil, faults.Pipeline("pipeline.overlay", err)
	}
	if img.Width != mask.Width || img.Height != mask.Height {
		return nil, faults.Pipeline("pipeline.overlay",
			fmt.Errorf("image %dx%d and mask %dx%d dimensions differ",
				img.Width, img.Height, mask.Width, mask.Height))
	}

	flat := mask.Gray()
	base := img.Expand3(img.Order)

	out := vision.NewImage(base.Width, base.Height, 3, base.Order)
	inv := 1.0 - alpha
	for p := 0; p < base.Width*base.Height; p++ {
		for c := 0; c < 3; c++ {
			v := float64(base.Pix[p*3+c]) * inv
			if c == highlightChannel {
				v += float64(flat.Pix[p]) * alpha
			}
			out.Pix[p*3+c] = clampRound(v)
		}
	}
	return out, nil
}

func clampRound(v float64) uint8 {
	r := math.Round(v)
	if r < 0 {
		return 0
	}
	if r > 255 {
		return 255
	}
	return uint8(r)
}
