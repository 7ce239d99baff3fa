// Package imgcodec converts between wire image encodings and the in-memory
// pixel buffers used by the processing pipeline. Decoded color images are
// always materialized in BGR working order; encoding normalizes back to RGB
// before writing PNG bytes.
package imgcodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/kidney-seg/internal/faults"
	"github.com/example/kidney-seg/internal/vision"
)

// DecodeBytes decodes an uploaded image buffer into a 3-channel BGR pixel
// buffer. Grayscale sources are expanded so downstream stages always see an
// unambiguous channel order.
func DecodeBytes(data []byte) (*vision.Image, error) {
	if len(data) == 0 {
		return nil, faults.Input("codec.decode_bytes", fmt.Errorf("empty image payload"))
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Input("codec.decode_bytes", fmt.Errorf("undecodable image: %w", err))
	}
	img := vision.FromGoImage(src, vision.OrderBGR)
	if img.Width == 0 || img.Height == 0 {
		return nil, faults.Input("codec.decode_bytes", fmt.Errorf("decoded image has zero area"))
	}
	return img.Expand3(vision.OrderBGR), nil
}

// DecodeBase64 decodes a base64 payload, stripping a data-URL prefix
// ("data:image/...;base64,") when present.
func DecodeBase64(payload string) (*vision.Image, error) {
	if strings.HasPrefix(payload, "data:image") {
		if idx := strings.IndexByte(payload, ','); idx >= 0 {
			payload = payload[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, faults.Input("codec.decode_base64", fmt.Errorf("invalid base64 image data: %w", err))
	}
	return DecodeBytes(data)
}

// EncodeBase64 encodes a pixel buffer as base64 PNG. Color images are
// normalized to RGB order first; single-channel masks encode as grayscale.
func EncodeBase64(img *vision.Image) (string, error) {
	if err := img.Validate(); err != nil {
		return "", faults.Pipeline("codec.encode_base64", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.ToGoImage()); err != nil {
		return "", faults.Pipeline("codec.encode_base64", fmt.Errorf("png encode: %w", err))
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
