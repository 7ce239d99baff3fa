package vision

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ChannelOrder identifies the layout of the three samples of a color pixel.
// Single-channel images ignore the order.
type ChannelOrder int

const (
	// OrderRGB stores samples as red, green, blue.
	OrderRGB ChannelOrder = iota
	// OrderBGR stores samples as blue, green, red. This is the working order
	// produced by the wire codec.
	OrderBGR
)

// String returns a short label for the channel order.
func (o ChannelOrder) String() string {
	if o == OrderBGR {
		return "BGR"
	}
	return "RGB"
}

// Image is a dense, row-major, interleaved 8-bit pixel buffer with an
// explicit channel order. Every component that hands an Image across a
// boundary knows its order; there is no implicit convention.
type Image struct {
	Width    int
	Height   int
	Channels int
	Order    ChannelOrder
	Pix      []uint8
}

// NewImage allocates a zeroed image buffer.
func NewImage(width, height, channels int, order ChannelOrder) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Order:    order,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := &Image{
		Width:    m.Width,
		Height:   m.Height,
		Channels: m.Channels,
		Order:    m.Order,
		Pix:      make([]uint8, len(m.Pix)),
	}
	copy(out.Pix, m.Pix)
	return out
}

// Validate checks the buffer against its declared shape.
func (m *Image) Validate() error {
	if m == nil {
		return fmt.Errorf("nil image")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", m.Width, m.Height)
	}
	if m.Channels != 1 && m.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", m.Channels)
	}
	if len(m.Pix) != m.Width*m.Height*m.Channels {
		return fmt.Errorf("pixel buffer length %d does not match %dx%dx%d",
			len(m.Pix), m.Width, m.Height, m.Channels)
	}
	return nil
}

// ToOrder returns the image with its color channels in the requested order.
// The receiver is returned unchanged when no conversion is needed.
func (m *Image) ToOrder(order ChannelOrder) *Image {
	if m.Channels != 3 || m.Order == order {
		return m
	}
	out := NewImage(m.Width, m.Height, 3, order)
	for i := 0; i < len(m.Pix); i += 3 {
		out.Pix[i] = m.Pix[i+2]
		out.Pix[i+1] = m.Pix[i+1]
		out.Pix[i+2] = m.Pix[i]
	}
	return out
}

// Gray reduces the image to a single luma channel using the standard
// BT.601 weights. Single-channel images are returned unchanged.
func (m *Image) Gray() *Image {
	if m.Channels == 1 {
		return m
	}
	rgb := m.ToOrder(OrderRGB)
	out := NewImage(m.Width, m.Height, 1, OrderRGB)
	for p := 0; p < m.Width*m.Height; p++ {
		r := float64(rgb.Pix[p*3])
		g := float64(rgb.Pix[p*3+1])
		b := float64(rgb.Pix[p*3+2])
		out.Pix[p] = uint8(0.299*r + 0.587*g + 0.114*b + 0.5)
	}
	return out
}

// Expand3 returns a 3-channel version of the image in the requested order,
// replicating a single luma channel when needed.
func (m *Image) Expand3(order ChannelOrder) *Image {
	if m.Channels == 3 {
		return m.ToOrder(order)
	}
	out := NewImage(m.Width, m.Height, 3, order)
	for p := 0; p < m.Width*m.Height; p++ {
		v := m.Pix[p]
		out.Pix[p*3] = v
		out.Pix[p*3+1] = v
		out.Pix[p*3+2] = v
	}
	return out
}

// FromGoImage converts a decoded standard-library image into a pixel buffer
// with the given channel order. Alpha is discarded.
func FromGoImage(src image.Image, order ChannelOrder) *Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if gray, ok := src.(*image.Gray); ok {
		out := NewImage(w, h, 1, OrderRGB)
		for y := 0; y < h; y++ {
			copy(out.Pix[y*w:(y+1)*w], gray.Pix[y*gray.Stride:y*gray.Stride+w])
		}
		return out
	}

	out := NewImage(w, h, 3, order)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			if order == OrderBGR {
				out.Pix[i] = uint8(b >> 8)
				out.Pix[i+1] = uint8(g >> 8)
				out.Pix[i+2] = uint8(r >> 8)
			} else {
				out.Pix[i] = uint8(r >> 8)
				out.Pix[i+1] = uint8(g >> 8)
				out.Pix[i+2] = uint8(b >> 8)
			}
			i += 3
		}
	}
	return out
}

// ToGoImage converts the buffer to a standard-library image. Color images
// come back as NRGBA in RGB order, single-channel images as Gray.
func (m *Image) ToGoImage() image.Image {
	if m.Channels == 1 {
		out := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
		for y := 0; y < m.Height; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+m.Width], m.Pix[y*m.Width:(y+1)*m.Width])
		}
		return out
	}
	rgb := m.ToOrder(OrderRGB)
	out := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for p := 0; p < m.Width*m.Height; p++ {
		out.Pix[p*4] = rgb.Pix[p*3]
		out.Pix[p*4+1] = rgb.Pix[p*3+1]
		out.Pix[p*4+2] = rgb.Pix[p*3+2]
		out.Pix[p*4+3] = 255
	}
	return out
}

// ResizeBilinear resizes the image to width x height with bilinear
// interpolation. It is not aspect preserving, matching the model's training
// transform.
func (m *Image) ResizeBilinear(width, height int) (*Image, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid target dimensions %dx%d", width, height)
	}
	if width == m.Width && height == m.Height {
		return m, nil
	}

	resized := imaging.Resize(m.ToGoImage(), width, height, imaging.Linear)

	if m.Channels == 1 {
		out := NewImage(width, height, 1, OrderRGB)
		for p := 0; p < width*height; p++ {
			out.Pix[p] = resized.Pix[p*4]
		}
		return out, nil
	}

	out := FromGoImage(resized, m.Order)
	return out, nil
}

// At returns the pixel color at (x, y) for debugging and tests.
func (m *Image) At(x, y int) color.Color {
	i := (y*m.Width + x) * m.Channels
	if m.Channels == 1 {
		return color.Gray{Y: m.Pix[i]}
	}
	if m.Order == OrderBGR {
		return color.NRGBA{R: m.Pix[i+2], G: m.Pix[i+1], B: m.Pix[i], A: 255}
	}
	return color.NRGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 255}
}
