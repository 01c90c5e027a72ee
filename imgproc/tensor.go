// Package imgproc turns decoded images into the float tensors consumed by
// segmentation models: resizing, per-channel histogram equalization, one-hot
// label decomposition, horizontal flips and dense optical flow.
//
// Every function here is a pure function of its inputs. Nothing is cached.
package imgproc

import "fmt"

// Size is a target size in pixels, height first.
type Size struct {
	Height int
	Width  int
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool { return s.Height > 0 && s.Width > 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Height, s.Width) }

// Tensor is a dense float32 array in height, width, channel order.
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(height, width, channels int) *Tensor {
	return &Tensor{
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float32, height*width*channels),
	}
}

// At returns the value at (y, x, c).
func (t *Tensor) At(y, x, c int) float32 {
	return t.Data[(y*t.Width+x)*t.Channels+c]
}

// Set stores v at (y, x, c).
func (t *Tensor) Set(y, x, c int, v float32) {
	t.Data[(y*t.Width+x)*t.Channels+c] = v
}

// Shape returns [height, width, channels].
func (t *Tensor) Shape() []int { return []int{t.Height, t.Width, t.Channels} }

// FlipH returns a copy of the tensor mirrored along the width axis.
func (t *Tensor) FlipH() *Tensor {
	out := NewTensor(t.Height, t.Width, t.Channels)
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			src := (y*t.Width + x) * t.Channels
			dst := (y*t.Width + (t.Width - 1 - x)) * t.Channels
			copy(out.Data[dst:dst+t.Channels], t.Data[src:src+t.Channels])
		}
	}
	return out
}
