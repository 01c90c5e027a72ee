package imgproc

import (
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/Noofbiz/segflow/palette"
)

// ChannelOrder selects the channel layout of normalized image tensors.
type ChannelOrder int

const (
	// BGR matches tensors produced by OpenCV-based pipelines, where channel 0
	// is blue.
	BGR ChannelOrder = iota
	RGB
)

func (o ChannelOrder) String() string {
	if o == RGB {
		return "rgb"
	}
	return "bgr"
}

// ParseChannelOrder accepts "bgr" and "rgb", case-insensitive. The empty
// string is BGR.
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bgr":
		return BGR, nil
	case "rgb":
		return RGB, nil
	}
	return BGR, errors.Errorf("unknown channel order %q", s)
}

// Resize scales img to size with the given filter. When the image already has
// the target size it is only copied, so exact label colours survive.
func Resize(img image.Image, size Size, filter imaging.ResampleFilter) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == size.Width && b.Dy() == size.Height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, size.Width, size.Height, filter)
}

// FlipH mirrors img horizontally.
func FlipH(img image.Image) *image.NRGBA { return imaging.FlipH(img) }

// EqualizeHist equalizes the histogram of one 8-bit channel the way
// OpenCV's equalizeHist does: the lookup table maps the cumulative histogram
// onto [0, 255] starting at the first occupied bin. A channel holding a
// single value is returned unchanged.
func EqualizeHist(channel []uint8) []uint8 {
	out := make([]uint8, len(channel))
	if len(channel) == 0 {
		return out
	}

	var hist [256]int
	for _, v := range channel {
		hist[v]++
	}

	first := 0
	for hist[first] == 0 {
		first++
	}
	total := len(channel)
	if hist[first] == total {
		copy(out, channel)
		return out
	}

	var lut [256]uint8
	scale := 255.0 / float64(total-hist[first])
	sum := 0
	for i := first + 1; i < 256; i++ {
		sum += hist[i]
		v := int(float64(sum)*scale + 0.5)
		if v > 255 {
			v = 255
		}
		lut[i] = uint8(v)
	}

	for i, v := range channel {
		out[i] = lut[v]
	}
	return out
}

// splitChannels copies the R, G and B planes of an NRGBA image.
func splitChannels(img *image.NRGBA) (r, g, b []uint8) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	r = make([]uint8, w*h)
	g = make([]uint8, w*h)
	b = make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			r[i] = row[x*4]
			g[i] = row[x*4+1]
			b[i] = row[x*4+2]
		}
	}
	return r, g, b
}

// Normalize resizes img to size with linear interpolation, equalizes each
// colour channel independently and scales the result to [0, 1].
func Normalize(img image.Image, size Size, order ChannelOrder) *Tensor {
	return NormalizeResized(Resize(img, size, imaging.Linear), order)
}

// NormalizeResized is Normalize for an image that already has its target
// size.
func NormalizeResized(img *image.NRGBA, order ChannelOrder) *Tensor {
	r, g, b := splitChannels(img)
	planes := [3][]uint8{EqualizeHist(b), EqualizeHist(g), EqualizeHist(r)}
	if order == RGB {
		planes[0], planes[2] = planes[2], planes[0]
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	t := NewTensor(h, w, 3)
	for i := 0; i < w*h; i++ {
		for c := 0; c < 3; c++ {
			t.Data[i*3+c] = float32(planes[c][i]) / 255.0
		}
	}
	return t
}

// OneHotEncode resizes the colour label image to height x width and
// decomposes it into one binary mask per palette entry, stacked along the last
// axis in palette order.
//
// The colour image is resized before decomposition. Pixels whose colour
// matches no palette entry get an all-zero channel vector.
func OneHotEncode(label image.Image, pal palette.Palette, height, width int) *Tensor {
	return OneHotEncodeResized(Resize(label, Size{Height: height, Width: width}, imaging.Linear), pal)
}

// OneHotEncodeResized is OneHotEncode for a label image that already has its
// target size.
func OneHotEncodeResized(label *image.NRGBA, pal palette.Palette) *Tensor {
	w, h := label.Rect.Dx(), label.Rect.Dy()
	n := pal.Len()
	t := NewTensor(h, w, n)

	index := make(map[[3]uint8]int, n)
	for i, l := range pal {
		index[[3]uint8{l.Color.R, l.Color.G, l.Color.B}] = i
	}

	for y := 0; y < h; y++ {
		row := label.Pix[y*label.Stride:]
		for x := 0; x < w; x++ {
			key := [3]uint8{row[x*4], row[x*4+1], row[x*4+2]}
			if c, ok := index[key]; ok {
				t.Data[(y*w+x)*n+c] = 1
			}
		}
	}
	return t
}

// Gray converts img to luma values in [0, 255] using the ITU-R BT.601
// weights.
func Gray(img *image.NRGBA) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := float32(row[x*4]), float32(row[x*4+1]), float32(row[x*4+2])
			out[y*w+x] = 0.299*r + 0.587*g + 0.114*b
		}
	}
	return out
}
