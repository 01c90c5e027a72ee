package imgproc

import (
	"strings"

	"github.com/pkg/errors"
)

// FlowEstimator computes a dense motion field between two grayscale frames
// of the same size. The result is an H x W x 2 tensor holding (dx, dy) such
// that from(x, y) ~ to(x+dx, y+dy).
type FlowEstimator interface {
	Name() string
	Estimate(from, to []float32, size Size) (*Tensor, error)
}

// ReverseFlow computes the flow from the current frame back to the previous
// one. Warping layers downstream expect this direction.
func ReverseFlow(est FlowEstimator, previous, current []float32, size Size) (*Tensor, error) {
	return est.Estimate(current, previous, size)
}

// NewFlowEstimator returns the estimator registered under name. An empty
// name selects Horn-Schunck with default parameters.
func NewFlowEstimator(name string) (FlowEstimator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "hornschunck", "horn-schunck", "hs":
		return NewHornSchunck(), nil
	}
	return nil, errors.Errorf("unknown optical flow algorithm %q", name)
}

// HornSchunck is the global variational flow estimator of Horn and Schunck
// (1981). Alpha weights the smoothness term, Iterations bounds the Jacobi
// sweeps.
type HornSchunck struct {
	Alpha      float32
	Iterations int
}

// NewHornSchunck returns an estimator tuned for frames in [0, 255].
func NewHornSchunck() *HornSchunck {
	return &HornSchunck{Alpha: 10, Iterations: 64}
}

func (hs *HornSchunck) Name() string { return "hornschunck" }

// Estimate implements FlowEstimator.
func (hs *HornSchunck) Estimate(from, to []float32, size Size) (*Tensor, error) {
	w, h := size.Width, size.Height
	if !size.Valid() {
		return nil, errors.Errorf("invalid flow size %s", size)
	}
	if len(from) != w*h || len(to) != w*h {
		return nil, errors.Errorf("flow frames must have %d pixels, got %d and %d", w*h, len(from), len(to))
	}

	at := func(img []float32, x, y int) float32 {
		x = clamp(x, 0, w-1)
		y = clamp(y, 0, h-1)
		return img[y*w+x]
	}

	// Derivatives averaged over the 2x2x2 cube spanned by both frames.
	ix := make([]float32, w*h)
	iy := make([]float32, w*h)
	it := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a00, a10, a01, a11 := at(from, x, y), at(from, x+1, y), at(from, x, y+1), at(from, x+1, y+1)
			b00, b10, b01, b11 := at(to, x, y), at(to, x+1, y), at(to, x, y+1), at(to, x+1, y+1)
			i := y*w + x
			ix[i] = 0.25 * ((a10 - a00) + (a11 - a01) + (b10 - b00) + (b11 - b01))
			iy[i] = 0.25 * ((a01 - a00) + (a11 - a10) + (b01 - b00) + (b11 - b10))
			it[i] = 0.25 * ((b00 - a00) + (b10 - a10) + (b01 - a01) + (b11 - a11))
		}
	}

	u := make([]float32, w*h)
	v := make([]float32, w*h)
	nu := make([]float32, w*h)
	nv := make([]float32, w*h)
	alpha2 := hs.Alpha * hs.Alpha

	for iter := 0; iter < hs.Iterations; iter++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				ub := neighbourhoodMean(u, w, h, x, y)
				vb := neighbourhoodMean(v, w, h, x, y)
				i := y*w + x
				num := ix[i]*ub + iy[i]*vb + it[i]
				den := alpha2 + ix[i]*ix[i] + iy[i]*iy[i]
				nu[i] = ub - ix[i]*num/den
				nv[i] = vb - iy[i]*num/den
			}
		}
		u, nu = nu, u
		v, nv = nv, v
	}

	out := NewTensor(h, w, 2)
	for i := 0; i < w*h; i++ {
		out.Data[2*i] = u[i]
		out.Data[2*i+1] = v[i]
	}
	return out, nil
}

// neighbourhoodMean is the Horn-Schunck weighted 8-neighbour average: 1/6
// for edge neighbours, 1/12 for corners.
func neighbourhoodMean(f []float32, w, h, x, y int) float32 {
	at := func(dx, dy int) float32 {
		return f[clamp(y+dy, 0, h-1)*w+clamp(x+dx, 0, w-1)]
	}
	edges := at(-1, 0) + at(1, 0) + at(0, -1) + at(0, 1)
	corners := at(-1, -1) + at(1, -1) + at(-1, 1) + at(1, 1)
	return edges/6 + corners/12
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
