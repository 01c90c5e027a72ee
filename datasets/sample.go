package datasets

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/Noofbiz/segflow/imgproc"
	"github.com/Noofbiz/segflow/palette"
)

// Sample is one preprocessed record.
type Sample struct {
	Record  Record
	Flipped bool

	// Frames are normalized input images, current frame last.
	Frames []*imgproc.Tensor

	// Flow is the reverse optical flow from the current frame to the one
	// before it, or nil.
	Flow *imgproc.Tensor

	// Label is the one-hot label tensor.
	Label *imgproc.Tensor
}

// Inputs returns the frames followed by the flow field, if any.
func (s *Sample) Inputs() []*imgproc.Tensor {
	inputs := append([]*imgproc.Tensor(nil), s.Frames...)
	if s.Flow != nil {
		inputs = append(inputs, s.Flow)
	}
	return inputs
}

// SampleLoader reads one record from disk and preprocesses it to size. When
// flip is set every frame and the label are mirrored together.
type SampleLoader interface {
	Name() string
	Load(rec Record, size imgproc.Size, flip bool) (*Sample, error)
}

// readImage decodes path. Failures become a *DecodeError.
func readImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		decodeErrorsTotal.Inc()
		return nil, &DecodeError{Path: path, Err: err}
	}
	return img, nil
}

// readResized decodes path, resizes it to size and mirrors it if asked.
func readResized(path string, size imgproc.Size, flip bool) (*image.NRGBA, error) {
	img, err := readImage(path)
	if err != nil {
		return nil, err
	}
	resized := imgproc.Resize(img, size, imaging.Linear)
	if flip {
		resized = imgproc.FlipH(resized)
	}
	return resized, nil
}

func loadLabel(path string, pal palette.Palette, size imgproc.Size, flip bool) (*imgproc.Tensor, error) {
	img, err := readResized(path, size, flip)
	if err != nil {
		return nil, err
	}
	return imgproc.OneHotEncodeResized(img, pal), nil
}

// StaticLoader loads records with a single input image.
type StaticLoader struct {
	Palette palette.Palette
	Order   imgproc.ChannelOrder
}

func (l *StaticLoader) Name() string { return "static" }

// Load implements SampleLoader.
func (l *StaticLoader) Load(rec Record, size imgproc.Size, flip bool) (*Sample, error) {
	img, err := readResized(rec.Current(), size, flip)
	if err != nil {
		return nil, err
	}
	label, err := loadLabel(rec.Label, l.Palette, size, flip)
	if err != nil {
		return nil, err
	}
	return &Sample{
		Record:  rec,
		Flipped: flip,
		Frames:  []*imgproc.Tensor{imgproc.NormalizeResized(img, l.Order)},
		Label:   label,
	}, nil
}

// TemporalLoader loads records carrying preceding frames and optionally adds
// the reverse optical flow between the last two frames.
type TemporalLoader struct {
	Palette palette.Palette
	Order   imgproc.ChannelOrder
	Flow    imgproc.FlowEstimator
}

func (l *TemporalLoader) Name() string {
	if l.Flow != nil {
		return "temporal+" + l.Flow.Name()
	}
	return "temporal"
}

// Load implements SampleLoader.
func (l *TemporalLoader) Load(rec Record, size imgproc.Size, flip bool) (*Sample, error) {
	resized := make([]*image.NRGBA, len(rec.Inputs))
	frames := make([]*imgproc.Tensor, len(rec.Inputs))
	for i, path := range rec.Inputs {
		img, err := readResized(path, size, flip)
		if err != nil {
			return nil, err
		}
		resized[i] = img
		frames[i] = imgproc.NormalizeResized(img, l.Order)
	}
	label, err := loadLabel(rec.Label, l.Palette, size, flip)
	if err != nil {
		return nil, err
	}

	s := &Sample{Record: rec, Flipped: flip, Frames: frames, Label: label}
	if l.Flow != nil && len(resized) > 1 {
		previous := imgproc.Gray(resized[len(resized)-2])
		current := imgproc.Gray(resized[len(resized)-1])
		s.Flow, err = imgproc.ReverseFlow(l.Flow, previous, current, size)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}
