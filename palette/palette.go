// Package palette holds the label palettes used to turn colour-coded label
// images into one-hot tensors.
//
// A palette is an ordered list of classes. The position of a class in the
// list is the channel it occupies in every label tensor, so the palette length
// fixes the channel depth of the whole pipeline.
package palette

import (
	"encoding/json"
	"image/color"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Label is one class of a palette.
type Label struct {
	Name    string
	Color   color.RGBA
	TrainID int
}

// Palette is an ordered list of labels. Colours must be pairwise distinct.
type Palette []Label

// Len returns the number of classes.
func (p Palette) Len() int { return len(p) }

// Names returns the class names in channel order.
func (p Palette) Names() []string {
	names := make([]string, len(p))
	for i, l := range p {
		names[i] = l.Name
	}
	return names
}

// Index returns the channel of colour c, or -1 if no class has that colour.
func (p Palette) Index(c color.RGBA) int {
	for i, l := range p {
		if l.Color.R == c.R && l.Color.G == c.G && l.Color.B == c.B {
			return i
		}
	}
	return -1
}

// Validate checks that the palette is usable for one-hot decomposition.
func (p Palette) Validate() error {
	if len(p) == 0 {
		return errors.New("palette is empty")
	}
	seen := make(map[[3]uint8]string, len(p))
	for _, l := range p {
		key := [3]uint8{l.Color.R, l.Color.G, l.Color.B}
		if other, ok := seen[key]; ok {
			return errors.Errorf("classes %q and %q share colour (%d,%d,%d)",
				other, l.Name, key[0], key[1], key[2])
		}
		seen[key] = l.Name
	}
	return nil
}

// ByName returns one of the built-in palettes.
func ByName(name string) (Palette, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cityscapes", "gta":
		return Cityscapes(), nil
	case "camvid":
		return CamVid(), nil
	}
	return nil, errors.Errorf("unknown palette %q", name)
}

// fileLabel is the on-disk form of a Label.
type fileLabel struct {
	Name    string `json:"name"`
	Color   []int  `json:"color"`
	TrainID int    `json:"train_id"`
}

// Load reads a palette from a JSON file holding an array of
// {"name", "color": [r, g, b], "train_id"} objects. The order of the array is
// the channel order.
func Load(path string) (Palette, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read palette %s", path)
	}
	var entries []fileLabel
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to parse palette %s", path)
	}

	p := make(Palette, 0, len(entries))
	for i, e := range entries {
		if len(e.Color) != 3 {
			return nil, errors.Errorf("palette %s entry %d (%q): color must have 3 components, got %d",
				path, i, e.Name, len(e.Color))
		}
		var rgb [3]uint8
		for j, v := range e.Color {
			if v < 0 || v > 255 {
				return nil, errors.Errorf("palette %s entry %d (%q): color component %d out of range",
					path, i, e.Name, v)
			}
			rgb[j] = uint8(v)
		}
		p = append(p, Label{
			Name:    e.Name,
			Color:   color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255},
			TrainID: e.TrainID,
		})
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid palette %s", path)
	}
	return p, nil
}

// Save writes the palette in the format read by Load.
func (p Palette) Save(path string) error {
	entries := make([]fileLabel, len(p))
	for i, l := range p {
		entries[i] = fileLabel{
			Name:    l.Name,
			Color:   []int{int(l.Color.R), int(l.Color.G), int(l.Color.B)},
			TrainID: l.TrainID,
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
