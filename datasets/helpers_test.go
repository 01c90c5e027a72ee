package datasets_test

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/segflow/palette"
)

// writePNG encodes img to path, creating parent directories.
func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err, "failed to create %s", path)
	defer f.Close()
	require.NoError(t, png.Encode(f, img), "failed to encode %s", path)
}

// frameImage is a small gradient whose content depends on seed.
func frameImage(w, h, seed int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x*37 + seed*11) % 256),
				G: uint8((y*53 + seed*7) % 256),
				B: uint8((x*y + seed*5) % 256),
				A: 255,
			})
		}
	}
	return img
}

// labelImage paints palette colours in an asymmetric pattern, leaving the
// bottom-right pixel with a colour no class uses.
func labelImage(w, h, seed int, pal palette.Palette) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := pal[(x*x+y+seed)%pal.Len()].Color
			img.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	img.SetNRGBA(w-1, h-1, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	return img
}

// writeFlatDataset writes n images and m labels into <root>/images/ and
// <root>/labels/.
func writeFlatDataset(t *testing.T, root string, n, m int, pal palette.Palette) {
	t.Helper()
	for i := 0; i < n; i++ {
		writePNG(t, filepath.Join(root, "images", fmt.Sprintf("%05d.png", i)), frameImage(6, 4, i))
	}
	for i := 0; i < m; i++ {
		writePNG(t, filepath.Join(root, "labels", fmt.Sprintf("%05d.png", i)), labelImage(6, 4, i, pal))
	}
}

// writeCityscapes writes a Cityscapes tree for split with the given frame
// numbers in one city, plus preceding sequence frames.
func writeCityscapes(t *testing.T, root, split, city string, frames []int, prior int, pal palette.Palette) {
	t.Helper()
	for _, f := range frames {
		base := fmt.Sprintf("%s_000000_%06d", city, f)
		writePNG(t, filepath.Join(root, "gtFine", split, city, base+"_gtFine_color.png"), labelImage(6, 4, f, pal))
		writePNG(t, filepath.Join(root, "leftImg8bit", split, city, base+"_leftImg8bit.png"), frameImage(6, 4, f))
		for k := 1; k <= prior; k++ {
			name := fmt.Sprintf("%s_000000_%06d_leftImg8bit.png", city, f-k)
			writePNG(t, filepath.Join(root, "leftImg8bit_sequence", split, city, name), frameImage(6, 4, f-k))
		}
	}
}
