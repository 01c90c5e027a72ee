package datasets

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Layout describes a directory-tree dataset:
//
//	<root>/<ImagesDir>/<split>/<city>/<prefix><frame><ImageSuffix>
//	<root>/<LabelsDir>/<split>/<city>/<prefix><frame><LabelSuffix>
//
// LabelPattern must define the named groups "city", "prefix" and "frame".
// Preceding frames of temporal records are looked up in SequenceDir, which
// defaults to ImagesDir.
type Layout struct {
	Name         string
	ImagesDir    string
	SequenceDir  string
	LabelsDir    string
	ImageSuffix  string
	LabelSuffix  string
	LabelPattern *regexp.Regexp
}

var (
	// CityscapesLayout matches leftImg8bit/gtFine trees, for example
	// gtFine/train/aachen/aachen_000000_000019_gtFine_color.png.
	CityscapesLayout = Layout{
		Name:         "cityscapes",
		ImagesDir:    "leftImg8bit",
		SequenceDir:  "leftImg8bit_sequence",
		LabelsDir:    "gtFine",
		ImageSuffix:  "_leftImg8bit.png",
		LabelSuffix:  "_gtFine_color.png",
		LabelPattern: regexp.MustCompile(`^(?P<prefix>(?P<city>[a-z_]+)_\d{6}_)(?P<frame>\d{6})_gtFine_color\.png$`),
	}

	// CamVidLayout matches images/labels trees with CamVid names, for example
	// labels/train/0001TP_006690_L.png or labels/val/Seq05VD_f00000_L.png.
	CamVidLayout = Layout{
		Name:         "camvid",
		ImagesDir:    "images",
		SequenceDir:  "images",
		LabelsDir:    "labels",
		ImageSuffix:  ".png",
		LabelSuffix:  "_L.png",
		LabelPattern: regexp.MustCompile(`^(?P<prefix>(?P<city>[0-9A-Za-z]+)_f?)(?P<frame>\d+)_L\.png$`),
	}
)

func (l Layout) validate() error {
	if l.LabelPattern == nil {
		return configErrorf(l.Name, "layout has no label pattern")
	}
	for _, g := range []string{"city", "prefix", "frame"} {
		if l.LabelPattern.SubexpIndex(g) < 0 {
			return configErrorf(l.Name, "label pattern %s has no %q group", l.LabelPattern, g)
		}
	}
	if l.ImagesDir == "" || l.LabelsDir == "" {
		return configErrorf(l.Name, "layout needs both an images and a labels directory")
	}
	return nil
}

// TreeIndexer indexes directory-tree datasets. Each split is walked once, on
// first use, and cached.
type TreeIndexer struct {
	root   string
	layout Layout
	frames int
	log    *zap.Logger

	mu         sync.Mutex
	splits     map[string][]Record
	mismatches map[string]int
}

var _ Indexer = (*TreeIndexer)(nil)

// NewTreeIndexer returns an indexer over root following layout. With
// frames > 0 every record also carries the frames frame-k .. frame-1 before
// the current one.
func NewTreeIndexer(root string, layout Layout, frames int, log *zap.Logger) (*TreeIndexer, error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}
	if frames < 0 {
		return nil, configErrorf(layout.Name, "number of preceding frames %d must not be negative", frames)
	}
	if layout.SequenceDir == "" {
		layout.SequenceDir = layout.ImagesDir
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TreeIndexer{
		root:       root,
		layout:     layout,
		frames:     frames,
		log:        log.With(zap.String("dataset", layout.Name)),
		splits:     make(map[string][]Record),
		mismatches: make(map[string]int),
	}, nil
}

// NewCityscapesIndexer indexes a Cityscapes tree.
func NewCityscapesIndexer(root string, frames int, log *zap.Logger) (*TreeIndexer, error) {
	return NewTreeIndexer(root, CityscapesLayout, frames, log)
}

// NewCamVidIndexer indexes a CamVid tree.
func NewCamVidIndexer(root string, frames int, log *zap.Logger) (*TreeIndexer, error) {
	return NewTreeIndexer(root, CamVidLayout, frames, log)
}

func (ix *TreeIndexer) Name() string { return ix.layout.Name }

// Frames returns the number of preceding frames in each record.
func (ix *TreeIndexer) Frames() int { return ix.frames }

// Mismatches implements Indexer.
func (ix *TreeIndexer) Mismatches(split string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.mismatches[split]
}

// Records implements Indexer.
func (ix *TreeIndexer) Records(split string) ([]Record, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if recs, ok := ix.splits[split]; ok {
		return copyRecords(recs), nil
	}
	recs, mismatches, err := ix.index(split)
	if err != nil {
		return nil, err
	}
	ix.splits[split] = recs
	ix.mismatches[split] = len(mismatches)
	return copyRecords(recs), nil
}

func (ix *TreeIndexer) index(split string) ([]Record, []PatternMismatch, error) {
	op := ix.layout.Name + " indexer"
	labelRoot := filepath.Join(ix.root, ix.layout.LabelsDir, split)
	if _, err := os.Stat(labelRoot); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, configErrorf(op, "label directory %s does not exist", labelRoot)
		}
		return nil, nil, errors.Wrapf(err, "failed to stat %s", labelRoot)
	}

	pattern := ix.layout.LabelPattern
	prefixIdx := pattern.SubexpIndex("prefix")
	frameIdx := pattern.SubexpIndex("frame")

	var (
		records    []Record
		mismatches []PatternMismatch
	)
	err := filepath.WalkDir(labelRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ix.layout.LabelSuffix) {
			return nil
		}
		// macOS resource fork sidecars
		if strings.HasPrefix(d.Name(), "._") {
			return nil
		}
		m := pattern.FindStringSubmatch(d.Name())
		if m == nil {
			mm := PatternMismatch{Split: split, Path: path}
			mismatches = append(mismatches, mm)
			patternMismatchesTotal.WithLabelValues(split).Inc()
			ix.log.Warn("skipping label file", zap.String("split", split), zap.String("path", path))
			return nil
		}

		rel, err := filepath.Rel(labelRoot, filepath.Dir(path))
		if err != nil {
			return err
		}
		inputs, err := ix.inputsFor(split, rel, m[prefixIdx], m[frameIdx])
		if err != nil {
			return err
		}
		records = append(records, Record{Inputs: inputs, Label: path})
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to walk %s", labelRoot)
	}

	if len(records) == 0 {
		return nil, nil, configErrorf(op, "no label files matching %s in %s", pattern, labelRoot)
	}

	found := 0
	for _, r := range records {
		if _, err := os.Stat(r.Current()); err == nil {
			found++
		}
	}
	if found != len(records) {
		return nil, nil, configErrorf(op, "split %s has %d labels but %d matching images under %s",
			split, len(records), found, filepath.Join(ix.root, ix.layout.ImagesDir, split))
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Label < records[j].Label })

	ix.log.Info("indexed split",
		zap.String("split", split),
		zap.Int("records", len(records)),
		zap.Int("mismatches", len(mismatches)),
		zap.Int("frames", ix.frames),
	)
	return records, mismatches, nil
}

// inputsFor derives the input frame paths of one label: preceding frames in
// ascending order from SequenceDir, then the current frame from ImagesDir.
// Frame numbers keep the zero padding of the label name and stop at zero.
func (ix *TreeIndexer) inputsFor(split, rel, prefix, frame string) ([]string, error) {
	current := filepath.Join(ix.root, ix.layout.ImagesDir, split, rel, prefix+frame+ix.layout.ImageSuffix)
	if ix.frames == 0 {
		return []string{current}, nil
	}

	n, err := strconv.Atoi(frame)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse frame index %q", frame)
	}
	width := len(frame)
	inputs := make([]string, 0, ix.frames+1)
	for k := ix.frames; k >= 1; k-- {
		idx := n - k
		if idx < 0 {
			idx = 0
		}
		name := prefix + fmt.Sprintf("%0*d", width, idx) + ix.layout.ImageSuffix
		inputs = append(inputs, filepath.Join(ix.root, ix.layout.SequenceDir, split, rel, name))
	}
	return append(inputs, current), nil
}

// NewIndexer selects an indexer by dataset kind: "cityscapes", "camvid" or
// "gta". Flat layouts ignore frames; tree layouts ignore validationSplit.
func NewIndexer(kind, root string, validationSplit float64, frames int, log *zap.Logger) (Indexer, error) {
	var layout Layout
	switch strings.ToLower(kind) {
	case "cityscapes":
		layout = CityscapesLayout
	case "camvid":
		layout = CamVidLayout
	case "gta":
		if frames > 0 {
			return nil, configErrorf("gta indexer", "gta has no frame sequences")
		}
		ix, err := NewGTAIndexer(root, validationSplit)
		if err != nil {
			return nil, err
		}
		return ix, nil
	default:
		return nil, configErrorf("new indexer", "unknown dataset %q", kind)
	}
	ix, err := NewTreeIndexer(root, layout, frames, log)
	if err != nil {
		return nil, err
	}
	return ix, nil
}
