package datasets

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Split names used by the built-in indexers.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// ImageExtensions are the file extensions accepted as images or labels.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// Record is one indexed sample: the input frames in ascending time order
// (current frame last) and the label of the current frame.
type Record struct {
	Inputs []string
	Label  string
}

// Current returns the path of the current frame.
func (r Record) Current() string { return r.Inputs[len(r.Inputs)-1] }

// Indexer produces the ordered records of a split.
//
// Records must return the same list every time it is called for a split, and
// the list it returns belongs to the caller.
type Indexer interface {
	Name() string
	Records(split string) ([]Record, error)
	// Mismatches returns how many label files of split were skipped because
	// their name does not follow the naming convention.
	Mismatches(split string) int
}

func hasImageExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func checkRoot(op, root string) error {
	if root == "" || !(strings.HasSuffix(root, "/") || strings.HasSuffix(root, string(os.PathSeparator))) {
		return configErrorf(op, "directory %q must end with a path separator", root)
	}
	return nil
}

// ListImageFiles returns the image files directly inside root, sorted
// lexicographically. Root must end with a path separator and must hold at
// least one image.
func ListImageFiles(root string) ([]string, error) {
	const op = "list image files"
	if err := checkRoot(op, root); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configErrorf(op, "directory %s does not exist", root)
		}
		return nil, errors.Wrapf(err, "failed to read directory %s", root)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !hasImageExt(e.Name()) {
			continue
		}
		files = append(files, root+e.Name())
	}
	if len(files) == 0 {
		return nil, configErrorf(op, "no image files in %s", root)
	}
	sort.Strings(files)
	return files, nil
}

func listRoots(roots []string) ([]string, error) {
	var all []string
	for _, root := range roots {
		files, err := ListImageFiles(root)
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
	}
	return all, nil
}

// FlatIndexer pairs images and labels kept in flat directories by their
// sorted position, and splits them by ratio into train and val.
type FlatIndexer struct {
	name   string
	splits map[string][]Record
}

var _ Indexer = (*FlatIndexer)(nil)

// NewFlatIndexer lists every image root and every label root (in order),
// pairs the i-th image with the i-th label and keeps the first
// (1-validationSplit) fraction as the train split and the rest as val.
func NewFlatIndexer(imageRoots, labelRoots []string, validationSplit float64) (*FlatIndexer, error) {
	const op = "flat indexer"
	if validationSplit < 0 || validationSplit >= 1 {
		return nil, configErrorf(op, "validation split %v must be in [0, 1)", validationSplit)
	}
	if len(imageRoots) == 0 || len(labelRoots) == 0 {
		return nil, configErrorf(op, "at least one image root and one label root are required")
	}

	images, err := listRoots(imageRoots)
	if err != nil {
		return nil, err
	}
	labels, err := listRoots(labelRoots)
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, configErrorf(op, "found %d images but %d labels", len(images), len(labels))
	}

	records := make([]Record, len(images))
	for i := range images {
		records[i] = Record{Inputs: []string{images[i]}, Label: labels[i]}
	}
	splitIndex := int((1.0 - validationSplit) * float64(len(records)))

	return &FlatIndexer{
		name: "flat",
		splits: map[string][]Record{
			SplitTrain: records[:splitIndex],
			SplitVal:   records[splitIndex:],
		},
	}, nil
}

// NewGTAIndexer indexes the GTA5 layout: <root>/images/ and <root>/labels/.
func NewGTAIndexer(root string, validationSplit float64) (*FlatIndexer, error) {
	ix, err := NewFlatIndexer(
		[]string{filepath.Join(root, "images") + string(os.PathSeparator)},
		[]string{filepath.Join(root, "labels") + string(os.PathSeparator)},
		validationSplit,
	)
	if err != nil {
		return nil, err
	}
	ix.name = "gta"
	return ix, nil
}

func (ix *FlatIndexer) Name() string { return ix.name }

// Records implements Indexer.
func (ix *FlatIndexer) Records(split string) ([]Record, error) {
	recs, ok := ix.splits[split]
	if !ok {
		return nil, configErrorf(ix.name, "unknown split %q", split)
	}
	return copyRecords(recs), nil
}

// Mismatches implements Indexer. Flat layouts have no naming convention.
func (ix *FlatIndexer) Mismatches(string) int { return 0 }

func copyRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = Record{Inputs: append([]string(nil), r.Inputs...), Label: r.Label}
	}
	return out
}
