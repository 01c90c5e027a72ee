package datasets

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Noofbiz/segflow/imgproc"
	"github.com/Noofbiz/segflow/palette"
)

// LabelLayout selects the shape of label batches.
type LabelLayout int

const (
	// LabelGrid yields labels shaped (batch, height, width, classes).
	LabelGrid LabelLayout = iota
	// LabelFlat yields labels shaped (batch, height*width, classes).
	LabelFlat
)

func (l LabelLayout) String() string {
	if l == LabelFlat {
		return "flat"
	}
	return "grid"
}

// ParseLabelLayout accepts "grid" (or "") and "flat".
func ParseLabelLayout(s string) (LabelLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "grid":
		return LabelGrid, nil
	case "flat":
		return LabelFlat, nil
	}
	return LabelGrid, configErrorf("label layout", "unknown layout %q", s)
}

// Options configures a Generator. The zero value indexes train and val,
// shuffles them, does not flip and yields BGR images with grid labels.
type Options struct {
	// Splits to index at construction. Defaults to train and val.
	Splits []string

	// DebugSamples > 0 keeps only the first DebugSamples records of each
	// split and disables shuffling.
	DebugSamples int

	// FlipRandomly mirrors each record (all frames and the label) with
	// probability 1/2.
	FlipRandomly bool

	ChannelOrder imgproc.ChannelOrder
	LabelLayout  LabelLayout

	// Flow, when set, adds the reverse optical flow between the last
	// preceding frame and the current frame to every temporal record.
	Flow imgproc.FlowEstimator

	Logger *zap.Logger
}

// split is the shared, mutable index of one split. Draws and reshuffles both
// hold mu, so a reshuffle never interleaves with a record draw.
type split struct {
	name    string
	mu      sync.Mutex
	records []Record
	shuffle *rand.Rand
}

func (s *split) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *split) at(i int) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[i]
}

func (s *split) reshuffle() {
	if s.shuffle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shuffle.Shuffle(len(s.records), func(i, j int) {
		s.records[i], s.records[j] = s.records[j], s.records[i]
	})
}

// Generator owns the index of a dataset and hands out batch sources over its
// splits.
type Generator struct {
	ix     Indexer
	pal    palette.Palette
	opts   Options
	log    *zap.Logger
	loader SampleLoader

	// muRand protects rng, from which every split and source derives its own
	// random source.
	muRand sync.Mutex
	rng    *rand.Rand

	splits map[string]*split
}

// NewGenerator indexes every split in opts.Splits. Any indexing error aborts
// construction. If rng is nil a clock-seeded source is used.
func NewGenerator(ix Indexer, pal palette.Palette, rng *rand.Rand, opts Options) (*Generator, error) {
	const op = "new generator"
	if ix == nil {
		return nil, configErrorf(op, "no indexer")
	}
	if err := pal.Validate(); err != nil {
		return nil, configErrorf(op, "invalid palette: %v", err)
	}
	if opts.DebugSamples < 0 {
		return nil, configErrorf(op, "debug samples %d must not be negative", opts.DebugSamples)
	}
	if len(opts.Splits) == 0 {
		opts.Splits = []string{SplitTrain, SplitVal}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	g := &Generator{
		ix:     ix,
		pal:    pal,
		opts:   opts,
		log:    opts.Logger.With(zap.String("dataset", ix.Name())),
		rng:    rng,
		splits: make(map[string]*split, len(opts.Splits)),
	}

	arity := 0
	for _, name := range opts.Splits {
		records, err := ix.Records(name)
		if err != nil {
			return nil, err
		}
		if opts.DebugSamples > 0 && len(records) > opts.DebugSamples {
			records = records[:opts.DebugSamples]
		}
		for _, r := range records {
			if len(r.Inputs) == 0 {
				return nil, configErrorf(op, "record for label %s has no inputs", r.Label)
			}
			if arity == 0 {
				arity = len(r.Inputs)
			} else if len(r.Inputs) != arity {
				return nil, configErrorf(op, "records mix %d and %d input frames", arity, len(r.Inputs))
			}
		}

		s := &split{name: name, records: records}
		if opts.DebugSamples == 0 {
			s.shuffle = rand.New(rand.NewSource(rng.Int63()))
			s.reshuffle()
		}
		g.splits[name] = s

		g.log.Info("split ready",
			zap.String("split", name),
			zap.Int("records", len(records)),
			zap.Int("mismatches", ix.Mismatches(name)),
			zap.Bool("shuffled", s.shuffle != nil),
		)
	}

	switch {
	case arity <= 1 && opts.Flow != nil:
		return nil, configErrorf(op, "optical flow needs records with preceding frames")
	case arity <= 1:
		g.loader = &StaticLoader{Palette: pal, Order: opts.ChannelOrder}
	default:
		g.loader = &TemporalLoader{Palette: pal, Order: opts.ChannelOrder, Flow: opts.Flow}
	}
	return g, nil
}

// NClasses returns the number of label channels.
func (g *Generator) NClasses() int { return g.pal.Len() }

// Palette returns the palette labels are decomposed with.
func (g *Generator) Palette() palette.Palette { return g.pal }

// Loader returns the sample loader selected for the indexed records.
func (g *Generator) Loader() SampleLoader { return g.loader }

func (g *Generator) split(name string) (*split, error) {
	s, ok := g.splits[name]
	if !ok {
		return nil, configErrorf("generator", "split %q was not indexed", name)
	}
	return s, nil
}

// DataLength returns the number of records in split.
func (g *Generator) DataLength(name string) (int, error) {
	s, err := g.split(name)
	if err != nil {
		return 0, err
	}
	return s.len(), nil
}

// Records returns a copy of the current (possibly shuffled) order of split.
func (g *Generator) Records(name string) ([]Record, error) {
	s, err := g.split(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyRecords(s.records), nil
}

// Reshuffle shuffles split in place. Trainers call it between epochs. It is a
// no-op in debug mode.
func (g *Generator) Reshuffle(name string) error {
	s, err := g.split(name)
	if err != nil {
		return err
	}
	s.reshuffle()
	return nil
}

// StepsPerEpoch returns how many batches make one epoch of split when
// workers consumers each draw batches of batchSize.
func (g *Generator) StepsPerEpoch(name string, batchSize, workers int) (int, error) {
	n, err := g.DataLength(name)
	if err != nil {
		return 0, err
	}
	if batchSize <= 0 || workers <= 0 {
		return 0, configErrorf("steps per epoch", "batch size %d and workers %d must be positive", batchSize, workers)
	}
	return StepsPerEpoch(n, batchSize, workers), nil
}

// ValidationSteps is StepsPerEpoch for the val split.
func (g *Generator) ValidationSteps(batchSize, workers int) (int, error) {
	return g.StepsPerEpoch(SplitVal, batchSize, workers)
}

// StepsPerEpoch is ceil(length / (batchSize * workers)).
func StepsPerEpoch(length, batchSize, workers int) int {
	per := batchSize * workers
	if per <= 0 {
		return 0
	}
	return (length + per - 1) / per
}

// Example loads record i of split's current order.
func (g *Generator) Example(name string, i int, size imgproc.Size, flip bool) (*Sample, error) {
	s, err := g.split(name)
	if err != nil {
		return nil, err
	}
	if n := s.len(); i < 0 || i >= n {
		return nil, configErrorf("example", "index %d out of range [0, %d)", i, n)
	}
	if !size.Valid() {
		return nil, configErrorf("example", "invalid target size %s", size)
	}
	return g.loader.Load(s.at(i), size, flip)
}

// Flow returns an infinite cyclic batch source over split with its own cursor
// and random stream; the index itself is shared with the generator.
func (g *Generator) Flow(name string, batchSize int, size imgproc.Size) (BatchSource, error) {
	sources, err := g.Flows(name, batchSize, size, 1)
	if err != nil {
		return nil, err
	}
	return sources[0], nil
}

// Flows returns n batch sources over split that share one cursor, one per
// worker. Each draws whole batches from the shared position, so during
// StepsPerEpoch(len, batchSize, n) draws per source every record is visited
// once (the last batches wrap around when len is not a multiple of
// batchSize*n). Each source has its own random stream for flips.
func (g *Generator) Flows(name string, batchSize int, size imgproc.Size, n int) ([]BatchSource, error) {
	const op = "flow"
	s, err := g.split(name)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, configErrorf(op, "batch size %d must be positive", batchSize)
	}
	if !size.Valid() {
		return nil, configErrorf(op, "invalid target size %s", size)
	}
	if n <= 0 {
		return nil, configErrorf(op, "number of sources %d must be positive", n)
	}
	if s.len() == 0 {
		return nil, configErrorf(op, "split %q is empty", name)
	}

	cur := &cursor{}
	sources := make([]BatchSource, n)
	for i := range sources {
		g.muRand.Lock()
		seed := g.rng.Int63()
		g.muRand.Unlock()

		sources[i] = &Stream{
			name:      g.ix.Name() + "/" + name,
			split:     s,
			cursor:    cur,
			loader:    g.loader,
			batchSize: batchSize,
			size:      size,
			layout:    g.opts.LabelLayout,
			flip:      g.opts.FlipRandomly,
			rng:       rand.New(rand.NewSource(seed)),
			log:       g.log.With(zap.String("split", name), zap.Int("source", i)),
		}
	}
	return sources, nil
}
