package datasets_test

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/segflow/datasets"
	"github.com/Noofbiz/segflow/imgproc"
	"github.com/Noofbiz/segflow/palette"
)

var tinySize = imgproc.Size{Height: 4, Width: 6}

func newFlatGenerator(t *testing.T, n int, seed int64, opts datasets.Options) (*datasets.Generator, string) {
	t.Helper()
	root := t.TempDir()
	writeFlatDataset(t, root, n, n, palette.Cityscapes())
	ix, err := datasets.NewGTAIndexer(root, 0)
	require.NoError(t, err)
	if opts.Splits == nil {
		opts.Splits = []string{datasets.SplitTrain}
	}
	g, err := datasets.NewGenerator(ix, palette.Cityscapes(), rand.New(rand.NewSource(seed)), opts)
	require.NoError(t, err)
	return g, root
}

func TestStepsPerEpoch(t *testing.T) {
	assert.Equal(t, 15, datasets.StepsPerEpoch(100, 7, 1))
	assert.Equal(t, 8, datasets.StepsPerEpoch(100, 7, 2))
	assert.Equal(t, 0, datasets.StepsPerEpoch(0, 7, 1))
	assert.Equal(t, 0, datasets.StepsPerEpoch(10, 0, 1))

	g, _ := newFlatGenerator(t, 5, 1, datasets.Options{})
	steps, err := g.StepsPerEpoch(datasets.SplitTrain, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, steps)

	// shuffling does not change the count
	require.NoError(t, g.Reshuffle(datasets.SplitTrain))
	steps, err = g.StepsPerEpoch(datasets.SplitTrain, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, steps)

	_, err = g.StepsPerEpoch(datasets.SplitTrain, 0, 1)
	assert.True(t, datasets.IsConfigurationError(err))
	_, err = g.ValidationSteps(2, 1)
	assert.True(t, datasets.IsConfigurationError(err), "val was not indexed")
}

func TestDebugTruncation(t *testing.T) {
	root := t.TempDir()
	writeFlatDataset(t, root, 25, 25, palette.Cityscapes())
	ix, err := datasets.NewGTAIndexer(root, 0)
	require.NoError(t, err)
	all, err := ix.Records(datasets.SplitTrain)
	require.NoError(t, err)

	g, err := datasets.NewGenerator(ix, palette.Cityscapes(), rand.New(rand.NewSource(3)), datasets.Options{
		Splits:       []string{datasets.SplitTrain},
		DebugSamples: 20,
	})
	require.NoError(t, err)

	n, err := g.DataLength(datasets.SplitTrain)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	recs, err := g.Records(datasets.SplitTrain)
	require.NoError(t, err)
	assert.Equal(t, all[:20], recs, "deterministic prefix, not shuffled")

	require.NoError(t, g.Reshuffle(datasets.SplitTrain))
	recs, err = g.Records(datasets.SplitTrain)
	require.NoError(t, err)
	assert.Equal(t, all[:20], recs, "reshuffle is disabled in debug mode")

	// asking for more than available keeps everything
	g, err = datasets.NewGenerator(ix, palette.Cityscapes(), nil, datasets.Options{
		Splits:       []string{datasets.SplitTrain},
		DebugSamples: 100,
	})
	require.NoError(t, err)
	n, err = g.DataLength(datasets.SplitTrain)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestShuffleIsSeeded(t *testing.T) {
	root := t.TempDir()
	writeFlatDataset(t, root, 12, 12, palette.Cityscapes())
	ix, err := datasets.NewGTAIndexer(root, 0)
	require.NoError(t, err)
	sorted, err := ix.Records(datasets.SplitTrain)
	require.NoError(t, err)

	build := func(seed int64) *datasets.Generator {
		g, err := datasets.NewGenerator(ix, palette.Cityscapes(), rand.New(rand.NewSource(seed)),
			datasets.Options{Splits: []string{datasets.SplitTrain}})
		require.NoError(t, err)
		return g
	}
	a, b := build(42), build(42)
	ra, err := a.Records(datasets.SplitTrain)
	require.NoError(t, err)
	rb, err := b.Records(datasets.SplitTrain)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
	assert.ElementsMatch(t, sorted, ra)

	require.NoError(t, a.Reshuffle(datasets.SplitTrain))
	require.NoError(t, b.Reshuffle(datasets.SplitTrain))
	ra, _ = a.Records(datasets.SplitTrain)
	rb, _ = b.Records(datasets.SplitTrain)
	assert.Equal(t, ra, rb)
	assert.ElementsMatch(t, sorted, ra)
}

func TestCyclicWraparound(t *testing.T) {
	const length = 4
	g, _ := newFlatGenerator(t, length, 7, datasets.Options{})
	order, err := g.Records(datasets.SplitTrain)
	require.NoError(t, err)

	src, err := g.Flow(datasets.SplitTrain, 3, tinySize)
	require.NoError(t, err)

	var drawn []datasets.Record
	for len(drawn) < 2*length {
		batch, err := src.Next()
		require.NoError(t, err)
		assert.Equal(t, 3, batch.BatchSize())
		drawn = append(drawn, batch.Records...)
	}
	drawn = drawn[:2*length]

	counts := make(map[string]int)
	for i, r := range drawn {
		assert.Equal(t, order[i%length].Label, r.Label, "position %d", i)
		counts[r.Label]++
	}
	require.Len(t, counts, length)
	for label, c := range counts {
		assert.Equal(t, 2, c, label)
	}

	// Reset rewinds to the first record
	src.Reset()
	batch, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, order[0].Label, batch.Records[0].Label)
}

func TestBatchShapes(t *testing.T) {
	pal := palette.Cityscapes()
	g, _ := newFlatGenerator(t, 3, 1, datasets.Options{})
	src, err := g.Flow(datasets.SplitTrain, 2, tinySize)
	require.NoError(t, err)

	batch, err := src.Next()
	require.NoError(t, err)
	require.Len(t, batch.Inputs, 1)
	assert.Equal(t, []int{2, 4, 6, 3}, batch.Inputs[0].Shape)
	assert.Len(t, batch.Inputs[0].Data, 2*4*6*3)
	assert.Equal(t, []int{2, 4, 6, pal.Len()}, batch.Labels.Shape)
	assert.Equal(t, 4*(2*4*6*3+2*4*6*pal.Len()), batch.Bytes())

	for _, v := range batch.Inputs[0].Data {
		assert.True(t, v >= 0 && v <= 1)
	}

	inputs, labels := batch.ToGomlxTensors()
	require.Len(t, inputs, 1)
	assert.Equal(t, []int{2, 4, 6, 3}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{2, 4, 6, pal.Len()}, labels.Shape().Dimensions)

	spec, yIn, yLab, err := src.Yield()
	require.NoError(t, err)
	assert.Equal(t, src, spec)
	assert.Len(t, yIn, 1)
	assert.Len(t, yLab, 1)

	flat, _ := newFlatGenerator(t, 3, 1, datasets.Options{LabelLayout: datasets.LabelFlat})
	src, err = flat.Flow(datasets.SplitTrain, 2, tinySize)
	require.NoError(t, err)
	batch, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4 * 6, pal.Len()}, batch.Labels.Shape)
}

func TestUnmatchedLabelPixelsStayZero(t *testing.T) {
	pal := palette.Cityscapes()
	g, _ := newFlatGenerator(t, 1, 1, datasets.Options{DebugSamples: 1})
	sample, err := g.Example(datasets.SplitTrain, 0, tinySize, false)
	require.NoError(t, err)

	for y := 0; y < tinySize.Height; y++ {
		for x := 0; x < tinySize.Width; x++ {
			var sum float32
			for c := 0; c < pal.Len(); c++ {
				sum += sample.Label.At(y, x, c)
			}
			if y == tinySize.Height-1 && x == tinySize.Width-1 {
				assert.Equal(t, float32(0), sum, "unmatched pixel")
			} else {
				assert.Equal(t, float32(1), sum, "pixel (%d,%d)", x, y)
			}
		}
	}
}

func TestFlipAppliesToFramesAndLabel(t *testing.T) {
	pal := palette.Cityscapes()
	root := t.TempDir()
	writeCityscapes(t, root, "train", "aachen", []int{10}, 1, pal)
	ix, err := datasets.NewCityscapesIndexer(root, 1, nil)
	require.NoError(t, err)
	g, err := datasets.NewGenerator(ix, pal, rand.New(rand.NewSource(1)), datasets.Options{
		Splits: []string{"train"},
		Flow:   imgproc.NewHornSchunck(),
	})
	require.NoError(t, err)

	plain, err := g.Example("train", 0, tinySize, false)
	require.NoError(t, err)
	flipped, err := g.Example("train", 0, tinySize, true)
	require.NoError(t, err)

	assert.True(t, flipped.Flipped)
	assert.Equal(t, plain.Label.FlipH().Data, flipped.Label.Data, "label mirrored channel for channel")
	require.Len(t, flipped.Frames, 2)
	for i := range plain.Frames {
		assert.Equal(t, plain.Frames[i].FlipH().Data, flipped.Frames[i].Data, "frame %d", i)
	}
	require.NotNil(t, flipped.Flow)
	assert.Equal(t, []int{4, 6, 2}, flipped.Flow.Shape())
}

func TestRandomFlipIsPerRecord(t *testing.T) {
	g, _ := newFlatGenerator(t, 8, 5, datasets.Options{FlipRandomly: true})
	src, err := g.Flow(datasets.SplitTrain, 8, tinySize)
	require.NoError(t, err)

	seen := map[bool]int{}
	for i := 0; i < 4; i++ {
		batch, err := src.Next()
		require.NoError(t, err)
		require.Len(t, batch.Flipped, 8)
		for _, f := range batch.Flipped {
			seen[f]++
		}
	}
	// 32 coin flips: both outcomes show up
	assert.Positive(t, seen[true])
	assert.Positive(t, seen[false])
}

func TestTemporalBatchWithFlow(t *testing.T) {
	pal := palette.Cityscapes()
	root := t.TempDir()
	writeCityscapes(t, root, "train", "aachen", []int{3, 4, 5}, 2, pal)
	ix, err := datasets.NewCityscapesIndexer(root, 2, nil)
	require.NoError(t, err)

	g, err := datasets.NewGenerator(ix, pal, rand.New(rand.NewSource(1)), datasets.Options{
		Splits:       []string{"train"},
		FlipRandomly: true,
		Flow:         &imgproc.HornSchunck{Alpha: 5, Iterations: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, "temporal+hornschunck", g.Loader().Name())

	src, err := g.Flow("train", 2, tinySize)
	require.NoError(t, err)
	batch, err := src.Next()
	require.NoError(t, err)

	// two preceding frames, the current frame, then flow
	require.Len(t, batch.Inputs, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, []int{2, 4, 6, 3}, batch.Inputs[i].Shape)
	}
	assert.Equal(t, []int{2, 4, 6, 2}, batch.Inputs[3].Shape)
	assert.Equal(t, []int{2, 4, 6, pal.Len()}, batch.Labels.Shape)
}

func TestFlowNeedsPrecedingFrames(t *testing.T) {
	root := t.TempDir()
	writeFlatDataset(t, root, 2, 2, palette.Cityscapes())
	ix, err := datasets.NewGTAIndexer(root, 0)
	require.NoError(t, err)

	_, err = datasets.NewGenerator(ix, palette.Cityscapes(), nil, datasets.Options{
		Splits: []string{datasets.SplitTrain},
		Flow:   imgproc.NewHornSchunck(),
	})
	assert.True(t, datasets.IsConfigurationError(err))

	_, err = datasets.NewGenerator(ix, palette.Palette{}, nil, datasets.Options{})
	assert.True(t, datasets.IsConfigurationError(err), "empty palette")
}

func TestFlowArguments(t *testing.T) {
	g, _ := newFlatGenerator(t, 2, 1, datasets.Options{})
	_, err := g.Flow(datasets.SplitTrain, 0, tinySize)
	assert.True(t, datasets.IsConfigurationError(err))
	_, err = g.Flow(datasets.SplitTrain, 1, imgproc.Size{})
	assert.True(t, datasets.IsConfigurationError(err))
	_, err = g.Flow("nope", 1, tinySize)
	assert.True(t, datasets.IsConfigurationError(err))

	// an empty val split can be indexed but not streamed
	root := t.TempDir()
	writeFlatDataset(t, root, 2, 2, palette.Cityscapes())
	ix, err := datasets.NewGTAIndexer(root, 0)
	require.NoError(t, err)
	g, err = datasets.NewGenerator(ix, palette.Cityscapes(), nil, datasets.Options{})
	require.NoError(t, err)
	_, err = g.Flow(datasets.SplitVal, 1, tinySize)
	assert.True(t, datasets.IsConfigurationError(err))
}

func TestDecodeErrorAbandonsBatch(t *testing.T) {
	g, root := newFlatGenerator(t, 3, 1, datasets.Options{DebugSamples: 3})
	require.NoError(t, os.WriteFile(filepath.Join(root, "labels", "00001.png"), []byte("not a png"), 0o644))

	src, err := g.Flow(datasets.SplitTrain, 3, tinySize)
	require.NoError(t, err)
	_, err = src.Next()
	require.Error(t, err)
	assert.True(t, datasets.IsDecodeError(err))

	var de *datasets.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, filepath.Join(root, "labels", "00001.png"), de.Path)

	require.NoError(t, os.Remove(filepath.Join(root, "images", "00002.png")))
	_, err = g.Example(datasets.SplitTrain, 2, tinySize, false)
	assert.True(t, datasets.IsDecodeError(err), "missing file: %v", err)
}

func TestFlowsSplitEachPass(t *testing.T) {
	const length, batch, workers = 8, 2, 2
	g, _ := newFlatGenerator(t, length, 1, datasets.Options{})
	steps, err := g.StepsPerEpoch(datasets.SplitTrain, batch, workers)
	require.NoError(t, err)

	sources, err := g.Flows(datasets.SplitTrain, batch, tinySize, workers)
	require.NoError(t, err)
	require.Len(t, sources, workers)

	// the first batches of the two sources are disjoint
	a, err := sources[0].Next()
	require.NoError(t, err)
	b, err := sources[1].Next()
	require.NoError(t, err)
	assert.NotEqual(t, a.Records, b.Records)

	for _, src := range sources {
		src.Reset()
	}

	var (
		mu     sync.Mutex
		counts = make(map[string]int)
		wg     sync.WaitGroup
	)
	for _, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < steps; i++ {
				batch, err := src.Next()
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				for _, r := range batch.Records {
					counts[r.Label]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, counts, length)
	for label, c := range counts {
		assert.Equal(t, 1, c, label)
	}

	_, err = g.Flows(datasets.SplitTrain, batch, tinySize, 0)
	assert.True(t, datasets.IsConfigurationError(err))
}

// quotaSource yields n batches, then blocks until done is closed.
type quotaSource struct {
	datasets.BatchSource
	n    int
	done <-chan struct{}
}

func (q *quotaSource) Next() (*datasets.BatchFlat, error) {
	if q.n == 0 {
		<-q.done
		return nil, context.Canceled
	}
	q.n--
	return q.BatchSource.Next()
}

func TestPrefetcher(t *testing.T) {
	const length, batch, workers = 8, 2, 2
	g, _ := newFlatGenerator(t, length, 1, datasets.Options{})
	steps, err := g.StepsPerEpoch(datasets.SplitTrain, batch, workers)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done := make(chan struct{})

	sources, err := g.Flows(datasets.SplitTrain, batch, tinySize, workers)
	require.NoError(t, err)
	for i, src := range sources {
		sources[i] = &quotaSource{BatchSource: src, n: steps, done: done}
	}
	p, err := datasets.NewPrefetcher(ctx, datasets.FromSources(sources), workers, 0, nil)
	require.NoError(t, err)

	// one prefetched epoch visits every record exactly once
	counts := make(map[string]int)
	for i := 0; i < steps*workers; i++ {
		b, err := p.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, batch, b.BatchSize())
		for _, r := range b.Records {
			counts[r.Label]++
		}
	}
	require.Len(t, counts, length)
	for label, c := range counts {
		assert.Equal(t, 1, c, label)
	}

	close(done)
	err = p.Close()
	assert.True(t, err == nil || errors.Is(err, context.Canceled), "got %v", err)

	_, err = datasets.FromSources(sources)(workers)
	assert.True(t, datasets.IsConfigurationError(err))
}

func TestPrefetcherPropagatesErrors(t *testing.T) {
	g, root := newFlatGenerator(t, 2, 1, datasets.Options{DebugSamples: 2})
	require.NoError(t, os.WriteFile(filepath.Join(root, "images", "00000.png"), []byte("broken"), 0o644))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := datasets.NewPrefetcher(ctx, func(int) (datasets.BatchSource, error) {
		return g.Flow(datasets.SplitTrain, 2, tinySize)
	}, 1, 1, nil)
	require.NoError(t, err)

	_, err = p.Next(ctx)
	assert.True(t, datasets.IsDecodeError(err), "got %v", err)
	assert.Error(t, p.Close())

	_, err = datasets.NewPrefetcher(ctx, nil, 0, 1, nil)
	assert.True(t, datasets.IsConfigurationError(err))
}

func TestParseLabelLayout(t *testing.T) {
	l, err := datasets.ParseLabelLayout("Flat")
	require.NoError(t, err)
	assert.Equal(t, datasets.LabelFlat, l)
	l, err = datasets.ParseLabelLayout("")
	require.NoError(t, err)
	assert.Equal(t, datasets.LabelGrid, l)
	_, err = datasets.ParseLabelLayout("ragged")
	assert.True(t, datasets.IsConfigurationError(err))
}
