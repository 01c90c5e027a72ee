package main

// Example command that indexes a segmentation dataset, draws a couple of
// batches through the gomlx train.Dataset interface and prints the tensor
// shapes.
//
// Only file paths are kept in memory; images are decoded when a batch is
// drawn.
//
// Usage:
//   go run ./example -path ../assets/cityscapes -prev-frames 1 -flow hs
//
// The default path expects a Cityscapes tree (leftImg8bit/, gtFine/ and,
// with -prev-frames, leftImg8bit_sequence/).

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/dustin/go-humanize"

	"github.com/Noofbiz/segflow/datasets"
	"github.com/Noofbiz/segflow/imgproc"
	"github.com/Noofbiz/segflow/palette"
)

func main() {
	kind := flag.String("dataset", "cityscapes", "cityscapes, gta or camvid")
	path := flag.String("path", "../assets/cityscapes", "dataset root")
	prev := flag.Int("prev-frames", 0, "preceding frames per record")
	flowName := flag.String("flow", "", "optical flow estimator (empty: none)")
	batchSize := flag.Int("batch-size", 2, "batch size")
	flag.Parse()

	pal, err := palette.ByName(*kind)
	if err != nil {
		log.Fatalf("failed to pick palette: %v", err)
	}
	ix, err := datasets.NewIndexer(*kind, *path, 0.1, *prev, nil)
	if err != nil {
		log.Fatalf("failed to create indexer: %v", err)
	}

	opts := datasets.Options{Splits: []string{datasets.SplitTrain}, FlipRandomly: true}
	if *flowName != "" {
		if opts.Flow, err = imgproc.NewFlowEstimator(*flowName); err != nil {
			log.Fatalf("failed to create flow estimator: %v", err)
		}
	}
	gen, err := datasets.NewGenerator(ix, pal, rand.New(rand.NewSource(1)), opts)
	if err != nil {
		log.Fatalf("failed to create generator: %v", err)
	}
	n, _ := gen.DataLength(datasets.SplitTrain)
	steps, _ := gen.StepsPerEpoch(datasets.SplitTrain, *batchSize, 1)
	fmt.Printf("%s train: %d records, %d steps per epoch, loader %s\n", ix.Name(), n, steps, gen.Loader().Name())

	src, err := gen.Flow(datasets.SplitTrain, *batchSize, imgproc.Size{Height: 128, Width: 256})
	if err != nil {
		log.Fatalf("failed to create batch source: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, inputs, labels, err := src.Yield()
		if err != nil {
			log.Fatalf("failed to yield batch: %v", err)
		}
		for j, in := range inputs {
			fmt.Printf("batch %d input %d: %s (%s)\n", i, j, in.Shape(), humanize.Bytes(uint64(in.Shape().Memory())))
		}
		fmt.Printf("batch %d labels: %s\n", i, labels[0].Shape())
	}
}
