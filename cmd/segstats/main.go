// segstats dry-runs the data pipeline of a segmentation dataset: it indexes
// the dataset, draws batches the way a training loop would, reports class
// pixel frequencies and optionally marks the pass as a finished epoch in the
// restart file.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/Noofbiz/segflow/checkpoint"
	"github.com/Noofbiz/segflow/config"
	"github.com/Noofbiz/segflow/datasets"
	"github.com/Noofbiz/segflow/imgproc"
	"github.com/Noofbiz/segflow/logger"
	"github.com/Noofbiz/segflow/palette"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// CLI flags override the environment.
	flag.StringVar(&cfg.Dataset, "dataset", cfg.Dataset, "dataset layout: cityscapes, gta or camvid")
	flag.StringVar(&cfg.DatasetPath, "path", cfg.DatasetPath, "dataset root directory")
	flag.StringVar(&cfg.Palette, "palette", cfg.Palette, "JSON palette file (default: the dataset's built-in palette)")
	flag.Float64Var(&cfg.ValidationSplit, "validation-split", cfg.ValidationSplit, "fraction of a flat dataset kept for val")
	flag.IntVar(&cfg.PrevFrames, "prev-frames", cfg.PrevFrames, "number of preceding frames per record")
	flag.StringVar(&cfg.Flow, "flow", cfg.Flow, "optical flow estimator for temporal records (empty: none)")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "target height")
	flag.IntVar(&cfg.Width, "width", cfg.Width, "target width")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "batch size")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "prefetch workers (1: draw in the foreground)")
	flag.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "prefetch queue capacity")
	flag.IntVar(&cfg.DebugSamples, "debug-samples", cfg.DebugSamples, "keep only the first N records of each split (0: all)")
	flag.BoolVar(&cfg.FlipRandomly, "flip", cfg.FlipRandomly, "randomly mirror records")
	flag.StringVar(&cfg.ChannelOrder, "channel-order", cfg.ChannelOrder, "bgr or rgb")
	flag.StringVar(&cfg.LabelLayout, "label-layout", cfg.LabelLayout, "grid or flat")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed (0: clock)")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "model name used for the restart file")
	flag.BoolVar(&cfg.Restart, "restart", cfg.Restart, "resume from the restart file")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "serve prometheus metrics on this port (0: off)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.StringVar(&cfg.OutDir, "out", cfg.OutDir, "output directory for generated plots")
	split := flag.String("split", datasets.SplitTrain, "split to draw from")
	numBatches := flag.Int("batches", 0, "batches to draw (0: one epoch)")
	markEpoch := flag.Bool("mark-epoch", false, "record the pass as a finished epoch in the restart file")
	flag.Parse()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *split, *numBatches, *markEpoch, log); err != nil {
		log.Error("segstats failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, split string, numBatches int, markEpoch bool, log *zap.Logger) error {
	if cfg.MetricsPort > 0 {
		srv := startMetricsServer(cfg.MetricsPort, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	gen, err := buildGenerator(cfg, split, log)
	if err != nil {
		return err
	}

	restartFile := checkpoint.FileName(cfg.Model, cfg.DebugSamples > 0)
	state := checkpoint.State{RunName: checkpoint.NewRunName(time.Now()), BatchSize: cfg.BatchSize}
	if cfg.Restart {
		saved, found, err := checkpoint.Load(restartFile)
		if err != nil {
			return err
		}
		if found {
			state = saved
			log.Info("resuming run",
				zap.String("run_name", state.RunName),
				zap.Int("epoch", state.Epoch),
				zap.Int("batch_size", state.BatchSize))
		} else {
			log.Info("no restart file, starting from epoch 0", zap.String("file", restartFile))
		}
	}

	plan, err := checkpoint.Resume(state, func(s string) (int, error) {
		if s == datasets.SplitTrain {
			s = split
		}
		return gen.DataLength(s)
	}, cfg.Workers)
	if err != nil {
		return err
	}
	if numBatches <= 0 {
		numBatches = plan.StepsPerEpoch * cfg.Workers
	}
	log.Info("plan",
		zap.String("split", split),
		zap.Int("steps_per_epoch", plan.StepsPerEpoch),
		zap.Int("validation_steps", plan.ValidationSteps),
		zap.Int("batches", numBatches))

	size := imgproc.Size{Height: cfg.Height, Width: cfg.Width}
	next, closeFn, err := batchSupplier(ctx, gen, split, plan.BatchSize, size, cfg, log)
	if err != nil {
		return err
	}

	stats := newClassStats(gen.Palette())
	bar := progressbar.NewOptions(numBatches,
		progressbar.OptionSetDescription("Drawing batches"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionShowCount(),
	)
	start := time.Now()
	var totalBytes uint64
	var firstShapes string
	for i := 0; i < numBatches; i++ {
		batch, err := next()
		if err != nil {
			closeFn()
			return errors.Wrapf(err, "failed to draw batch %d", i)
		}
		if i == 0 {
			firstShapes = describeShapes(batch)
		}
		totalBytes += uint64(batch.Bytes())
		stats.Add(batch.Labels)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	if err := closeFn(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("\n%s/%s: %d batches (%s), %s in %s\n", gen.Loader().Name(), split, numBatches, firstShapes,
		humanize.Bytes(totalBytes), elapsed.Round(time.Millisecond))
	stats.Print(os.Stdout)

	if err := plotClassFrequency(cfg.OutDir, stats); err != nil {
		return errors.Wrap(err, "failed to plot class frequencies")
	}
	log.Info("class frequency plot written", zap.String("dir", cfg.OutDir))

	if markEpoch {
		if err := checkpoint.MarkEpoch(restartFile, plan.StartEpoch+1, plan.RunName, plan.BatchSize); err != nil {
			return err
		}
		log.Info("epoch marked", zap.String("file", restartFile), zap.Int("epoch", plan.StartEpoch+1))
	}
	return nil
}

func buildGenerator(cfg *config.Config, split string, log *zap.Logger) (*datasets.Generator, error) {
	var (
		pal palette.Palette
		err error
	)
	if cfg.Palette != "" {
		pal, err = palette.Load(cfg.Palette)
	} else {
		pal, err = palette.ByName(cfg.Dataset)
	}
	if err != nil {
		return nil, err
	}

	order, err := imgproc.ParseChannelOrder(cfg.ChannelOrder)
	if err != nil {
		return nil, err
	}
	layout, err := datasets.ParseLabelLayout(cfg.LabelLayout)
	if err != nil {
		return nil, err
	}
	var flow imgproc.FlowEstimator
	if cfg.Flow != "" {
		if flow, err = imgproc.NewFlowEstimator(cfg.Flow); err != nil {
			return nil, err
		}
	}

	ix, err := datasets.NewIndexer(cfg.Dataset, cfg.DatasetPath, cfg.ValidationSplit, cfg.PrevFrames, log)
	if err != nil {
		return nil, err
	}

	splits := []string{split}
	if split != datasets.SplitVal {
		splits = append(splits, datasets.SplitVal)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return datasets.NewGenerator(ix, pal, rand.New(rand.NewSource(seed)), datasets.Options{
		Splits:       splits,
		DebugSamples: cfg.DebugSamples,
		FlipRandomly: cfg.FlipRandomly,
		ChannelOrder: order,
		LabelLayout:  layout,
		Flow:         flow,
		Logger:       log,
	})
}

// batchSupplier returns a function drawing the next batch and a function
// releasing any background workers.
func batchSupplier(ctx context.Context, gen *datasets.Generator, split string, batchSize int, size imgproc.Size,
	cfg *config.Config, log *zap.Logger) (next func() (*datasets.BatchFlat, error), closeFn func() error, err error) {
	if cfg.Workers <= 1 {
		src, err := gen.Flow(split, batchSize, size)
		if err != nil {
			return nil, nil, err
		}
		return src.Next, func() error { return nil }, nil
	}
	sources, err := gen.Flows(split, batchSize, size, cfg.Workers)
	if err != nil {
		return nil, nil, err
	}
	p, err := datasets.NewPrefetcher(ctx, datasets.FromSources(sources), cfg.Workers, cfg.QueueSize, log)
	if err != nil {
		return nil, nil, err
	}
	return func() (*datasets.BatchFlat, error) { return p.Next(ctx) }, p.Close, nil
}

func describeShapes(b *datasets.BatchFlat) string {
	s := ""
	for i, in := range b.Inputs {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprint(in.Shape)
	}
	return fmt.Sprintf("inputs %s, labels %v", s, b.Labels.Shape)
}
