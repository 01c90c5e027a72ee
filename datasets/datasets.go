// Package datasets streams semantic-segmentation samples from disk and
// presents them as batches suitable for model training.
//
// The pieces, leaves first:
//
// Indexer
//   - Walks a dataset directory and builds the ordered list of records of a
//     split: input frame paths plus the label path.
//   - FlatIndexer pairs sorted files of flat image and label directories
//     (GTA layout, ratio based train/val split).
//   - TreeIndexer parses label names of Cityscapes and CamVid trees and
//     derives the input paths, including preceding frames for temporal models.
//
// Generator
//   - Indexes the requested splits once, optionally truncates them to a debug
//     prefix, shuffles them with an explicitly passed *rand.Rand and computes
//     steps per epoch.
//
// BatchSource
//   - Flow returns a Stream: an infinite cyclic cursor over a split that loads
//     records lazily (only paths are kept in memory), preprocesses them with
//     package imgproc and stacks them into contiguous float32 buffers.
//   - BatchFlat.ToGomlxTensors converts a batch into gomlx tensors, and Stream
//     implements gomlx's train.Dataset Yield so it can feed a training loop.
//
// Streams are single threaded. Prefetcher runs one stream per worker and
// queues their batches in a bounded channel.
package datasets
