package datasets

import (
	"math/rand"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Noofbiz/segflow/imgproc"
)

// BatchSource is an infinite, restartable sequence of batches. Next never
// returns io.EOF: the cursor wraps around the split, so a batch may hold the
// last records of one pass and the first of the next.
//
// A BatchSource is not safe for concurrent use. Give each worker its own
// source from one Generator.Flows call (see Prefetcher).
type BatchSource interface {
	Name() string
	Next() (*BatchFlat, error)
	// Reset rewinds the cursor to the first record of the split.
	Reset()
	// Yield implements gomlx's train.Dataset.
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
}

// FlatArray is a dense float32 array with its shape.
type FlatArray struct {
	Shape []int
	Data  []float32
}

// ToGomlxTensor converts the array into a gomlx tensor of the same shape.
func (a FlatArray) ToGomlxTensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(a.Data, a.Shape...)
}

// BatchFlat stores one batch in flat contiguous buffers. Inputs hold one
// array per frame position, current frame last, followed by the flow field
// for temporal sources.
type BatchFlat struct {
	Inputs  []FlatArray
	Labels  FlatArray
	Records []Record
	Flipped []bool
}

// BatchSize returns the number of records in the batch.
func (b *BatchFlat) BatchSize() int { return len(b.Records) }

// Bytes returns the size of all buffers in bytes.
func (b *BatchFlat) Bytes() int {
	n := len(b.Labels.Data)
	for _, in := range b.Inputs {
		n += len(in.Data)
	}
	return 4 * n
}

// ToGomlxTensors converts the batch to gomlx tensors.
func (b *BatchFlat) ToGomlxTensors() (inputs []*tensors.Tensor, labels *tensors.Tensor) {
	inputs = make([]*tensors.Tensor, len(b.Inputs))
	for i, in := range b.Inputs {
		inputs[i] = in.ToGomlxTensor()
	}
	return inputs, b.Labels.ToGomlxTensor()
}

// stack concatenates same-shaped tensors along a new leading batch axis.
func stack(ts []*imgproc.Tensor) FlatArray {
	first := ts[0]
	per := len(first.Data)
	data := make([]float32, 0, per*len(ts))
	for _, t := range ts {
		data = append(data, t.Data...)
	}
	return FlatArray{
		Shape: []int{len(ts), first.Height, first.Width, first.Channels},
		Data:  data,
	}
}

// cursor is a read position over a split, guarded by the split's mutex.
// Streams created by one Generator.Flows call share a cursor, so together they
// visit every record of a pass exactly once.
type cursor struct {
	pos int
}

// Stream is the BatchSource returned by Generator.Flow and Generator.Flows.
type Stream struct {
	name      string
	split     *split
	cursor    *cursor
	loader    SampleLoader
	batchSize int
	size      imgproc.Size
	layout    LabelLayout
	flip      bool
	rng       *rand.Rand
	log       *zap.Logger
}

var _ BatchSource = (*Stream)(nil)

// Name implements BatchSource.
func (s *Stream) Name() string { return s.name }

// Reset implements BatchSource. Streams sharing a cursor are rewound
// together.
func (s *Stream) Reset() {
	s.split.mu.Lock()
	defer s.split.mu.Unlock()
	s.cursor.pos = 0
}

// nextRecords draws n consecutive records and advances the cursor. The draw
// happens under one lock, so a batch is never interleaved with another
// stream's.
func (s *Stream) nextRecords(n int) []Record {
	s.split.mu.Lock()
	defer s.split.mu.Unlock()
	records := make([]Record, n)
	for i := range records {
		if s.cursor.pos >= len(s.split.records) {
			s.cursor.pos = 0
		}
		records[i] = s.split.records[s.cursor.pos]
		s.cursor.pos = (s.cursor.pos + 1) % len(s.split.records)
	}
	return records
}

// Next implements BatchSource. Any decode error abandons the batch.
func (s *Stream) Next() (*BatchFlat, error) {
	start := time.Now()

	records := s.nextRecords(s.batchSize)
	samples := make([]*Sample, 0, len(records))
	flipped := make([]bool, 0, len(records))
	for _, rec := range records {
		flip := s.flip && s.rng.Intn(2) == 1
		sample, err := s.loader.Load(rec, s.size, flip)
		if err != nil {
			s.log.Error("failed to load record", zap.String("label", rec.Label), zap.Error(err))
			return nil, err
		}
		samples = append(samples, sample)
		flipped = append(flipped, flip)
	}

	nInputs := len(samples[0].Inputs())
	inputs := make([]FlatArray, nInputs)
	for k := 0; k < nInputs; k++ {
		ts := make([]*imgproc.Tensor, len(samples))
		for i, sm := range samples {
			in := sm.Inputs()
			if len(in) != nInputs {
				return nil, errors.Errorf("record %s has %d inputs, expected %d", sm.Record.Label, len(in), nInputs)
			}
			ts[i] = in[k]
		}
		inputs[k] = stack(ts)
	}

	labelTs := make([]*imgproc.Tensor, len(samples))
	for i, sm := range samples {
		labelTs[i] = sm.Label
	}
	labels := stack(labelTs)
	if s.layout == LabelFlat {
		labels.Shape = []int{labels.Shape[0], labels.Shape[1] * labels.Shape[2], labels.Shape[3]}
	}

	elapsed := time.Since(start)
	batchesTotal.WithLabelValues(s.split.name).Inc()
	recordsTotal.WithLabelValues(s.split.name).Add(float64(len(records)))
	batchDuration.WithLabelValues(s.split.name, s.loader.Name()).Observe(elapsed.Seconds())
	s.log.Debug("batch ready", zap.Int("records", len(records)), zap.Duration("elapsed", elapsed))

	return &BatchFlat{Inputs: inputs, Labels: labels, Records: records, Flipped: flipped}, nil
}

// Yield implements gomlx's train.Dataset.
func (s *Stream) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := s.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	in, lab := batch.ToGomlxTensors()
	return s, in, []*tensors.Tensor{lab}, nil
}
