// Package checkpoint keeps the restart metadata a trainer shares with the
// data generator: the last finished epoch, the run name and the batch size
// the steps were computed for.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Noofbiz/segflow/datasets"
)

// Dir is the directory restart files live in.
const Dir = "checkpoint"

// State is the content of a restart file.
type State struct {
	Epoch     int    `json:"epoch"`
	RunName   string `json:"run_name"`
	BatchSize int    `json:"batch_size"`
}

// FileName returns the restart file of model. Debug runs keep their own
// files so they never resume a full run.
func FileName(model string, debug bool) string {
	if debug {
		return filepath.Join(Dir, "debug", model+"_last_epoch.json")
	}
	return filepath.Join(Dir, model+"_last_epoch.json")
}

// NewRunName returns a sortable, unique run name such as
// "20240131-154502-1a2b3c4d".
func NewRunName(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// Load reads path. A missing file is not an error: found is false and the
// zero State is returned, meaning training starts from epoch 0.
func Load(path string) (s State, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, errors.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, false, errors.Wrapf(err, "failed to parse %s", path)
	}
	if s.Epoch < 0 || s.BatchSize < 0 {
		return State{}, false, errors.Errorf("invalid restart state in %s: epoch %d, batch size %d", path, s.Epoch, s.BatchSize)
	}
	return s, true, nil
}

// Save writes s to path atomically: a temporary file in the same directory is
// renamed over path.
func Save(path string, s State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode restart state")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}

// MarkEpoch records that epoch finished. Trainers call it at the end of every
// epoch.
func MarkEpoch(path string, epoch int, runName string, batchSize int) error {
	return Save(path, State{Epoch: epoch, RunName: runName, BatchSize: batchSize})
}

// Plan is what a restarted trainer needs to continue: where to start and how
// many steps each epoch has.
type Plan struct {
	StartEpoch      int
	RunName         string
	BatchSize       int
	StepsPerEpoch   int
	ValidationSteps int
}

// Resume recomputes the steps of the train and val splits for the batch size
// saved in s. lengths returns the number of records of a split; a val split
// that does not exist yields zero validation steps.
func Resume(s State, lengths func(split string) (int, error), workers int) (Plan, error) {
	if s.BatchSize <= 0 {
		return Plan{}, errors.Errorf("restart state has no batch size")
	}
	if workers <= 0 {
		workers = 1
	}
	train, err := lengths(datasets.SplitTrain)
	if err != nil {
		return Plan{}, errors.Wrap(err, "failed to count train records")
	}
	p := Plan{
		StartEpoch:    s.Epoch,
		RunName:       s.RunName,
		BatchSize:     s.BatchSize,
		StepsPerEpoch: datasets.StepsPerEpoch(train, s.BatchSize, workers),
	}
	if val, err := lengths(datasets.SplitVal); err == nil {
		p.ValidationSteps = datasets.StepsPerEpoch(val, s.BatchSize, workers)
	} else if !datasets.IsConfigurationError(err) {
		return Plan{}, errors.Wrap(err, "failed to count val records")
	}
	return p, nil
}
