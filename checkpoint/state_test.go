package checkpoint

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/segflow/datasets"
	"github.com/Noofbiz/segflow/palette"
)

func TestLoadMissingFile(t *testing.T) {
	s, found, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, State{}, s)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug", "unet_last_epoch.json")
	want := State{Epoch: 7, RunName: "run-a", BatchSize: 4}
	require.NoError(t, Save(path, want))

	got, found, err := Load(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"run_name": "run-a"`)

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, MarkEpoch(path, 8, "run-a", 4))
	got, _, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Epoch)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{epoch: 3"), 0o644))
	_, found, err := Load(path)
	assert.Error(t, err)
	assert.False(t, found)

	require.NoError(t, os.WriteFile(path, []byte(`{"epoch": -1}`), 0o644))
	_, _, err = Load(path)
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, filepath.Join("checkpoint", "unet_last_epoch.json"), FileName("unet", false))
	assert.Equal(t, filepath.Join("checkpoint", "debug", "unet_last_epoch.json"), FileName("unet", true))
}

func TestNewRunName(t *testing.T) {
	now := time.Date(2024, 1, 31, 15, 45, 2, 0, time.UTC)
	a, b := NewRunName(now), NewRunName(now)
	assert.True(t, strings.HasPrefix(a, "20240131-154502-"), a)
	assert.Len(t, a, len("20240131-154502-")+8)
	assert.NotEqual(t, a, b)
}

type fakeLengths map[string]int

func (f fakeLengths) get(split string) (int, error) {
	n, ok := f[split]
	if !ok {
		return 0, &datasets.ConfigurationError{Op: "test", Msg: "split " + split + " was not indexed"}
	}
	return n, nil
}

func TestResume(t *testing.T) {
	s := State{Epoch: 3, RunName: "r", BatchSize: 7}

	p, err := Resume(s, fakeLengths{"train": 100, "val": 20}.get, 2)
	require.NoError(t, err)
	assert.Equal(t, Plan{StartEpoch: 3, RunName: "r", BatchSize: 7, StepsPerEpoch: 8, ValidationSteps: 2}, p)

	p, err = Resume(s, fakeLengths{"train": 100}.get, 0)
	require.NoError(t, err)
	assert.Equal(t, 15, p.StepsPerEpoch)
	assert.Zero(t, p.ValidationSteps)

	_, err = Resume(State{Epoch: 1}, fakeLengths{"train": 1}.get, 1)
	assert.Error(t, err)

	_, err = Resume(s, func(string) (int, error) { return 0, errors.New("disk gone") }, 1)
	assert.Error(t, err)
}

// The restart steps match what a generator computes for the same data.
func TestResumeMatchesGenerator(t *testing.T) {
	ix := staticIndexer{"train": make([]datasets.Record, 25), "val": make([]datasets.Record, 6)}
	for split := range ix {
		for i := range ix[split] {
			ix[split][i] = datasets.Record{Inputs: []string{"in"}, Label: "lab"}
		}
	}
	g, err := datasets.NewGenerator(ix, palette.Cityscapes(), rand.New(rand.NewSource(1)), datasets.Options{})
	require.NoError(t, err)

	p, err := Resume(State{Epoch: 2, BatchSize: 4}, g.DataLength, 1)
	require.NoError(t, err)
	steps, err := g.StepsPerEpoch(datasets.SplitTrain, 4, 1)
	require.NoError(t, err)
	val, err := g.ValidationSteps(4, 1)
	require.NoError(t, err)
	assert.Equal(t, steps, p.StepsPerEpoch)
	assert.Equal(t, val, p.ValidationSteps)
}

type staticIndexer map[string][]datasets.Record

func (s staticIndexer) Name() string { return "static" }

func (s staticIndexer) Records(split string) ([]datasets.Record, error) {
	r, ok := s[split]
	if !ok {
		return nil, &datasets.ConfigurationError{Op: "records", Msg: split}
	}
	return r, nil
}

func (s staticIndexer) Mismatches(string) int { return 0 }
