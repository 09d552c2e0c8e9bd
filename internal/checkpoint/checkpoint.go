package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-bowyer/internal/model"
	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

const (
	magic   = "bowyer.checkpoint"
	version = 1
)

// ErrIncompatible marks files whose magic or version this build cannot read.
var ErrIncompatible = errors.New("checkpoint: incompatible file")

// State is the persisted form of a model mid- or post-training: the full
// hyperparameter set, the id-ordered vocabulary, both weight matrices as
// little-endian float32 payloads, and the training cursor for resume.
type State struct {
	Magic   string       `cbor:"magic"`
	Version int          `cbor:"version"`
	Config  model.Config `cbor:"config"`
	Words   []string     `cbor:"words"`
	Counts  []int        `cbor:"counts"`
	Input   []byte       `cbor:"input"`
	Output  []byte       `cbor:"output"`
	Epoch   int          `cbor:"epoch"`
	Step    int64        `cbor:"step"`
}

// Capture snapshots a model and its vocabulary for saving. Epoch is the
// number of completed epochs, step the number of processed batches.
func Capture(cfg model.Config, m *model.SkipGram, v *vocab.Vocabulary, epoch int, step int64) *State {
	return &State{
		Magic:   magic,
		Version: version,
		Config:  cfg,
		Words:   v.Words(),
		Counts:  v.Counts(),
		Input:   floatsToBytes(m.Input()),
		Output:  floatsToBytes(m.Output()),
		Epoch:   epoch,
		Step:    step,
	}
}

// Restore rebuilds the vocabulary and model stored in the state. Weight
// round-trips are bit exact.
func (st *State) Restore() (*model.SkipGram, *vocab.Vocabulary, error) {
	v, err := vocab.FromPairs(st.Words, st.Counts)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: %w", err)
	}
	in, err := bytesToFloats(st.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: input matrix: %w", err)
	}
	out, err := bytesToFloats(st.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: output matrix: %w", err)
	}
	m, err := model.FromWeights(st.Config, v, in, out)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint: %w", err)
	}
	return m, v, nil
}

// Save writes st to path atomically: the file is assembled under a
// temporary name, synced and renamed into place, so a crash never leaves a
// half-written checkpoint behind.
func Save(path string, st *State) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := cbor.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads and validates a checkpoint written by Save.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer func() { _ = f.Close() }()

	var st State
	if err := cbor.NewDecoder(f).Decode(&st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}
	if st.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrIncompatible, st.Magic)
	}
	if st.Version != version {
		return nil, fmt.Errorf("%w: version %d, this build reads %d", ErrIncompatible, st.Version, version)
	}
	return &st, nil
}

func floatsToBytes(fs []float32) []byte {
	buf := make([]byte, 4*len(fs))
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloats(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%d bytes, want a multiple of 4", len(buf))
	}
	fs := make([]float32, len(buf)/4)
	for i := range fs {
		fs[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return fs, nil
}
