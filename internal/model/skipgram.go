package model

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/23skdu/longbow-bowyer/internal/simd"
	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

// Config holds the hyperparameters of a skip-gram model and its training
// run. It is persisted verbatim inside checkpoints.
type Config struct {
	Dim        int     `cbor:"dim"`
	Window     int     `cbor:"window"`
	Negative   int     `cbor:"negative"`
	Subsample  float64 `cbor:"subsample"`
	MinCount   int     `cbor:"min_count"`
	InitialLR  float64 `cbor:"initial_lr"`
	MinLR      float64 `cbor:"min_lr"`
	Epochs     int     `cbor:"epochs"`
	BatchSize  int     `cbor:"batch_size"`
	Goroutines int     `cbor:"goroutines"`
	Seed       int64   `cbor:"seed"`
}

// DefaultConfig returns the hyperparameters used when flags are left unset.
func DefaultConfig() Config {
	return Config{
		Dim:        128,
		Window:     5,
		Negative:   5,
		Subsample:  1e-3,
		MinCount:   5,
		InitialLR:  0.025,
		MinLR:      2.5e-6,
		Epochs:     5,
		BatchSize:  512,
		Goroutines: runtime.NumCPU(),
		Seed:       1,
	}
}

// Validate reports the first invalid hyperparameter.
func (c Config) Validate() error {
	switch {
	case c.Dim < 1:
		return fmt.Errorf("model: dim %d, want >= 1", c.Dim)
	case c.Window < 1:
		return fmt.Errorf("model: window %d, want >= 1", c.Window)
	case c.Negative < 0:
		return fmt.Errorf("model: negative %d, want >= 0", c.Negative)
	case c.InitialLR <= 0:
		return fmt.Errorf("model: initial learning rate %g, want > 0", c.InitialLR)
	case c.Epochs < 1:
		return fmt.Errorf("model: epochs %d, want >= 1", c.Epochs)
	case c.BatchSize < 1:
		return fmt.Errorf("model: batch size %d, want >= 1", c.BatchSize)
	case c.Goroutines < 1:
		return fmt.Errorf("model: goroutines %d, want >= 1", c.Goroutines)
	}
	return nil
}

const (
	expTableSize = 1000
	maxExp       = 6
)

// expTable caches sigmoid values on [-maxExp, maxExp]; outside that range
// the function saturates to 0 or 1.
var expTable [expTableSize]float32

func init() {
	for i := range expTable {
		x := (float64(i)/expTableSize*2 - 1) * maxExp
		e := math.Exp(x)
		expTable[i] = float32(e / (e + 1))
	}
}

// Sigmoid returns the logistic function via the precomputed table.
func Sigmoid(f float32) float32 {
	if f >= maxExp {
		return 1
	}
	if f <= -maxExp {
		return 0
	}
	return expTable[int((f+maxExp)*(expTableSize/maxExp/2))]
}

// SkipGram is a skip-gram word embedding model trained with negative
// sampling. Center vectors live in the input matrix, context vectors in the
// output matrix; both are flat row-major rows x dim.
type SkipGram struct {
	dim   int
	rows  int
	neg   int
	in    []float32
	out   []float32
	table *UnigramTable
}

// New creates a model for v. Input rows are initialized uniformly in
// [-0.5/dim, 0.5/dim), output rows start at zero.
func New(cfg Config, v *vocab.Vocabulary) (*SkipGram, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rows := v.Len()
	m := &SkipGram{
		dim:   cfg.Dim,
		rows:  rows,
		neg:   cfg.Negative,
		in:    make([]float32, rows*cfg.Dim),
		out:   make([]float32, rows*cfg.Dim),
		table: NewUnigramTable(v, DefaultTableSize, DefaultUnigramPower),
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	for i := range m.in {
		m.in[i] = float32((rng.Float64() - 0.5) / float64(cfg.Dim))
	}
	return m, nil
}

// FromWeights reconstructs a model from stored matrices. Both slices must
// hold rows*dim values; they are adopted, not copied.
func FromWeights(cfg Config, v *vocab.Vocabulary, in, out []float32) (*SkipGram, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rows := v.Len()
	if len(in) != rows*cfg.Dim || len(out) != rows*cfg.Dim {
		return nil, fmt.Errorf("model: want %d weights per matrix for %d x %d, got %d and %d",
			rows*cfg.Dim, rows, cfg.Dim, len(in), len(out))
	}
	return &SkipGram{
		dim:   cfg.Dim,
		rows:  rows,
		neg:   cfg.Negative,
		in:    in,
		out:   out,
		table: NewUnigramTable(v, DefaultTableSize, DefaultUnigramPower),
	}, nil
}

// Dim returns the embedding dimensionality.
func (m *SkipGram) Dim() int { return m.dim }

// Rows returns the number of embedding rows.
func (m *SkipGram) Rows() int { return m.rows }

// Vector returns the input embedding row for id. The slice aliases model
// storage.
func (m *SkipGram) Vector(id int) []float32 {
	return m.in[id*m.dim : (id+1)*m.dim]
}

// Input returns the flat input matrix.
func (m *SkipGram) Input() []float32 { return m.in }

// Output returns the flat output matrix.
func (m *SkipGram) Output() []float32 { return m.out }

// Update applies one negative-sampling step for a (center, context) pair and
// returns its loss. Negatives colliding with the positive context are
// skipped rather than redrawn. Only the center row, the context row and the
// drawn negative rows are touched; concurrent callers race benignly on the
// shared matrices, Hogwild style.
func (m *SkipGram) Update(center, context int, lr float32, rng *rand.Rand) float32 {
	cvec := m.in[center*m.dim : (center+1)*m.dim]
	neu1e := scratch.Get(m.dim)
	defer scratch.Put(neu1e)

	var loss float32
	for d := 0; d <= m.neg; d++ {
		target := context
		var label float32 = 1
		if d > 0 {
			target = m.table.Draw(rng)
			if target == context {
				continue
			}
			label = 0
		}
		ovec := m.out[target*m.dim : (target+1)*m.dim]
		p := Sigmoid(simd.DotProduct(cvec, ovec))
		g := (label - p) * lr
		simd.VecAddScaled(neu1e, ovec, g)
		simd.VecAddScaled(ovec, cvec, g)
		if label == 1 {
			loss -= logf(p)
		} else {
			loss -= logf(1 - p)
		}
	}
	simd.VecAdd(cvec, neu1e)
	return loss
}

// logf guards against log(0) when the sigmoid table saturates.
func logf(x float32) float32 {
	if x < 1e-10 {
		x = 1e-10
	}
	return float32(math.Log(float64(x)))
}
