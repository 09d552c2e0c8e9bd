package sample

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

// Subsampler drops occurrences of frequent words from an id stream with
// probability p = 1 - sqrt(t/f), where f is the word's relative corpus
// frequency and t the configured threshold. Words with f <= t are always
// kept.
type Subsampler struct {
	drop []float64
	rng  *rand.Rand
}

// NewSubsampler precomputes per-id drop probabilities for v. A threshold
// <= 0 disables subsampling entirely.
func NewSubsampler(v *vocab.Vocabulary, threshold float64, rng *rand.Rand) *Subsampler {
	s := &Subsampler{rng: rng}
	if threshold <= 0 || v.Total() == 0 {
		return s
	}
	s.drop = make([]float64, v.Len())
	total := float64(v.Total())
	for id := range s.drop {
		freq := float64(v.Count(id)) / total
		p := 1 - math.Sqrt(threshold/freq)
		if p < 0 {
			p = 0
		}
		s.drop[id] = p
	}
	return s
}

// Keep decides whether a single occurrence of id survives subsampling.
func (s *Subsampler) Keep(id int) bool {
	if s.drop == nil {
		return true
	}
	return s.rng.Float64() >= s.drop[id]
}

// Filter returns the ids surviving subsampling, preserving order. With
// subsampling disabled the input slice is returned unchanged.
func (s *Subsampler) Filter(ids []int) []int {
	if s.drop == nil {
		return ids
	}
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if s.rng.Float64() >= s.drop[id] {
			kept = append(kept, id)
		}
	}
	return kept
}

// Windower selects the context words around a center position. The effective
// radius is redrawn uniformly from [1, radius] for every center, which
// weights nearby words higher.
type Windower struct {
	radius int
	rng    *rand.Rand
}

// NewWindower returns a Windower with the given maximum radius.
func NewWindower(radius int, rng *rand.Rand) (*Windower, error) {
	if radius < 1 {
		return nil, fmt.Errorf("sample: window radius %d, want >= 1", radius)
	}
	return &Windower{radius: radius, rng: rng}, nil
}

// Context returns the ids inside the randomly shrunk window around pos,
// excluding pos itself. The window is truncated at the bounds of ids.
func (w *Windower) Context(ids []int, pos int) []int {
	r := 1 + w.rng.Intn(w.radius)
	lo := pos - r
	if lo < 0 {
		lo = 0
	}
	hi := pos + r
	if hi > len(ids)-1 {
		hi = len(ids) - 1
	}
	ctx := make([]int, 0, hi-lo)
	ctx = append(ctx, ids[lo:pos]...)
	ctx = append(ctx, ids[pos+1:hi+1]...)
	return ctx
}

// Batcher walks an id stream in fixed-size chunks and expands each chunk
// into aligned (center, context) training pairs. A trailing chunk shorter
// than the chunk size is discarded.
type Batcher struct {
	size int
	win  *Windower
}

// NewBatcher returns a Batcher emitting chunks of size centers.
func NewBatcher(size int, w *Windower) (*Batcher, error) {
	if size < 1 {
		return nil, fmt.Errorf("sample: batch size %d, want >= 1", size)
	}
	return &Batcher{size: size, win: w}, nil
}

// Iter returns an iterator over the batches of ids.
func (b *Batcher) Iter(ids []int) *BatchIter {
	n := len(ids) / b.size * b.size
	return &BatchIter{b: b, ids: ids[:n]}
}

// BatchIter yields successive training batches. Windows never cross chunk
// boundaries, so chunks can be processed independently.
type BatchIter struct {
	b        *Batcher
	ids      []int
	off      int
	pos      int
	centers  []int
	contexts []int
}

// Next advances to the next batch. It returns false once the stream is
// exhausted.
func (it *BatchIter) Next() bool {
	if it.off >= len(it.ids) {
		return false
	}
	chunk := it.ids[it.off : it.off+it.b.size]
	it.off += it.b.size
	it.pos = len(chunk)

	it.centers = it.centers[:0]
	it.contexts = it.contexts[:0]
	for i := range chunk {
		for _, c := range it.b.win.Context(chunk, i) {
			it.centers = append(it.centers, chunk[i])
			it.contexts = append(it.contexts, c)
		}
	}
	return true
}

// Batch returns the pairs produced by the last call to Next. Each center id
// is repeated once per context word, so both slices always have equal
// length. The slices are reused between calls.
func (it *BatchIter) Batch() (centers, contexts []int) {
	return it.centers, it.contexts
}

// Positions returns the number of stream positions the last batch was
// expanded from. Pair counts vary with the drawn radii; position counts do
// not.
func (it *BatchIter) Positions() int { return it.pos }
