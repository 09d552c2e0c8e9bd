package embedding

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-bowyer/internal/model"
	"github.com/23skdu/longbow-bowyer/internal/simd"
	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

// ErrUnknownWord is returned for lookups outside the vocabulary.
var ErrUnknownWord = errors.New("embedding: unknown word")

// Embeddings is an immutable, L2-normalized view of trained word vectors,
// ordered by vocabulary id (most frequent word first). Normalization makes
// cosine similarity a plain dot product.
type Embeddings struct {
	dim   int
	words []string
	ids   map[string]int
	vecs  []float32
}

// Neighbor pairs a word with its cosine similarity to a query.
type Neighbor struct {
	Word       string  `cbor:"word"`
	Similarity float32 `cbor:"similarity"`
}

// FromModel copies the input matrix of a trained model and normalizes each
// row to unit length. Zero rows stay zero.
func FromModel(m *model.SkipGram, v *vocab.Vocabulary) *Embeddings {
	e := &Embeddings{
		dim:   m.Dim(),
		words: v.Words(),
		ids:   make(map[string]int, v.Len()),
		vecs:  append([]float32(nil), m.Input()...),
	}
	for id, w := range e.words {
		e.ids[w] = id
	}
	normalize(e.vecs, e.dim)
	return e
}

// New builds Embeddings from raw vectors. vecs is row-major
// len(words) x dim and is normalized in place.
func New(words []string, vecs []float32, dim int) (*Embeddings, error) {
	if dim < 1 {
		return nil, fmt.Errorf("embedding: dim %d, want >= 1", dim)
	}
	if len(vecs) != len(words)*dim {
		return nil, fmt.Errorf("embedding: %d values for %d x %d", len(vecs), len(words), dim)
	}
	e := &Embeddings{
		dim:   dim,
		words: words,
		ids:   make(map[string]int, len(words)),
		vecs:  vecs,
	}
	for id, w := range words {
		if _, dup := e.ids[w]; dup {
			return nil, fmt.Errorf("embedding: duplicate word %q", w)
		}
		e.ids[w] = id
	}
	normalize(e.vecs, dim)
	return e, nil
}

func normalize(vecs []float32, dim int) {
	for off := 0; off+dim <= len(vecs); off += dim {
		row := vecs[off : off+dim]
		n := float32(math.Sqrt(float64(simd.DotProduct(row, row))))
		if n > 0 {
			simd.Scale(row, 1/n)
		}
	}
}

// Len returns the number of stored vectors.
func (e *Embeddings) Len() int { return len(e.words) }

// Dim returns the vector dimensionality.
func (e *Embeddings) Dim() int { return e.dim }

// Words returns the id-ordered word list. The slice is shared; callers must
// not modify it.
func (e *Embeddings) Words() []string { return e.words }

// Vector returns the normalized vector for word. The slice aliases internal
// storage.
func (e *Embeddings) Vector(word string) ([]float32, bool) {
	id, ok := e.ids[word]
	if !ok {
		return nil, false
	}
	return e.row(id), true
}

func (e *Embeddings) row(id int) []float32 {
	return e.vecs[id*e.dim : (id+1)*e.dim]
}

// Neighbors returns the k words most similar to word by cosine, excluding
// the word itself. A k beyond the vocabulary is truncated.
func (e *Embeddings) Neighbors(word string, k int) ([]Neighbor, error) {
	id, ok := e.ids[word]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWord, word)
	}
	return e.nearest(e.row(id), k, map[int]bool{id: true}), nil
}

// Analogy solves a:b :: c:? with the vector offset b - a + c, excluding the
// three query words from the result.
func (e *Embeddings) Analogy(a, b, c string, k int) ([]Neighbor, error) {
	ida, ok := e.ids[a]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWord, a)
	}
	idb, ok := e.ids[b]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWord, b)
	}
	idc, ok := e.ids[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWord, c)
	}

	q := make([]float32, e.dim)
	copy(q, e.row(idb))
	simd.VecAddScaled(q, e.row(ida), -1)
	simd.VecAdd(q, e.row(idc))
	n := float32(math.Sqrt(float64(simd.DotProduct(q, q))))
	if n > 0 {
		simd.Scale(q, 1/n)
	}
	return e.nearest(q, k, map[int]bool{ida: true, idb: true, idc: true}), nil
}

// nearest scans every row for the top-k cosine scores against q. Instead of
// sorting all V scores it maintains a k-slot selection in descending order;
// ids that cannot beat the current worst are rejected in one comparison.
func (e *Embeddings) nearest(q []float32, k int, exclude map[int]bool) []Neighbor {
	if k < 0 {
		k = 0
	}
	scores := make([]float32, len(e.words))
	simd.MatVecMul(scores, e.vecs, q, len(e.words), e.dim)

	best := make([]int, 0, k)
	for id := range scores {
		if exclude[id] {
			continue
		}
		if len(best) == cap(best) {
			if len(best) == 0 || scores[id] <= scores[best[len(best)-1]] {
				continue
			}
			best = best[:len(best)-1]
		}
		at := sort.Search(len(best), func(i int) bool { return scores[best[i]] < scores[id] })
		best = append(best, 0)
		copy(best[at+1:], best[at:])
		best[at] = id
	}

	out := make([]Neighbor, len(best))
	for i, id := range best {
		out[i] = Neighbor{Word: e.words[id], Similarity: scores[id]}
	}
	return out
}

// WriteText writes the vectors in the word2vec text format: a "count dim"
// header, then one "word v1 .. vdim" line per word. Values are formatted
// with enough digits to parse back to the same float32 bits.
func (e *Embeddings) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", len(e.words), e.dim)
	for id, word := range e.words {
		bw.WriteString(word)
		for _, f := range e.row(id) {
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("embedding: write: %w", err)
	}
	return nil
}

// ReadText reads vectors in the format written by WriteText.
func ReadText(r io.Reader) (*Embeddings, error) {
	br := bufio.NewReader(r)
	var count, dim int
	if _, err := fmt.Fscanf(br, "%d %d\n", &count, &dim); err != nil {
		return nil, fmt.Errorf("embedding: header: %w", err)
	}

	words := make([]string, 0, count)
	vecs := make([]float32, 0, count*dim)
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<22)
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != dim+1 {
			return nil, fmt.Errorf("embedding: line %d: %d fields, want %d", line, len(fields), dim+1)
		}
		words = append(words, fields[0])
		for _, s := range fields[1:] {
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("embedding: line %d: %w", line, err)
			}
			vecs = append(vecs, float32(f))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("embedding: read: %w", err)
	}
	if len(words) != count {
		return nil, fmt.Errorf("embedding: %d vector lines, header says %d", len(words), count)
	}
	return New(words, vecs, dim)
}
