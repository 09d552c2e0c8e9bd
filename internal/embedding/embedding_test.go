package embedding

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bowyer/internal/model"
	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

// compassFixture holds four 2-D directions with known cosine ordering.
func compassFixture(t *testing.T) *Embeddings {
	t.Helper()
	words := []string{"east", "west", "north", "northeast"}
	vecs := []float32{
		1, 0,
		-1, 0,
		0, 1,
		1, 1,
	}
	e, err := New(words, vecs, 2)
	require.NoError(t, err)
	return e
}

func TestNeighborsOrdering(t *testing.T) {
	e := compassFixture(t)

	got, err := e.Neighbors("east", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "northeast", got[0].Word)
	assert.Equal(t, "north", got[1].Word)
	assert.Equal(t, "west", got[2].Word)

	assert.InDelta(t, 1/math.Sqrt2, float64(got[0].Similarity), 1e-6)
	assert.InDelta(t, 0, float64(got[1].Similarity), 1e-6)
	assert.InDelta(t, -1, float64(got[2].Similarity), 1e-6)
}

func TestNeighborsDisplacesWorst(t *testing.T) {
	// Cosine to "query" rises in vocabulary order (-1, 0, 0.707, 0.981), so
	// once the top-k is full every later word has to push the current
	// weakest result out.
	words := []string{"query", "far", "mid", "near", "nearest"}
	vecs := []float32{
		1, 0,
		-1, 0,
		0, 1,
		1, 1,
		1, 0.2,
	}
	e, err := New(words, vecs, 2)
	require.NoError(t, err)

	got, err := e.Neighbors("query", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "nearest", got[0].Word)
	assert.Equal(t, "near", got[1].Word)
	assert.InDelta(t, 1/math.Sqrt(1.04), float64(got[0].Similarity), 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, float64(got[1].Similarity), 1e-6)
}

func TestNeighborsExcludesSelf(t *testing.T) {
	e := compassFixture(t)

	got, err := e.Neighbors("east", 10)
	require.NoError(t, err)
	require.Len(t, got, 3, "k beyond vocabulary is clamped")
	for _, n := range got {
		assert.NotEqual(t, "east", n.Word)
	}
}

func TestNeighborsUnknownWord(t *testing.T) {
	e := compassFixture(t)

	_, err := e.Neighbors("up", 1)
	require.ErrorIs(t, err, ErrUnknownWord)
}

func TestAnalogy(t *testing.T) {
	// king - man + woman = (-0.4, 1.8), which is queen's direction exactly.
	// woman itself scores higher than any distractor, so the result also
	// proves the query words are excluded.
	words := []string{"man", "king", "woman", "queen", "noise"}
	vecs := []float32{
		1, 0,
		0.6, 0.8,
		0, 1,
		-0.4, 1.8,
		0.707, -0.707,
	}
	e, err := New(words, vecs, 2)
	require.NoError(t, err)

	got, err := e.Analogy("man", "king", "woman", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "queen", got[0].Word)
	assert.InDelta(t, 1, float64(got[0].Similarity), 1e-6)
	assert.Equal(t, "noise", got[1].Word)
}

func TestAnalogyUnknownWord(t *testing.T) {
	e := compassFixture(t)

	_, err := e.Analogy("east", "west", "up", 1)
	require.ErrorIs(t, err, ErrUnknownWord)
	_, err = e.Analogy("up", "west", "north", 1)
	require.ErrorIs(t, err, ErrUnknownWord)
}

func TestNewValidation(t *testing.T) {
	_, err := New([]string{"a"}, []float32{1, 0, 0}, 2)
	require.Error(t, err, "value count must be words x dim")

	_, err = New([]string{"a", "a"}, []float32{1, 0, 0, 1}, 2)
	require.Error(t, err, "duplicate words rejected")

	_, err = New(nil, nil, 0)
	require.Error(t, err, "dim must be positive")
}

func TestVectorsAreNormalized(t *testing.T) {
	e, err := New([]string{"long"}, []float32{3, 4}, 2)
	require.NoError(t, err)

	v, ok := e.Vector("long")
	require.True(t, ok)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	_, ok = e.Vector("missing")
	assert.False(t, ok)
}

func TestFromModel(t *testing.T) {
	v := vocab.Build(strings.Fields("a a a b b c"), 1)
	cfg := model.DefaultConfig()
	cfg.Dim = 4
	m, err := model.New(cfg, v)
	require.NoError(t, err)

	e := FromModel(m, v)
	require.Equal(t, v.Len(), e.Len())
	require.Equal(t, 4, e.Dim())

	for _, w := range v.Words() {
		row, ok := e.Vector(w)
		require.True(t, ok)
		var dot float64
		for _, f := range row {
			dot += float64(f) * float64(f)
		}
		assert.InDelta(t, 1, dot, 1e-5, "row for %q is unit length", w)
	}
}

func TestTextRoundTrip(t *testing.T) {
	e := compassFixture(t)

	var buf bytes.Buffer
	require.NoError(t, e.WriteText(&buf))

	header, _, ok := strings.Cut(buf.String(), "\n")
	require.True(t, ok)
	assert.Equal(t, "4 2", header)

	e2, err := ReadText(&buf)
	require.NoError(t, err)
	require.Equal(t, e.Words(), e2.Words())
	require.Equal(t, e.Dim(), e2.Dim())

	for _, w := range e.Words() {
		want, _ := e.Vector(w)
		got, ok := e2.Vector(w)
		require.True(t, ok)
		require.Len(t, got, len(want))
		for i := range want {
			assert.InDelta(t, float64(want[i]), float64(got[i]), 1e-6)
		}
	}
}

func TestReadTextErrors(t *testing.T) {
	_, err := ReadText(strings.NewReader("not a header\n"))
	require.Error(t, err)

	_, err = ReadText(strings.NewReader("1 2\nword 0.5\n"))
	require.Error(t, err, "wrong field count")

	_, err = ReadText(strings.NewReader("1 2\nword 0.5 oops\n"))
	require.Error(t, err, "unparsable value")

	_, err = ReadText(strings.NewReader("2 2\nword 0.5 0.5\n"))
	require.Error(t, err, "fewer lines than header count")
}

func TestArrowRecord(t *testing.T) {
	e := compassFixture(t)

	rec, err := e.Record(memory.NewGoAllocator())
	require.NoError(t, err)
	defer rec.Release()

	require.EqualValues(t, 4, rec.NumRows())
	require.EqualValues(t, 2, rec.NumCols())
	assert.Equal(t, "word", rec.Schema().Field(0).Name)
	assert.Equal(t, "vector", rec.Schema().Field(1).Name)

	wordCol := rec.Column(0).(*array.String)
	vecCol := rec.Column(1).(*array.FixedSizeList)
	values := vecCol.ListValues().(*array.Float32)
	for i, w := range e.Words() {
		assert.Equal(t, w, wordCol.Value(i))
		want, _ := e.Vector(w)
		for j := 0; j < e.Dim(); j++ {
			assert.Equal(t, want[j], values.Value(i*e.Dim()+j))
		}
	}
}

func TestArrowIPCRoundTrip(t *testing.T) {
	e := compassFixture(t)

	var buf bytes.Buffer
	require.NoError(t, e.WriteArrowIPC(&buf))

	reader, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer reader.Release()

	require.True(t, reader.Next())
	rec := reader.Record()
	require.EqualValues(t, 4, rec.NumRows())

	wordCol := rec.Column(0).(*array.String)
	assert.Equal(t, "east", wordCol.Value(0))
	assert.False(t, reader.Next(), "single batch stream")
}
