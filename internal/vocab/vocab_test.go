package vocab

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	tokens := strings.Fields("the cat sat on the mat the cat")

	t.Run("FrequencyOrder", func(t *testing.T) {
		v := Build(tokens, 1)
		require.Equal(t, 5, v.Len())
		require.Equal(t, 8, v.Total())

		// "the" x3, "cat" x2, then "mat", "on", "sat" each x1 in
		// lexicographic order.
		require.Equal(t, []string{"the", "cat", "mat", "on", "sat"}, v.Words())
		require.Equal(t, []int{3, 2, 1, 1, 1}, v.Counts())

		id, ok := v.ID("the")
		require.True(t, ok)
		require.Equal(t, 0, id)
		require.Equal(t, "the", v.Word(0))
		require.Equal(t, 3, v.Count(0))
	})

	t.Run("MinCountFilter", func(t *testing.T) {
		v := Build(tokens, 2)
		require.Equal(t, []string{"the", "cat"}, v.Words())
		require.Equal(t, 5, v.Total())

		_, ok := v.ID("mat")
		require.False(t, ok)
	})

	t.Run("Empty", func(t *testing.T) {
		v := Build(nil, 1)
		require.Equal(t, 0, v.Len())
		require.Equal(t, 0, v.Total())
		require.Empty(t, v.Encode([]string{"anything"}))
	})
}

func TestEncode(t *testing.T) {
	v := Build(strings.Fields("a a b"), 1)

	ids := v.Encode([]string{"a", "unknown", "b", "a"})
	require.Equal(t, []int{0, 1, 0}, ids)
}

func TestMostFrequent(t *testing.T) {
	v := Build(strings.Fields("a a a b b c"), 1)

	require.Equal(t, []string{"a", "b"}, v.MostFrequent(2))
	require.Equal(t, []string{"a", "b", "c"}, v.MostFrequent(10))
	require.Empty(t, v.MostFrequent(0))
}

func TestSaveLoad(t *testing.T) {
	v := Build(strings.Fields("the cat sat on the mat the cat"), 1)

	var buf bytes.Buffer
	require.NoError(t, v.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, v.Words(), loaded.Words())
	require.Equal(t, v.Counts(), loaded.Counts())
	require.Equal(t, v.Total(), loaded.Total())

	id, ok := loaded.ID("cat")
	require.True(t, ok)
	require.Equal(t, 1, id)
}

func TestLoadErrors(t *testing.T) {
	t.Run("MalformedLine", func(t *testing.T) {
		_, err := Load(strings.NewReader("word\n"))
		require.Error(t, err)
	})

	t.Run("BadCount", func(t *testing.T) {
		_, err := Load(strings.NewReader("word abc\n"))
		require.Error(t, err)
	})

	t.Run("DuplicateWord", func(t *testing.T) {
		_, err := Load(strings.NewReader("word 3\nword 2\n"))
		require.Error(t, err)
	})

	t.Run("BlankLinesSkipped", func(t *testing.T) {
		v, err := Load(strings.NewReader("word 3\n\n"))
		require.NoError(t, err)
		require.Equal(t, 1, v.Len())
	})
}

func TestFromPairs(t *testing.T) {
	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := FromPairs([]string{"a", "b"}, []int{1})
		require.Error(t, err)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		v, err := FromPairs([]string{"x", "y"}, []int{5, 2})
		require.NoError(t, err)
		require.Equal(t, 7, v.Total())

		id, ok := v.ID("y")
		require.True(t, ok)
		require.Equal(t, 1, id)
	})
}
