package model

import (
	"math"
	"math/rand"

	"github.com/23skdu/longbow-bowyer/internal/vocab"
)

const (
	// DefaultTableSize is the unigram table length used by New.
	DefaultTableSize = 10_000_000
	// DefaultUnigramPower flattens the frequency distribution so rare words
	// are drawn more often than their raw counts suggest.
	DefaultUnigramPower = 0.75
)

// UnigramTable draws negative samples proportional to count^power.
type UnigramTable struct {
	ids []int32
}

// NewUnigramTable builds a sampling table of the given size for v.
func NewUnigramTable(v *vocab.Vocabulary, size int, power float64) *UnigramTable {
	if v.Len() == 0 || size <= 0 {
		return &UnigramTable{}
	}
	var trainPow float64
	for id := 0; id < v.Len(); id++ {
		trainPow += math.Pow(float64(v.Count(id)), power)
	}
	t := &UnigramTable{ids: make([]int32, size)}
	i := 0
	d1 := math.Pow(float64(v.Count(0)), power) / trainPow
	for a := 0; a < size; a++ {
		t.ids[a] = int32(i)
		if float64(a)/float64(size) > d1 {
			i++
			if i >= v.Len() {
				i = v.Len() - 1
			}
			d1 += math.Pow(float64(v.Count(i)), power) / trainPow
		}
	}
	return t
}

// Draw returns a random id weighted by the table.
func (t *UnigramTable) Draw(rng *rand.Rand) int {
	if len(t.ids) == 0 {
		return 0
	}
	return int(t.ids[rng.Intn(len(t.ids))])
}

// Len returns the table size.
func (t *UnigramTable) Len() int { return len(t.ids) }
