package vocab

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Vocabulary maps words to dense integer ids ordered by corpus frequency:
// id 0 is the most frequent word. Counts are non-increasing in id.
type Vocabulary struct {
	words  []string
	counts []int
	ids    map[string]int
	total  int
}

// Build counts tokens, drops words occurring fewer than minCount times and
// assigns ids by descending frequency. Frequency ties are broken
// lexicographically so ids are stable across runs.
func Build(tokens []string, minCount int) *Vocabulary {
	counts := make(map[string]int, len(tokens)/2)
	for _, t := range tokens {
		counts[t]++
	}
	return FromCounts(counts, minCount)
}

// FromCounts builds a vocabulary from precomputed word frequencies.
func FromCounts(counts map[string]int, minCount int) *Vocabulary {
	if minCount < 1 {
		minCount = 1
	}
	words := make([]string, 0, len(counts))
	for w, c := range counts {
		if c >= minCount {
			words = append(words, w)
		}
	}
	sort.Slice(words, func(i, j int) bool {
		ci, cj := counts[words[i]], counts[words[j]]
		if ci != cj {
			return ci > cj
		}
		return words[i] < words[j]
	})

	v := &Vocabulary{
		words:  words,
		counts: make([]int, len(words)),
		ids:    make(map[string]int, len(words)),
	}
	for id, w := range words {
		v.counts[id] = counts[w]
		v.ids[w] = id
		v.total += counts[w]
	}
	return v
}

// FromPairs rebuilds a vocabulary from id-ordered words and counts, as
// stored in vocab files and checkpoints.
func FromPairs(words []string, counts []int) (*Vocabulary, error) {
	if len(words) != len(counts) {
		return nil, fmt.Errorf("vocab: %d words but %d counts", len(words), len(counts))
	}
	v := &Vocabulary{
		words:  append([]string(nil), words...),
		counts: append([]int(nil), counts...),
		ids:    make(map[string]int, len(words)),
	}
	for id, w := range v.words {
		if _, dup := v.ids[w]; dup {
			return nil, fmt.Errorf("vocab: duplicate word %q", w)
		}
		v.ids[w] = id
		v.total += v.counts[id]
	}
	return v, nil
}

// ID returns the id assigned to word.
func (v *Vocabulary) ID(word string) (int, bool) {
	id, ok := v.ids[word]
	return id, ok
}

// Word returns the word with the given id.
func (v *Vocabulary) Word(id int) string { return v.words[id] }

// Count returns the corpus frequency of the word with the given id.
func (v *Vocabulary) Count(id int) int { return v.counts[id] }

// Len returns the number of vocabulary words.
func (v *Vocabulary) Len() int { return len(v.words) }

// Total returns the summed frequency of all vocabulary words.
func (v *Vocabulary) Total() int { return v.total }

// Words returns the id-ordered word list. The slice is shared; callers must
// not modify it.
func (v *Vocabulary) Words() []string { return v.words }

// Counts returns the id-ordered frequency list. The slice is shared; callers
// must not modify it.
func (v *Vocabulary) Counts() []int { return v.counts }

// MostFrequent returns the n most frequent words.
func (v *Vocabulary) MostFrequent(n int) []string {
	if n < 0 {
		n = 0
	}
	if n > len(v.words) {
		n = len(v.words)
	}
	return v.words[:n]
}

// Encode maps tokens to ids, dropping tokens outside the vocabulary.
func (v *Vocabulary) Encode(tokens []string) []int {
	ids := make([]int, 0, len(tokens))
	for _, t := range tokens {
		if id, ok := v.ids[t]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Save writes the vocabulary as "word count" lines, most frequent first.
func (v *Vocabulary) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for id, word := range v.words {
		if _, err := fmt.Fprintf(bw, "%s %d\n", word, v.counts[id]); err != nil {
			return fmt.Errorf("vocab: write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("vocab: write: %w", err)
	}
	return nil
}

// Load reads a vocabulary previously written by Save. Line order defines the
// ids.
func Load(r io.Reader) (*Vocabulary, error) {
	var (
		words  []string
		counts []int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("vocab: line %d: expected \"word count\", got %q", line, text)
		}
		c, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("vocab: line %d: %w", line, err)
		}
		words = append(words, fields[0])
		counts = append(counts, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read: %w", err)
	}
	return FromPairs(words, counts)
}
