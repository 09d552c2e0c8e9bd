package corpus

import (
	"bufio"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Sentinel tokens emitted in place of punctuation, so downstream models can
// treat punctuation as ordinary vocabulary items.
const (
	Period          = "<PERIOD>"
	Comma           = "<COMMA>"
	QuotationMark   = "<QUOTATION_MARK>"
	Semicolon       = "<SEMICOLON>"
	ExclamationMark = "<EXCLAMATION_MARK>"
	QuestionMark    = "<QUESTION_MARK>"
	LeftParen       = "<LEFT_PAREN>"
	RightParen      = "<RIGHT_PAREN>"
	Hyphens         = "<HYPHENS>"
	Colon           = "<COLON>"
	NewLine         = "<NEW_LINE>"
)

// punctReplacer pads sentinels with spaces so they split cleanly.
// The double hyphen entry must come first so it wins over single hyphens.
var punctReplacer = strings.NewReplacer(
	"--", " "+Hyphens+" ",
	".", " "+Period+" ",
	",", " "+Comma+" ",
	"\"", " "+QuotationMark+" ",
	";", " "+Semicolon+" ",
	"!", " "+ExclamationMark+" ",
	"?", " "+QuestionMark+" ",
	"(", " "+LeftParen+" ",
	")", " "+RightParen+" ",
	":", " "+Colon+" ",
	"\n", " "+NewLine+" ",
)

// Preprocess lowercases text, strips diacritics, replaces punctuation with
// sentinel tokens and splits on whitespace. Symbol runes without a sentinel
// are treated as separators. Sentinels are injected after lowercasing, so
// they keep their uppercase spelling.
func Preprocess(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ToLower(text)
	text = punctReplacer.Replace(text)

	tform := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	text, _, _ = transform.String(tform, text)

	text = strings.Map(func(r rune) rune {
		switch {
		case r == '<' || r == '>' || r == '-' || r == '\'' || r == '_':
			return r
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			return ' '
		default:
			return r
		}
	}, text)

	return strings.Fields(text)
}

// FilterMinCount drops tokens occurring fewer than minCount times in the
// stream. The order of surviving tokens is preserved.
func FilterMinCount(tokens []string, minCount int) []string {
	if minCount <= 1 {
		return tokens
	}
	counts := make(map[string]int, len(tokens)/2)
	for _, t := range tokens {
		counts[t]++
	}
	kept := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if counts[t] >= minCount {
			kept = append(kept, t)
		}
	}
	return kept
}

// Scanner streams tokens from a reader line by line, so corpora larger than
// memory can be tokenized without loading them whole. The token stream is
// identical to Preprocess applied to the full input.
type Scanner struct {
	r    *bufio.Reader
	buf  []string
	tok  string
	err  error
	done bool
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 1<<20)}
}

// Scan advances to the next token. It returns false at end of input or on
// read error.
func (s *Scanner) Scan() bool {
	for len(s.buf) == 0 {
		if s.done {
			return false
		}
		line, err := s.r.ReadString('\n')
		if len(line) > 0 {
			s.buf = Preprocess(line)
		}
		if err != nil {
			s.done = true
			if err != io.EOF {
				s.err = err
			}
		}
	}
	s.tok = s.buf[0]
	s.buf = s.buf[1:]
	return true
}

// Token returns the token produced by the last call to Scan.
func (s *Scanner) Token() string { return s.tok }

// Err returns the first read error other than io.EOF.
func (s *Scanner) Err() error { return s.err }
