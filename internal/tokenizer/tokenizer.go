// Package tokenizer provides the text processing shared by indexing and
// query parsing. It segments text into words on Unicode word boundaries,
// NFKC-normalises and lower-cases them, and supplies the stemmers and
// stop-word predicates applied on top.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// MaxTermLength is the longest term, in bytes, that is indexed or searched.
// Longer words are dropped.
const MaxTermLength = 245

// Token is a single normalised word and where it was found.
type Token struct {
	Term string
	// Position counts words from zero, including words later dropped by a
	// stopper, so phrase distances stay faithful to the text.
	Position int
	// Start and End are byte offsets of the word in the original text.
	Start, End int
	// Capitalised is set when the word began with an upper-case letter.
	Capitalised bool
}

// Normalize applies NFKC normalisation and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// IsWordRune reports whether r can be part of an indexed word.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isWord(seg string) bool {
	for _, r := range seg {
		if IsWordRune(r) {
			return true
		}
	}
	return false
}

// Tokenize breaks text into normalised words. Whitespace and punctuation
// segments are skipped; words longer than MaxTermLength are dropped but
// still consume a position.
func Tokenize(text string) []Token {
	toks := words.FromString(text)
	tokens := make([]Token, 0, len(text)/6)
	pos := 0
	offset := 0
	for toks.Next() {
		seg := toks.Value()
		start := offset
		offset += len(seg)
		if !isWord(seg) {
			continue
		}
		term := Normalize(seg)
		if len(term) <= MaxTermLength {
			first, _ := utf8.DecodeRuneInString(seg)
			tokens = append(tokens, Token{
				Term:        term,
				Position:    pos,
				Start:       start,
				End:         offset,
				Capitalised: unicode.IsUpper(first),
			})
		}
		pos++
	}
	return tokens
}
