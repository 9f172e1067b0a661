package tokenizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kljensen/snowball"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

var languages = map[string]string{
	"english":   "english",
	"en":        "english",
	"spanish":   "spanish",
	"es":        "spanish",
	"french":    "french",
	"fr":        "french",
	"russian":   "russian",
	"ru":        "russian",
	"swedish":   "swedish",
	"sv":        "swedish",
	"norwegian": "norwegian",
	"nb":        "norwegian",
	"no":        "norwegian",
	"hungarian": "hungarian",
	"hu":        "hungarian",
	"none":      "",
	"":          "",
}

// Languages lists the canonical stemmer language names.
func Languages() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, lang := range languages {
		if _, ok := seen[lang]; lang == "" || ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Stemmer reduces words to their stems with a Snowball algorithm. The zero
// value, like the "none" language, leaves words unchanged.
type Stemmer struct {
	language string
}

// NewStemmer returns the stemmer for language (a name or ISO code).
func NewStemmer(language string) (*Stemmer, error) {
	lang, ok := languages[strings.ToLower(language)]
	if !ok {
		return nil, qerrors.Newf(qerrors.ErrInvalidArgument, "no stemmer for language %q", language)
	}
	return &Stemmer{language: lang}, nil
}

func (s *Stemmer) Language() string {
	if s == nil {
		return ""
	}
	return s.language
}

// IsNone reports whether the stemmer leaves words unchanged.
func (s *Stemmer) IsNone() bool { return s == nil || s.language == "" }

func (s *Stemmer) Stem(word string) string {
	if s.IsNone() || word == "" {
		return word
	}
	stemmed, err := snowball.Stem(word, s.language, true)
	if err != nil {
		return word
	}
	return stemmed
}

func (s *Stemmer) Description() string {
	if s.IsNone() {
		return "Stem(none)"
	}
	return fmt.Sprintf("Stem(%s)", s.language)
}

// StemStrategy selects which words are stemmed and how stemmed terms are
// marked.
type StemStrategy int

const (
	// StemNone never stems.
	StemNone StemStrategy = iota
	// StemSome stems words that are not capitalised and marks stemmed
	// terms with a "Z" prefix. Unstemmed forms are kept alongside.
	StemSome
	// StemAll stems every word and emits stems without a marker.
	StemAll
	// StemAllZ stems every word and marks every stem with "Z".
	StemAllZ
	// StemSomeFullPos is StemSome with positions recorded for the stemmed
	// terms as well.
	StemSomeFullPos
)

func (s StemStrategy) String() string {
	switch s {
	case StemNone:
		return "none"
	case StemSome:
		return "some"
	case StemAll:
		return "all"
	case StemAllZ:
		return "all_z"
	case StemSomeFullPos:
		return "some_full_pos"
	default:
		return fmt.Sprintf("StemStrategy(%d)", int(s))
	}
}

// ParseStemStrategy accepts the names produced by String.
func ParseStemStrategy(name string) (StemStrategy, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return StemNone, nil
	case "some":
		return StemSome, nil
	case "all":
		return StemAll, nil
	case "all_z":
		return StemAllZ, nil
	case "some_full_pos":
		return StemSomeFullPos, nil
	}
	return StemNone, qerrors.Newf(qerrors.ErrInvalidArgument, "unknown stemming strategy %q", name)
}

// StemmedTerm builds the marked term for a stem under prefix.
func StemmedTerm(prefix, stem string) string {
	return "Z" + prefix + stem
}
