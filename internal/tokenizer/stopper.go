package tokenizer

import (
	"sort"
	"strings"
)

// Stopper decides whether a term is a stop word.
type Stopper interface {
	IsStopTerm(term string) bool
	Description() string
}

// SimpleStopper stops exactly the words it was given.
type SimpleStopper struct {
	words map[string]struct{}
}

func NewSimpleStopper(words ...string) *SimpleStopper {
	s := &SimpleStopper{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		s.Add(w)
	}
	return s
}

func (s *SimpleStopper) Add(word string) {
	s.words[word] = struct{}{}
}

func (s *SimpleStopper) IsStopTerm(term string) bool {
	_, ok := s.words[term]
	return ok
}

func (s *SimpleStopper) Len() int { return len(s.words) }

func (s *SimpleStopper) Description() string {
	list := make([]string, 0, len(s.words))
	for w := range s.words {
		list = append(list, w)
	}
	sort.Strings(list)
	return "SimpleStopper(" + strings.Join(list, " ") + ")"
}

// NeverStopper stops nothing.
type NeverStopper struct{}

func (NeverStopper) IsStopTerm(string) bool { return false }
func (NeverStopper) Description() string    { return "Stopper()" }

// StopperFunc adapts an application-supplied predicate.
type StopperFunc func(term string) bool

func (f StopperFunc) IsStopTerm(term string) bool { return f(term) }
func (f StopperFunc) Description() string         { return "StopperFunc()" }

var englishStopWords = []string{
	"a", "an", "and", "are", "as", "at",
	"be", "by", "for", "from", "has", "he",
	"in", "is", "it", "its", "of", "on",
	"or", "that", "the", "to", "was", "were",
	"will", "with", "this", "but", "they",
	"have", "had", "what", "when", "where",
	"who", "which", "their", "if", "each",
	"do", "not", "no", "so", "can",
}

// EnglishStopper returns a stopper loaded with common English function
// words.
func EnglishStopper() *SimpleStopper {
	return NewSimpleStopper(englishStopWords...)
}
