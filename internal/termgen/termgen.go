// Package termgen turns free text into postings on a document.
package termgen

import (
	"fmt"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/document"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/tokenizer"
)

// Flags tune what the generator records besides postings.
type Flags uint

const (
	// FlagSpelling feeds every unprefixed word to the spelling dictionary
	// of the database set with SetDatabase.
	FlagSpelling Flags = 1 << iota
)

// StopStrategy selects what happens to words the stopper rejects.
type StopStrategy int

const (
	// StopNone indexes stop words like any other word.
	StopNone StopStrategy = iota
	// StopAll drops stop words entirely. They still take up a position.
	StopAll
	// StopStemmed indexes stop words unstemmed only.
	StopStemmed
)

// SpellingSink receives words for the spelling dictionary. A writable
// database satisfies it.
type SpellingSink interface {
	AddSpelling(word string, inc uint32)
}

// TermGenerator indexes text into the document it is bound to. Term
// positions carry on between calls so several fields of one document can
// be indexed in sequence; use IncreaseTermpos to keep phrases from
// spanning fields.
type TermGenerator struct {
	doc          *document.Document
	stemmer      *tokenizer.Stemmer
	strategy     tokenizer.StemStrategy
	stopper      tokenizer.Stopper
	stopStrategy StopStrategy
	spelling     SpellingSink
	flags        Flags
	termpos      uint32
	maxWordLen   int
}

func New() *TermGenerator {
	return &TermGenerator{
		strategy:     tokenizer.StemSome,
		stopStrategy: StopStemmed,
		maxWordLen:   64,
	}
}

// SetDocument binds doc and resets the term position.
func (g *TermGenerator) SetDocument(doc *document.Document) {
	g.doc = doc
	g.termpos = 0
}

func (g *TermGenerator) Document() *document.Document { return g.doc }

func (g *TermGenerator) SetStemmer(s *tokenizer.Stemmer) { g.stemmer = s }

func (g *TermGenerator) SetStemmingStrategy(s tokenizer.StemStrategy) { g.strategy = s }

func (g *TermGenerator) SetStopper(s tokenizer.Stopper) { g.stopper = s }

func (g *TermGenerator) SetStopStrategy(s StopStrategy) { g.stopStrategy = s }

// SetDatabase sets where spelling data goes when FlagSpelling is on.
func (g *TermGenerator) SetDatabase(db SpellingSink) { g.spelling = db }

func (g *TermGenerator) SetFlags(f Flags) { g.flags = f }

func (g *TermGenerator) Flags() Flags { return g.flags }

// SetMaxWordLength drops words longer than n bytes. Zero means the
// tokenizer's own limit.
func (g *TermGenerator) SetMaxWordLength(n int) { g.maxWordLen = n }

func (g *TermGenerator) Termpos() uint32 { return g.termpos }

func (g *TermGenerator) SetTermpos(pos uint32) { g.termpos = pos }

func (g *TermGenerator) IncreaseTermpos(delta uint32) { g.termpos += delta }

// IndexText adds every word of text to the document with positions,
// raising each term's wdf by wdfInc. Terms are prefixed with prefix.
func (g *TermGenerator) IndexText(text string, wdfInc uint32, prefix string) {
	g.index(text, wdfInc, prefix, true)
}

// IndexTextWithoutPositions is IndexText without positional data.
func (g *TermGenerator) IndexTextWithoutPositions(text string, wdfInc uint32, prefix string) {
	g.index(text, wdfInc, prefix, false)
}

func (g *TermGenerator) index(text string, wdfInc uint32, prefix string, positional bool) {
	if g.doc == nil {
		panic("termgen: no document set")
	}
	tokens := tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return
	}
	base := g.termpos
	for _, tok := range tokens {
		if g.maxWordLen > 0 && len(tok.Term) > g.maxWordLen {
			continue
		}
		pos := base + uint32(tok.Position) + 1
		stopped := g.stopper != nil && g.stopStrategy != StopNone && g.stopper.IsStopTerm(tok.Term)
		if stopped && g.stopStrategy == StopAll {
			continue
		}

		if g.flags&FlagSpelling != 0 && g.spelling != nil && prefix == "" {
			g.spelling.AddSpelling(tok.Term, 1)
		}

		stemming := !stopped && g.shouldStem(tok)
		if !stemming || (g.strategy != tokenizer.StemAll && g.strategy != tokenizer.StemAllZ) {
			g.add(prefix+tok.Term, pos, wdfInc, positional)
		}
		if !stemming {
			continue
		}
		stem := g.stemmer.Stem(tok.Term)
		switch g.strategy {
		case tokenizer.StemSome:
			g.add(tokenizer.StemmedTerm(prefix, stem), pos, wdfInc, false)
		case tokenizer.StemSomeFullPos, tokenizer.StemAllZ:
			g.add(tokenizer.StemmedTerm(prefix, stem), pos, wdfInc, positional)
		case tokenizer.StemAll:
			g.add(prefix+stem, pos, wdfInc, positional)
		}
	}
	g.termpos = base + uint32(tokens[len(tokens)-1].Position) + 1
}

func (g *TermGenerator) shouldStem(tok tokenizer.Token) bool {
	if g.strategy == tokenizer.StemNone || g.stemmer.IsNone() {
		return false
	}
	if (g.strategy == tokenizer.StemSome || g.strategy == tokenizer.StemSomeFullPos) && tok.Capitalised {
		return false
	}
	for _, r := range tok.Term {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func (g *TermGenerator) add(term string, pos, wdfInc uint32, positional bool) {
	if positional {
		g.doc.AddPosting(term, pos, wdfInc)
		return
	}
	g.doc.AddTerm(term, wdfInc)
}

func (g *TermGenerator) Description() string {
	return fmt.Sprintf("TermGenerator(stem=%s, strategy=%s, termpos=%d)",
		g.stemmer.Description(), g.strategy, g.termpos)
}
