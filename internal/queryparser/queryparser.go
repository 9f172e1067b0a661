// Package queryparser turns free-text search strings into query trees.
//
// The accepted syntax, in increasing order of precedence:
//
//	a OR b          either side matches
//	a XOR b         exactly one side matches
//	a AND b, a NOT b, a AND NOT b
//	a b             the default operator (OR unless changed)
//	+a -b           required and excluded terms
//	a NEAR b, a NEAR/3 b, a ADJ b, a ADJ/3 b
//	"a b c"         phrase
//	(a b)           grouping
//	title:a         field prefixes, boolean filters such as site:example.com
//	~a, a*          synonym and wildcard expansion
//
// Which constructs are honoured is controlled by Flags.
package queryparser

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/query"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/tokenizer"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

// Flags select the syntax Parse accepts.
type Flags uint

const (
	FlagBoolean Flags = 1 << iota
	FlagPhrase
	FlagLoveHate
	FlagBooleanAnyCase
	FlagWildcard
	FlagPureNot
	FlagPartial
	FlagSpellingCorrection
	FlagSynonym
	FlagAutoSynonyms
	FlagAutoMultiwordSynonyms

	FlagDefault = FlagBoolean | FlagPhrase | FlagLoveHate
)

const (
	defaultNearWindow = 10
	// maxMultiwordSynonym is the longest run of words looked up as one
	// synonym key.
	maxMultiwordSynonym = 4
)

// Lexicon is the database view the parser consults for wildcard
// expansion, spelling correction and synonyms.
type Lexicon interface {
	TermExists(term string) (bool, error)
	SpellingSuggestion(word string, maxEditDistance int) (string, error)
	Synonyms(term string) ([]string, error)
}

type fieldInfo struct {
	boolean   bool
	exclusive bool
	prefixes  []string
}

// QueryParser holds parser configuration and the side results of the last
// Parse call. It is not safe for concurrent use.
type QueryParser struct {
	stemmer     *tokenizer.Stemmer
	strategy    tokenizer.StemStrategy
	stopper     tokenizer.Stopper
	db          Lexicon
	defaultOp   query.Op
	fields      map[string]*fieldInfo
	maxWildcard uint32
	maxPartial  uint32
	maxEdit     int
	logger      *slog.Logger

	corrected string
	stoplist  []string
	unstem    map[string][]string
}

func New() *QueryParser {
	return &QueryParser{
		strategy:   tokenizer.StemSome,
		defaultOp:  query.OpOr,
		fields:     make(map[string]*fieldInfo),
		maxPartial: 100,
		maxEdit:    2,
		logger:     logger.WithComponent("queryparser"),
		unstem:     make(map[string][]string),
	}
}

func (qp *QueryParser) SetStemmer(s *tokenizer.Stemmer) { qp.stemmer = s }

func (qp *QueryParser) SetStemmingStrategy(s tokenizer.StemStrategy) { qp.strategy = s }

func (qp *QueryParser) SetStopper(s tokenizer.Stopper) { qp.stopper = s }

// SetDatabase enables wildcard, partial-term, spelling and synonym support.
func (qp *QueryParser) SetDatabase(db Lexicon) { qp.db = db }

// SetDefaultOp sets the operator joining terms with no explicit operator
// between them. Only OR, AND, NEAR, PHRASE, ELITE_SET, SYNONYM and MAX make
// sense there; anything else panics.
func (qp *QueryParser) SetDefaultOp(op query.Op) {
	switch op {
	case query.OpOr, query.OpAnd, query.OpNear, query.OpPhrase,
		query.OpEliteSet, query.OpSynonym, query.OpMax:
		qp.defaultOp = op
	default:
		panic(fmt.Sprintf("queryparser: %s cannot be the default operator", op))
	}
}

func (qp *QueryParser) DefaultOp() query.Op { return qp.defaultOp }

// SetMaxWildcardExpansion caps the terms a wildcard expands to; 0 means
// no limit.
func (qp *QueryParser) SetMaxWildcardExpansion(n uint32) { qp.maxWildcard = n }

// SetMaxPartialExpansion caps the terms a partial final word expands to.
func (qp *QueryParser) SetMaxPartialExpansion(n uint32) { qp.maxPartial = n }

// SetMaxEditDistance bounds spelling corrections.
func (qp *QueryParser) SetMaxEditDistance(n int) { qp.maxEdit = n }

// AddPrefix maps a user-visible field to a term prefix for free-text
// search. Calling it again for the same field adds another prefix; the
// field then searches all of them.
func (qp *QueryParser) AddPrefix(field, prefix string) {
	qp.addField(field, prefix, false, false)
}

// AddBooleanPrefix maps field to a prefix for filter terms. An exclusive
// field holds at most one value per document, so several values in one
// query are alternatives; otherwise all of them must match.
func (qp *QueryParser) AddBooleanPrefix(field, prefix string, exclusive bool) {
	qp.addField(field, prefix, true, exclusive)
}

func (qp *QueryParser) addField(field, prefix string, boolean, exclusive bool) {
	info, ok := qp.fields[field]
	if !ok {
		qp.fields[field] = &fieldInfo{boolean: boolean, exclusive: exclusive, prefixes: []string{prefix}}
		return
	}
	if info.boolean != boolean {
		err := qerrors.Newf(qerrors.ErrInvalidOperation,
			"field %q cannot be both a free-text and a boolean prefix", field)
		qp.logger.Warn("ignoring prefix", "field", field, "prefix", prefix, "error", err)
		return
	}
	for _, p := range info.prefixes {
		if p == prefix {
			return
		}
	}
	info.prefixes = append(info.prefixes, prefix)
}

// Parse builds a query from text. defaultPrefix is applied to words with
// no field; an empty defaultPrefix uses the prefixes registered for the
// field "" if any. Syntax errors are reported as ErrQueryParser with the
// 1-based character position in the message.
func (qp *QueryParser) Parse(text string, flags Flags, defaultPrefix string) (query.Query, error) {
	qp.corrected = ""
	qp.stoplist = nil
	qp.unstem = make(map[string][]string)

	prefixes := []string{defaultPrefix}
	if info, ok := qp.fields[""]; defaultPrefix == "" && ok && !info.boolean {
		prefixes = info.prefixes
	}
	p := &parser{
		qp:       qp,
		flags:    flags,
		text:     []rune(text),
		toks:     qp.lex(text, flags),
		prefixes: prefixes,
	}
	q, err := p.parse()
	if err != nil {
		return query.Query{}, err
	}
	if len(p.corrections) > 0 {
		qp.corrected = p.correctedString()
	}
	return q, nil
}

// CorrectedQueryString is the last parsed text with misspelt words
// replaced, or "" when spelling correction was off or found nothing.
func (qp *QueryParser) CorrectedQueryString() string { return qp.corrected }

// Stoplist returns the words the last Parse dropped as stop words.
func (qp *QueryParser) Stoplist() []string {
	return append([]string(nil), qp.stoplist...)
}

// Unstem returns the query words that produced term in the last Parse.
func (qp *QueryParser) Unstem(term string) []string {
	return append([]string(nil), qp.unstem[term]...)
}

// UnstemMap returns a copy of the term to query-word mapping of the last
// Parse.
func (qp *QueryParser) UnstemMap() map[string][]string {
	out := make(map[string][]string, len(qp.unstem))
	for k, v := range qp.unstem {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Prefixes lists the registered fields in sorted order.
func (qp *QueryParser) Prefixes() []string {
	out := make([]string, 0, len(qp.fields))
	for f := range qp.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (qp *QueryParser) Description() string {
	var b strings.Builder
	b.WriteString("QueryParser(")
	fmt.Fprintf(&b, "default_op=%s, stem=%s/%s", qp.defaultOp, qp.stemmer.Description(), qp.strategy)
	for _, f := range qp.Prefixes() {
		info := qp.fields[f]
		kind := "prefix"
		if info.boolean {
			kind = "boolean"
		}
		fmt.Fprintf(&b, ", %s %q=%s", kind, f, strings.Join(info.prefixes, "|"))
	}
	b.WriteByte(')')
	return b.String()
}

// termFor is the indexed term for a normalised word under prefix, applying
// the stemming strategy the same way the term generator does.
func (qp *QueryParser) termFor(norm, prefix string, capital, inPhrase bool) string {
	unstemmed := prefix + norm
	if qp.strategy == tokenizer.StemNone || qp.stemmer.IsNone() || !hasLetter(norm) {
		return unstemmed
	}
	var term string
	switch qp.strategy {
	case tokenizer.StemSome, tokenizer.StemSomeFullPos:
		if capital || inPhrase {
			return unstemmed
		}
		term = tokenizer.StemmedTerm(prefix, qp.stemmer.Stem(norm))
	case tokenizer.StemAll:
		term = prefix + qp.stemmer.Stem(norm)
	case tokenizer.StemAllZ:
		term = tokenizer.StemmedTerm(prefix, qp.stemmer.Stem(norm))
	default:
		return unstemmed
	}
	if term != unstemmed {
		qp.addUnstem(term, norm)
	}
	return term
}

func (qp *QueryParser) addUnstem(term, word string) {
	for _, w := range qp.unstem[term] {
		if w == word {
			return
		}
	}
	qp.unstem[term] = append(qp.unstem[term], word)
}
