package queryparser

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/query"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

var errNoDatabase = qerrors.New(qerrors.ErrInvalidOperation,
	"wildcard and partial-term expansion need a database")

type correction struct {
	start, end int
	word       string
}

// parser is the state of one Parse call: a recursive descent over the
// token stream produced by the lexer.
type parser struct {
	qp    *QueryParser
	flags Flags
	text  []rune
	toks  []token
	i     int

	// prefixes apply to words with no field of their own.
	prefixes []string
	// positional is set while parsing NEAR and ADJ operands, which must
	// stay single unstemmed terms.
	positional  bool
	termpos     uint32
	corrections []correction
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorAt(t token, format string, args ...any) error {
	return qerrors.Newf(qerrors.ErrQueryParser, "syntax error at position %d: %s", t.pos, fmt.Sprintf(format, args...))
}

func (p *parser) parse() (query.Query, error) {
	if p.peek().kind == tokEOF {
		return query.Query{}, nil
	}
	q, err := p.orExpr()
	if err != nil {
		return query.Query{}, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return query.Query{}, p.errorAt(t, "unexpected %s", t.kind)
	}
	return q, nil
}

func (p *parser) startsOperand(allowNot bool) bool {
	switch p.peek().kind {
	case tokWord, tokQuote, tokLParen, tokLove, tokHate, tokField, tokFilter:
		return true
	case tokNot:
		return allowNot && p.flags&FlagPureNot != 0
	}
	return false
}

func (p *parser) orExpr() (query.Query, error) {
	return p.binary(tokOr, query.OpOr, p.xorExpr)
}

func (p *parser) xorExpr() (query.Query, error) {
	return p.binary(tokXor, query.OpXor, p.andExpr)
}

func (p *parser) binary(kind tokenKind, op query.Op, operand func() (query.Query, error)) (query.Query, error) {
	first, err := operand()
	if err != nil {
		return query.Query{}, err
	}
	qs := []query.Query{first}
	for p.peek().kind == kind {
		t := p.advance()
		if !p.startsOperand(true) {
			return query.Query{}, p.errorAt(p.peek(), "expected an expression after %s", t.kind)
		}
		q, err := operand()
		if err != nil {
			return query.Query{}, err
		}
		qs = append(qs, q)
	}
	return query.Combine(op, qs...), nil
}

func (p *parser) andExpr() (query.Query, error) {
	var pos, neg []query.Query
	if t := p.peek(); t.kind == tokNot {
		p.advance()
		if p.flags&FlagPureNot == 0 {
			return query.Query{}, p.errorAt(t, "NOT needs an expression on its left")
		}
		if !p.startsOperand(false) {
			return query.Query{}, p.errorAt(p.peek(), "expected an expression after NOT")
		}
		q, err := p.probExpr()
		if err != nil {
			return query.Query{}, err
		}
		pos = append(pos, query.MatchAll())
		neg = append(neg, q)
	} else {
		q, err := p.probExpr()
		if err != nil {
			return query.Query{}, err
		}
		pos = append(pos, q)
	}

	for {
		t := p.peek()
		if t.kind != tokAnd && t.kind != tokNot {
			break
		}
		p.advance()
		negate := t.kind == tokNot
		if t.kind == tokAnd && p.peek().kind == tokNot {
			t = p.advance()
			negate = true
		}
		if !p.startsOperand(false) {
			return query.Query{}, p.errorAt(p.peek(), "expected an expression after %s", t.kind)
		}
		q, err := p.probExpr()
		if err != nil {
			return query.Query{}, err
		}
		if negate {
			neg = append(neg, q)
		} else {
			pos = append(pos, q)
		}
	}

	base := query.Combine(query.OpAnd, pos...)
	if len(neg) == 0 {
		return base, nil
	}
	return query.Combine(query.OpAndNot, append([]query.Query{base}, neg...)...), nil
}

// probExpr parses a run of terms joined by the default operator, with
// their love, hate and filter markers.
func (p *parser) probExpr() (query.Query, error) {
	var plain, love, hate, stopped []query.Query
	var stoppedWords []string
	var filters []token
	items := 0

loop:
	for {
		t := p.peek()
		switch t.kind {
		case tokLove, tokHate:
			p.advance()
			switch p.peek().kind {
			case tokWord, tokQuote, tokLParen, tokField, tokFilter:
			default:
				return query.Query{}, p.errorAt(p.peek(), "expected a term after %s", t.kind)
			}
			if f := p.peek(); f.kind == tokFilter {
				p.advance()
				if t.kind == tokHate {
					hate = append(hate, p.filterQuery([]token{f}))
				} else {
					filters = append(filters, f)
				}
				items++
				continue
			}
			q, err := p.nearExpr()
			if err != nil {
				return query.Query{}, err
			}
			if t.kind == tokLove {
				love = append(love, q)
			} else {
				hate = append(hate, q)
			}
		case tokFilter:
			p.advance()
			filters = append(filters, t)
		case tokWord, tokQuote, tokLParen, tokField:
			if q, ok, err := p.multiwordSynonym(); err != nil {
				return query.Query{}, err
			} else if ok {
				plain = append(plain, q)
				items++
				continue
			}
			stop := p.isStopWord(t)
			q, err := p.nearExpr()
			if err != nil {
				return query.Query{}, err
			}
			if stop {
				stopped = append(stopped, q)
				stoppedWords = append(stoppedWords, t.parts[0].norm)
			} else {
				plain = append(plain, q)
			}
		default:
			break loop
		}
		items++
	}
	if items == 0 {
		t := p.peek()
		return query.Query{}, p.errorAt(t, "unexpected %s", t.kind)
	}

	if len(plain) == 0 && len(love) == 0 && len(hate) == 0 && len(filters) == 0 {
		plain = stopped
	} else {
		p.qp.stoplist = append(p.qp.stoplist, stoppedWords...)
	}

	q := query.CombineWindow(p.qp.defaultOp, 0, plain...)
	if len(love) > 0 {
		required := query.Combine(query.OpAnd, love...)
		switch {
		case q.IsEmpty():
			q = required
		case p.qp.defaultOp == query.OpAnd:
			q = query.Combine(query.OpAnd, required, q)
		default:
			q = query.Combine(query.OpAndMaybe, required, q)
		}
	}
	if len(filters) > 0 {
		f := p.filterQuery(filters)
		if q.IsEmpty() {
			q = query.ScaleWeight(0, f)
		} else {
			q = query.Combine(query.OpFilter, q, f)
		}
	}
	if len(hate) > 0 {
		if q.IsEmpty() {
			if p.flags&FlagPureNot == 0 {
				return query.Query{}, nil
			}
			q = query.MatchAll()
		}
		q = query.Combine(query.OpAndNot, append([]query.Query{q}, hate...)...)
	}
	return q, nil
}

func (p *parser) isStopWord(t token) bool {
	if p.qp.stopper == nil || t.kind != tokWord || len(t.parts) != 1 || t.wildcard || t.synonym {
		return false
	}
	return !p.nearFollows() && p.qp.stopper.IsStopTerm(t.parts[0].norm)
}

// nearFollows reports whether the next operand is the left side of a NEAR
// or ADJ chain.
func (p *parser) nearFollows() bool {
	j := p.i
	if p.toks[j].kind == tokField {
		j++
	}
	if p.toks[j].kind != tokWord {
		return false
	}
	k := p.toks[j+1].kind
	return k == tokNear || k == tokAdj
}

func (p *parser) nearExpr() (query.Query, error) {
	if !p.nearFollows() {
		return p.primary()
	}
	p.positional = true
	defer func() { p.positional = false }()

	first := p.peek()
	q, err := p.primary()
	if err != nil {
		return query.Query{}, err
	}
	if q.Op() != query.OpLeafTerm {
		return query.Query{}, p.errorAt(first, "NEAR and ADJ only combine single terms")
	}
	operands := []query.Query{q}
	op := query.OpNear
	window := defaultNearWindow
	for i := 0; ; i++ {
		o := p.peek()
		if o.kind != tokNear && o.kind != tokAdj {
			break
		}
		p.advance()
		kind := query.OpNear
		if o.kind == tokAdj {
			kind = query.OpPhrase
		}
		if i > 0 && kind != op {
			return query.Query{}, p.errorAt(o, "cannot mix NEAR and ADJ")
		}
		op = kind
		window = o.window
		next := p.peek()
		if next.kind != tokWord && next.kind != tokField {
			return query.Query{}, p.errorAt(next, "expected a term after %s", o.kind)
		}
		q, err := p.primary()
		if err != nil {
			return query.Query{}, err
		}
		if q.Op() != query.OpLeafTerm {
			return query.Query{}, p.errorAt(next, "NEAR and ADJ only combine single terms")
		}
		operands = append(operands, q)
	}
	return query.CombineWindow(op, uint32(window+len(operands)-1), operands...), nil
}

func (p *parser) primary() (query.Query, error) {
	t := p.advance()
	switch t.kind {
	case tokWord:
		return p.wordQuery(t)
	case tokQuote:
		var parts []part
		for p.peek().kind == tokWord {
			parts = append(parts, p.advance().parts...)
		}
		if p.peek().kind == tokQuote {
			p.advance()
		}
		return p.phraseQuery(parts), nil
	case tokLParen:
		if p.peek().kind == tokRParen {
			p.advance()
			return query.Query{}, nil
		}
		q, err := p.orExpr()
		if err != nil {
			return query.Query{}, err
		}
		if r := p.peek(); r.kind != tokRParen {
			return query.Query{}, p.errorAt(r, "expected ')' to close '(' at position %d", t.pos)
		}
		p.advance()
		return q, nil
	case tokField:
		saved := p.prefixes
		p.prefixes = p.qp.fields[t.field].prefixes
		defer func() { p.prefixes = saved }()
		switch next := p.peek(); next.kind {
		case tokWord, tokQuote, tokLParen:
			return p.primary()
		default:
			return query.Query{}, p.errorAt(next, "expected a term after field %q", t.field)
		}
	default:
		return query.Query{}, p.errorAt(t, "unexpected %s", t.kind)
	}
}

func (p *parser) wordQuery(t token) (query.Query, error) {
	if len(t.parts) > 1 {
		return p.phraseQuery(t.parts), nil
	}
	w := t.parts[0]
	p.termpos++
	if t.wildcard && !p.positional {
		if p.qp.db == nil {
			return query.Query{}, errNoDatabase
		}
		alts := make([]query.Query, len(p.prefixes))
		for i, prefix := range p.prefixes {
			alts[i] = query.Wildcard(prefix+w.norm, p.qp.maxWildcard, query.OpSynonym)
		}
		return query.Combine(query.OpOr, alts...), nil
	}
	if err := p.checkSpelling(w); err != nil {
		return query.Query{}, err
	}

	alts := make([]query.Query, 0, len(p.prefixes))
	for _, prefix := range p.prefixes {
		term := p.qp.termFor(w.norm, prefix, w.capital, p.positional)
		q := query.TermWithWQF(term, 1, p.termpos)
		if !p.positional && p.wantSynonyms(t) {
			var err error
			if q, err = p.expandSynonyms(q, term, prefix+w.norm); err != nil {
				return query.Query{}, err
			}
		}
		alts = append(alts, q)
	}
	q := query.Combine(query.OpOr, alts...)

	if !p.positional && p.flags&FlagPartial != 0 && t.atEnd && p.peek().kind == tokEOF {
		if p.qp.db == nil {
			return query.Query{}, errNoDatabase
		}
		partial := make([]query.Query, len(p.prefixes))
		for i, prefix := range p.prefixes {
			partial[i] = query.Wildcard(prefix+w.norm, p.qp.maxPartial, query.OpSynonym)
		}
		q = query.Combine(query.OpOr, query.Combine(query.OpOr, partial...), q)
	}
	return q, nil
}

// phraseQuery builds a PHRASE over parts for every active prefix. Phrase
// words are matched unstemmed unless every word is indexed stemmed.
func (p *parser) phraseQuery(parts []part) query.Query {
	if len(parts) == 0 {
		return query.Query{}
	}
	positions := make([]uint32, len(parts))
	for i := range parts {
		p.termpos++
		positions[i] = p.termpos
	}
	alts := make([]query.Query, 0, len(p.prefixes))
	for _, prefix := range p.prefixes {
		qs := make([]query.Query, len(parts))
		for i, w := range parts {
			term := p.qp.termFor(w.norm, prefix, w.capital, true)
			qs[i] = query.TermWithWQF(term, 1, positions[i])
		}
		alts = append(alts, query.Combine(query.OpPhrase, qs...))
	}
	return query.Combine(query.OpOr, alts...)
}

func (p *parser) filterQuery(toks []token) query.Query {
	type group struct {
		info *fieldInfo
		qs   []query.Query
	}
	var order []string
	groups := make(map[string]*group)
	for _, t := range toks {
		info := p.qp.fields[t.field]
		g, ok := groups[t.field]
		if !ok {
			g = &group{info: info}
			groups[t.field] = g
			order = append(order, t.field)
		}
		alts := make([]query.Query, len(info.prefixes))
		for i, prefix := range info.prefixes {
			alts[i] = query.Term(prefix + t.value)
		}
		g.qs = append(g.qs, query.Combine(query.OpOr, alts...))
	}
	qs := make([]query.Query, 0, len(order))
	for _, field := range order {
		g := groups[field]
		op := query.OpAnd
		if g.info.exclusive {
			op = query.OpOr
		}
		qs = append(qs, query.Combine(op, g.qs...))
	}
	return query.Combine(query.OpAnd, qs...)
}

func (p *parser) wantSynonyms(t token) bool {
	if p.flags&(FlagAutoSynonyms|FlagAutoMultiwordSynonyms) != 0 {
		return true
	}
	return t.synonym && p.flags&FlagSynonym != 0
}

func (p *parser) expandSynonyms(q query.Query, term, unstemmed string) (query.Query, error) {
	if p.qp.db == nil {
		return q, nil
	}
	syns, err := p.qp.db.Synonyms(term)
	if err != nil {
		return query.Query{}, err
	}
	if len(syns) == 0 && unstemmed != term {
		if syns, err = p.qp.db.Synonyms(unstemmed); err != nil {
			return query.Query{}, err
		}
	}
	if len(syns) == 0 {
		return q, nil
	}
	qs := make([]query.Query, 0, len(syns)+1)
	qs = append(qs, q)
	for _, s := range syns {
		qs = append(qs, query.Term(s))
	}
	return query.Combine(query.OpSynonym, qs...), nil
}

// multiwordSynonym looks the longest run of upcoming plain words up as a
// synonym key and, on a hit, consumes the run.
func (p *parser) multiwordSynonym() (query.Query, bool, error) {
	if p.flags&FlagAutoMultiwordSynonyms == 0 || p.qp.db == nil || p.positional || len(p.prefixes) != 1 {
		return query.Query{}, false, nil
	}
	var run []token
	for j := p.i; j < len(p.toks) && len(run) < maxMultiwordSynonym; j++ {
		t := p.toks[j]
		if t.kind != tokWord || len(t.parts) != 1 || t.wildcard {
			break
		}
		run = append(run, t)
	}
	if n := len(run); n > 0 {
		if k := p.toks[p.i+n].kind; k == tokNear || k == tokAdj {
			run = run[:n-1]
		}
	}
	prefix := p.prefixes[0]
	for n := len(run); n >= 2; n-- {
		words := make([]string, n)
		for i, t := range run[:n] {
			words[i] = t.parts[0].norm
		}
		syns, err := p.qp.db.Synonyms(prefix + strings.Join(words, " "))
		if err != nil {
			return query.Query{}, false, err
		}
		if len(syns) == 0 {
			continue
		}
		qs := make([]query.Query, n)
		for i, t := range run[:n] {
			p.advance()
			p.termpos++
			w := t.parts[0]
			qs[i] = query.TermWithWQF(p.qp.termFor(w.norm, prefix, w.capital, false), 1, p.termpos)
		}
		alts := []query.Query{query.Combine(query.OpAnd, qs...)}
		for _, s := range syns {
			alts = append(alts, query.Term(s))
		}
		return query.Combine(query.OpSynonym, alts...), true, nil
	}
	return query.Query{}, false, nil
}

func (p *parser) checkSpelling(w part) error {
	if p.flags&FlagSpellingCorrection == 0 || p.qp.db == nil || len(p.prefixes) != 1 || p.prefixes[0] != "" {
		return nil
	}
	exists, err := p.qp.db.TermExists(w.norm)
	if err != nil || exists {
		return err
	}
	suggestion, err := p.qp.db.SpellingSuggestion(w.norm, p.qp.maxEdit)
	if err != nil {
		return err
	}
	if suggestion != "" && suggestion != w.norm {
		p.corrections = append(p.corrections, correction{start: w.start, end: w.end, word: suggestion})
	}
	return nil
}

func (p *parser) correctedString() string {
	var b strings.Builder
	last := 0
	for _, c := range p.corrections {
		b.WriteString(string(p.text[last:c.start]))
		b.WriteString(c.word)
		last = c.end
	}
	b.WriteString(string(p.text[last:]))
	return b.String()
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}
