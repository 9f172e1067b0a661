package queryparser

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/tokenizer"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokQuote
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokXor
	tokNot
	tokNear
	tokAdj
	tokLove
	tokHate
	tokField
	tokFilter
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokWord:
		return "term"
	case tokQuote:
		return `'"'`
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokXor:
		return "XOR"
	case tokNot:
		return "NOT"
	case tokNear:
		return "NEAR"
	case tokAdj:
		return "ADJ"
	case tokLove:
		return "'+'"
	case tokHate:
		return "'-'"
	case tokField:
		return "field prefix"
	case tokFilter:
		return "boolean filter"
	}
	return "token"
}

// part is one word of a word token. Words joined by phrase characters
// such as "e-mail" or "3.14" give a token with several parts.
type part struct {
	raw        string
	norm       string
	start, end int // rune offsets into the query string
	capital    bool
}

type token struct {
	kind tokenKind
	// pos is the 1-based character position of the token.
	pos int

	parts    []part
	wildcard bool
	synonym  bool
	// atEnd is set on a word with nothing after it, the candidate for
	// partial-term expansion.
	atEnd bool

	window int
	field  string
	value  string
}

func isWordChar(r rune) bool {
	return tokenizer.IsWordRune(r) || r == '_'
}

// isInfix reports whether r may join two word characters inside one word.
func isInfix(r rune) bool {
	return r == '\'' || r == '&' || r == '’'
}

func isPhraseGenerator(r rune) bool {
	switch r {
	case '.', '-', '/', ':', '\\', '@':
		return true
	}
	return false
}

type lexer struct {
	qp    *QueryParser
	flags Flags
	rs    []rune
	i     int
	toks  []token
	quote bool
}

func (qp *QueryParser) lex(text string, flags Flags) []token {
	lx := &lexer{qp: qp, flags: flags, rs: []rune(text)}
	lx.run()
	return lx.toks
}

func (lx *lexer) emit(t token) { lx.toks = append(lx.toks, t) }

func (lx *lexer) at(i int) rune {
	if i < 0 || i >= len(lx.rs) {
		return 0
	}
	return lx.rs[i]
}

// termStart reports whether position i begins a new term, so that '+' and
// '-' there are love and hate markers rather than punctuation.
func (lx *lexer) termStart(i int) bool {
	prev := lx.at(i - 1)
	return i == 0 || unicode.IsSpace(prev) || prev == '(' || prev == '"'
}

func (lx *lexer) run() {
	synonym := false
	for lx.i < len(lx.rs) {
		r := lx.rs[lx.i]
		next := lx.at(lx.i + 1)
		switch {
		case unicode.IsSpace(r):
			lx.i++
		case r == '"' && lx.flags&FlagPhrase != 0:
			lx.emit(token{kind: tokQuote, pos: lx.i + 1})
			lx.quote = !lx.quote
			lx.i++
		case isWordChar(r):
			lx.word(synonym)
			synonym = false
		case lx.quote:
			lx.i++
		case r == '(' && lx.flags&FlagBoolean != 0:
			lx.emit(token{kind: tokLParen, pos: lx.i + 1})
			lx.i++
		case r == ')' && lx.flags&FlagBoolean != 0:
			lx.emit(token{kind: tokRParen, pos: lx.i + 1})
			lx.i++
		case (r == '+' || r == '-') && lx.flags&FlagLoveHate != 0 && lx.termStart(lx.i) &&
			(isWordChar(next) || next == '"' || next == '('):
			kind := tokLove
			if r == '-' {
				kind = tokHate
			}
			lx.emit(token{kind: kind, pos: lx.i + 1})
			lx.i++
		case r == '~' && lx.flags&FlagSynonym != 0 && isWordChar(next):
			synonym = true
			lx.i++
		default:
			lx.i++
		}
	}
	lx.emit(token{kind: tokEOF, pos: len(lx.rs) + 1})
}

// scanWord returns the end of the word starting at i.
func (lx *lexer) scanWord(i int) int {
	for i < len(lx.rs) {
		r := lx.rs[i]
		if isWordChar(r) || (isInfix(r) && isWordChar(lx.at(i+1))) {
			i++
			continue
		}
		break
	}
	return i
}

func (lx *lexer) word(synonym bool) {
	start := lx.i
	end := lx.scanWord(start)
	raw := string(lx.rs[start:end])

	if !lx.quote {
		if lx.field(raw, start, end) {
			return
		}
		if lx.operator(raw, start, end) {
			return
		}
	}

	tok := token{kind: tokWord, pos: start + 1, synonym: synonym}
	tok.parts = append(tok.parts, newPart(raw, start, end))
	for isPhraseGenerator(lx.at(end)) && isWordChar(lx.at(end+1)) {
		s := end + 1
		end = lx.scanWord(s)
		tok.parts = append(tok.parts, newPart(string(lx.rs[s:end]), s, end))
	}
	if lx.flags&FlagWildcard != 0 && len(tok.parts) == 1 && lx.at(end) == '*' {
		tok.wildcard = true
		end++
	}
	tok.atEnd = end == len(lx.rs)
	lx.i = end
	lx.emit(tok)
}

func newPart(raw string, start, end int) part {
	return part{
		raw:     raw,
		norm:    tokenizer.Normalize(raw),
		start:   start,
		end:     end,
		capital: unicode.IsUpper([]rune(raw)[0]),
	}
}

// field recognises "name:" for a registered field and emits a field or a
// complete boolean filter token.
func (lx *lexer) field(name string, start, end int) bool {
	if lx.at(end) != ':' {
		return false
	}
	info, ok := lx.qp.fields[name]
	if !ok {
		return false
	}
	after := lx.at(end + 1)
	if info.boolean {
		if after == 0 || unicode.IsSpace(after) || after == ')' {
			return false
		}
		i := end + 1
		var value string
		if after == '"' {
			j := i + 1
			for j < len(lx.rs) && lx.rs[j] != '"' {
				j++
			}
			value = string(lx.rs[i+1 : j])
			i = min(j+1, len(lx.rs))
		} else {
			j := i
			for j < len(lx.rs) && !unicode.IsSpace(lx.rs[j]) && lx.rs[j] != ')' {
				j++
			}
			value = string(lx.rs[i:j])
			i = j
		}
		lx.emit(token{kind: tokFilter, pos: start + 1, field: name, value: value})
		lx.i = i
		return true
	}
	if !isWordChar(after) && after != '"' && !(after == '(' && lx.flags&FlagBoolean != 0) {
		return false
	}
	lx.emit(token{kind: tokField, pos: start + 1, field: name})
	lx.i = end + 1
	return true
}

func (lx *lexer) operator(raw string, start, end int) bool {
	if lx.flags&FlagBoolean == 0 {
		return false
	}
	word := raw
	if lx.flags&FlagBooleanAnyCase != 0 {
		word = strings.ToUpper(raw)
	}
	kind := tokEOF
	switch word {
	case "AND":
		kind = tokAnd
	case "OR":
		kind = tokOr
	case "XOR":
		kind = tokXor
	case "NOT":
		kind = tokNot
	case "NEAR":
		kind = tokNear
	case "ADJ":
		kind = tokAdj
	default:
		return false
	}
	tok := token{kind: kind, pos: start + 1, window: defaultNearWindow}
	if (kind == tokNear || kind == tokAdj) && lx.at(end) == '/' && unicode.IsDigit(lx.at(end+1)) {
		j := end + 1
		for j < len(lx.rs) && unicode.IsDigit(lx.rs[j]) {
			j++
		}
		if n, err := strconv.Atoi(string(lx.rs[end+1 : j])); err == nil && n > 0 {
			tok.window = n
		}
		end = j
	}
	if isWordChar(lx.at(end)) || lx.at(end) == '/' {
		return false
	}
	lx.emit(tok)
	lx.i = end
	return true
}
