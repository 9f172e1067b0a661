package queryparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/query"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/tokenizer"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

type fakeLexicon struct {
	terms       map[string]bool
	suggestions map[string]string
	synonyms    map[string][]string
}

func (f *fakeLexicon) TermExists(term string) (bool, error) { return f.terms[term], nil }

func (f *fakeLexicon) SpellingSuggestion(word string, _ int) (string, error) {
	return f.suggestions[word], nil
}

func (f *fakeLexicon) Synonyms(term string) ([]string, error) { return f.synonyms[term], nil }

func mustParse(t *testing.T, qp *QueryParser, text string, flags Flags) query.Query {
	t.Helper()
	q, err := qp.Parse(text, flags, "")
	require.NoError(t, err, text)
	return q
}

func TestParseSyntax(t *testing.T) {
	tests := []struct {
		text  string
		flags Flags
		want  string
	}{
		{"rey finn", FlagDefault, "Query((rey@1 OR finn@2))"},
		{"", FlagDefault, "Query()"},
		{"a AND b", FlagDefault, "Query((a@1 AND b@2))"},
		{"a OR b AND c", FlagDefault, "Query((a@1 OR (b@2 AND c@3)))"},
		{"a XOR b", FlagDefault, "Query((a@1 XOR b@2))"},
		{"a NOT b", FlagDefault, "Query((a@1 AND_NOT b@2))"},
		{"a AND NOT b", FlagDefault, "Query((a@1 AND_NOT b@2))"},
		{"(a OR b) c", FlagDefault, "Query(((a@1 OR b@2) OR c@3))"},
		{"+a b -c", FlagDefault, "Query(((a@1 AND_MAYBE b@2) AND_NOT c@3))"},
		{`"quick brown fox"`, FlagDefault, "Query((quick@1 PHRASE 3 brown@2 PHRASE 3 fox@3))"},
		{"a NEAR b", FlagDefault, "Query((a@1 NEAR 11 b@2))"},
		{"a NEAR/3 b", FlagDefault, "Query((a@1 NEAR 4 b@2))"},
		{"a ADJ/2 b", FlagDefault, "Query((a@1 PHRASE 3 b@2))"},
		{"e-mail", FlagDefault, "Query((e@1 PHRASE 2 mail@2))"},
		{"foo:bar", FlagDefault, "Query((foo@1 PHRASE 2 bar@2))"},
		{"a and b", FlagDefault, "Query((a@1 OR and@2 OR b@3))"},
		{"a and b", FlagDefault | FlagBooleanAnyCase, "Query((a@1 AND b@2))"},
		{"a AND b", FlagPhrase, "Query((a@1 OR and@2 OR b@3))"},
		{"-foo", FlagDefault, "Query()"},
		{"-foo", FlagDefault | FlagPureNot, "Query((<alldocuments> AND_NOT foo@1))"},
		{"NOT foo", FlagDefault | FlagPureNot, "Query((<alldocuments> AND_NOT foo@1))"},
		{"Hello, World!", FlagDefault, "Query((hello@1 OR world@2))"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			q := mustParse(t, New(), tt.text, tt.flags)
			assert.Equal(t, tt.want, q.Description())
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		text     string
		position string
	}{
		{"AND foo", "position 1"},
		{"foo AND", "position 8"},
		{"(foo", "position 5"},
		{"foo)", "position 4"},
		{"foo OR OR bar", "position 8"},
		{"NOT foo", "position 1"},
		{"héllo AND", "position 10"},
		{"(", "position 2"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := New().Parse(tt.text, FlagDefault, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, qerrors.ErrQueryParser)
			assert.Contains(t, err.Error(), tt.position)
		})
	}
}

func TestDefaultOp(t *testing.T) {
	qp := New()
	qp.SetDefaultOp(query.OpAnd)
	assert.Equal(t, "Query((a@1 AND b@2))", mustParse(t, qp, "a b", FlagDefault).Description())
	assert.Equal(t, "Query((a@1 AND b@2))", mustParse(t, qp, "+a b", FlagDefault).Description())
	assert.Panics(t, func() { qp.SetDefaultOp(query.OpXor) })
}

func TestStemming(t *testing.T) {
	stemmer, err := tokenizer.NewStemmer("english")
	require.NoError(t, err)

	qp := New()
	qp.SetStemmer(stemmer)
	q := mustParse(t, qp, "running Dogs", FlagDefault)
	assert.Equal(t, "Query((Zrun@1 OR dogs@2))", q.Description())
	assert.Equal(t, map[string][]string{"Zrun": {"running"}}, qp.UnstemMap())
	assert.Equal(t, []string{"running"}, qp.Unstem("Zrun"))

	q = mustParse(t, qp, `"running dogs"`, FlagDefault)
	assert.Equal(t, "Query((running@1 PHRASE 2 dogs@2))", q.Description(), "phrases match unstemmed terms")

	qp.SetStemmingStrategy(tokenizer.StemAll)
	assert.Equal(t, "Query(run@1)", mustParse(t, qp, "running", FlagDefault).Description())
	qp.SetStemmingStrategy(tokenizer.StemAllZ)
	assert.Equal(t, "Query(Zrun@1)", mustParse(t, qp, "Running", FlagDefault).Description())
	qp.SetStemmingStrategy(tokenizer.StemNone)
	assert.Equal(t, "Query(running@1)", mustParse(t, qp, "running", FlagDefault).Description())
}

func TestPrefixes(t *testing.T) {
	qp := New()
	qp.AddPrefix("title", "S")
	q := mustParse(t, qp, "title:search engine", FlagDefault)
	assert.Equal(t, "Query((Ssearch@1 OR engine@2))", q.Description())

	qp.AddPrefix("title", "XT")
	q = mustParse(t, qp, "title:search", FlagDefault)
	assert.Equal(t, "Query((Ssearch@1 OR XTsearch@1))", q.Description())

	q = mustParse(t, qp, `title:"fast search"`, FlagDefault)
	assert.Equal(t, "Query(((Sfast@1 PHRASE 2 Ssearch@2) OR (XTfast@1 PHRASE 2 XTsearch@2)))", q.Description())

	q, err := qp.Parse("engine", FlagDefault, "B")
	require.NoError(t, err)
	assert.Equal(t, "Query(Bengine@1)", q.Description())
}

func TestBooleanPrefixes(t *testing.T) {
	qp := New()
	qp.AddBooleanPrefix("site", "H", false)
	qp.AddBooleanPrefix("lang", "L", true)

	tests := []struct {
		text string
		want string
	}{
		{"foo site:example.com", "Query((foo@1 FILTER Hexample.com))"},
		{"site:example.com", "Query(0 * Hexample.com)"},
		{"site:a site:b", "Query(0 * (Ha AND Hb))"},
		{"lang:en lang:fr", "Query(0 * (Len OR Lfr))"},
		{"foo lang:en site:x", "Query((foo@1 FILTER (Len AND Hx)))"},
		{"foo -site:spam", "Query((foo@1 AND_NOT Hspam))"},
		{`site:"Mixed Case"`, "Query(0 * HMixed Case)"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, qp, tt.text, FlagDefault).Description())
		})
	}
}

func TestConflictingPrefixIsIgnored(t *testing.T) {
	qp := New()
	qp.AddPrefix("x", "X")
	qp.AddBooleanPrefix("x", "Y", false)
	assert.Equal(t, "Query(Xfoo@1)", mustParse(t, qp, "x:foo", FlagDefault).Description())
	assert.Equal(t, []string{"x"}, qp.Prefixes())
}

func TestStopper(t *testing.T) {
	qp := New()
	qp.SetStopper(tokenizer.NewSimpleStopper("the", "of"))

	q := mustParse(t, qp, "the fox", FlagDefault)
	assert.Equal(t, "Query(fox@2)", q.Description())
	assert.Equal(t, []string{"the"}, qp.Stoplist())

	q = mustParse(t, qp, "+the fox", FlagDefault)
	assert.Equal(t, "Query((the@1 AND_MAYBE fox@2))", q.Description(), "loved words are never stopped")

	q = mustParse(t, qp, "the of", FlagDefault)
	assert.Equal(t, "Query((the@1 OR of@2))", q.Description(), "an all-stopword query keeps its words")
	assert.Empty(t, qp.Stoplist())
}

func TestWildcardAndPartial(t *testing.T) {
	qp := New()
	_, err := qp.Parse("hel*", FlagDefault|FlagWildcard, "")
	assert.ErrorIs(t, err, qerrors.ErrInvalidOperation)

	qp.SetDatabase(&fakeLexicon{})
	q := mustParse(t, qp, "hel*", FlagDefault|FlagWildcard)
	assert.Equal(t, "Query(WILDCARD SYNONYM hel)", q.Description())

	q = mustParse(t, qp, "world hel", FlagDefault|FlagPartial)
	assert.Equal(t, "Query((world@1 OR (WILDCARD SYNONYM hel OR hel@2)))", q.Description())

	q = mustParse(t, qp, "hel ", FlagDefault|FlagPartial)
	assert.Equal(t, "Query(hel@1)", q.Description())
}

func TestSpellingCorrection(t *testing.T) {
	qp := New()
	qp.SetDatabase(&fakeLexicon{
		terms:       map[string]bool{"hello": true, "world": true},
		suggestions: map[string]string{"helo": "hello", "wrld": "world"},
	})

	mustParse(t, qp, "helo world", FlagDefault|FlagSpellingCorrection)
	assert.Equal(t, "hello world", qp.CorrectedQueryString())

	mustParse(t, qp, "Helo AND wrld", FlagDefault|FlagSpellingCorrection)
	assert.Equal(t, "hello AND world", qp.CorrectedQueryString())

	mustParse(t, qp, "hello world", FlagDefault|FlagSpellingCorrection)
	assert.Equal(t, "", qp.CorrectedQueryString())

	mustParse(t, qp, "helo", FlagDefault)
	assert.Equal(t, "", qp.CorrectedQueryString(), "correction needs the flag")
}

func TestSynonyms(t *testing.T) {
	qp := New()
	qp.SetDatabase(&fakeLexicon{synonyms: map[string][]string{
		"car":      {"automobile", "motor"},
		"new york": {"nyc"},
	}})

	q := mustParse(t, qp, "~car", FlagDefault|FlagSynonym)
	assert.Equal(t, "Query((car@1 SYNONYM automobile SYNONYM motor))", q.Description())

	q = mustParse(t, qp, "car", FlagDefault|FlagSynonym)
	assert.Equal(t, "Query(car@1)", q.Description(), "explicit synonyms need the tilde")

	q = mustParse(t, qp, "car", FlagDefault|FlagAutoSynonyms)
	assert.Equal(t, "Query((car@1 SYNONYM automobile SYNONYM motor))", q.Description())

	q = mustParse(t, qp, "new york city", FlagDefault|FlagAutoMultiwordSynonyms)
	assert.Equal(t, "Query((((new@1 AND york@2) SYNONYM nyc) OR city@3))", q.Description())
}

func TestNearNeedsTerms(t *testing.T) {
	_, err := New().Parse(`"a b" NEAR c`, FlagDefault, "")
	require.Error(t, err)
	_, err = New().Parse("a NEAR", FlagDefault, "")
	assert.ErrorIs(t, err, qerrors.ErrQueryParser)
	_, err = New().Parse("a NEAR b ADJ c", FlagDefault, "")
	assert.ErrorIs(t, err, qerrors.ErrQueryParser)
}

func BenchmarkParse(b *testing.B) {
	qp := New()
	qp.AddPrefix("title", "S")
	qp.AddBooleanPrefix("site", "H", false)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = qp.Parse(`title:search +engine "ranked results" -spam site:example.com`, FlagDefault, "")
	}
}
