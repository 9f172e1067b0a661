package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

func terms(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The Quick, brown FOX jumps!")
	assert.Equal(t, []string{"the", "quick", "brown", "fox", "jumps"}, terms(tokens))
	assert.True(t, tokens[0].Capitalised)
	assert.False(t, tokens[2].Capitalised)
	for i, tok := range tokens {
		assert.Equal(t, i, tok.Position)
	}
	assert.Equal(t, "Quick", "The Quick, brown FOX jumps!"[tokens[1].Start:tokens[1].End])
}

func TestTokenizeNormalizes(t *testing.T) {
	assert.Equal(t, []string{"file", "café"}, terms(Tokenize("ﬁle CAFÉ")))
	assert.Empty(t, Tokenize("  ,.;  "))
}

func TestStemmer(t *testing.T) {
	s, err := NewStemmer("english")
	require.NoError(t, err)
	assert.Equal(t, "run", s.Stem("running"))
	assert.Equal(t, "Stem(english)", s.Description())

	none, err := NewStemmer("none")
	require.NoError(t, err)
	assert.True(t, none.IsNone())
	assert.Equal(t, "running", none.Stem("running"))

	var nilStemmer *Stemmer
	assert.Equal(t, "running", nilStemmer.Stem("running"))

	_, err = NewStemmer("klingon")
	assert.ErrorIs(t, err, qerrors.ErrInvalidArgument)
	assert.Contains(t, Languages(), "french")
}

func TestStemStrategyNames(t *testing.T) {
	for _, s := range []StemStrategy{StemNone, StemSome, StemAll, StemAllZ, StemSomeFullPos} {
		back, err := ParseStemStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
	_, err := ParseStemStrategy("most")
	assert.Error(t, err)
	assert.Equal(t, "ZSrun", StemmedTerm("S", "run"))
}

func TestSimpleStopper(t *testing.T) {
	s := NewSimpleStopper("a", "the", "of")
	for _, w := range []string{"a", "the", "of"} {
		assert.True(t, s.IsStopTerm(w), w)
	}
	for _, w := range []string{"an", "them", "", "fox"} {
		assert.False(t, s.IsStopTerm(w), w)
	}
	assert.Equal(t, "SimpleStopper(a of the)", s.Description())
}

func TestStopperVariants(t *testing.T) {
	var never Stopper = NeverStopper{}
	assert.False(t, never.IsStopTerm("the"))

	var short Stopper = StopperFunc(func(term string) bool { return len(term) < 3 })
	assert.True(t, short.IsStopTerm("of"))
	assert.False(t, short.IsStopTerm("fox"))

	en := EnglishStopper()
	assert.True(t, en.IsStopTerm("the"))
	assert.False(t, en.IsStopTerm("search"))
}

func BenchmarkTokenize(b *testing.B) {
	text := "Distributed search engines split their inverted index across shards and merge ranked results."
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Tokenize(text)
	}
}
