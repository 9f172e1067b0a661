package query

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/postingsource"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

func TestCombineTerms(t *testing.T) {
	q := CombineTerms(OpOr, []string{"rey", "finn", "rose"})
	assert.Equal(t, uint32(3), q.Length())
	assert.Equal(t, "Query((rey OR finn OR rose))", q.Description())
	assert.Equal(t, []string{"rey", "finn", "rose"}, q.Terms())
}

func TestAndNotComposition(t *testing.T) {
	q := Combine(OpAndNot, MatchAll(), Term("leia"), Term("luke"))
	assert.Equal(t, uint32(3), q.Length())
	assert.Equal(t, "Query((<alldocuments> AND_NOT leia AND_NOT luke))", q.Description())
}

func TestEmptyQuery(t *testing.T) {
	var q Query
	assert.True(t, q.IsEmpty())
	assert.True(t, Empty().IsEmpty())
	assert.Equal(t, "Query()", q.Description())
	assert.Equal(t, uint32(0), q.Length())
	assert.Equal(t, OpInvalid, q.Op())

	s, err := q.Serialise()
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestEmptySubqueries(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{"or drops empty", Combine(OpOr, Term("a"), Empty(), Term("b")), "Query((a OR b))"},
		{"or collapses single child", Combine(OpOr, Empty(), Term("a")), "Query(a)"},
		{"and with empty is empty", Combine(OpAnd, Term("a"), Empty()), "Query()"},
		{"phrase with empty is empty", Combine(OpPhrase, Term("a"), Empty()), "Query()"},
		{"and_not drops empty rhs", Combine(OpAndNot, Term("a"), Empty()), "Query(a)"},
		{"and_not empty lhs", Combine(OpAndNot, Empty(), Term("a")), "Query()"},
		{"and_maybe", Combine(OpAndMaybe, Term("a"), Term("b")), "Query((a AND_MAYBE b))"},
		{"synonym keeps single child", Combine(OpSynonym, Term("a")), "Query((a))"},
		{"no children", Combine(OpOr), "Query()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Description())
		})
	}
}

func TestDescriptions(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{"wqf and position", TermWithWQF("a", 2, 3), "Query(a#2@3)"},
		{"near default window", Combine(OpNear, Term("a"), Term("b")), "Query((a NEAR 2 b))"},
		{"phrase window", CombineWindow(OpPhrase, 5, Term("a"), Term("b")), "Query((a PHRASE 5 b))"},
		{"elite set default", Combine(OpEliteSet, Term("a"), Term("b")), "Query((a ELITE_SET 10 b))"},
		{"value range", ValueRange(1, "a", "z"), "Query(VALUE_RANGE 1 a z)"},
		{"value ge", ValueComparison(OpValueGE, 1, "x"), "Query(VALUE_GE 1 x)"},
		{"value le", ValueComparison(OpValueLE, 4, "m"), "Query(VALUE_LE 4 m)"},
		{"scale", ScaleWeight(2, Term("t")), "Query(2 * t)"},
		{"scale fraction", ScaleWeight(0.5, Term("t")), "Query(0.5 * t)"},
		{"wildcard", Wildcard("pre", 0, OpSynonym), "Query(WILDCARD SYNONYM pre)"},
		{"source", FromPostingSource(postingsource.ValueWeight(3)), "Query(PostingSource(ValueWeightPostingSource(slot=3)))"},
		{"nested", Combine(OpAnd, Combine(OpOr, Term("a"), Term("b")), Term("c")), "Query(((a OR b) AND c))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Description())
		})
	}
}

func TestValueComparisonPanicsOnOtherOps(t *testing.T) {
	assert.Panics(t, func() { ValueComparison(OpAnd, 1, "x") })
	assert.Panics(t, func() { ValueComparison(OpValueRange, 1, "x") })
	assert.Panics(t, func() { Combine(OpValueGE, Term("a")) })
	assert.Panics(t, func() { ScaleWeight(-1, Term("a")) })
	assert.Panics(t, func() { Wildcard("a", 0, OpAnd) })
}

func TestScaleWeightShortcuts(t *testing.T) {
	q := Term("a")
	assert.Equal(t, q.Description(), ScaleWeight(1, q).Description())
	assert.True(t, ScaleWeight(3, Empty()).IsEmpty())
}

func TestSerialiseRoundTrip(t *testing.T) {
	queries := []Query{
		Term("hello"),
		TermWithWQF("w", 3, 7),
		MatchAll(),
		CombineTerms(OpOr, []string{"rey", "finn", "rose"}),
		Combine(OpAndNot, MatchAll(), Term("leia"), Term("luke")),
		CombineWindow(OpNear, 4, Term("a"), Term("b"), Term("c")),
		Combine(OpEliteSet, Term("a"), Term("b")),
		Combine(OpXor, Term("a"), Combine(OpSynonym, Term("b"))),
		Combine(OpFilter, Term("a"), ValueRange(2, "\x00lo", "hi\xff")),
		Combine(OpMax, ValueComparison(OpValueGE, 1, "x"), ValueComparison(OpValueLE, 1, "y")),
		ScaleWeight(0.25, Combine(OpAndMaybe, Term("a"), Term("b"))),
		Wildcard("pre", 10, OpOr),
		Combine(OpOr, FromPostingSource(postingsource.ValueWeight(5)), FromPostingSource(postingsource.FixedWeight(1.5))),
	}
	for _, q := range queries {
		t.Run(q.Description(), func(t *testing.T) {
			s, err := q.Serialise()
			require.NoError(t, err)
			back, err := Unserialise(s, nil)
			require.NoError(t, err)
			assert.Equal(t, q.Description(), back.Description())
			assert.Equal(t, q.Length(), back.Length())
		})
	}
}

func TestUnserialiseErrors(t *testing.T) {
	good, err := Combine(OpAnd, Term("a"), Term("b")).Serialise()
	require.NoError(t, err)

	inputs := map[string]string{
		"garbage":   "xyz",
		"truncated": good[:len(good)-2],
		"trailing":  good + "T",
		"bad op":    "N\xff\x00\x01T\x01a\x01\x00",
		"long term": "T\x02a",
		"long name": "P\x7fValueWeight",
		"children":  "N\x01\x00\x05T\x01a\x01\x00",
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Unserialise(in, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, qerrors.ErrSerialisation)
		})
	}
}

func serialisedSample(t testing.TB) string {
	t.Helper()
	s, err := Combine(OpAnd,
		CombineTerms(OpOr, []string{"alpha", "beta"}),
		CombineWindow(OpNear, 3, Term("x"), TermWithWQF("y", 2, 1)),
		ScaleWeight(1.5, ValueRange(2, "a", "z")),
		Wildcard("pre", 5, OpSynonym),
		FromPostingSource(postingsource.FixedWeight(2)),
	).Serialise()
	require.NoError(t, err)
	return s
}

func TestUnserialiseMutatedInput(t *testing.T) {
	good := []byte(serialisedSample(t))
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20000; i++ {
		buf := append([]byte(nil), good...)
		for range 1 + rng.IntN(3) {
			switch rng.IntN(3) {
			case 0:
				buf[rng.IntN(len(buf))] = byte(rng.IntN(256))
			case 1:
				buf = buf[:rng.IntN(len(buf))]
			default:
				at := rng.IntN(len(buf) + 1)
				buf = append(buf[:at], append([]byte{byte(rng.IntN(256))}, buf[at:]...)...)
			}
			if len(buf) == 0 {
				break
			}
		}
		in := string(buf)
		require.NotPanics(t, func() {
			if _, err := Unserialise(in, nil); err != nil {
				assert.ErrorIs(t, err, qerrors.ErrSerialisation, "%q", in)
			}
		}, "%q", in)
	}
}

func FuzzUnserialise(f *testing.F) {
	f.Add(serialisedSample(f))
	f.Add("T\x02a")
	f.Fuzz(func(t *testing.T, in string) {
		q, err := Unserialise(in, nil)
		if err != nil {
			assert.ErrorIs(t, err, qerrors.ErrSerialisation)
			return
		}
		_ = q.Description()
	})
}

func TestUnserialiseUnknownSource(t *testing.T) {
	src := postingsource.Func("custom", 1, func(index.Shard, index.DocID) (float64, bool) { return 1, true })
	s, err := FromPostingSource(src).Serialise()
	require.NoError(t, err)

	_, err = Unserialise(s, nil)
	assert.ErrorIs(t, err, qerrors.ErrSerialisation)

	reg := postingsource.NewRegistry()
	reg.Register("custom", func(string) (postingsource.Source, error) { return src.Clone(), nil })
	back, err := Unserialise(s, reg)
	require.NoError(t, err)
	assert.Equal(t, "Query(PostingSource(custom(max=1)))", back.Description())
}

func TestSubqueriesAndAccessors(t *testing.T) {
	q := CombineWindow(OpPhrase, 3, Term("a"), TermWithWQF("b", 2, 4))
	assert.Equal(t, OpPhrase, q.Op())
	assert.Equal(t, uint32(3), q.Window())
	subs := q.Subqueries()
	require.Len(t, subs, 2)
	assert.Equal(t, "b", subs[1].TermName())
	assert.Equal(t, uint32(2), subs[1].WQF())
	assert.Equal(t, uint32(4), subs[1].Position())
	assert.Equal(t, uint32(3), q.Length())

	v := ValueRange(7, "a", "m")
	lo, hi := v.Bounds()
	assert.Equal(t, index.Slot(7), v.Slot())
	assert.Equal(t, "a", lo)
	assert.Equal(t, "m", hi)
	assert.True(t, ValueRange(1, "z", "a").IsEmpty())
}

func BenchmarkSerialise(b *testing.B) {
	q := Combine(OpAnd,
		CombineTerms(OpOr, []string{"alpha", "beta", "gamma", "delta"}),
		Combine(OpAndNot, Term("epsilon"), Term("zeta")),
		ValueRange(1, "a", "z"),
	)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, _ := q.Serialise()
		_, _ = Unserialise(s, nil)
	}
}
