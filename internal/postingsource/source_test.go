package postingsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/sortable"
)

func valueShard() *index.MemoryIndex {
	mi := index.NewMemoryIndex()
	mi.AddDocument(1, &index.StoredDoc{Values: map[index.Slot]string{1: sortable.Serialise(3.5)}})
	mi.AddDocument(2, &index.StoredDoc{})
	mi.AddDocument(3, &index.StoredDoc{Values: map[index.Slot]string{1: sortable.Serialise(10)}})
	mi.AddDocument(5, &index.StoredDoc{Values: map[index.Slot]string{1: sortable.Serialise(-4)}})
	return mi
}

func drain(t *testing.T, s Source, minWeight float64) map[index.DocID]float64 {
	t.Helper()
	out := make(map[index.DocID]float64)
	for s.Next(minWeight) {
		out[s.DocID()] = s.Weight()
	}
	return out
}

func TestValueWeightSource(t *testing.T) {
	src := ValueWeight(1)
	require.NoError(t, src.Init(valueShard()))
	assert.Equal(t, 10.0, src.MaxWeight())
	assert.Equal(t, uint32(3), src.TermFreqEst())

	got := drain(t, src, 0)
	assert.Equal(t, map[index.DocID]float64{1: 3.5, 3: 10, 5: 0}, got, "absent values are skipped, negatives clamp to zero")
	assert.Equal(t, "ValueWeightPostingSource(slot=1)", src.Description())
}

func TestValueWeightSourceStopsAboveMax(t *testing.T) {
	src := ValueWeight(1)
	require.NoError(t, src.Init(valueShard()))
	assert.False(t, src.Next(11))
	assert.Panics(t, func() { src.DocID() })
}

func TestValueWeightSkipTo(t *testing.T) {
	src := ValueWeight(1)
	require.NoError(t, src.Init(valueShard()))
	require.True(t, src.SkipTo(2, 0))
	assert.Equal(t, index.DocID(3), src.DocID())
	require.True(t, src.SkipTo(3, 0))
	assert.Equal(t, index.DocID(3), src.DocID())
	assert.False(t, src.SkipTo(6, 0))
}

func TestFixedWeightSource(t *testing.T) {
	src := FixedWeight(2.5)
	require.NoError(t, src.Init(valueShard()))
	got := drain(t, src, 0)
	assert.Len(t, got, 4)
	assert.Equal(t, 2.5, got[2])
	assert.Equal(t, "FixedWeightPostingSource(wt=2.5)", src.Description())
	assert.Panics(t, func() { FixedWeight(-1) })
}

func TestFuncSource(t *testing.T) {
	src := Func("even", 1, func(_ index.Shard, did index.DocID) (float64, bool) {
		return float64(did), did%2 == 0
	})
	require.NoError(t, src.Init(valueShard()))
	got := drain(t, src, 0)
	assert.Equal(t, map[index.DocID]float64{2: 1}, got, "weights clamp to the declared maximum")

	clone := src.Clone()
	require.NoError(t, clone.Init(valueShard()))
	require.True(t, clone.SkipTo(1, 0))
	assert.Equal(t, index.DocID(2), clone.DocID())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, []string{"FixedWeightPostingSource", "ValueWeightPostingSource"}, reg.Names())

	for _, src := range []Source{ValueWeight(7), FixedWeight(0.25)} {
		back, err := reg.Unserialise(src.Name(), src.Serialise())
		require.NoError(t, err)
		assert.Equal(t, src.Description(), back.Description())
	}

	_, err := reg.Unserialise("Unknown", "")
	assert.ErrorIs(t, err, qerrors.ErrSerialisation)
	_, err = reg.Unserialise(fixedWeightName, "abc")
	assert.ErrorIs(t, err, qerrors.ErrSerialisation)

	reg.Register("even", func(data string) (Source, error) {
		return Func("even", 1, func(index.Shard, index.DocID) (float64, bool) { return 1, true }), nil
	})
	back, err := reg.Unserialise("even", "1")
	require.NoError(t, err)
	assert.Equal(t, "even(max=1)", back.Description())
}
