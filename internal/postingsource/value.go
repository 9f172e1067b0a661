package postingsource

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/sortable"
)

const (
	valueWeightName = "ValueWeightPostingSource"
	fixedWeightName = "FixedWeightPostingSource"
)

// ValueWeightSource weights each document by the number stored in a value
// slot (encoded with sortable.Serialise). Documents without a value in the
// slot are not returned; negative numbers count as zero.
type ValueWeightSource struct {
	slot      index.Slot
	entries   []index.ValueEntry
	maxWeight float64
	docCount  uint32
	it        iterator
}

func ValueWeight(slot index.Slot) *ValueWeightSource {
	return &ValueWeightSource{slot: slot}
}

func (s *ValueWeightSource) Slot() index.Slot { return s.slot }

func (s *ValueWeightSource) Init(shard index.Shard) error {
	entries, err := shard.ValueStream(s.slot)
	if err != nil {
		return err
	}
	stats, err := shard.ValueStats(s.slot)
	if err != nil {
		return err
	}
	s.entries = entries
	s.docCount = shard.DocCount()
	s.maxWeight = 0
	if stats.Freq > 0 {
		s.maxWeight = clampWeight(sortable.Unserialise(stats.Upper))
	}
	s.it.reset(len(entries))
	return nil
}

func (s *ValueWeightSource) Next(minWeight float64) bool {
	if minWeight > s.maxWeight {
		s.it.exhaust()
		return false
	}
	return s.it.advance()
}

func (s *ValueWeightSource) SkipTo(did index.DocID, minWeight float64) bool {
	if minWeight > s.maxWeight {
		s.it.exhaust()
		return false
	}
	if s.it.valid() && s.entries[s.it.pos].DocID >= did {
		return true
	}
	start := 0
	if s.it.started {
		start = s.it.pos
	}
	i := start + sort.Search(len(s.entries)-start, func(i int) bool {
		return s.entries[start+i].DocID >= did
	})
	s.it.started = true
	s.it.pos = i
	return s.it.valid()
}

func (s *ValueWeightSource) DocID() index.DocID {
	s.it.mustBeValid()
	return s.entries[s.it.pos].DocID
}

func (s *ValueWeightSource) Weight() float64 {
	s.it.mustBeValid()
	return clampWeight(sortable.Unserialise(s.entries[s.it.pos].Value))
}

func (s *ValueWeightSource) MaxWeight() float64  { return s.maxWeight }
func (s *ValueWeightSource) TermFreqMin() uint32 { return uint32(len(s.entries)) }
func (s *ValueWeightSource) TermFreqEst() uint32 { return uint32(len(s.entries)) }
func (s *ValueWeightSource) TermFreqMax() uint32 { return uint32(len(s.entries)) }
func (s *ValueWeightSource) Name() string        { return valueWeightName }

func (s *ValueWeightSource) Description() string {
	return fmt.Sprintf("%s(slot=%d)", valueWeightName, s.slot)
}

func (s *ValueWeightSource) Serialise() string {
	return string(binary.AppendUvarint(nil, uint64(s.slot)))
}

func (s *ValueWeightSource) Clone() Source { return ValueWeight(s.slot) }

func unserialiseValueWeight(data string) (Source, error) {
	slot, n := binary.Uvarint([]byte(data))
	if n <= 0 || n != len(data) || slot > math.MaxUint32 {
		return nil, qerrors.New(qerrors.ErrSerialisation, "bad ValueWeightPostingSource parameters")
	}
	return ValueWeight(index.Slot(slot)), nil
}

func clampWeight(w float64) float64 {
	if w < 0 || math.IsNaN(w) {
		return 0
	}
	return w
}

// FixedWeightSource returns every document of the shard with the same
// weight.
type FixedWeightSource struct {
	weight float64
	docs   []uint32
	it     iterator
}

// FixedWeight panics when w is negative.
func FixedWeight(w float64) *FixedWeightSource {
	if w < 0 || math.IsNaN(w) {
		panic("postingsource: fixed weight must not be negative")
	}
	return &FixedWeightSource{weight: w}
}

func (s *FixedWeightSource) Init(shard index.Shard) error {
	ids, err := shard.DocIDs()
	if err != nil {
		return err
	}
	s.docs = ids.ToArray()
	s.it.reset(len(s.docs))
	return nil
}

func (s *FixedWeightSource) Next(minWeight float64) bool {
	if minWeight > s.weight {
		s.it.exhaust()
		return false
	}
	return s.it.advance()
}

func (s *FixedWeightSource) SkipTo(did index.DocID, minWeight float64) bool {
	if minWeight > s.weight {
		s.it.exhaust()
		return false
	}
	if s.it.valid() && index.DocID(s.docs[s.it.pos]) >= did {
		return true
	}
	start := 0
	if s.it.started {
		start = s.it.pos
	}
	i := start + sort.Search(len(s.docs)-start, func(i int) bool {
		return index.DocID(s.docs[start+i]) >= did
	})
	s.it.started = true
	s.it.pos = i
	return s.it.valid()
}

func (s *FixedWeightSource) DocID() index.DocID {
	s.it.mustBeValid()
	return index.DocID(s.docs[s.it.pos])
}

func (s *FixedWeightSource) Weight() float64     { return s.weight }
func (s *FixedWeightSource) MaxWeight() float64  { return s.weight }
func (s *FixedWeightSource) TermFreqMin() uint32 { return uint32(len(s.docs)) }
func (s *FixedWeightSource) TermFreqEst() uint32 { return uint32(len(s.docs)) }
func (s *FixedWeightSource) TermFreqMax() uint32 { return uint32(len(s.docs)) }
func (s *FixedWeightSource) Name() string        { return fixedWeightName }

func (s *FixedWeightSource) Description() string {
	return fmt.Sprintf("%s(wt=%s)", fixedWeightName, strconv.FormatFloat(s.weight, 'g', -1, 64))
}

func (s *FixedWeightSource) Serialise() string {
	return string(binary.BigEndian.AppendUint64(nil, math.Float64bits(s.weight)))
}

func (s *FixedWeightSource) Clone() Source { return FixedWeight(s.weight) }

func unserialiseFixedWeight(data string) (Source, error) {
	if len(data) != 8 {
		return nil, qerrors.New(qerrors.ErrSerialisation, "bad FixedWeightPostingSource parameters")
	}
	w := math.Float64frombits(binary.BigEndian.Uint64([]byte(data)))
	if w < 0 || math.IsNaN(w) {
		return nil, qerrors.New(qerrors.ErrSerialisation, "negative FixedWeightPostingSource weight")
	}
	return FixedWeight(w), nil
}
