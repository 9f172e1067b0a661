package postingsource

import (
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

// Unserialiser rebuilds a source from the output of its Serialise method.
type Unserialiser func(data string) (Source, error)

// Registry maps source names to unserialisers so that serialised queries
// containing posting sources can be rebuilt.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Unserialiser
}

// NewRegistry returns a registry that already knows the built-in sources.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Unserialiser)}
	r.Register(valueWeightName, unserialiseValueWeight)
	r.Register(fixedWeightName, unserialiseFixedWeight)
	return r
}

// Register adds or replaces the unserialiser for name.
func (r *Registry) Register(name string, fn Unserialiser) {
	if name == "" {
		panic("postingsource: cannot register a source without a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = fn
}

// Names lists the registered source names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Unserialise(name, data string) (Source, error) {
	r.mu.RLock()
	fn, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, qerrors.Newf(qerrors.ErrSerialisation, "posting source %q is not registered", name)
	}
	return fn(data)
}

// WeightFunc computes the weight of document did in shard. Returning false
// leaves the document out of the source.
type WeightFunc func(shard index.Shard, did index.DocID) (float64, bool)

// FuncSource adapts an application-supplied function into a Source. It
// visits every document of the shard; weights are clamped to the declared
// maximum so pruning stays correct.
type FuncSource struct {
	name      string
	maxWeight float64
	fn        WeightFunc
	shard     index.Shard
	docs      []uint32
	weight    float64
	it        iterator
}

// Func panics when maxWeight is negative or fn is nil.
func Func(name string, maxWeight float64, fn WeightFunc) *FuncSource {
	if fn == nil {
		panic("postingsource: nil weight function")
	}
	if maxWeight < 0 || math.IsNaN(maxWeight) {
		panic("postingsource: max weight must not be negative")
	}
	return &FuncSource{name: name, maxWeight: maxWeight, fn: fn}
}

func (s *FuncSource) Init(shard index.Shard) error {
	ids, err := shard.DocIDs()
	if err != nil {
		return err
	}
	s.shard = shard
	s.docs = ids.ToArray()
	s.it.reset(len(s.docs))
	return nil
}

// settle moves forward from the current position to the first document the
// function accepts.
func (s *FuncSource) settle() bool {
	for s.it.valid() {
		w, ok := s.fn(s.shard, index.DocID(s.docs[s.it.pos]))
		if ok {
			s.weight = min(clampWeight(w), s.maxWeight)
			return true
		}
		s.it.pos++
	}
	return false
}

func (s *FuncSource) Next(minWeight float64) bool {
	if minWeight > s.maxWeight {
		s.it.exhaust()
		return false
	}
	if !s.it.advance() {
		return false
	}
	return s.settle()
}

func (s *FuncSource) SkipTo(did index.DocID, minWeight float64) bool {
	if minWeight > s.maxWeight {
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
	s.it.started = true
	s.it.pos = start + sort.Search(len(s.docs)-start, func(i int) bool {
		return index.DocID(s.docs[start+i]) >= did
	})
	return s.settle()
}

func (s *FuncSource) DocID() index.DocID {
	s.it.mustBeValid()
	return index.DocID(s.docs[s.it.pos])
}

func (s *FuncSource) Weight() float64 {
	s.it.mustBeValid()
	return s.weight
}

func (s *FuncSource) MaxWeight() float64  { return s.maxWeight }
func (s *FuncSource) TermFreqMin() uint32 { return 0 }
func (s *FuncSource) TermFreqEst() uint32 { return uint32(len(s.docs) / 2) }
func (s *FuncSource) TermFreqMax() uint32 { return uint32(len(s.docs)) }
func (s *FuncSource) Name() string        { return s.name }
func (s *FuncSource) Serialise() string   { return strconv.FormatFloat(s.maxWeight, 'g', -1, 64) }

func (s *FuncSource) Description() string {
	name := s.name
	if name == "" {
		name = "FuncPostingSource"
	}
	return name + "(max=" + strconv.FormatFloat(s.maxWeight, 'g', -1, 64) + ")"
}

func (s *FuncSource) Clone() Source {
	return Func(s.name, s.maxWeight, s.fn)
}
